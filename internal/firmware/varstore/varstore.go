// Package varstore reads EFI variables from the places firmware persists
// them: a running system's efivarfs, an EDK2 flash image or a virt-fw-vars
// JSON dump.
package varstore

import (
	"errors"
)

// ErrNotFound is returned when a variable does not exist in the store.
var ErrNotFound = errors.New("variable not found")

// VarStore looks up variables in the EFI global variable namespace.
type VarStore interface {
	Get(name string) ([]byte, error)
}

// Deleter is implemented by stores that can remove a global variable.
type Deleter interface {
	Delete(name string) error
}

// Lister is implemented by stores that can enumerate their global variables.
type Lister interface {
	Names() ([]string, error)
}

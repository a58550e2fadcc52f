package efi

import "bytes"

// Variable attributes.
const (
	EFI_VARIABLE_NON_VOLATILE                          = 0x00000001
	EFI_VARIABLE_BOOTSERVICE_ACCESS                    = 0x00000002
	EFI_VARIABLE_RUNTIME_ACCESS                        = 0x00000004
	EFI_VARIABLE_HARDWARE_ERROR_RECORD                 = 0x00000008
	EFI_VARIABLE_AUTHENTICATED_WRITE_ACCESS            = 0x00000010
	EFI_VARIABLE_TIME_BASED_AUTHENTICATED_WRITE_ACCESS = 0x00000020
	EFI_VARIABLE_APPEND_WRITE                          = 0x00000040
)

// DefaultAttributes are used for boot manager variables created by this
// package.
const DefaultAttributes = EFI_VARIABLE_NON_VOLATILE | EFI_VARIABLE_BOOTSERVICE_ACCESS | EFI_VARIABLE_RUNTIME_ACCESS

// Variable is a named firmware variable. Time holds the raw EFI_TIME of
// time based authenticated variables and is empty otherwise.
type Variable struct {
	Name       string
	GUID       GUID
	Attributes uint32
	Data       []byte
	Time       []byte
}

// NewVariable returns a global variable with default attributes. data is
// copied.
func NewVariable(name string, data []byte) *Variable {
	return &Variable{
		Name:       name,
		GUID:       GlobalVariableGUID,
		Attributes: DefaultAttributes,
		Data:       bytes.Clone(data),
	}
}

// HasAttr reports whether all bits of attr are set.
func (v *Variable) HasAttr(attr uint32) bool {
	return v.Attributes&attr == attr
}

// Copy returns a deep copy of v.
func (v *Variable) Copy() *Variable {
	c := *v
	c.Data = bytes.Clone(v.Data)
	c.Time = bytes.Clone(v.Time)
	return &c
}

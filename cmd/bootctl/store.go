package main

import (
	"fmt"

	"github.com/bmcpi/efiboot/internal/config"
	"github.com/bmcpi/efiboot/internal/firmware/varstore"
	"github.com/go-logr/logr"
	"github.com/spf13/afero"
)

// store is an opened variable store. save writes pending changes back and is
// nil for stores that are written through or read-only.
type store struct {
	varstore.VarStore
	save func() error
}

// openStore opens file backed stores on fs. efivarfs always lives on the host.
func openStore(fs afero.Fs, c config.StoreConfig, log logr.Logger) (*store, error) {
	log = log.WithName("varstore")

	switch c.Type {
	case "efivarfs":
		return &store{VarStore: varstore.OpenEfivarfs(c.Path, log)}, nil
	case "json":
		s, err := varstore.OpenJSON(fs, c.Path)
		if err != nil {
			return nil, err
		}
		save := func() error {
			f, err := fs.Create(c.Path)
			if err != nil {
				return err
			}
			if err := varstore.WriteJSON(f, s); err != nil {
				_ = f.Close()
				return err
			}
			return f.Close()
		}
		return &store{VarStore: s, save: save}, nil
	case "edk2":
		s, err := varstore.OpenEdk2(fs, c.Path, log)
		if err != nil {
			return nil, err
		}
		// Firmware images are never rewritten, so a consumed BootNext only
		// lasts for this process.
		return &store{VarStore: s}, nil
	default:
		return nil, fmt.Errorf("unknown store type %q", c.Type)
	}
}

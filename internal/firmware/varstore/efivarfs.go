package varstore

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/0x5a17ed/uefi/efi/efiguid"
	"github.com/0x5a17ed/uefi/efi/efivario"
	"github.com/bmcpi/efiboot/internal/firmware/efi"
	"github.com/go-logr/logr"
	"github.com/spf13/afero"
)

// DefaultEfivarfsPath is where Linux mounts efivarfs.
const DefaultEfivarfsPath = "/sys/firmware/efi/efivars"

// Efivarfs reads variables from a Linux efivarfs mount through an efivario
// file system context.
type Efivarfs struct {
	fs  afero.Fs
	ctx efivario.Context
	log logr.Logger
}

var (
	_ VarStore = (*Efivarfs)(nil)
	_ Deleter  = (*Efivarfs)(nil)
	_ Lister   = (*Efivarfs)(nil)
)

// NewEfivarfs returns a store rooted at the top of fs.
func NewEfivarfs(fs afero.Fs, logger logr.Logger) *Efivarfs {
	return &Efivarfs{
		fs:  fs,
		ctx: efivario.NewFileSystemContext(fs),
		log: logger.WithName("efivarfs"),
	}
}

// OpenEfivarfs returns a store for the efivarfs mounted at dir.
func OpenEfivarfs(dir string, logger logr.Logger) *Efivarfs {
	if dir == "" {
		dir = DefaultEfivarfsPath
	}
	return NewEfivarfs(afero.NewBasePathFs(afero.NewOsFs(), dir), logger)
}

func toEfiGUID(guid efi.GUID) (efiguid.GUID, error) {
	g, err := efiguid.FromString(guid.String())
	if err != nil {
		return efiguid.GUID{}, fmt.Errorf("guid %s: %w", guid, efi.ErrMalformed)
	}
	return g, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, efivario.ErrNotFound) || errors.Is(err, os.ErrNotExist)
}

func (e *Efivarfs) Get(name string) ([]byte, error) {
	v, err := e.Lookup(efi.GlobalVariableGUID, name)
	if err != nil {
		return nil, err
	}
	return v.Data, nil
}

// Lookup reads the variable name in the namespace guid.
func (e *Efivarfs) Lookup(guid efi.GUID, name string) (*efi.Variable, error) {
	g, err := toEfiGUID(guid)
	if err != nil {
		return nil, err
	}
	attrs, data, err := efivario.ReadAll(e.ctx, name, g)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s-%s: %w", name, guid, ErrNotFound)
		}
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return &efi.Variable{
		Name:       name,
		GUID:       guid,
		Attributes: uint32(attrs),
		Data:       data,
	}, nil
}

// Delete removes the global variable name. efivario lifts the immutable
// flag the kernel sets on most variables before unlinking.
func (e *Efivarfs) Delete(name string) error {
	g, err := toEfiGUID(efi.GlobalVariableGUID)
	if err != nil {
		return err
	}
	if err := e.ctx.Delete(name, g); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return fmt.Errorf("removing %s: %w", name, err)
	}
	e.log.V(1).Info("deleted variable", "name", name)
	return nil
}

// Names lists the global variables present in the mount.
func (e *Efivarfs) Names() ([]string, error) {
	entries, err := afero.ReadDir(e.fs, "/")
	if err != nil {
		return nil, fmt.Errorf("listing efivarfs: %w", err)
	}
	suffix := "-" + efi.GlobalVariableGUID.String()
	names := []string{}
	for _, fi := range entries {
		if fi.IsDir() {
			continue
		}
		n := path.Base(fi.Name())
		if strings.HasSuffix(n, suffix) {
			names = append(names, strings.TrimSuffix(n, suffix))
		}
	}
	sort.Strings(names)
	return names, nil
}

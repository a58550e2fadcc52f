package loader

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/bmcpi/efiboot/internal/firmware/efi"
	"github.com/go-logr/logr"
	"github.com/spf13/afero"
)

// FS loads images from filesystems standing in for the firmware's block
// devices. Volumes are keyed by the textual form of the device path prefix
// (e.g. "PciRoot(0x0)/Pci(0x1,0x0)/Sata(0x0,0xffff,0x0)") and compared
// without regard to case. The longest matching key wins and Default serves
// paths no key matches.
type FS struct {
	Volumes   map[string]afero.Fs
	Default   afero.Fs
	RequirePE bool
	Logger    logr.Logger
}

var _ Backend = (*FS)(nil)

func (f *FS) Name() string { return "fs" }

func (f *FS) Supports(dp efi.DevicePath) bool {
	device, file := efi.SplitFilePath(dp)
	if len(file) == 0 {
		return false
	}
	_, _, ok := f.volume(device)
	return ok
}

func (f *FS) volume(device efi.DevicePath) (string, afero.Fs, bool) {
	text := device.String()
	best := -1
	var key string
	for k := range f.Volumes {
		if len(k) <= len(text) && strings.EqualFold(text[:len(k)], k) && len(k) > best {
			best, key = len(k), k
		}
	}
	if best >= 0 {
		return key, f.Volumes[key], true
	}
	if f.Default != nil {
		return "", f.Default, true
	}
	return "", nil, false
}

func (f *FS) Load(_ context.Context, dp efi.DevicePath) (*Image, error) {
	device, file := efi.SplitFilePath(dp)
	key, vol, ok := f.volume(device)
	if !ok {
		return nil, fmt.Errorf("no volume for %s: %w", device, ErrUnsupported)
	}

	name := "/" + strings.TrimLeft(strings.ReplaceAll(file.FilePathString(), `\`, "/"), "/")
	data, err := afero.ReadFile(vol, name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s not found on volume %q: %w", name, key, ErrLoad)
		}
		return nil, fmt.Errorf("reading %s: %w: %w", name, ErrLoad, err)
	}
	if f.RequirePE && !isPE(data) {
		return nil, fmt.Errorf("%s is not a PE/COFF image: %w", name, ErrLoad)
	}

	f.Logger.V(1).Info("read image", "volume", key, "file", name, "size", len(data))
	return newImage(data, "fs:"+key+name), nil
}

// isPE checks for the DOS stub and the PE signature it points at.
func isPE(data []byte) bool {
	if len(data) < 0x40 || !bytes.HasPrefix(data, []byte("MZ")) {
		return false
	}
	off := uint64(binary.LittleEndian.Uint32(data[0x3c:]))
	if off+4 > uint64(len(data)) {
		return false
	}
	return bytes.Equal(data[off:off+4], []byte("PE\x00\x00"))
}

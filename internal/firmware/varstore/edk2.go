package varstore

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bmcpi/efiboot/internal/firmware/efi"
	"github.com/go-logr/logr"
	"github.com/spf13/afero"
)

// ErrNoVarStore is returned when an image holds no usable NV variable store.
var ErrNoVarStore = errors.New("edk2: variable store not found")

const (
	fvSignature   = 0x4856465f // "_FVH"
	fvHeaderSize  = 72         // with a one entry block map and its terminator
	fvScanStep    = 1024
	vsHeaderSize  = 28
	vsFormatted   = 0x5a
	vsHealthy     = 0xfe
	varStartID    = 0x55aa
	varAdded      = 0x3f
	authVarHeader = 60
	varHeader     = 32
)

// OpenEdk2 reads the firmware image name from fs and parses its variable
// store.
func OpenEdk2(fs afero.Fs, name string, logger logr.Logger) (*MemStore, error) {
	logger.V(1).Info("reading raw edk2 varstore", "file", name)
	data, err := afero.ReadFile(fs, name)
	if err != nil {
		return nil, err
	}
	s, err := ParseEdk2(data, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return s, nil
}

// ParseEdk2 extracts the live variables of an EDK2 firmware image, such as
// OVMF_VARS.fd or a full flash image containing an NvData volume. Only
// VAR_ADDED records are kept. The image is not modified.
func ParseEdk2(data []byte, logger logr.Logger) (*MemStore, error) {
	logger = logger.WithName("edk2")

	offset, err := findNvData(data)
	if err != nil {
		return nil, err
	}

	vlen := binary.LittleEndian.Uint64(data[offset+32:])
	hlen := int(binary.LittleEndian.Uint16(data[offset+48:]))
	rev := data[offset+55]
	blocks := binary.LittleEndian.Uint32(data[offset+56:])
	blksize := binary.LittleEndian.Uint32(data[offset+60:])
	logger.V(1).Info("found firmware volume", "offset", offset, "vlen", vlen,
		"rev", rev, "blocks", blocks, "blockSize", blksize)

	if hlen < fvHeaderSize || uint64(hlen) > vlen {
		return nil, fmt.Errorf("volume header length %d: %w", hlen, efi.ErrMalformed)
	}
	fvEnd := len(data)
	if vlen < uint64(len(data)-offset) {
		fvEnd = offset + int(vlen)
	}

	start, end, hdr, err := parseVarStoreHeader(data[:fvEnd], offset+hlen, logger)
	if err != nil {
		return nil, err
	}
	logger.V(1).Info("var store range", "start", start, "end", end)

	return parseVariables(data[:end], start, hdr)
}

// findNvData returns the offset of the first firmware volume carrying the
// NV data file system GUID.
func findNvData(data []byte) (int, error) {
	offset := 0
	for offset+fvHeaderSize <= len(data) {
		isFV := binary.LittleEndian.Uint32(data[offset+40:]) == fvSignature
		guid, _ := efi.GUIDFromBytes(data, offset+16)
		if isFV && guid == efi.NvDataGUID {
			return offset, nil
		}
		step := uint64(fvScanStep)
		if isFV {
			if vlen := binary.LittleEndian.Uint64(data[offset+32:]); vlen > 0 {
				step = vlen
			}
		}
		if step > uint64(len(data)-offset) {
			break
		}
		offset += int(step)
	}
	return 0, ErrNoVarStore
}

// parseVarStoreHeader validates the variable store header at start and
// returns the range holding variable records and the record header size.
func parseVarStoreHeader(data []byte, start int, logger logr.Logger) (int, int, int, error) {
	if start < 0 || start+vsHeaderSize > len(data) {
		return 0, 0, 0, fmt.Errorf("variable store header at 0x%x: %w", start, efi.ErrTruncated)
	}

	guid, _ := efi.GUIDFromBytes(data, start)
	size := binary.LittleEndian.Uint32(data[start+16:])
	storefmt := data[start+20]
	state := data[start+21]
	logger.V(1).Info("varstore header", "guid", guid.Name(), "size", size,
		"format", storefmt, "state", state)

	var hdr int
	switch guid {
	case efi.AuthVarsGUID:
		hdr = authVarHeader
	case efi.VarsGUID:
		hdr = varHeader
	default:
		return 0, 0, 0, fmt.Errorf("unknown varstore guid %s: %w", guid, ErrNoVarStore)
	}
	if storefmt != vsFormatted {
		return 0, 0, 0, fmt.Errorf("varstore format 0x%x: %w", storefmt, efi.ErrMalformed)
	}
	if state != vsHealthy {
		return 0, 0, 0, fmt.Errorf("varstore state 0x%x: %w", state, efi.ErrMalformed)
	}
	if uint64(size) < vsHeaderSize || uint64(size) > uint64(len(data)-start) {
		return 0, 0, 0, fmt.Errorf("varstore size 0x%x exceeds volume: %w", size, efi.ErrTruncated)
	}
	return start + vsHeaderSize, start + int(size), hdr, nil
}

// parseVariables walks the records in data[pos:] until the first slot
// without a start id.
func parseVariables(data []byte, pos, hdr int) (*MemStore, error) {
	s := NewMemStore()
	for pos+hdr <= len(data) {
		if binary.LittleEndian.Uint16(data[pos:]) != varStartID {
			break
		}
		state := data[pos+2]
		attr := binary.LittleEndian.Uint32(data[pos+4:])

		var nsize, dsize uint32
		if hdr == authVarHeader {
			nsize = binary.LittleEndian.Uint32(data[pos+36:])
			dsize = binary.LittleEndian.Uint32(data[pos+40:])
		} else {
			nsize = binary.LittleEndian.Uint32(data[pos+8:])
			dsize = binary.LittleEndian.Uint32(data[pos+12:])
		}
		guid, _ := efi.GUIDFromBytes(data, pos+hdr-16)

		nameStart := pos + hdr
		recEnd := uint64(nameStart) + uint64(nsize) + uint64(dsize)
		if recEnd > uint64(len(data)) {
			return nil, fmt.Errorf("variable record at 0x%x overruns the store: %w", pos, efi.ErrTruncated)
		}
		dataStart := nameStart + int(nsize)

		if state == varAdded {
			s.Put(&efi.Variable{
				Name:       efi.UCS16ToUTF8(data[nameStart:dataStart]),
				GUID:       guid,
				Attributes: attr,
				Data:       data[dataStart:recEnd],
			})
		}
		pos = (int(recEnd) + 3) &^ 3
	}
	return s, nil
}

package efi

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// Names of the boot manager variables in the global variable namespace.
const (
	BootOrderName   = "BootOrder"
	BootNextName    = "BootNext"
	BootCurrentName = "BootCurrent"
)

// BootOptionName returns the variable name of a boot option, e.g. Boot000A.
func BootOptionName(id uint16) string {
	return fmt.Sprintf("Boot%04X", id)
}

// ParseBootOptionName returns the identifier encoded in a Boot#### name.
func ParseBootOptionName(name string) (uint16, bool) {
	if len(name) != 8 || name[:4] != "Boot" {
		return 0, false
	}
	for _, c := range name[4:] {
		if !('0' <= c && c <= '9' || 'A' <= c && c <= 'F' || 'a' <= c && c <= 'f') {
			return 0, false
		}
	}
	id, err := strconv.ParseUint(name[4:], 16, 16)
	if err != nil {
		return 0, false
	}
	return uint16(id), true
}

// ParseBootOrder decodes a packed array of little-endian identifiers. An odd
// trailing byte is dropped.
func ParseBootOrder(data []byte) []uint16 {
	order := make([]uint16, len(data)/2)
	for i := range order {
		order[i] = binary.LittleEndian.Uint16(data[2*i:])
	}
	return order
}

// EncodeBootOrder is the inverse of ParseBootOrder.
func EncodeBootOrder(order []uint16) []byte {
	buf := make([]byte, 0, 2*len(order))
	for _, id := range order {
		buf = binary.LittleEndian.AppendUint16(buf, id)
	}
	return buf
}

// ParseBootNext decodes a BootNext value, which must be exactly one
// identifier.
func ParseBootNext(data []byte) (uint16, error) {
	if len(data) != 2 {
		return 0, fmt.Errorf("%s must be a 16-bit integer, got %d bytes: %w", BootNextName, len(data), ErrMalformed)
	}
	return binary.LittleEndian.Uint16(data), nil
}

package efi

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// GUID is an EFI GUID in its on-disk (mixed-endian) byte order.
type GUID [16]byte

// Well known GUIDs.
var (
	GlobalVariableGUID = MustParseGUID("8be4df61-93ca-11d2-aa0d-00e098032b8c")
	NvDataGUID         = MustParseGUID("fff12b8d-7696-4c8b-a985-2747075b4f50")
	AuthVarsGUID       = MustParseGUID("aaf32c78-947b-439a-a180-2e144ec37792")
	VarsGUID           = MustParseGUID("ddcf3616-3275-4164-98b6-fe85707ffe7d")
	InitrdMediaGUID    = MustParseGUID("5568e427-68fc-4f3d-ac74-ca555231cc68")
)

var guidNames = map[GUID]string{
	GlobalVariableGUID: "EfiGlobalVariable",
	NvDataGUID:         "NvData",
	AuthVarsGUID:       "AuthVars",
	VarsGUID:           "Vars",
	InitrdMediaGUID:    "LinuxInitrdMedia",
}

// ParseGUID parses the canonical 8-4-4-4-12 textual form.
func ParseGUID(s string) (GUID, error) {
	var g GUID
	parts := strings.Split(s, "-")
	if len(parts) != 5 || len(parts[0]) != 8 || len(parts[1]) != 4 ||
		len(parts[2]) != 4 || len(parts[3]) != 4 || len(parts[4]) != 12 {
		return g, fmt.Errorf("invalid GUID %q: %w", s, ErrMalformed)
	}
	raw, err := hex.DecodeString(strings.Join(parts, ""))
	if err != nil {
		return g, fmt.Errorf("invalid GUID %q: %w", s, ErrMalformed)
	}
	binary.LittleEndian.PutUint32(g[0:4], binary.BigEndian.Uint32(raw[0:4]))
	binary.LittleEndian.PutUint16(g[4:6], binary.BigEndian.Uint16(raw[4:6]))
	binary.LittleEndian.PutUint16(g[6:8], binary.BigEndian.Uint16(raw[6:8]))
	copy(g[8:], raw[8:])
	return g, nil
}

// MustParseGUID is like ParseGUID but panics on error. It is meant for
// package level constants.
func MustParseGUID(s string) GUID {
	g, err := ParseGUID(s)
	if err != nil {
		panic(err)
	}
	return g
}

// GUIDFromBytes reads a GUID from data at offset.
func GUIDFromBytes(data []byte, offset int) (GUID, error) {
	var g GUID
	if offset < 0 || len(data) < offset+len(g) {
		return g, ErrTruncated
	}
	copy(g[:], data[offset:])
	return g, nil
}

func (g GUID) String() string {
	return fmt.Sprintf("%08x-%04x-%04x-%02x%02x-%x",
		binary.LittleEndian.Uint32(g[0:4]),
		binary.LittleEndian.Uint16(g[4:6]),
		binary.LittleEndian.Uint16(g[6:8]),
		g[8], g[9], g[10:16])
}

// Name returns a friendly name for well known GUIDs and the textual form
// otherwise.
func (g GUID) Name() string {
	if n, ok := guidNames[g]; ok {
		return n
	}
	return g.String()
}

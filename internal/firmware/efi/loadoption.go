package efi

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/ccoveille/go-safecast"
)

// Load option attributes.
const (
	LOAD_OPTION_ACTIVE          = 0x00000001
	LOAD_OPTION_FORCE_RECONNECT = 0x00000002
	LOAD_OPTION_HIDDEN          = 0x00000008
	LOAD_OPTION_CATEGORY        = 0x00001f00
	LOAD_OPTION_CATEGORY_BOOT   = 0x00000000
	LOAD_OPTION_CATEGORY_APP    = 0x00000100
)

// loadOptionHeaderSize covers the attributes and the file path list length.
const loadOptionHeaderSize = 6

// LoadOption is a decoded Boot#### variable.
//
// Label holds the description as UCS-16 code units without its terminator.
// FilePath is the raw device path list and is not interpreted here.
type LoadOption struct {
	Attributes   uint32
	Label        []uint16
	FilePath     []byte
	OptionalData []byte
}

// NewLoadOption returns an active boot option for path.
func NewLoadOption(description string, path DevicePath, optionalData []byte) *LoadOption {
	return &LoadOption{
		Attributes:   LOAD_OPTION_ACTIVE,
		Label:        StringToUCS16(description),
		FilePath:     path.Bytes(),
		OptionalData: optionalData,
	}
}

// DecodeLoadOption parses a serialized load option. The returned value owns
// all of its slices.
//
// Layout: attributes (u32) | file path length (u16) | label (UCS-16, NUL
// terminated) | file path | optional data (up to the first NUL byte).
func DecodeLoadOption(data []byte) (*LoadOption, error) {
	if len(data) < loadOptionHeaderSize {
		return nil, fmt.Errorf("load option header needs %d bytes, have %d: %w",
			loadOptionHeaderSize, len(data), ErrTruncated)
	}

	opt := &LoadOption{
		Attributes: binary.LittleEndian.Uint32(data[0:4]),
	}
	pathLen := int(binary.LittleEndian.Uint16(data[4:6]))

	pos := loadOptionHeaderSize
	terminated := false
	for pos+1 < len(data) {
		u := binary.LittleEndian.Uint16(data[pos:])
		pos += 2
		if u == 0 {
			terminated = true
			break
		}
		opt.Label = append(opt.Label, u)
	}
	if !terminated {
		return nil, fmt.Errorf("load option label is not terminated: %w", ErrTruncated)
	}

	if pathLen > len(data)-pos {
		return nil, fmt.Errorf("load option file path needs %d bytes, have %d: %w",
			pathLen, len(data)-pos, ErrTruncated)
	}
	opt.FilePath = bytes.Clone(data[pos : pos+pathLen])
	pos += pathLen

	rest := data[pos:]
	if i := bytes.IndexByte(rest, 0); i >= 0 {
		rest = rest[:i]
	}
	if len(rest) > 0 {
		opt.OptionalData = bytes.Clone(rest)
	}

	return opt, nil
}

// Encode returns the serialized form of the option.
func (o *LoadOption) Encode() ([]byte, error) {
	pathLen, err := safecast.ToUint16(len(o.FilePath))
	if err != nil {
		return nil, fmt.Errorf("load option file path of %d bytes: %w", len(o.FilePath), ErrMalformed)
	}

	size := loadOptionHeaderSize + 2*(len(o.Label)+1) + len(o.FilePath) + len(o.OptionalData) + 1
	buf := make([]byte, 0, size)
	buf = binary.LittleEndian.AppendUint32(buf, o.Attributes)
	buf = binary.LittleEndian.AppendUint16(buf, pathLen)
	for _, u := range o.Label {
		buf = binary.LittleEndian.AppendUint16(buf, u)
	}
	buf = append(buf, 0, 0)
	buf = append(buf, o.FilePath...)
	buf = append(buf, o.OptionalData...)
	return append(buf, 0), nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (o *LoadOption) MarshalBinary() ([]byte, error) {
	return o.Encode()
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (o *LoadOption) UnmarshalBinary(data []byte) error {
	opt, err := DecodeLoadOption(data)
	if err != nil {
		return err
	}
	*o = *opt
	return nil
}

// Description returns the label as a Go string.
func (o *LoadOption) Description() string {
	return UCS16ToString(o.Label)
}

// Active reports whether the option may be booted.
func (o *LoadOption) Active() bool {
	return o.Attributes&LOAD_OPTION_ACTIVE != 0
}

// SetActive sets or clears the active flag.
func (o *LoadOption) SetActive(active bool) {
	if active {
		o.Attributes |= LOAD_OPTION_ACTIVE
	} else {
		o.Attributes &^= LOAD_OPTION_ACTIVE
	}
}

// Hidden reports whether the option should be hidden from boot menus.
func (o *LoadOption) Hidden() bool {
	return o.Attributes&LOAD_OPTION_HIDDEN != 0
}

// Category returns the category bits of the attributes.
func (o *LoadOption) Category() uint32 {
	return o.Attributes & LOAD_OPTION_CATEGORY
}

// AttributeFlags renders the active, force-reconnect and hidden bits, e.g.
// "A-H".
func (o *LoadOption) AttributeFlags() string {
	flags := []byte("---")
	if o.Attributes&LOAD_OPTION_ACTIVE != 0 {
		flags[0] = 'A'
	}
	if o.Attributes&LOAD_OPTION_FORCE_RECONNECT != 0 {
		flags[1] = 'R'
	}
	if o.Attributes&LOAD_OPTION_HIDDEN != 0 {
		flags[2] = 'H'
	}
	return string(flags)
}

// DevicePaths parses FilePath as a device path list. The first entry locates
// the image, later entries carry auxiliary files such as an initrd.
func (o *LoadOption) DevicePaths() ([]DevicePath, error) {
	return ParseFilePathList(o.FilePath)
}

// InitrdPath returns the file path list entry introduced by the Linux initrd
// vendor media node, if any. The vendor node itself is stripped.
func (o *LoadOption) InitrdPath() (DevicePath, bool) {
	paths, err := o.DevicePaths()
	if err != nil {
		return nil, false
	}
	for _, dp := range paths[1:] {
		if len(dp) == 0 || !dp[0].Is(DevTypeMedia, DevSubTypeVendor) {
			continue
		}
		if g, err := GUIDFromBytes(dp[0].Data, 0); err == nil && g == InitrdMediaGUID {
			return dp[1:], true
		}
	}
	return nil, false
}

func (o *LoadOption) String() string {
	path := hex.EncodeToString(o.FilePath)
	if dp, err := ParseDevicePath(o.FilePath); err == nil {
		path = dp.String()
	}
	s := fmt.Sprintf("attributes: %s (0x%08x) label=%q file_path=%s",
		o.AttributeFlags(), o.Attributes, o.Description(), path)
	if len(o.OptionalData) > 0 {
		s += fmt.Sprintf(" data=%s", hex.EncodeToString(o.OptionalData))
	}
	return s
}

package efi

import (
	"encoding/binary"
	"unicode/utf16"
)

// UTF8ToUCS16 converts s to null-terminated UCS-16 little-endian bytes.
// Conversion stops at the first NUL in s.
func UTF8ToUCS16(s string) []byte {
	units := StringToUCS16(s)
	buf := make([]byte, 0, 2*len(units)+2)
	for _, u := range units {
		buf = binary.LittleEndian.AppendUint16(buf, u)
	}
	return append(buf, 0, 0)
}

// UCS16ToUTF8 converts UCS-16 little-endian bytes to a string, stopping at the
// first null code unit. A trailing odd byte is ignored.
func UCS16ToUTF8(data []byte) string {
	end := FindUCS16NullTerminator(data)
	units := make([]uint16, 0, end/2)
	for i := 0; i+1 < end; i += 2 {
		units = append(units, binary.LittleEndian.Uint16(data[i:]))
	}
	return UCS16ToString(units)
}

// FindUCS16NullTerminator returns the byte index of the first null code unit
// in data. If there is none, the length of the last complete code unit
// boundary is returned.
func FindUCS16NullTerminator(data []byte) int {
	i := 0
	for ; i+1 < len(data); i += 2 {
		if data[i] == 0 && data[i+1] == 0 {
			return i
		}
	}
	return i
}

// StringToUCS16 returns the UTF-16 code units of s, without a terminator.
// Conversion stops at the first NUL in s.
func StringToUCS16(s string) []uint16 {
	runes := []rune(s)
	for i, r := range runes {
		if r == 0 {
			runes = runes[:i]
			break
		}
	}
	return utf16.Encode(runes)
}

// UCS16ToString decodes code units up to the first zero.
func UCS16ToString(units []uint16) string {
	for i, u := range units {
		if u == 0 {
			units = units[:i]
			break
		}
	}
	return string(utf16.Decode(units))
}

package efi

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"strings"

	"github.com/ccoveille/go-safecast"
)

// DeviceType represents the type of EFI device path element
type DeviceType uint8

const (
	DevTypeHardware DeviceType = 0x01
	DevTypeAcpi     DeviceType = 0x02
	DevTypeMessage  DeviceType = 0x03
	DevTypeMedia    DeviceType = 0x04
	DevTypeBBS      DeviceType = 0x05
	DevTypeEnd      DeviceType = 0x7f
)

// DeviceSubType represents the subtype of EFI device path element
type DeviceSubType uint8

// Hardware subtypes
const (
	DevSubTypePCI      DeviceSubType = 0x01
	DevSubTypeMemory   DeviceSubType = 0x03
	DevSubTypeVendorHW DeviceSubType = 0x04
)

// ACPI subtypes
const (
	DevSubTypeACPI DeviceSubType = 0x01
)

// Message subtypes
const (
	DevSubTypeSCSI DeviceSubType = 0x02
	DevSubTypeUSB  DeviceSubType = 0x05
	DevSubTypeMAC  DeviceSubType = 0x0b
	DevSubTypeIPv4 DeviceSubType = 0x0c
	DevSubTypeIPv6 DeviceSubType = 0x0d
	DevSubTypeSATA DeviceSubType = 0x12
	DevSubTypeURI  DeviceSubType = 0x18
)

// Media subtypes
const (
	DevSubTypeHardDrive  DeviceSubType = 0x01
	DevSubTypeCDROM      DeviceSubType = 0x02
	DevSubTypeVendor     DeviceSubType = 0x03
	DevSubTypeFilePath   DeviceSubType = 0x04
	DevSubTypeFVFilename DeviceSubType = 0x06
	DevSubTypeFVName     DeviceSubType = 0x07
)

// End subtypes
const (
	DevSubTypeEndInstance DeviceSubType = 0x01
	DevSubTypeEndEntire   DeviceSubType = 0xff
)

const (
	devNodeHeaderSize = 4

	pnpPciRoot  = 0x0a0341d0
	pnpPcieRoot = 0x0a0841d0
)

// DevicePathNode is a single element of a device path.
type DevicePathNode struct {
	Type    DeviceType
	SubType DeviceSubType
	Data    []byte
}

// DevicePath is a device path without its End node.
type DevicePath []DevicePathNode

// ParseDevicePath parses the first device path instance in data. Any bytes
// after its End node are ignored.
func ParseDevicePath(data []byte) (DevicePath, error) {
	dp, _, err := parseInstance(data)
	return dp, err
}

// ParseFilePathList parses a load option file path list: one or more device
// path instances packed back to back.
func ParseFilePathList(data []byte) ([]DevicePath, error) {
	var paths []DevicePath
	for len(data) > 0 {
		dp, n, err := parseInstance(data)
		if err != nil {
			return nil, err
		}
		paths = append(paths, dp)
		data = data[n:]
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("empty file path list: %w", ErrTruncated)
	}
	return paths, nil
}

// parseInstance returns the nodes before the first End node and the number of
// bytes consumed, End node included.
func parseInstance(data []byte) (DevicePath, int, error) {
	dp := DevicePath{}
	pos := 0
	for {
		if len(data)-pos < devNodeHeaderSize {
			return nil, 0, fmt.Errorf("device path node at offset %d: %w", pos, ErrTruncated)
		}
		size := int(binary.LittleEndian.Uint16(data[pos+2:]))
		if size < devNodeHeaderSize {
			return nil, 0, fmt.Errorf("device path node at offset %d has length %d: %w", pos, size, ErrMalformed)
		}
		if size > len(data)-pos {
			return nil, 0, fmt.Errorf("device path node at offset %d has length %d: %w", pos, size, ErrTruncated)
		}
		node := DevicePathNode{
			Type:    DeviceType(data[pos]),
			SubType: DeviceSubType(data[pos+1]),
			Data:    bytes.Clone(data[pos+devNodeHeaderSize : pos+size]),
		}
		pos += size
		if node.Type == DevTypeEnd {
			return dp, pos, nil
		}
		dp = append(dp, node)
	}
}

// MarshalBinary returns the binary representation of the node. Nodes whose
// data does not fit the 16-bit length field are rejected with ErrMalformed.
func (n DevicePathNode) MarshalBinary() ([]byte, error) {
	size, err := safecast.ToUint16(devNodeHeaderSize + len(n.Data))
	if err != nil {
		return nil, fmt.Errorf("device path node %02x/%02x with %d bytes of data: %w", n.Type, n.SubType, len(n.Data), ErrMalformed)
	}
	buf := make([]byte, devNodeHeaderSize, int(size))
	buf[0] = byte(n.Type)
	buf[1] = byte(n.SubType)
	binary.LittleEndian.PutUint16(buf[2:], size)
	return append(buf, n.Data...), nil
}

// Bytes is like MarshalBinary but panics if the node is too long to encode.
// Nodes returned by ParseDevicePath always encode.
func (n DevicePathNode) Bytes() []byte {
	b, err := n.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return b
}

// Is reports whether the node has the given type and subtype.
func (n DevicePathNode) Is(t DeviceType, st DeviceSubType) bool {
	return n.Type == t && n.SubType == st
}

func (n DevicePathNode) String() string {
	switch n.Type {
	case DevTypeHardware:
		return n.fmtHardware()
	case DevTypeAcpi:
		return n.fmtAcpi()
	case DevTypeMessage:
		return n.fmtMessage()
	case DevTypeMedia:
		return n.fmtMedia()
	}
	return n.fmtRaw()
}

func (n DevicePathNode) fmtRaw() string {
	return fmt.Sprintf("Path(%d,%d,%x)", n.Type, n.SubType, n.Data)
}

func (n DevicePathNode) fmtGUID(name string, offset int) string {
	g, err := GUIDFromBytes(n.Data, offset)
	if err != nil {
		return n.fmtRaw()
	}
	return fmt.Sprintf("%s(%s)", name, g)
}

func (n DevicePathNode) fmtHardware() string {
	switch n.SubType {
	case DevSubTypePCI:
		if len(n.Data) >= 2 {
			return fmt.Sprintf("Pci(0x%x,0x%x)", n.Data[1], n.Data[0])
		}
	case DevSubTypeMemory:
		if len(n.Data) >= 20 {
			return fmt.Sprintf("MemoryMapped(0x%x,0x%x,0x%x)",
				binary.LittleEndian.Uint32(n.Data[0:]),
				binary.LittleEndian.Uint64(n.Data[4:]),
				binary.LittleEndian.Uint64(n.Data[12:]))
		}
	case DevSubTypeVendorHW:
		return n.fmtGUID("VenHw", 0)
	}
	return n.fmtRaw()
}

func (n DevicePathNode) fmtAcpi() string {
	if n.SubType != DevSubTypeACPI || len(n.Data) < 8 {
		return n.fmtRaw()
	}
	hid := binary.LittleEndian.Uint32(n.Data[0:])
	uid := binary.LittleEndian.Uint32(n.Data[4:])
	switch hid {
	case pnpPciRoot:
		return fmt.Sprintf("PciRoot(0x%x)", uid)
	case pnpPcieRoot:
		return fmt.Sprintf("PcieRoot(0x%x)", uid)
	}
	return fmt.Sprintf("Acpi(0x%08x,0x%x)", hid, uid)
}

func (n DevicePathNode) fmtMessage() string {
	switch n.SubType {
	case DevSubTypeSCSI:
		if len(n.Data) >= 4 {
			return fmt.Sprintf("Scsi(0x%x,0x%x)",
				binary.LittleEndian.Uint16(n.Data[0:]),
				binary.LittleEndian.Uint16(n.Data[2:]))
		}
	case DevSubTypeUSB:
		if len(n.Data) >= 2 {
			return fmt.Sprintf("USB(0x%x,0x%x)", n.Data[0], n.Data[1])
		}
	case DevSubTypeMAC:
		if len(n.Data) >= 6 {
			return fmt.Sprintf("MAC(%x)", n.Data[:6])
		}
	case DevSubTypeIPv4:
		if len(n.Data) >= 8 {
			return fmt.Sprintf("IPv4(%s)", net.IP(n.Data[4:8]))
		}
		return "IPv4()"
	case DevSubTypeIPv6:
		if len(n.Data) >= 32 {
			return fmt.Sprintf("IPv6(%s)", net.IP(n.Data[16:32]))
		}
		return "IPv6()"
	case DevSubTypeSATA:
		if len(n.Data) >= 6 {
			return fmt.Sprintf("Sata(0x%x,0x%x,0x%x)",
				binary.LittleEndian.Uint16(n.Data[0:]),
				binary.LittleEndian.Uint16(n.Data[2:]),
				binary.LittleEndian.Uint16(n.Data[4:]))
		}
	case DevSubTypeURI:
		return fmt.Sprintf("Uri(%s)", n.Data)
	}
	return n.fmtRaw()
}

func (n DevicePathNode) fmtMedia() string {
	switch n.SubType {
	case DevSubTypeHardDrive:
		if len(n.Data) >= 38 {
			part := binary.LittleEndian.Uint32(n.Data[0:])
			switch n.Data[37] {
			case 0x01:
				return fmt.Sprintf("HD(%d,MBR,0x%08x)", part, binary.LittleEndian.Uint32(n.Data[20:]))
			case 0x02:
				g, _ := GUIDFromBytes(n.Data, 20)
				return fmt.Sprintf("HD(%d,GPT,%s)", part, g)
			}
			return fmt.Sprintf("HD(%d)", part)
		}
	case DevSubTypeCDROM:
		if len(n.Data) >= 4 {
			return fmt.Sprintf("CDROM(0x%x)", binary.LittleEndian.Uint32(n.Data))
		}
	case DevSubTypeVendor:
		return n.fmtGUID("VenMedia", 0)
	case DevSubTypeFilePath:
		return UCS16ToUTF8(n.Data)
	case DevSubTypeFVFilename:
		return n.fmtGUID("FvFile", 0)
	case DevSubTypeFVName:
		return n.fmtGUID("Fv", 0)
	}
	return n.fmtRaw()
}

// MarshalBinary returns the binary representation of the path, End node
// included.
func (dp DevicePath) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	for i, n := range dp {
		b, err := n.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		buf.Write(b)
	}
	buf.Write(DevicePathNode{Type: DevTypeEnd, SubType: DevSubTypeEndEntire}.Bytes())
	return buf.Bytes(), nil
}

// Bytes is like MarshalBinary but panics if a node is too long to encode.
func (dp DevicePath) Bytes() []byte {
	b, err := dp.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return b
}

func (dp DevicePath) String() string {
	parts := make([]string, 0, len(dp))
	for _, n := range dp {
		parts = append(parts, n.String())
	}
	return strings.Join(parts, "/")
}

// Equal reports whether both paths encode to the same bytes.
func (dp DevicePath) Equal(other DevicePath) bool {
	if len(dp) != len(other) {
		return false
	}
	for i, n := range dp {
		o := other[i]
		if n.Type != o.Type || n.SubType != o.SubType || !bytes.Equal(n.Data, o.Data) {
			return false
		}
	}
	return true
}

// Find returns the first node with the given type and subtype.
func (dp DevicePath) Find(t DeviceType, st DeviceSubType) (DevicePathNode, bool) {
	for _, n := range dp {
		if n.Is(t, st) {
			return n, true
		}
	}
	return DevicePathNode{}, false
}

// Has reports whether any node has the given type and subtype.
func (dp DevicePath) Has(t DeviceType, st DeviceSubType) bool {
	_, ok := dp.Find(t, st)
	return ok
}

// SplitFilePath separates a full path into the path of the device and the
// file path relative to it. The file part starts at the first media file
// path node. When there is none, file is empty and device is the whole path.
func SplitFilePath(dp DevicePath) (device, file DevicePath) {
	for i, n := range dp {
		if n.Is(DevTypeMedia, DevSubTypeFilePath) {
			return dp[:i:i], dp[i:]
		}
	}
	return dp, DevicePath{}
}

// FilePathString joins the file path nodes of dp into a single
// backslash-separated path.
func (dp DevicePath) FilePathString() string {
	var sb strings.Builder
	for _, n := range dp {
		if !n.Is(DevTypeMedia, DevSubTypeFilePath) {
			continue
		}
		s := UCS16ToUTF8(n.Data)
		if sb.Len() > 0 && !strings.HasSuffix(sb.String(), `\`) && !strings.HasPrefix(s, `\`) {
			sb.WriteByte('\\')
		}
		sb.WriteString(s)
	}
	return sb.String()
}

// BootURI returns the content of the first URI node.
func (dp DevicePath) BootURI() (string, bool) {
	n, ok := dp.Find(DevTypeMessage, DevSubTypeURI)
	if !ok {
		return "", false
	}
	return string(n.Data), true
}

func (dp DevicePath) with(n DevicePathNode) DevicePath {
	return append(dp[:len(dp):len(dp)], n)
}

// PciRoot appends an ACPI PCI root bridge node.
func (dp DevicePath) PciRoot(uid uint32) DevicePath {
	data := binary.LittleEndian.AppendUint32(nil, pnpPciRoot)
	data = binary.LittleEndian.AppendUint32(data, uid)
	return dp.with(DevicePathNode{Type: DevTypeAcpi, SubType: DevSubTypeACPI, Data: data})
}

// Pci appends a PCI device/function node.
func (dp DevicePath) Pci(dev, fn uint8) DevicePath {
	return dp.with(DevicePathNode{Type: DevTypeHardware, SubType: DevSubTypePCI, Data: []byte{fn, dev}})
}

// Sata appends a SATA node.
func (dp DevicePath) Sata(hba, pmp, lun uint16) DevicePath {
	data := binary.LittleEndian.AppendUint16(nil, hba)
	data = binary.LittleEndian.AppendUint16(data, pmp)
	data = binary.LittleEndian.AppendUint16(data, lun)
	return dp.with(DevicePathNode{Type: DevTypeMessage, SubType: DevSubTypeSATA, Data: data})
}

// MAC appends a MAC address node. The address is padded to 32 bytes and
// followed by the interface type (1, ethernet).
func (dp DevicePath) MAC(mac net.HardwareAddr) DevicePath {
	data := make([]byte, 33)
	copy(data, mac)
	data[32] = 0x01
	return dp.with(DevicePathNode{Type: DevTypeMessage, SubType: DevSubTypeMAC, Data: data})
}

// IPv4 appends an IPv4 node configured through DHCP.
func (dp DevicePath) IPv4() DevicePath {
	return dp.with(DevicePathNode{Type: DevTypeMessage, SubType: DevSubTypeIPv4, Data: make([]byte, 23)})
}

// IPv6 appends an IPv6 node configured through DHCP.
func (dp DevicePath) IPv6() DevicePath {
	return dp.with(DevicePathNode{Type: DevTypeMessage, SubType: DevSubTypeIPv6, Data: make([]byte, 39)})
}

// URI appends a URI node.
func (dp DevicePath) URI(uri string) DevicePath {
	return dp.with(DevicePathNode{Type: DevTypeMessage, SubType: DevSubTypeURI, Data: []byte(uri)})
}

// GptPartition appends a hard drive node for a GPT partition.
func (dp DevicePath) GptPartition(part uint32, start, size uint64, sig GUID) DevicePath {
	data := binary.LittleEndian.AppendUint32(nil, part)
	data = binary.LittleEndian.AppendUint64(data, start)
	data = binary.LittleEndian.AppendUint64(data, size)
	data = append(data, sig[:]...)
	data = append(data, 0x02, 0x02)
	return dp.with(DevicePathNode{Type: DevTypeMedia, SubType: DevSubTypeHardDrive, Data: data})
}

// VendorMedia appends a vendor media node.
func (dp DevicePath) VendorMedia(g GUID) DevicePath {
	return dp.with(DevicePathNode{Type: DevTypeMedia, SubType: DevSubTypeVendor, Data: g[:]})
}

// FilePath appends a media file path node.
func (dp DevicePath) FilePath(path string) DevicePath {
	return dp.with(DevicePathNode{Type: DevTypeMedia, SubType: DevSubTypeFilePath, Data: UTF8ToUCS16(path)})
}

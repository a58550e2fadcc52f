package efi_test

import (
	"encoding/binary"
	"net"
	"strings"
	"testing"

	"github.com/bmcpi/efiboot/internal/firmware/efi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevicePathString(t *testing.T) {
	sig := efi.MustParseGUID("6a0a3a4c-8c1a-4bcb-9a6e-3c1b0bfa8b61")
	mac, _ := net.ParseMAC("52:54:00:12:34:56")

	testCases := []struct {
		name string
		dp   efi.DevicePath
		want string
	}{
		{
			name: "disk",
			dp:   efi.DevicePath{}.PciRoot(0).Pci(1, 0).Sata(0, 0xffff, 0).GptPartition(1, 2048, 204800, sig).FilePath(`\EFI\BOOT\BOOTAA64.EFI`),
			want: `PciRoot(0x0)/Pci(0x1,0x0)/Sata(0x0,0xffff,0x0)/HD(1,GPT,6a0a3a4c-8c1a-4bcb-9a6e-3c1b0bfa8b61)/\EFI\BOOT\BOOTAA64.EFI`,
		},
		{
			name: "http boot",
			dp:   efi.DevicePath{}.PciRoot(0).Pci(2, 0).MAC(mac).IPv4().URI("http://10.0.0.1/ipxe.efi"),
			want: "PciRoot(0x0)/Pci(0x2,0x0)/MAC(525400123456)/IPv4(0.0.0.0)/Uri(http://10.0.0.1/ipxe.efi)",
		},
		{
			name: "initrd vendor media",
			dp:   efi.DevicePath{}.VendorMedia(efi.InitrdMediaGUID),
			want: "VenMedia(5568e427-68fc-4f3d-ac74-ca555231cc68)",
		},
		{
			name: "unknown node",
			dp:   efi.DevicePath{{Type: efi.DevTypeBBS, SubType: 0x01, Data: []byte{0xab}}},
			want: "Path(5,1,ab)",
		},
		{
			name: "empty",
			dp:   efi.DevicePath{},
			want: "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.dp.String())
		})
	}
}

func TestParseDevicePathRoundTrip(t *testing.T) {
	dp := efi.DevicePath{}.PciRoot(0).Pci(3, 1).FilePath(`\vmlinuz`)
	data := dp.Bytes()

	got, err := efi.ParseDevicePath(data)
	require.NoError(t, err)
	assert.True(t, dp.Equal(got))
	assert.Equal(t, data, got.Bytes())

	// Trailing instances are ignored.
	got, err = efi.ParseDevicePath(append(data, efi.DevicePath{}.FilePath("x").Bytes()...))
	require.NoError(t, err)
	assert.True(t, dp.Equal(got))
}

func TestParseDevicePathErrors(t *testing.T) {
	testCases := []struct {
		name string
		data []byte
		err  error
	}{
		{name: "empty", data: nil, err: efi.ErrTruncated},
		{name: "short header", data: []byte{0x04, 0x04, 0x08}, err: efi.ErrTruncated},
		{name: "length below header", data: []byte{0x04, 0x04, 0x02, 0x00}, err: efi.ErrMalformed},
		{name: "length past end", data: []byte{0x04, 0x04, 0x10, 0x00, 0x41, 0x00}, err: efi.ErrTruncated},
		{name: "missing end node", data: []byte{0x04, 0x04, 0x06, 0x00, 0x41, 0x00}, err: efi.ErrTruncated},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := efi.ParseDevicePath(tc.data)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestParseFilePathList(t *testing.T) {
	first := efi.DevicePath{}.FilePath(`\Image`)
	second := efi.DevicePath{}.VendorMedia(efi.InitrdMediaGUID).FilePath(`\initrd`)

	paths, err := efi.ParseFilePathList(append(first.Bytes(), second.Bytes()...))
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.True(t, first.Equal(paths[0]))
	assert.True(t, second.Equal(paths[1]))

	_, err = efi.ParseFilePathList(nil)
	assert.ErrorIs(t, err, efi.ErrTruncated)
}

func TestSplitFilePath(t *testing.T) {
	device := efi.DevicePath{}.PciRoot(0).Pci(1, 0)
	full := device.FilePath(`\EFI`).FilePath(`grubaa64.efi`)

	dev, file := efi.SplitFilePath(full)
	assert.True(t, device.Equal(dev))
	assert.Len(t, file, 2)
	assert.Equal(t, `\EFI\grubaa64.efi`, file.FilePathString())

	// Appending to the device part must not clobber the file part.
	_ = dev.FilePath("other")
	assert.Equal(t, `\EFI\grubaa64.efi`, file.FilePathString())

	dev, file = efi.SplitFilePath(device.URI("http://x/y"))
	assert.Len(t, dev, 3)
	assert.Empty(t, file)

	dev, file = efi.SplitFilePath(efi.DevicePath{}.FilePath("a.efi"))
	assert.Empty(t, dev)
	assert.Equal(t, "a.efi", file.FilePathString())
}

func TestDevicePathHelpers(t *testing.T) {
	dp := efi.DevicePath{}.PciRoot(0).URI("tftp://10.0.0.1/boot.efi")

	uri, ok := dp.BootURI()
	require.True(t, ok)
	assert.Equal(t, "tftp://10.0.0.1/boot.efi", uri)
	assert.True(t, dp.Has(efi.DevTypeAcpi, efi.DevSubTypeACPI))
	assert.False(t, dp.Has(efi.DevTypeMedia, efi.DevSubTypeFilePath))

	_, ok = efi.DevicePath{}.BootURI()
	assert.False(t, ok)

	assert.Equal(t, []byte{0x7f, 0xff, 0x04, 0x00}, efi.DevicePath{}.Bytes())
}

func TestDevicePathNodeLength(t *testing.T) {
	// 0xffff minus the 4 byte node header.
	const maxData = 0xfffb

	testCases := []struct {
		name string
		uri  string
		err  error
	}{
		{name: "largest node", uri: strings.Repeat("a", maxData)},
		{name: "one byte over", uri: strings.Repeat("a", maxData+1), err: efi.ErrMalformed},
		{name: "wraps length", uri: strings.Repeat("a", 70000), err: efi.ErrMalformed},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dp := efi.DevicePath{}.URI(tc.uri)
			data, err := dp.MarshalBinary()
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				assert.Panics(t, func() { dp.Bytes() })
				return
			}
			require.NoError(t, err)
			assert.Equal(t, uint16(0xffff), binary.LittleEndian.Uint16(data[2:4]))

			got, err := efi.ParseDevicePath(data)
			require.NoError(t, err)
			assert.True(t, dp.Equal(got))
		})
	}
}

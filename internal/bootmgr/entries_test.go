package bootmgr_test

import (
	"testing"

	"github.com/bmcpi/efiboot/internal/bootmgr"
	"github.com/bmcpi/efiboot/internal/firmware/efi"
	"github.com/bmcpi/efiboot/internal/firmware/varstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntries(t *testing.T) {
	s := varstore.NewMemStore()
	setOption(t, s, 0x10, efi.NewLoadOption("disk", diskPath(`\a.efi`), nil))
	s.Set("Boot0002", []byte{0x01})
	setOrder(s, 0x10, 2, 3)

	l := newFakeLoader()
	entries, err := bootmgr.New(s, l).Entries()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "Boot0010", entries[0].Name)
	require.NoError(t, entries[0].Err)
	assert.Equal(t, "disk", entries[0].Option.Description())

	assert.ErrorIs(t, entries[1].Err, efi.ErrTruncated)
	assert.ErrorIs(t, entries[2].Err, varstore.ErrNotFound)
	assert.Empty(t, l.calls)

	_, err = bootmgr.New(varstore.NewMemStore(), l).Entries()
	assert.ErrorIs(t, err, bootmgr.ErrNoBootOrder)
}

func TestBootNextAccessor(t *testing.T) {
	s := varstore.NewMemStore()
	m := bootmgr.New(s, newFakeLoader())

	_, ok := m.BootNext()
	assert.False(t, ok)

	s.Set(efi.BootNextName, []byte{0x02, 0x00})
	id, ok := m.BootNext()
	assert.True(t, ok)
	assert.Equal(t, uint16(2), id)

	s.Set(efi.BootNextName, []byte{0x02})
	_, ok = m.BootNext()
	assert.False(t, ok)
}

func TestReadBootOrder(t *testing.T) {
	s := varstore.NewMemStore()
	_, err := bootmgr.ReadBootOrder(s)
	assert.ErrorIs(t, err, bootmgr.ErrNoBootOrder)

	s.Set(efi.BootOrderName, []byte{0x03, 0x00, 0x01, 0x00, 0x07})
	order, err := bootmgr.ReadBootOrder(s)
	require.NoError(t, err)
	assert.Equal(t, []uint16{3, 1}, order)
}

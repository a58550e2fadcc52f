package bootmgr_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/bmcpi/efiboot/internal/bootmgr"
	"github.com/bmcpi/efiboot/internal/firmware/efi"
	"github.com/bmcpi/efiboot/internal/firmware/varstore"
	"github.com/bmcpi/efiboot/internal/loader"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLoader succeeds for the file paths listed in images and records every
// call in order.
type fakeLoader struct {
	images map[string][]byte
	calls  [][]byte
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{images: map[string][]byte{}}
}

func (f *fakeLoader) serve(path []byte, image string) {
	f.images[string(path)] = []byte(image)
}

func (f *fakeLoader) LoadImage(_ context.Context, path []byte) (*loader.Image, error) {
	f.calls = append(f.calls, append([]byte(nil), path...))
	data, ok := f.images[string(path)]
	if !ok {
		return nil, fmt.Errorf("nothing at %x: %w", path, loader.ErrLoad)
	}
	return &loader.Image{Data: data, Source: "fake", Size: len(data)}, nil
}

func (f *fakeLoader) SplitPath(path []byte) (efi.DevicePath, efi.DevicePath) {
	return loader.SplitPath(path)
}

func diskPath(file string) efi.DevicePath {
	return efi.DevicePath{}.PciRoot(0).Pci(1, 0).Sata(0, 0xffff, 0).FilePath(file)
}

func setOption(t *testing.T, s *varstore.MemStore, id uint16, opt *efi.LoadOption) {
	t.Helper()
	data, err := opt.Encode()
	require.NoError(t, err)
	s.Set(efi.BootOptionName(id), data)
}

func setOrder(s *varstore.MemStore, ids ...uint16) {
	s.Set(efi.BootOrderName, efi.EncodeBootOrder(ids))
}

func TestLoadConcreteScenario(t *testing.T) {
	s := varstore.NewMemStore()
	opt := &efi.LoadOption{
		Attributes:   efi.LOAD_OPTION_ACTIVE,
		Label:        efi.StringToUCS16("Test Entry"),
		FilePath:     []byte{0xAA, 0xBB, 0xCC},
		OptionalData: []byte("quiet"),
	}
	setOption(t, s, 3, opt)
	setOrder(s, 3)

	l := newFakeLoader()
	l.serve([]byte{0xAA, 0xBB, 0xCC}, "kernel")

	res, err := bootmgr.New(s, l).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, l.calls, 1)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, l.calls[0])
	assert.Equal(t, uint16(3), res.ID)
	assert.Equal(t, "Boot0003", res.Name)
	assert.Equal(t, []byte("kernel"), res.Image.Data)
	assert.Equal(t, "Test Entry", res.Option.Description())
	assert.Equal(t, []byte("quiet"), res.Option.OptionalData)
}

func TestLoadSkipsInactive(t *testing.T) {
	s := varstore.NewMemStore()
	opt := efi.NewLoadOption("disabled", diskPath(`\a.efi`), nil)
	opt.SetActive(false)
	setOption(t, s, 5, opt)
	setOrder(s, 5)

	l := newFakeLoader()
	l.serve(opt.FilePath, "a")

	_, err := bootmgr.New(s, l).Load(context.Background())
	assert.ErrorIs(t, err, bootmgr.ErrNoBootableEntry)
	assert.Empty(t, l.calls)
}

func TestLoadFirstSuccessWins(t *testing.T) {
	s := varstore.NewMemStore()
	first := efi.NewLoadOption("first", diskPath(`\first.efi`), nil)
	second := efi.NewLoadOption("second", diskPath(`\second.efi`), nil)
	setOption(t, s, 1, first)
	setOption(t, s, 2, second)
	setOrder(s, 1, 2)

	l := newFakeLoader()
	l.serve(first.FilePath, "first")
	l.serve(second.FilePath, "second")

	res, err := bootmgr.New(s, l).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint16(1), res.ID)
	assert.Equal(t, [][]byte{first.FilePath}, l.calls)
}

func TestLoadSkipsMissing(t *testing.T) {
	s := varstore.NewMemStore()
	opt := efi.NewLoadOption("eight", diskPath(`\EFI\BOOT\BOOTAA64.EFI`), nil)
	setOption(t, s, 8, opt)
	setOrder(s, 7, 8)

	l := newFakeLoader()
	l.serve(opt.FilePath, "eight")

	res, err := bootmgr.New(s, l).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Boot0008", res.Name)
	assert.Equal(t, `\EFI\BOOT\BOOTAA64.EFI`, res.FilePath.FilePathString())
	assert.True(t, efi.DevicePath{}.PciRoot(0).Pci(1, 0).Sata(0, 0xffff, 0).Equal(res.DevicePath))
}

func TestLoadNoBootOrder(t *testing.T) {
	l := newFakeLoader()
	_, err := bootmgr.New(varstore.NewMemStore(), l).Load(context.Background())
	assert.ErrorIs(t, err, bootmgr.ErrNoBootOrder)
	assert.ErrorIs(t, err, varstore.ErrNotFound)
	assert.Empty(t, l.calls)
}

func TestLoadSkipsCorruptAndFailed(t *testing.T) {
	s := varstore.NewMemStore()
	s.Set("Boot0001", []byte{0x01, 0x00})
	broken := efi.NewLoadOption("unloadable", diskPath(`\gone.efi`), nil)
	setOption(t, s, 2, broken)
	good := efi.NewLoadOption("good", diskPath(`\good.efi`), nil)
	setOption(t, s, 3, good)
	setOrder(s, 1, 2, 3)

	l := newFakeLoader()
	l.serve(good.FilePath, "good")

	res, err := bootmgr.New(s, l).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint16(3), res.ID)
	assert.Equal(t, [][]byte{broken.FilePath, good.FilePath}, l.calls)
}

func TestLoadNoBootableEntryReasons(t *testing.T) {
	s := varstore.NewMemStore()
	s.Set("Boot0001", []byte{0xff})
	setOption(t, s, 2, efi.NewLoadOption("unloadable", diskPath(`\gone.efi`), nil))
	setOrder(s, 1, 2, 9)

	_, err := bootmgr.New(s, newFakeLoader()).Load(context.Background())
	require.ErrorIs(t, err, bootmgr.ErrNoBootableEntry)
	assert.ErrorIs(t, err, efi.ErrTruncated)
	assert.ErrorIs(t, err, loader.ErrLoad)
	assert.ErrorIs(t, err, varstore.ErrNotFound)
	assert.ErrorContains(t, err, "Boot0009")
}

func TestLoadEmptyBootOrder(t *testing.T) {
	s := varstore.NewMemStore()
	s.Set(efi.BootOrderName, []byte{0x01})

	l := newFakeLoader()
	_, err := bootmgr.New(s, l).Load(context.Background())
	assert.ErrorIs(t, err, bootmgr.ErrNoBootableEntry)
	assert.False(t, errors.Is(err, bootmgr.ErrNoBootOrder))
	assert.Empty(t, l.calls)
}

func TestLoadBootNext(t *testing.T) {
	newStore := func(t *testing.T) (*varstore.MemStore, *fakeLoader) {
		s := varstore.NewMemStore()
		first := efi.NewLoadOption("first", diskPath(`\first.efi`), nil)
		next := efi.NewLoadOption("next", diskPath(`\next.efi`), nil)
		setOption(t, s, 1, first)
		setOption(t, s, 4, next)
		setOrder(s, 1)

		l := newFakeLoader()
		l.serve(first.FilePath, "first")
		l.serve(next.FilePath, "next")
		return s, l
	}

	t.Run("takes precedence and is consumed", func(t *testing.T) {
		s, l := newStore(t)
		s.Set(efi.BootNextName, []byte{0x04, 0x00})

		res, err := bootmgr.New(s, l).Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint16(4), res.ID)
		_, err = s.Get(efi.BootNextName)
		assert.ErrorIs(t, err, varstore.ErrNotFound)

		res, err = bootmgr.New(s, l).Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint16(1), res.ID)
	})

	t.Run("failure falls back to boot order", func(t *testing.T) {
		s, l := newStore(t)
		s.Set(efi.BootNextName, []byte{0x06, 0x00})

		res, err := bootmgr.New(s, l).Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint16(1), res.ID)
		_, err = s.Get(efi.BootNextName)
		assert.ErrorIs(t, err, varstore.ErrNotFound)
	})

	t.Run("malformed is ignored", func(t *testing.T) {
		s, l := newStore(t)
		s.Set(efi.BootNextName, []byte{0x04, 0x00, 0x00})

		res, err := bootmgr.New(s, l).Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint16(1), res.ID)
		assert.Len(t, l.calls, 1)
	})

	t.Run("disabled", func(t *testing.T) {
		s, l := newStore(t)
		s.Set(efi.BootNextName, []byte{0x04, 0x00})

		res, err := bootmgr.New(s, l, bootmgr.WithBootNext(false)).Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint16(1), res.ID)
		_, err = s.Get(efi.BootNextName)
		assert.NoError(t, err)
	})

	t.Run("without boot order", func(t *testing.T) {
		s, l := newStore(t)
		require.NoError(t, s.Delete(efi.BootOrderName))
		s.Set(efi.BootNextName, []byte{0x04, 0x00})

		res, err := bootmgr.New(s, l).Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint16(4), res.ID)
	})
}

// readOnlyStore hides the Deleter implementation of its embedded store.
type readOnlyStore struct {
	s *varstore.MemStore
}

func (r readOnlyStore) Get(name string) ([]byte, error) {
	return r.s.Get(name)
}

func TestLoadBootNextReadOnlyStore(t *testing.T) {
	s := varstore.NewMemStore()
	next := efi.NewLoadOption("next", diskPath(`\next.efi`), nil)
	setOption(t, s, 4, next)
	setOrder(s)
	s.Set(efi.BootNextName, []byte{0x04, 0x00})

	l := newFakeLoader()
	l.serve(next.FilePath, "next")

	res, err := bootmgr.New(readOnlyStore{s}, l).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint16(4), res.ID)
	_, err = s.Get(efi.BootNextName)
	assert.NoError(t, err)
}

func TestLoadMetrics(t *testing.T) {
	s := varstore.NewMemStore()
	inactive := efi.NewLoadOption("off", diskPath(`\off.efi`), nil)
	inactive.SetActive(false)
	setOption(t, s, 1, inactive)
	s.Set("Boot0002", []byte{0x00})
	setOption(t, s, 3, efi.NewLoadOption("gone", diskPath(`\gone.efi`), nil))
	good := efi.NewLoadOption("good", diskPath(`\good.efi`), nil)
	setOption(t, s, 5, good)
	setOrder(s, 1, 2, 3, 4, 5)

	l := newFakeLoader()
	l.serve(good.FilePath, "good")

	reg := prometheus.NewRegistry()
	m := bootmgr.New(s, l, bootmgr.WithRegisterer(reg), bootmgr.WithLogger(logr.Discard()))
	_, err := m.Load(context.Background())
	require.NoError(t, err)

	_, err = bootmgr.New(varstore.NewMemStore(), l, bootmgr.WithRegisterer(reg)).Load(context.Background())
	require.ErrorIs(t, err, bootmgr.ErrNoBootOrder)

	expected := `
# HELP bootmgr_attempts_total Boot option attempts by outcome.
# TYPE bootmgr_attempts_total counter
bootmgr_attempts_total{outcome="corrupt"} 1
bootmgr_attempts_total{outcome="failed"} 1
bootmgr_attempts_total{outcome="inactive"} 1
bootmgr_attempts_total{outcome="loaded"} 1
bootmgr_attempts_total{outcome="missing"} 1
# HELP bootmgr_loads_total Boot manager passes by result.
# TYPE bootmgr_loads_total counter
bootmgr_loads_total{result="loaded"} 1
bootmgr_loads_total{result="no_boot_order"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"bootmgr_attempts_total", "bootmgr_loads_total"))
}

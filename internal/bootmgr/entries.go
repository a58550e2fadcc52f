package bootmgr

import (
	"github.com/bmcpi/efiboot/internal/firmware/efi"
)

// Entry is a BootOrder slot as found in the store. Err is set when the option
// is missing or does not decode.
type Entry struct {
	ID     uint16
	Name   string
	Option *efi.LoadOption
	Err    error
}

// Entries decodes every option listed in BootOrder without loading any of
// them.
func (m *Manager) Entries() ([]Entry, error) {
	order, err := ReadBootOrder(m.store)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(order))
	for _, id := range order {
		e := Entry{ID: id, Name: efi.BootOptionName(id)}
		e.Option, e.Err = m.LoadOption(id)
		entries = append(entries, e)
	}
	return entries, nil
}

// LoadOption fetches and decodes Boot####.
func (m *Manager) LoadOption(id uint16) (*efi.LoadOption, error) {
	data, err := m.store.Get(efi.BootOptionName(id))
	if err != nil {
		return nil, err
	}
	return efi.DecodeLoadOption(data)
}

// BootNext returns the pending one-shot boot option, if any.
func (m *Manager) BootNext() (uint16, bool) {
	data, err := m.store.Get(efi.BootNextName)
	if err != nil {
		return 0, false
	}
	id, err := efi.ParseBootNext(data)
	return id, err == nil
}

package varstore

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/bmcpi/efiboot/internal/firmware/efi"
)

type varKey struct {
	guid efi.GUID
	name string
}

// MemStore is an in-memory variable store. It holds variables of any
// namespace; the VarStore methods only see the global one.
type MemStore struct {
	mu   sync.RWMutex
	vars map[varKey]*efi.Variable
}

var (
	_ VarStore = (*MemStore)(nil)
	_ Deleter  = (*MemStore)(nil)
	_ Lister   = (*MemStore)(nil)
)

func NewMemStore() *MemStore {
	return &MemStore{vars: make(map[varKey]*efi.Variable)}
}

// Get returns a copy of the data of the global variable name.
func (s *MemStore) Get(name string) ([]byte, error) {
	v, err := s.Lookup(efi.GlobalVariableGUID, name)
	if err != nil {
		return nil, err
	}
	return v.Data, nil
}

// Lookup returns a copy of the variable name in the namespace guid.
func (s *MemStore) Lookup(guid efi.GUID, name string) (*efi.Variable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.vars[varKey{guid, name}]
	if !ok {
		return nil, fmt.Errorf("%s-%s: %w", name, guid, ErrNotFound)
	}
	return v.Copy(), nil
}

// Set stores data as a global variable with default attributes.
func (s *MemStore) Set(name string, data []byte) {
	s.Put(efi.NewVariable(name, data))
}

// Put stores a copy of v, replacing any variable with the same name and
// namespace.
func (s *MemStore) Put(v *efi.Variable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[varKey{v.GUID, v.Name}] = v.Copy()
}

// Delete removes the global variable name.
func (s *MemStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := varKey{efi.GlobalVariableGUID, name}
	if _, ok := s.vars[k]; !ok {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	delete(s.vars, k)
	return nil
}

// Names returns the sorted names of all global variables.
func (s *MemStore) Names() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.vars))
	for k := range s.vars {
		if k.guid == efi.GlobalVariableGUID {
			names = append(names, k.name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Variables returns copies of every variable, ordered by namespace and name.
func (s *MemStore) Variables() []*efi.Variable {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vars := make([]*efi.Variable, 0, len(s.vars))
	for _, v := range s.vars {
		vars = append(vars, v.Copy())
	}
	sort.Slice(vars, func(i, j int) bool {
		if c := bytes.Compare(vars[i].GUID[:], vars[j].GUID[:]); c != 0 {
			return c < 0
		}
		return vars[i].Name < vars[j].Name
	})
	return vars
}

// Len returns the number of variables in all namespaces.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vars)
}

package varstore

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/bmcpi/efiboot/internal/firmware/efi"
	"github.com/spf13/afero"
)

// varListVersion is the virt-fw-vars JSON format version.
const varListVersion = 2

// jsonVar is one variable in virt-fw-vars JSON. Data is hex encoded.
type jsonVar struct {
	Name string `json:"name"`
	GUID string `json:"guid"`
	Attr uint32 `json:"attr"`
	Data string `json:"data"`
	Time string `json:"time,omitempty"`
}

type jsonVarList struct {
	Version   int       `json:"version"`
	Variables []jsonVar `json:"variables"`
}

// ReadJSON loads a virt-fw-vars JSON document into a MemStore.
func ReadJSON(r io.Reader) (*MemStore, error) {
	var list jsonVarList
	if err := json.NewDecoder(r).Decode(&list); err != nil {
		return nil, fmt.Errorf("decoding variable list: %w", err)
	}
	if list.Version != varListVersion {
		return nil, fmt.Errorf("unsupported variable list version %d: %w", list.Version, efi.ErrMalformed)
	}

	s := NewMemStore()
	for i, jv := range list.Variables {
		guid, err := efi.ParseGUID(jv.GUID)
		if err != nil {
			return nil, fmt.Errorf("variable %d (%s): %w", i, jv.Name, err)
		}
		data, err := hex.DecodeString(jv.Data)
		if err != nil {
			return nil, fmt.Errorf("variable %d (%s) data: %v: %w", i, jv.Name, err, efi.ErrMalformed)
		}
		var ts []byte
		if jv.Time != "" {
			if ts, err = hex.DecodeString(jv.Time); err != nil {
				return nil, fmt.Errorf("variable %d (%s) time: %v: %w", i, jv.Name, err, efi.ErrMalformed)
			}
		}
		s.Put(&efi.Variable{Name: jv.Name, GUID: guid, Attributes: jv.Attr, Data: data, Time: ts})
	}
	return s, nil
}

// OpenJSON reads a virt-fw-vars JSON file from fs.
func OpenJSON(fs afero.Fs, name string) (*MemStore, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadJSON(f)
}

// WriteJSON writes every variable of s in virt-fw-vars JSON format.
func WriteJSON(w io.Writer, s *MemStore) error {
	vars := s.Variables()
	list := jsonVarList{
		Version:   varListVersion,
		Variables: make([]jsonVar, 0, len(vars)),
	}
	for _, v := range vars {
		jv := jsonVar{
			Name: v.Name,
			GUID: v.GUID.String(),
			Attr: v.Attributes,
			Data: hex.EncodeToString(v.Data),
		}
		if len(v.Time) > 0 {
			jv.Time = hex.EncodeToString(v.Time)
		}
		list.Variables = append(list.Variables, jv)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(list)
}

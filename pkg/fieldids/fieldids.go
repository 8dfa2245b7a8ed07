// ABOUTME: Bidirectional field name to field id table
// ABOUTME: Ids are 16-bit, allocated sequentially and never reused

package fieldids

import (
	"encoding/json"
	"fmt"
	"iter"
	"math"
)

// FieldID identifies a field inside one index
type FieldID uint16

// MaxFields is the size of the id space
const MaxFields = math.MaxUint16 + 1

// Map assigns ids to field names
type Map struct {
	byName map[string]FieldID
	byID   []string
}

// New returns an empty map
func New() *Map {
	return &Map{byName: make(map[string]FieldID)}
}

// Insert returns the id of name, allocating the next one if the name is new.
// It returns false once every id is taken.
func (m *Map) Insert(name string) (FieldID, bool) {
	if id, ok := m.byName[name]; ok {
		return id, true
	}
	if len(m.byID) >= MaxFields {
		return 0, false
	}
	id := FieldID(len(m.byID))
	m.byName[name] = id
	m.byID = append(m.byID, name)
	return id, true
}

// ID looks up the id of a field name
func (m *Map) ID(name string) (FieldID, bool) {
	id, ok := m.byName[name]
	return id, ok
}

// Name looks up the name of a field id
func (m *Map) Name(id FieldID) (string, bool) {
	if int(id) >= len(m.byID) {
		return "", false
	}
	return m.byID[id], true
}

func (m *Map) Len() int      { return len(m.byID) }
func (m *Map) IsEmpty() bool { return len(m.byID) == 0 }

// All yields every (id, name) pair in id order
func (m *Map) All() iter.Seq2[FieldID, string] {
	return func(yield func(FieldID, string) bool) {
		for i, name := range m.byID {
			if !yield(FieldID(i), name) {
				return
			}
		}
	}
}

// Clone returns an independent copy
func (m *Map) Clone() *Map {
	c := &Map{
		byName: make(map[string]FieldID, len(m.byName)),
		byID:   append([]string(nil), m.byID...),
	}
	for k, v := range m.byName {
		c.byName[k] = v
	}
	return c
}

// MarshalJSON stores the names in id order
func (m *Map) MarshalJSON() ([]byte, error) {
	names := m.byID
	if names == nil {
		names = []string{}
	}
	return json.Marshal(names)
}

// UnmarshalJSON rebuilds the table; position in the array is the id
func (m *Map) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	if len(names) > MaxFields {
		return fmt.Errorf("fields ids map: %d fields exceeds the id space", len(names))
	}

	fresh := New()
	for _, name := range names {
		if _, dup := fresh.byName[name]; dup {
			return fmt.Errorf("fields ids map: duplicate field %q", name)
		}
		fresh.Insert(name)
	}
	*m = *fresh
	return nil
}

package record

import (
	"fmt"
	"sort"
)

// Descriptor tells the codec how a record payload is framed. Zero means a
// variable payload with a two byte length prefix, any other value is the
// fixed payload size in bytes.
type Descriptor uint16

// Variable is the descriptor of length-prefixed payloads.
const Variable Descriptor = 0

// FixedSize returns the descriptor of a payload that is always n bytes.
func FixedSize(n int) Descriptor {
	return Descriptor(n)
}

func (d Descriptor) Fixed() bool { return d != Variable }

func (d Descriptor) Size() int { return int(d) }

func (d Descriptor) String() string {
	if !d.Fixed() {
		return "variable"
	}
	return fmt.Sprintf("fixed(%d)", int(d))
}

// Entry names a record type and its payload descriptor.
type Entry struct {
	ID         ID
	Name       string
	Descriptor Descriptor
}

// Table maps record ids to descriptors. Ids without an entry are variable.
// A Table is read-only once handed to a writer or reader.
type Table struct {
	short [ShortIDMax + 1]Descriptor
	long  map[ID]Descriptor
	names map[ID]string
}

// NewTable builds a descriptor table from entries.
func NewTable(entries ...Entry) (*Table, error) {
	t := &Table{
		long:  map[ID]Descriptor{},
		names: map[ID]string{},
	}
	for _, e := range entries {
		if e.ID == 0 || e.ID > MaxID {
			return nil, fmt.Errorf("descriptor for record id %d: %w", e.ID, ErrInvalidArgument)
		}
		if _, ok := t.names[e.ID]; ok {
			return nil, fmt.Errorf("duplicate descriptor for record id %d: %w", e.ID, ErrInvalidArgument)
		}
		if e.ID <= ShortIDMax {
			t.short[e.ID] = e.Descriptor
		} else {
			t.long[e.ID] = e.Descriptor
		}
		name := e.Name
		if name == "" {
			name = fmt.Sprintf("id%d", e.ID)
		}
		t.names[e.ID] = name
	}
	return t, nil
}

// Lookup returns the descriptor of id. A nil table treats every id as variable.
func (t *Table) Lookup(id ID) Descriptor {
	if t == nil {
		return Variable
	}
	if id <= ShortIDMax {
		return t.short[id]
	}
	return t.long[id]
}

// Name returns the registered name of id, or "id<N>" for unknown ids.
func (t *Table) Name(id ID) string {
	if t != nil {
		if n, ok := t.names[id]; ok {
			return n
		}
	}
	return fmt.Sprintf("id%d", id)
}

// Entries returns the registered entries ordered by id.
func (t *Table) Entries() []Entry {
	if t == nil {
		return nil
	}
	ret := make([]Entry, 0, len(t.names))
	for id, name := range t.names {
		ret = append(ret, Entry{ID: id, Name: name, Descriptor: t.Lookup(id)})
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID < ret[j].ID })
	return ret
}

// Version is a major.minor.update triple.
type Version struct {
	Major, Minor, Update uint32
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%02d.%02d", v.Major, v.Minor, v.Update)
}

// Schema identifies the payload layouts a log file was written with.
type Schema struct {
	ID      uint32
	Version Version
	Table   *Table
}

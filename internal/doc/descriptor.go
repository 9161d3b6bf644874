package doc

import (
	"fmt"
	"reflect"
)

// Descriptor is the metadata of one document type: its ordered entries and
// the entries that play special roles (id, timestamps, foreign ids).
//
// A Descriptor is immutable once built and safe for concurrent use.
type Descriptor struct {
	// Name identifies the document type ("Order").
	Name string

	// Type is the Go struct type for struct-backed documents, nil for
	// Record-backed ones.
	Type reflect.Type

	// Container is the default table or collection name, when known.
	Container string

	// Kind is the default container kind ("table", "view", "collection"),
	// when known.
	Kind string

	entries  []*Entry
	byName   map[string]*Entry
	id       *Entry
	created  *Entry
	modified *Entry
	updated  *Entry
	deleted  *Entry
	foreign  []*Entry
}

// roleFlags are the flags at most one entry of a document may carry.
var roleFlags = []Flags{FlagIDField, FlagDateCreated, FlagDateModified, FlagDateUpdated, FlagDateDeleted}

// NewDescriptor validates entries and indexes their roles.
// Entry names and DB-side names must be unique; each role flag other than
// ForeignID may appear on at most one entry.
func NewDescriptor(name string, typ reflect.Type, entries []*Entry) (*Descriptor, error) {
	d := &Descriptor{
		Name:    name,
		Type:    typ,
		entries: entries,
		byName:  make(map[string]*Entry, len(entries)),
	}
	columns := make(map[string]string, len(entries))

	for _, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("document %s: entry with empty name", name)
		}
		if _, dup := d.byName[e.Name]; dup {
			return nil, fmt.Errorf("document %s: duplicate entry %q", name, e.Name)
		}
		if other, dup := columns[e.DBSideName]; dup {
			return nil, fmt.Errorf("document %s: entries %q and %q share column %q", name, other, e.Name, e.DBSideName)
		}
		d.byName[e.Name] = e
		columns[e.DBSideName] = e.Name

		for _, role := range roleFlags {
			if !e.Flags.Has(role) {
				continue
			}
			slot := d.roleSlot(role)
			if *slot != nil {
				return nil, fmt.Errorf("document %s: entries %q and %q both flagged %s", name, (*slot).Name, e.Name, role)
			}
			*slot = e
		}
		if e.Flags.Has(FlagForeignID) {
			d.foreign = append(d.foreign, e)
		}
	}

	return d, nil
}

func (d *Descriptor) roleSlot(role Flags) **Entry {
	switch role {
	case FlagIDField:
		return &d.id
	case FlagDateCreated:
		return &d.created
	case FlagDateModified:
		return &d.modified
	case FlagDateUpdated:
		return &d.updated
	default:
		return &d.deleted
	}
}

// Entries returns the entries in declaration order. Callers must not
// modify the returned slice.
func (d *Descriptor) Entries() []*Entry { return d.entries }

// Entry looks up an entry by name.
func (d *Descriptor) Entry(name string) (*Entry, bool) {
	e, ok := d.byName[name]
	return e, ok
}

// ID returns the id entry, or nil.
func (d *Descriptor) ID() *Entry { return d.id }

// DateCreated returns the creation timestamp entry, or nil.
func (d *Descriptor) DateCreated() *Entry { return d.created }

// DateModified returns the modification timestamp entry, or nil.
func (d *Descriptor) DateModified() *Entry { return d.modified }

// DateUpdated returns the update timestamp entry, or nil.
func (d *Descriptor) DateUpdated() *Entry { return d.updated }

// DateDeleted returns the soft-delete marker entry, or nil.
func (d *Descriptor) DateDeleted() *Entry { return d.deleted }

// ForeignIDs returns the entries flagged as foreign ids.
func (d *Descriptor) ForeignIDs() []*Entry { return d.foreign }

// New allocates an empty document: a pointer to a zero struct, or a
// pointer to an empty Record.
func (d *Descriptor) New() any {
	if d.Type == nil {
		rec := Record{}
		return &rec
	}
	return reflect.New(d.Type).Interface()
}

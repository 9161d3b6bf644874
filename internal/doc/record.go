package doc

import (
	"fmt"
	"reflect"
	"time"

	"github.com/roach88/dsq/internal/ir"
)

// Record is a schemaless document keyed by entry name. Descriptors built
// from definitions (FromSpec) read and write Records.
type Record map[string]any

var specTypes = map[string]reflect.Type{
	"string": reflect.TypeOf(""),
	"int":    reflect.TypeOf(int64(0)),
	"float":  reflect.TypeOf(float64(0)),
	"bool":   reflect.TypeOf(false),
	"time":   reflect.TypeOf(time.Time{}),
	"bytes":  reflect.TypeOf([]byte(nil)),
}

// FromSpec builds a Record-backed descriptor from a compiled document
// definition.
func FromSpec(spec ir.DocumentSpec) (*Descriptor, error) {
	entries := make([]*Entry, 0, len(spec.Fields))
	for _, f := range spec.Fields {
		typ, ok := specTypes[f.Type]
		if !ok {
			return nil, fmt.Errorf("document %s field %s: unknown type %q", spec.Name, f.Name, f.Type)
		}
		e := &Entry{
			Name:       f.Name,
			DBSideName: f.Column,
			Type:       typ,
			Nullable:   f.Nullable,
		}
		if e.DBSideName == "" {
			e.DBSideName = f.Name
		}
		for _, name := range f.Flags {
			flag, ok := ParseFlag(name)
			if !ok {
				return nil, fmt.Errorf("document %s field %s: unknown flag %q", spec.Name, f.Name, name)
			}
			e.Flags |= flag
		}
		e.get, e.set = recordAccessors(e)
		entries = append(entries, e)
	}

	d, err := NewDescriptor(spec.Name, nil, entries)
	if err != nil {
		return nil, err
	}
	d.Container = spec.Container
	d.Kind = spec.Kind
	return d, nil
}

func recordAccessors(e *Entry) (func(any) (any, error), func(any, any) error) {
	get := func(obj any) (any, error) {
		rec, err := asRecord(obj)
		if err != nil {
			return nil, err
		}
		return rec[e.Name], nil
	}
	set := func(obj any, v any) error {
		rec, err := asRecord(obj)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("nil record")
		}
		converted, err := e.Convert(v)
		if err != nil {
			return err
		}
		rec[e.Name] = converted
		return nil
	}
	return get, set
}

func asRecord(obj any) (Record, error) {
	switch r := obj.(type) {
	case Record:
		return r, nil
	case *Record:
		if r == nil {
			return nil, fmt.Errorf("nil record")
		}
		if *r == nil {
			*r = Record{}
		}
		return *r, nil
	case map[string]any:
		return r, nil
	default:
		return nil, fmt.Errorf("expected Record document, got %T", obj)
	}
}

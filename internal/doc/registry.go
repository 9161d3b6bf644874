package doc

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Registry caches descriptors by Go type and by document name.
//
// Struct-backed descriptors are built on first use from struct tags:
//
//	type Order struct {
//		ID      int64      `ds:"id,id"`
//		Name    string     `ds:"name"`
//		Created time.Time  `ds:"created,created,readonly" db:"created_at"`
//		Deleted *time.Time `ds:"deleted,deleted"`
//		Note    string     `ds:"-"`
//	}
//
// The first element of the ds tag is the entry name (default: the Go field
// name), the rest are flag names from ParseFlag. The db tag overrides the
// DB-side name, which otherwise equals the entry name. Pointer fields are
// nullable. Unexported fields and fields tagged "-" are skipped.
type Registry struct {
	mu     sync.RWMutex
	byType map[reflect.Type]*Descriptor
	byName map[string]*Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[reflect.Type]*Descriptor),
		byName: make(map[string]*Descriptor),
	}
}

// Default is the process-wide registry used by Of.
var Default = NewRegistry()

// Of returns the descriptor for T from the default registry.
func Of[T any]() (*Descriptor, error) {
	return Default.Describe(reflect.TypeFor[T]())
}

// Describe returns the cached descriptor for typ, building it on first use.
// typ may be a struct type or a pointer to one.
func (r *Registry) Describe(typ reflect.Type) (*Descriptor, error) {
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}

	r.mu.RLock()
	d, ok := r.byType[typ]
	r.mu.RUnlock()
	if ok {
		return d, nil
	}

	d, err := buildStructDescriptor(typ)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another goroutine may have built it concurrently; keep the first.
	if existing, ok := r.byType[typ]; ok {
		return existing, nil
	}
	r.byType[typ] = d
	r.byName[d.Name] = d
	return d, nil
}

// Register adds a prebuilt descriptor under its name. Registering a second
// descriptor with the same name is an error.
func (r *Registry) Register(d *Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[d.Name]; dup {
		return fmt.Errorf("document %q already registered", d.Name)
	}
	r.byName[d.Name] = d
	if d.Type != nil {
		r.byType[d.Type] = d
	}
	return nil
}

// Lookup finds a descriptor by document name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

func buildStructDescriptor(typ reflect.Type) (*Descriptor, error) {
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("describe %s: not a struct type", typ)
	}

	var entries []*Entry
	for _, f := range reflect.VisibleFields(typ) {
		if !f.IsExported() || f.Anonymous {
			continue
		}
		tag := f.Tag.Get("ds")
		if tag == "-" {
			continue
		}

		e, err := structEntry(f, tag)
		if err != nil {
			return nil, fmt.Errorf("describe %s.%s: %w", typ.Name(), f.Name, err)
		}
		entries = append(entries, e)
	}

	return NewDescriptor(typ.Name(), typ, entries)
}

func structEntry(f reflect.StructField, tag string) (*Entry, error) {
	parts := strings.Split(tag, ",")
	e := &Entry{
		Name: strings.TrimSpace(parts[0]),
		Type: f.Type,
	}
	if e.Name == "" {
		e.Name = f.Name
	}
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		flag, ok := ParseFlag(p)
		if !ok {
			return nil, fmt.Errorf("unknown flag %q", p)
		}
		e.Flags |= flag
	}

	e.DBSideName = e.Name
	if col := f.Tag.Get("db"); col != "" {
		e.DBSideName = col
	}
	if f.Type.Kind() == reflect.Pointer {
		e.Nullable = true
		e.Type = f.Type.Elem()
	}

	index := f.Index
	e.get = func(obj any) (any, error) {
		fv, err := structField(obj, index)
		if err != nil {
			return nil, err
		}
		if fv.Kind() == reflect.Pointer {
			if fv.IsNil() {
				return nil, nil
			}
			fv = fv.Elem()
		}
		return fv.Interface(), nil
	}
	e.set = func(obj any, v any) error {
		fv, err := structField(obj, index)
		if err != nil {
			return err
		}
		if !fv.CanSet() {
			return fmt.Errorf("document must be passed by pointer")
		}
		return assign(fv, v)
	}
	return e, nil
}

// structField resolves a field by index path through pointers and
// embedded structs.
func structField(obj any, index []int) (reflect.Value, error) {
	rv := reflect.ValueOf(obj)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return reflect.Value{}, fmt.Errorf("nil document")
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("expected struct document, got %s", rv.Type())
	}
	fv, err := rv.FieldByIndexErr(index)
	if err != nil {
		return reflect.Value{}, err
	}
	return fv, nil
}

package queryir

import (
	"reflect"

	"github.com/roach88/dsq/internal/doc"
	"github.com/roach88/dsq/internal/dserr"
)

// DefaultAlias is the alias of the root container in auto-built plans.
const DefaultAlias = "t"

// IDParam is the parameter auto-built by-id plans filter on.
const IDParam = "id"

// Target names where a document type is stored.
type Target struct {
	Descriptor *doc.Descriptor
	// Name is the table or collection name; it defaults to
	// Descriptor.Container.
	Name string
	// Kind defaults to the descriptor's kind, then to a table (SQL) or a
	// collection (document).
	Kind ContainerKind
}

func (t Target) resolve(family Family) (string, ContainerKind, error) {
	if t.Descriptor == nil {
		return "", 0, dserr.Configuration("build plan", "target has no document descriptor")
	}
	name := t.Name
	if name == "" {
		name = t.Descriptor.Container
	}
	if name == "" {
		return "", 0, dserr.Configuration("build plan", "document %s has no container name", t.Descriptor.Name)
	}
	kind := t.Kind
	if kind == 0 && t.Descriptor.Kind != "" {
		k, ok := ParseContainerKind(t.Descriptor.Kind)
		if !ok {
			return "", 0, dserr.Configuration("build plan", "document %s has unknown container kind %q", t.Descriptor.Name, t.Descriptor.Kind)
		}
		kind = k
	}
	if kind == 0 {
		kind = ContainerTable
		if family == FamilyDocument {
			kind = ContainerCollection
		}
	}
	return name, kind, nil
}

func build(t Target, family Family, kind Kind, op Operation) (*Builder, error) {
	name, ck, err := t.resolve(family)
	if err != nil {
		return nil, err
	}
	b := NewBuilder(kind, family)
	if err := b.AddContainer(t.Descriptor, DefaultAlias, name, ck, op); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Builder) whereID(t Target) error {
	id := t.Descriptor.ID()
	if id == nil {
		return dserr.Configuration("build plan", "document %s has no id field", t.Descriptor.Name)
	}
	return b.WhereParam(DefaultAlias, id.Name, Eq, IDParam)
}

func finish(b *Builder, err error) (*Builder, error) {
	if err != nil {
		return nil, err
	}
	if err := b.Normalize(); err != nil {
		return nil, err
	}
	return b, nil
}

// SelectAll builds the normalized plan selecting every document of t.
func SelectAll(t Target, family Family) (*Builder, error) {
	b, err := build(t, family, KindSelect, OpSelect)
	return finish(b, err)
}

// SelectByID builds the normalized plan selecting one document by @id.
func SelectByID(t Target, family Family) (*Builder, error) {
	b, err := build(t, family, KindSelect, OpSelect)
	if err == nil {
		err = b.whereID(t)
	}
	return finish(b, err)
}

// InsertInto builds the normalized plan inserting into t.
func InsertInto(t Target, family Family) (*Builder, error) {
	b, err := build(t, family, KindInsert, OpInsert)
	return finish(b, err)
}

// UpdateByID builds the normalized plan updating one document by @id.
func UpdateByID(t Target, family Family) (*Builder, error) {
	b, err := build(t, family, KindUpdate, OpUpdate)
	if err == nil {
		err = b.whereID(t)
	}
	return finish(b, err)
}

// DeleteByID builds the normalized plan deleting one document by @id.
func DeleteByID(t Target, family Family) (*Builder, error) {
	b, err := build(t, family, KindDelete, OpDelete)
	if err == nil {
		err = b.whereID(t)
	}
	return finish(b, err)
}

// SoftDeleteByID builds the normalized plan setting the deletion marker of
// one live document by @id.
func SoftDeleteByID(t Target, family Family) (*Builder, error) {
	return markerPlan(t, family, KindSoftDelete, Eq)
}

// RestoreByID builds the normalized plan clearing the deletion marker of
// one deleted document by @id.
func RestoreByID(t Target, family Family) (*Builder, error) {
	return markerPlan(t, family, KindRestore, Ne)
}

func markerPlan(t Target, family Family, kind Kind, op Operator) (*Builder, error) {
	b, err := build(t, family, kind, OpUpdate)
	if err != nil {
		return nil, err
	}
	if err := b.whereID(t); err != nil {
		return nil, err
	}
	marker := t.Descriptor.DateDeleted()
	if marker == nil {
		return nil, dserr.Configuration("build plan", "document %s has no deletion marker", t.Descriptor.Name)
	}
	return finish(b, b.Where(DefaultAlias, marker.Name, op, LiveMarker(marker)))
}

// LiveMarker is the deletion-marker value of a document that is not
// deleted: nil for nullable markers, the zero value otherwise.
func LiveMarker(e *doc.Entry) any {
	if e.Nullable {
		return nil
	}
	return reflect.Zero(e.Type).Interface()
}

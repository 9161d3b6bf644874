package queryir

import (
	"github.com/roach88/dsq/internal/doc"
	"github.com/roach88/dsq/internal/dserr"
	"github.com/roach88/dsq/internal/ir"
)

// Resolver looks up document descriptors by name.
type Resolver interface {
	Lookup(name string) (*doc.Descriptor, bool)
}

// FromSpec builds a plan of the given kind from a compiled plan
// definition. The returned plan is normalized.
//
// A container without a name or kind takes them from its document, then
// falls back to a table (SQL) or a collection (document).
func FromSpec(spec ir.PlanSpec, kind Kind, family Family, docs Resolver) (*Builder, error) {
	const op = "plan from definition"
	b := NewBuilder(kind, family)

	for _, cs := range spec.Containers {
		var d *doc.Descriptor
		if cs.Document != "" {
			found, ok := docs.Lookup(cs.Document)
			if !ok {
				return nil, dserr.Configuration(op, "container %q: unknown document %q", cs.Alias, cs.Document)
			}
			d = found
		}
		var ck ContainerKind
		if cs.Kind != "" {
			parsed, ok := ParseContainerKind(cs.Kind)
			if !ok {
				return nil, dserr.Configuration(op, "container %q: unknown kind %q", cs.Alias, cs.Kind)
			}
			ck = parsed
		}
		name := cs.Name
		switch {
		case d != nil:
			var err error
			if name, ck, err = (Target{Descriptor: d, Name: cs.Name, Kind: ck}).resolve(family); err != nil {
				return nil, err
			}
		case ck == 0 && family == FamilyDocument:
			ck = ContainerCollection
		case ck == 0:
			ck = ContainerTable
		}
		cop, ok := ParseOperation(cs.Op)
		if !ok {
			return nil, dserr.Configuration(op, "container %q: unknown operation %q", cs.Alias, cs.Op)
		}
		if err := b.AddContainer(d, cs.Alias, name, ck, cop); err != nil {
			return nil, err
		}
	}

	for _, c := range spec.Connects {
		if err := addSpecCondition(b, c, Connect); err != nil {
			return nil, err
		}
	}
	for _, c := range spec.Conditions {
		if err := addSpecCondition(b, c, 0); err != nil {
			return nil, err
		}
	}

	for _, x := range spec.Exclude {
		if err := b.Exclude(x.Alias, x.Field); err != nil {
			return nil, err
		}
	}
	for _, s := range spec.Sort {
		dir, ok := ParseSortDirection(s.Direction)
		if !ok {
			return nil, dserr.Configuration(op, "sort on %s.%s: unknown direction %q", s.Alias, s.Field, s.Direction)
		}
		if err := b.OrderBy(s.Alias, s.Field, dir); err != nil {
			return nil, err
		}
	}

	if err := b.Normalize(); err != nil {
		return nil, err
	}
	return b, nil
}

func addSpecCondition(b *Builder, c ir.ConditionSpec, flags ConditionFlags) error {
	operator, ok := ParseOperator(c.Op)
	if !ok {
		return dserr.Configuration("plan from definition", "condition on %s.%s: unknown operator %q", c.Alias, c.Field, c.Op)
	}

	var value any
	var param string
	switch {
	case c.Ref != nil:
		flags |= OnField
		value = FieldRef{Alias: c.Ref.Alias, Field: c.Ref.Field}
	case c.Param != "":
		flags |= OnParam
		param = c.Param
	default:
		flags |= OnConst
		value = c.Value
	}

	for range c.Begin {
		b.Begin()
	}
	if c.Or {
		b.Or()
	}
	if err := b.AddCondition(flags, FieldRef{Alias: c.Alias, Field: c.Field}, value, param, operator); err != nil {
		return err
	}
	for range c.End {
		b.End()
	}
	return nil
}

// AddFilters adds filter conditions declared outside Go code, such as
// scenario steps or command-line queries. Conditions without an alias apply
// to the plan's root container.
func AddFilters(b *Builder, conds []ir.ConditionSpec) error {
	for _, c := range conds {
		if c.Ref != nil {
			return dserr.Configuration("add filters", "filter on %s.%s references a field", c.Alias, c.Field)
		}
		if c.Alias == "" {
			root, ok := b.Root()
			if !ok {
				return dserr.Configuration("add filters", "plan has no root container")
			}
			c.Alias = root.Alias
		}
		if err := addSpecCondition(b, c, 0); err != nil {
			return err
		}
	}
	return nil
}

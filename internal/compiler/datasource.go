package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/dsq/internal/ir"
)

// Default id generation for data sources that declare an idgen block
// without the corresponding keys.
const (
	DefaultIDGenKind = "sequential"
	DefaultStartAt   = 1
	DefaultStep      = 1
)

// CompileDataSource parses a CUE value into a DataSourceSpec:
//
//	datasource: Orders: {
//		document:    "Order"
//		options:     ["select", "insert"]
//		soft_delete: true
//		idgen: {kind: "sequential", start_at: 100}
//		select: {
//			containers: [{alias: "o", document: "Order", op: "select"}]
//			conditions: [{alias: "o", field: "total", op: "gt", value: 10}]
//			sort: [{alias: "o", field: "name", direction: "desc"}]
//		}
//	}
func CompileDataSource(v cue.Value) (*ir.DataSourceSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.DataSourceSpec{Name: lastLabel(v)}

	var err error
	if spec.Document, err = requiredString(v, "document"); err != nil {
		return nil, err
	}
	if spec.Options, err = optionalStrings(v, "options"); err != nil {
		return nil, err
	}
	if spec.SoftDelete, err = optionalBool(v, "soft_delete"); err != nil {
		return nil, err
	}

	if gv := v.LookupPath(cue.ParsePath("idgen")); gv.Exists() {
		if spec.IDGen, err = compileIDGen(gv); err != nil {
			return nil, err
		}
	}

	if sv := v.LookupPath(cue.ParsePath("select")); sv.Exists() {
		if spec.Select, err = compilePlan(sv); err != nil {
			return nil, err
		}
	}

	return spec, nil
}

func compileIDGen(v cue.Value) (*ir.IDGenSpec, error) {
	g := &ir.IDGenSpec{Kind: DefaultIDGenKind, StartAt: DefaultStartAt, Step: DefaultStep}

	kind, err := optionalString(v, "kind")
	if err != nil {
		return nil, err
	}
	if kind != "" {
		g.Kind = kind
	}
	if n, ok, err := optionalInt(v, "start_at"); err != nil {
		return nil, err
	} else if ok {
		g.StartAt = n
	}
	if n, ok, err := optionalInt(v, "step"); err != nil {
		return nil, err
	} else if ok {
		g.Step = n
	}
	if n, ok, err := optionalInt(v, "max_attempts"); err != nil {
		return nil, err
	} else if ok {
		g.MaxAttempts = int(n)
	}
	return g, nil
}

func compilePlan(v cue.Value) (*ir.PlanSpec, error) {
	plan := &ir.PlanSpec{}

	err := eachListItem(v, "containers", func(item cue.Value) error {
		c, err := compileContainer(item)
		if err != nil {
			return err
		}
		plan.Containers = append(plan.Containers, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(plan.Containers) == 0 {
		return nil, &CompileError{
			Field:   "select.containers",
			Message: "at least one container is required",
			Pos:     v.Pos(),
		}
	}

	err = eachListItem(v, "connects", func(item cue.Value) error {
		c, err := compileCondition(item)
		if err != nil {
			return err
		}
		plan.Connects = append(plan.Connects, c)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = eachListItem(v, "conditions", func(item cue.Value) error {
		c, err := compileCondition(item)
		if err != nil {
			return err
		}
		plan.Conditions = append(plan.Conditions, c)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = eachListItem(v, "exclude", func(item cue.Value) error {
		ref, err := compileFieldRef(item)
		if err != nil {
			return err
		}
		plan.Exclude = append(plan.Exclude, ref)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = eachListItem(v, "sort", func(item cue.Value) error {
		ref, err := compileFieldRef(item)
		if err != nil {
			return err
		}
		dir, err := optionalString(item, "direction")
		if err != nil {
			return err
		}
		plan.Sort = append(plan.Sort, ir.SortSpec{Alias: ref.Alias, Field: ref.Field, Direction: dir})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return plan, nil
}

func compileContainer(v cue.Value) (ir.ContainerSpec, error) {
	var (
		c   ir.ContainerSpec
		err error
	)
	if c.Alias, err = requiredString(v, "alias"); err != nil {
		return c, err
	}
	if c.Op, err = requiredString(v, "op"); err != nil {
		return c, err
	}
	if c.Document, err = optionalString(v, "document"); err != nil {
		return c, err
	}
	if c.Name, err = optionalString(v, "name"); err != nil {
		return c, err
	}
	if c.Kind, err = optionalString(v, "kind"); err != nil {
		return c, err
	}
	if c.Document == "" && c.Name == "" {
		return c, &CompileError{
			Field:   "containers." + c.Alias,
			Message: "container needs a document or a name",
			Pos:     v.Pos(),
		}
	}
	return c, nil
}

func compileCondition(v cue.Value) (ir.ConditionSpec, error) {
	ref, err := compileFieldRef(v)
	if err != nil {
		return ir.ConditionSpec{}, err
	}
	c := ir.ConditionSpec{Alias: ref.Alias, Field: ref.Field}

	if c.Op, err = requiredString(v, "op"); err != nil {
		return c, err
	}
	if c.Param, err = optionalString(v, "param"); err != nil {
		return c, err
	}
	if vv := v.LookupPath(cue.ParsePath("value")); vv.Exists() {
		if c.Value, err = toValue(vv); err != nil {
			return c, err
		}
	}
	if rv := v.LookupPath(cue.ParsePath("ref")); rv.Exists() {
		r, err := compileFieldRef(rv)
		if err != nil {
			return c, err
		}
		c.Ref = &r
	}

	begin, _, err := optionalInt(v, "begin")
	if err != nil {
		return c, err
	}
	end, _, err := optionalInt(v, "end")
	if err != nil {
		return c, err
	}
	c.Begin, c.End = int(begin), int(end)
	if c.Or, err = optionalBool(v, "or"); err != nil {
		return c, err
	}
	return c, nil
}

func compileFieldRef(v cue.Value) (ir.FieldRef, error) {
	var (
		r   ir.FieldRef
		err error
	)
	if r.Alias, err = requiredString(v, "alias"); err != nil {
		return r, err
	}
	if r.Field, err = requiredString(v, "field"); err != nil {
		return r, err
	}
	return r, nil
}

// toValue converts a concrete CUE value to an ir.Value.
func toValue(v cue.Value) (ir.Value, error) {
	if !v.IsConcrete() {
		return nil, &CompileError{
			Field:   "value",
			Message: "value must be concrete",
			Pos:     v.Pos(),
		}
	}

	switch v.Kind() {
	case cue.NullKind:
		return ir.Null{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		return ir.Bool(b), formatCUEError(err)
	case cue.IntKind:
		n, err := v.Int64()
		return ir.Int(n), formatCUEError(err)
	case cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		return ir.Float(f), formatCUEError(err)
	case cue.StringKind:
		s, err := v.String()
		return ir.String(s), formatCUEError(err)
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		list := ir.List{}
		for iter.Next() {
			item, err := toValue(iter.Value())
			if err != nil {
				return nil, err
			}
			list = append(list, item)
		}
		return list, nil
	default:
		return nil, &CompileError{
			Field:   "value",
			Message: fmt.Sprintf("unsupported value kind: %v", v.Kind()),
			Pos:     v.Pos(),
		}
	}
}

func eachListItem(v cue.Value, path string, fn func(cue.Value) error) error {
	lv := v.LookupPath(cue.ParsePath(path))
	if !lv.Exists() {
		return nil
	}
	iter, err := lv.List()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

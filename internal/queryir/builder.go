package queryir

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/roach88/dsq/internal/doc"
	"github.com/roach88/dsq/internal/dserr"
	"github.com/roach88/dsq/internal/ir"
)

// Builder accumulates the containers, conditions, parameters, projections,
// sorts and aggregations of one data-access plan.
//
// Callers may add pieces in any order; Normalize validates the whole and
// puts the containers in dependency order. Any mutation clears the
// normalized state, so renderers must normalize (or re-normalize) before
// use.
//
// A Builder is not safe for concurrent use. Clone it to share a template.
type Builder struct {
	kind   Kind
	family Family

	containers []Container
	connects   []Condition
	filters    []Condition
	params     []Parameter
	exclusions []FieldRef
	sorts      []SortOrder
	aggs       []Aggregation

	// Grouping state for the next condition added.
	pendingBegin int
	nextOr       bool
	hasLast      bool
	lastConnect  bool
	lastIndex    int
	strayEnds    int

	normalized bool
}

// NewBuilder creates an empty plan of the given kind and backend family.
func NewBuilder(kind Kind, family Family) *Builder {
	return &Builder{kind: kind, family: family}
}

// Kind returns the plan's capability tag.
func (b *Builder) Kind() Kind { return b.kind }

// Family returns the plan's backend family.
func (b *Builder) Family() Family { return b.family }

// IsNormalized reports whether Normalize has succeeded since the last
// mutation.
func (b *Builder) IsNormalized() bool { return b.normalized }

func (b *Builder) touch() { b.normalized = false }

// AddContainer adds an aliased storage object.
//
// Aliases are unique within a plan. At most one container may carry a main
// operation (select, insert, update, delete, exec); it becomes the root.
func (b *Builder) AddContainer(d *doc.Descriptor, alias, name string, kind ContainerKind, op Operation) error {
	const opName = "add container"
	if err := checkAlias(alias); err != nil {
		return dserr.Configuration(opName, "%v", err)
	}
	if name == "" {
		return dserr.Configuration(opName, "container %q has no name", alias)
	}
	if kind < ContainerTable || kind > ContainerCollection {
		return dserr.Configuration(opName, "container %q has invalid kind %d", alias, int(kind))
	}
	if _, ok := operationNames[op]; !ok {
		return dserr.Configuration(opName, "container %q has invalid operation %d", alias, int(op))
	}
	for _, c := range b.containers {
		if c.Alias == alias {
			return dserr.Configuration(opName, "alias %q already used", alias)
		}
		if op.IsMain() && c.Operation.IsMain() {
			return dserr.Configuration(opName, "container %q is %s but %q is already the root (%s)", alias, op, c.Alias, c.Operation)
		}
	}

	b.containers = append(b.containers, Container{
		Descriptor: d,
		Alias:      alias,
		Name:       name,
		Kind:       kind,
		Operation:  op,
	})
	b.touch()

	// Parameters referenced before the container existed can be typed now.
	for _, c := range b.filters {
		b.declareFromCondition(c)
	}
	for _, c := range b.connects {
		b.declareFromCondition(c)
	}
	return nil
}

func checkAlias(alias string) error {
	if alias == "" {
		return fmt.Errorf("empty alias")
	}
	if strings.ContainsAny(alias, ".\"") {
		return fmt.Errorf("alias %q contains '.' or '\"'", alias)
	}
	return nil
}

// From adds the root container of a select plan.
func (b *Builder) From(d *doc.Descriptor, alias, name string, kind ContainerKind) error {
	return b.AddContainer(d, alias, name, kind, OpSelect)
}

// Join adds an inner-joined container. Its join condition comes from On.
func (b *Builder) Join(d *doc.Descriptor, alias, name string, kind ContainerKind) error {
	return b.AddContainer(d, alias, name, kind, OpJoin)
}

// LeftJoin adds a left-joined container. Its join condition comes from On.
func (b *Builder) LeftJoin(d *doc.Descriptor, alias, name string, kind ContainerKind) error {
	return b.AddContainer(d, alias, name, kind, OpLeftJoin)
}

// CrossJoin adds a cross-joined container. Cross joins take no join
// condition and are always placed last.
func (b *Builder) CrossJoin(d *doc.Descriptor, alias, name string, kind ContainerKind) error {
	return b.AddContainer(d, alias, name, kind, OpCrossJoin)
}

// Into adds the root container of an insert plan.
func (b *Builder) Into(d *doc.Descriptor, alias, name string, kind ContainerKind) error {
	return b.AddContainer(d, alias, name, kind, OpInsert)
}

// Update adds the root container of an update, soft-delete or restore plan.
func (b *Builder) Update(d *doc.Descriptor, alias, name string, kind ContainerKind) error {
	return b.AddContainer(d, alias, name, kind, OpUpdate)
}

// DeleteFrom adds the root container of a delete plan.
func (b *Builder) DeleteFrom(d *doc.Descriptor, alias, name string, kind ContainerKind) error {
	return b.AddContainer(d, alias, name, kind, OpDelete)
}

// Begin opens a group before the next condition.
func (b *Builder) Begin() *Builder {
	b.pendingBegin++
	b.touch()
	return b
}

// End closes a group after the last condition added.
func (b *Builder) End() *Builder {
	switch {
	case !b.hasLast:
		b.strayEnds++
	case b.lastConnect:
		b.connects[b.lastIndex].End++
	default:
		b.filters[b.lastIndex].End++
	}
	b.touch()
	return b
}

// GroupFilters wraps the filters from index from onward in one group and
// joins the group to the filters before it with AND. Used to add caller
// conditions to a copy of a template plan without regrouping either side.
func (b *Builder) GroupFilters(from int) *Builder {
	if from < 0 || from >= len(b.filters) {
		return b
	}
	b.filters[from].Or = false
	if len(b.filters)-from >= 2 {
		b.filters[from].Begin++
		b.filters[len(b.filters)-1].End++
	}
	b.nextOr = false
	b.touch()
	return b
}

// NumFilters returns the number of plan filters.
func (b *Builder) NumFilters() int { return len(b.filters) }

// Or joins the next condition to the previous one with OR.
func (b *Builder) Or() *Builder {
	b.nextOr = true
	return b
}

// And joins the next condition to the previous one with AND (the default).
func (b *Builder) And() *Builder {
	b.nextOr = false
	return b
}

// AddCondition adds a comparison of field against a constant (OnConst with
// value), a parameter (OnParam with param) or another field (OnField with
// value holding a FieldRef). Adding Connect files it under field.Alias's
// join condition; otherwise it is a plan filter.
//
// Parameters referenced by OnParam conditions are declared automatically
// from the field's entry when the container's descriptor is known.
func (b *Builder) AddCondition(flags ConditionFlags, field FieldRef, value any, param string, op Operator) error {
	const opName = "add condition"
	if err := checkAlias(field.Alias); err != nil {
		return dserr.Configuration(opName, "%v", err)
	}
	if field.Field == "" {
		return dserr.Configuration(opName, "condition on %q has no field", field.Alias)
	}
	if _, ok := operatorNames[op]; !ok {
		return dserr.Configuration(opName, "condition on %s has invalid operator %d", field, int(op))
	}

	c := Condition{Alias: field.Alias, Field: field.Field, Operator: op}
	switch flags &^ Connect {
	case OnConst:
		if param != "" {
			return dserr.Configuration(opName, "condition on %s has both a constant and parameter %q", field, param)
		}
		v, err := ir.FromGo(value)
		if err != nil {
			return dserr.Configuration(opName, "condition on %s: %v", field, err)
		}
		if err := checkConstOperand(op, v); err != nil {
			return dserr.Configuration(opName, "condition on %s: %v", field, err)
		}
		c.Source, c.Value = SourceConst, v
	case OnParam:
		if value != nil {
			return dserr.Configuration(opName, "condition on %s has both a parameter and a constant", field)
		}
		name := strings.TrimPrefix(param, "@")
		if !validParamName(name) {
			return dserr.Configuration(opName, "condition on %s has invalid parameter name %q", field, param)
		}
		c.Source, c.Param = SourceParam, name
	case OnField:
		if param != "" {
			return dserr.Configuration(opName, "condition on %s has both a field reference and parameter %q", field, param)
		}
		ref, ok := value.(FieldRef)
		if !ok {
			return dserr.Configuration(opName, "condition on %s: field reference must be a FieldRef, got %T", field, value)
		}
		if err := checkAlias(ref.Alias); err != nil || ref.Field == "" {
			return dserr.Configuration(opName, "condition on %s: invalid field reference %q", field, ref)
		}
		if flags&Connect == 0 {
			return dserr.Configuration(opName, "filter on %s references field %s; field references belong in join conditions", field, ref)
		}
		if ref.Alias == field.Alias {
			return dserr.Configuration(opName, "join condition on %s references its own container", field)
		}
		if op == In || op == NotIn {
			return dserr.Configuration(opName, "condition on %s: %s needs a list, not a field", field, op)
		}
		c.Source, c.Ref = SourceField, ref
	default:
		return dserr.Configuration(opName, "condition on %s needs exactly one of OnConst, OnParam, OnField", field)
	}

	c.Begin = b.pendingBegin
	c.Or = b.nextOr
	b.pendingBegin = 0
	b.nextOr = false

	b.hasLast = true
	b.lastConnect = flags&Connect != 0
	if b.lastConnect {
		b.connects = append(b.connects, c)
		b.lastIndex = len(b.connects) - 1
	} else {
		b.filters = append(b.filters, c)
		b.lastIndex = len(b.filters) - 1
	}
	b.touch()
	b.declareFromCondition(c)
	return nil
}

func checkConstOperand(op Operator, v ir.Value) error {
	_, isList := v.(ir.List)
	switch op {
	case In, NotIn:
		if !isList {
			return fmt.Errorf("%s needs a list constant", op)
		}
		if len(v.(ir.List)) == 0 {
			return fmt.Errorf("%s with an empty list", op)
		}
		for _, item := range v.(ir.List) {
			if ir.IsNull(item) {
				return fmt.Errorf("%s list contains null", op)
			}
		}
	case Eq, Ne:
		if isList {
			return fmt.Errorf("%s cannot compare against a list", op)
		}
	case Like, NotLike:
		if _, ok := v.(ir.String); !ok {
			return fmt.Errorf("%s needs a string pattern", op)
		}
	default:
		if isList || ir.IsNull(v) {
			return fmt.Errorf("%s needs a scalar constant", op)
		}
	}
	return nil
}

func validParamName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// declareFromCondition declares the parameter of an OnParam condition from
// its field's entry, if the container and entry are known and the name is
// still free.
func (b *Builder) declareFromCondition(c Condition) {
	if c.Source != SourceParam {
		return
	}
	if _, ok := b.Param(c.Param); ok {
		return
	}
	e := b.entryOf(c.Alias, c.Field)
	if e == nil {
		return
	}
	typ := e.Type
	if c.Operator == In || c.Operator == NotIn {
		typ = reflect.SliceOf(typ)
	}
	b.params = append(b.params, Parameter{Name: c.Param, Type: typ, Nullable: e.Nullable, Dir: DirIn})
}

func (b *Builder) entryOf(alias, field string) *doc.Entry {
	c, ok := b.Container(alias)
	if !ok || c.Descriptor == nil {
		return nil
	}
	e, _ := c.Descriptor.Entry(field)
	return e
}

// Where adds a filter against a constant.
func (b *Builder) Where(alias, field string, op Operator, value any) error {
	return b.AddCondition(OnConst, FieldRef{alias, field}, value, "", op)
}

// WhereParam adds a filter against a named parameter.
func (b *Builder) WhereParam(alias, field string, op Operator, param string) error {
	return b.AddCondition(OnParam, FieldRef{alias, field}, nil, param, op)
}

// On adds a join condition of alias.field against another container's
// field.
func (b *Builder) On(alias, field string, op Operator, refAlias, refField string) error {
	return b.AddCondition(Connect|OnField, FieldRef{alias, field}, FieldRef{refAlias, refField}, "", op)
}

// OnConst adds a join condition of alias.field against a constant.
func (b *Builder) OnConst(alias, field string, op Operator, value any) error {
	return b.AddCondition(Connect|OnConst, FieldRef{alias, field}, value, "", op)
}

// OnParam adds a join condition of alias.field against a parameter.
func (b *Builder) OnParam(alias, field string, op Operator, param string) error {
	return b.AddCondition(Connect|OnParam, FieldRef{alias, field}, nil, param, op)
}

// AddParameter declares a named parameter. Re-declaring a name with an
// identical signature is a no-op; a different signature is an error.
func (b *Builder) AddParameter(name string, typ reflect.Type, nullable bool, dir Direction) error {
	name = strings.TrimPrefix(name, "@")
	if !validParamName(name) {
		return dserr.Configuration("add parameter", "invalid parameter name %q", name)
	}
	p := Parameter{Name: name, Type: typ, Nullable: nullable, Dir: dir}
	for _, existing := range b.params {
		if existing.Name != name {
			continue
		}
		if existing.equal(p) {
			return nil
		}
		return dserr.Configuration("add parameter", "parameter %q redeclared as %v (nullable=%t), was %v (nullable=%t)",
			name, typ, nullable, existing.Type, existing.Nullable)
	}
	b.params = append(b.params, p)
	b.touch()
	return nil
}

// Exclude drops a field from the select list. Excluded fields still appear
// in results, as nulls.
func (b *Builder) Exclude(alias, field string) error {
	if err := checkAlias(alias); err != nil || field == "" {
		return dserr.Configuration("exclude", "invalid field %s.%s", alias, field)
	}
	ref := FieldRef{alias, field}
	if !slices.Contains(b.exclusions, ref) {
		b.exclusions = append(b.exclusions, ref)
		b.touch()
	}
	return nil
}

// Include always fails: every field is projected unless excluded, and
// renderers cannot narrow the select list to named fields.
func (b *Builder) Include(alias, field string) error {
	return dserr.Unsupported("include", "field inclusion is not supported (%s.%s)", alias, field)
}

// IsExcluded reports whether alias.field was excluded.
func (b *Builder) IsExcluded(alias, field string) bool {
	return slices.Contains(b.exclusions, FieldRef{alias, field})
}

// OrderBy appends a sort term.
func (b *Builder) OrderBy(alias, field string, dir SortDirection) error {
	if err := checkAlias(alias); err != nil || field == "" {
		return dserr.Configuration("order by", "invalid field %s.%s", alias, field)
	}
	b.sorts = append(b.sorts, SortOrder{Alias: alias, Field: field, Direction: dir})
	b.touch()
	return nil
}

// Aggregate appends an aggregation reported under name.
func (b *Builder) Aggregate(fn AggregateFunc, alias, field, name string) error {
	if fn < AggCount || fn > AggMax {
		return dserr.Configuration("aggregate", "invalid function %d", int(fn))
	}
	if field == "" && fn != AggCount {
		return dserr.Configuration("aggregate", "%s needs a field", fn)
	}
	if name == "" {
		return dserr.Configuration("aggregate", "aggregation has no result name")
	}
	for _, a := range b.aggs {
		if a.Name == name {
			return dserr.Configuration("aggregate", "result name %q already used", name)
		}
	}
	b.aggs = append(b.aggs, Aggregation{Func: fn, Alias: alias, Field: field, Name: name})
	b.touch()
	return nil
}

// Containers returns the containers; after Normalize the root is first
// and the rest follow in dependency order.
func (b *Builder) Containers() []Container { return slices.Clone(b.containers) }

// Container looks up a container by alias.
func (b *Builder) Container(alias string) (Container, bool) {
	for _, c := range b.containers {
		if c.Alias == alias {
			return c, true
		}
	}
	return Container{}, false
}

// Root returns the container carrying the main operation.
func (b *Builder) Root() (Container, bool) {
	for _, c := range b.containers {
		if c.Operation.IsMain() {
			return c, true
		}
	}
	return Container{}, false
}

// Filters returns the plan filters in declaration order.
func (b *Builder) Filters() []Condition { return slices.Clone(b.filters) }

// Connects returns the join conditions owned by alias in declaration order.
func (b *Builder) Connects(alias string) []Condition {
	var out []Condition
	for _, c := range b.connects {
		if c.Alias == alias {
			out = append(out, c)
		}
	}
	return out
}

// FilterTree parses the filters into a predicate tree, nil when there are
// none.
func (b *Builder) FilterTree() (Predicate, error) { return BuildTree(b.filters) }

// ConnectTree parses alias's join conditions into a predicate tree.
func (b *Builder) ConnectTree(alias string) (Predicate, error) { return BuildTree(b.Connects(alias)) }

// Parameters returns the declared parameters.
func (b *Builder) Parameters() []Parameter { return slices.Clone(b.params) }

// Param looks up a declared parameter.
func (b *Builder) Param(name string) (Parameter, bool) {
	name = strings.TrimPrefix(name, "@")
	for _, p := range b.params {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// Exclusions returns the excluded fields.
func (b *Builder) Exclusions() []FieldRef { return slices.Clone(b.exclusions) }

// SortOrders returns the sort terms in order.
func (b *Builder) SortOrders() []SortOrder { return slices.Clone(b.sorts) }

// Aggregations returns the aggregations in order.
func (b *Builder) Aggregations() []Aggregation { return slices.Clone(b.aggs) }

// Clone returns an independent copy. Mutating either plan never affects
// the other. Descriptors are shared; they are immutable.
func (b *Builder) Clone() *Builder {
	c := &Builder{
		kind:         b.kind,
		family:       b.family,
		containers:   slices.Clone(b.containers),
		connects:     slices.Clone(b.connects),
		filters:      slices.Clone(b.filters),
		params:       slices.Clone(b.params),
		exclusions:   slices.Clone(b.exclusions),
		sorts:        slices.Clone(b.sorts),
		aggs:         slices.Clone(b.aggs),
		pendingBegin: b.pendingBegin,
		nextOr:       b.nextOr,
		hasLast:      b.hasLast,
		lastConnect:  b.lastConnect,
		lastIndex:    b.lastIndex,
		strayEnds:    b.strayEnds,
		normalized:   b.normalized,
	}
	return c
}

// WithKind returns a clone retagged for another capability.
func (b *Builder) WithKind(kind Kind) *Builder {
	c := b.Clone()
	c.kind = kind
	c.touch()
	return c
}

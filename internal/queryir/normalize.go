package queryir

import (
	"slices"
	"strings"

	"github.com/roach88/dsq/internal/dserr"
)

const normalizeOp = "normalize"

// Normalize validates the plan and orders its containers for rendering:
//
//  1. exactly one container carries a main operation; it moves to index 0
//  2. every container kind is valid for the plan's backend family
//  3. every condition, sort, aggregation and exclusion names a known alias
//     and, when the alias has a descriptor, a known field
//  4. the root owns no join conditions; cross joins own none at all and
//     may not be referenced by other join conditions
//  5. every inner and left join owns at least one join condition that
//     references another container
//  6. joins are ordered so that every container comes after the containers
//     its join condition references, keeping declaration order otherwise;
//     cross joins go last. A reference cycle is an error naming the cycle.
//  7. grouping (Begin/End) is balanced for the filters and for each
//     container's join conditions
//  8. kind-specific rules hold (see checkKind)
//
// Normalize either succeeds and marks the plan normalized, or fails and
// leaves the plan unchanged. All failures are configuration errors. It is
// a no-op while the plan is normalized.
func (b *Builder) Normalize() error {
	if b.normalized {
		return nil
	}
	if b.strayEnds > 0 {
		return dserr.Configuration(normalizeOp, "End called before any condition was added")
	}
	if b.pendingBegin > 0 {
		return dserr.Configuration(normalizeOp, "Begin called with no condition after it")
	}

	rootIdx := -1
	for i, c := range b.containers {
		if !c.Operation.IsMain() {
			continue
		}
		if rootIdx >= 0 {
			return dserr.Configuration(normalizeOp, "containers %q and %q both carry a main operation", b.containers[rootIdx].Alias, c.Alias)
		}
		rootIdx = i
	}
	if rootIdx < 0 {
		return dserr.Configuration(normalizeOp, "plan has no root container (select, insert, update, delete or exec)")
	}
	root := b.containers[rootIdx]

	for _, c := range b.containers {
		if !b.acceptsKind(c.Kind) {
			return dserr.Configuration(normalizeOp, "container %q is a %s; %s plans do not accept it", c.Alias, c.Kind, b.family)
		}
	}

	if err := b.checkReferences(root); err != nil {
		return err
	}

	others := make([]Container, 0, len(b.containers)-1)
	for i, c := range b.containers {
		if i != rootIdx {
			others = append(others, c)
		}
	}
	for _, c := range others {
		if c.Operation != OpJoin && c.Operation != OpLeftJoin {
			continue
		}
		hasRef := false
		for _, cond := range b.Connects(c.Alias) {
			if cond.Source == SourceField {
				hasRef = true
				break
			}
		}
		if !hasRef {
			return dserr.Configuration(normalizeOp, "%s %q has no join condition referencing another container", c.Operation, c.Alias)
		}
	}

	ordered, err := b.orderContainers(root, others)
	if err != nil {
		return err
	}

	if _, err := BuildTree(b.filters); err != nil {
		return err
	}
	for _, c := range others {
		if _, err := BuildTree(b.Connects(c.Alias)); err != nil {
			return err
		}
	}

	if err := b.checkKind(root, len(others)); err != nil {
		return err
	}

	b.containers = ordered
	b.normalized = true
	return nil
}

func (b *Builder) acceptsKind(k ContainerKind) bool {
	if b.family == FamilyDocument {
		return k == ContainerCollection
	}
	return k == ContainerTable || k == ContainerView
}

func (b *Builder) checkField(alias, field, what string) error {
	c, ok := b.Container(alias)
	if !ok {
		return dserr.Configuration(normalizeOp, "%s references unknown alias %q", what, alias)
	}
	if c.Descriptor == nil {
		return nil
	}
	if _, ok := c.Descriptor.Entry(field); !ok {
		return dserr.Configuration(normalizeOp, "%s references unknown field %q of %s (%q)", what, field, c.Descriptor.Name, alias)
	}
	return nil
}

func (b *Builder) checkReferences(root Container) error {
	for _, f := range b.filters {
		if err := b.checkField(f.Alias, f.Field, "filter"); err != nil {
			return err
		}
	}

	for _, cond := range b.connects {
		if err := b.checkField(cond.Alias, cond.Field, "join condition"); err != nil {
			return err
		}
		if cond.Alias == root.Alias {
			return dserr.Configuration(normalizeOp, "root container %q cannot own a join condition", root.Alias)
		}
		owner, _ := b.Container(cond.Alias)
		if owner.Operation == OpCrossJoin {
			return dserr.Configuration(normalizeOp, "cross join %q cannot own a join condition", owner.Alias)
		}
		if cond.Source != SourceField {
			continue
		}
		if err := b.checkField(cond.Ref.Alias, cond.Ref.Field, "join condition on "+cond.Alias); err != nil {
			return err
		}
		if ref, _ := b.Container(cond.Ref.Alias); ref.Operation == OpCrossJoin {
			return dserr.Configuration(normalizeOp, "join condition on %q references cross join %q", cond.Alias, ref.Alias)
		}
	}

	for _, s := range b.sorts {
		if err := b.checkField(s.Alias, s.Field, "sort"); err != nil {
			return err
		}
	}
	for _, a := range b.aggs {
		if a.Field == "" {
			continue
		}
		if err := b.checkField(a.Alias, a.Field, "aggregation "+a.Name); err != nil {
			return err
		}
	}
	for _, x := range b.exclusions {
		if err := b.checkField(x.Alias, x.Field, "exclusion"); err != nil {
			return err
		}
	}
	return nil
}

// orderContainers returns root followed by the joins in dependency order
// and then the cross joins, each group otherwise in declaration order.
func (b *Builder) orderContainers(root Container, others []Container) ([]Container, error) {
	byAlias := make(map[string]Container, len(others))
	deps := make(map[string][]string, len(others))
	var joins, crosses []Container
	for _, c := range others {
		byAlias[c.Alias] = c
		if c.Operation == OpCrossJoin {
			crosses = append(crosses, c)
		} else {
			joins = append(joins, c)
		}
	}
	for _, cond := range b.connects {
		if cond.Source != SourceField || cond.Ref.Alias == root.Alias {
			continue
		}
		ds := deps[cond.Alias]
		if !slices.Contains(ds, cond.Ref.Alias) {
			deps[cond.Alias] = append(ds, cond.Ref.Alias)
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(joins))
	var stack []string
	out := make([]Container, 0, len(others)+1)
	out = append(out, root)

	var visit func(alias string) error
	visit = func(alias string) error {
		switch state[alias] {
		case done:
			return nil
		case visiting:
			start := 0
			for i, a := range stack {
				if a == alias {
					start = i
					break
				}
			}
			cycle := append(append([]string{}, stack[start:]...), alias)
			return dserr.Configuration(normalizeOp, "join conditions form a cycle: %s", strings.Join(cycle, " -> "))
		}
		state[alias] = visiting
		stack = append(stack, alias)
		for _, dep := range deps[alias] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[alias] = done
		out = append(out, byAlias[alias])
		return nil
	}

	for _, c := range joins {
		if err := visit(c.Alias); err != nil {
			return nil, err
		}
	}
	return append(out, crosses...), nil
}

// checkKind applies the rules of the plan's capability:
//
//   - select: root is select or exec
//   - insert: root is insert, alone, with no filters
//   - update: root is update
//   - delete: root is delete with at least one filter
//   - soft-delete and restore: root is update on a document with a
//     deletion marker
//
// Aggregations are only valid on select plans.
func (b *Builder) checkKind(root Container, joined int) error {
	if len(b.aggs) > 0 && b.kind != KindSelect {
		return dserr.Configuration(normalizeOp, "%s plans cannot aggregate", b.kind)
	}

	want := OpUpdate
	switch b.kind {
	case KindSelect:
		if root.Operation != OpSelect && root.Operation != OpExec {
			return dserr.Configuration(normalizeOp, "select plan has %s root %q", root.Operation, root.Alias)
		}
		return nil
	case KindInsert:
		want = OpInsert
	case KindDelete:
		want = OpDelete
	}
	if root.Operation != want {
		return dserr.Configuration(normalizeOp, "%s plan needs root operation %s, %q is %s", b.kind, want, root.Alias, root.Operation)
	}

	switch b.kind {
	case KindInsert:
		if joined > 0 {
			return dserr.Configuration(normalizeOp, "insert plan cannot join other containers")
		}
		if len(b.filters) > 0 {
			return dserr.Configuration(normalizeOp, "insert plan cannot have filters")
		}
	case KindDelete:
		if len(b.filters) == 0 {
			return dserr.Configuration(normalizeOp, "delete plan needs at least one filter")
		}
	case KindSoftDelete, KindRestore:
		if root.Descriptor == nil || root.Descriptor.DateDeleted() == nil {
			return dserr.Configuration(normalizeOp, "%s plan needs a document with a deletion marker", b.kind)
		}
	}
	return nil
}

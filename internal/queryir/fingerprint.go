package queryir

import (
	"fmt"

	"github.com/roach88/dsq/internal/ir"
)

// Fingerprint returns a stable hash of the plan's structure. Two plans with
// equal fingerprints render to the same statement, so renderers key their
// caches by it. The plan must be normalized.
func (b *Builder) Fingerprint() (string, error) {
	if !b.normalized {
		return "", fmt.Errorf("fingerprint: plan is not normalized")
	}
	return ir.Fingerprint(ir.DomainPlan, b.canonical())
}

func (b *Builder) canonical() ir.Object {
	containers := make(ir.List, len(b.containers))
	for i, c := range b.containers {
		docName := ""
		var columns ir.List
		if c.Descriptor != nil {
			docName = c.Descriptor.Name
			for _, e := range c.Descriptor.Entries() {
				columns = append(columns, ir.Object{
					"name":     ir.String(e.Name),
					"column":   ir.String(e.DBSideName),
					"nullable": ir.Bool(e.Nullable),
				})
			}
		}
		containers[i] = ir.Object{
			"alias":    ir.String(c.Alias),
			"name":     ir.String(c.Name),
			"kind":     ir.String(c.Kind.String()),
			"op":       ir.String(c.Operation.String()),
			"document": ir.String(docName),
			"columns":  columns,
		}
	}

	params := make(ir.List, len(b.params))
	for i, p := range b.params {
		typ := "any"
		if p.Type != nil {
			typ = p.Type.String()
		}
		params[i] = ir.Object{
			"name":     ir.String(p.Name),
			"type":     ir.String(typ),
			"nullable": ir.Bool(p.Nullable),
			"dir":      ir.Int(int64(p.Dir)),
		}
	}

	exclusions := make(ir.List, len(b.exclusions))
	for i, x := range b.exclusions {
		exclusions[i] = ir.String(x.String())
	}

	sorts := make(ir.List, len(b.sorts))
	for i, s := range b.sorts {
		sorts[i] = ir.Object{
			"field": ir.String(FieldRef{s.Alias, s.Field}.String()),
			"dir":   ir.String(s.Direction.String()),
		}
	}

	aggs := make(ir.List, len(b.aggs))
	for i, a := range b.aggs {
		aggs[i] = ir.Object{
			"fn":    ir.String(a.Func.String()),
			"field": ir.String(FieldRef{a.Alias, a.Field}.String()),
			"name":  ir.String(a.Name),
		}
	}

	return ir.Object{
		"kind":       ir.String(b.kind.String()),
		"family":     ir.String(b.family.String()),
		"containers": containers,
		"connects":   canonicalConditions(b.connects),
		"filters":    canonicalConditions(b.filters),
		"params":     params,
		"exclusions": exclusions,
		"sorts":      sorts,
		"aggs":       aggs,
	}
}

func canonicalConditions(conds []Condition) ir.List {
	out := make(ir.List, len(conds))
	for i, c := range conds {
		o := ir.Object{
			"field": ir.String(FieldRef{c.Alias, c.Field}.String()),
			"op":    ir.String(c.Operator.String()),
			"begin": ir.Int(int64(c.Begin)),
			"end":   ir.Int(int64(c.End)),
			"or":    ir.Bool(c.Or),
		}
		switch c.Source {
		case SourceConst:
			o["const"] = c.Value
		case SourceParam:
			o["param"] = ir.String(c.Param)
		case SourceField:
			o["ref"] = ir.String(c.Ref.String())
		}
		out[i] = o
	}
	return out
}

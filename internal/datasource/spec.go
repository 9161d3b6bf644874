package datasource

import (
	"github.com/roach88/dsq/internal/doc"
	"github.com/roach88/dsq/internal/dserr"
	"github.com/roach88/dsq/internal/idgen"
	"github.com/roach88/dsq/internal/ir"
	"github.com/roach88/dsq/internal/queryir"
)

// FromSpec creates a Record data source from a compiled definition. The
// document is looked up in docs. opts are applied after the definition's
// own settings and override them.
func FromSpec(backend Backend, spec ir.DataSourceSpec, docs queryir.Resolver, opts ...Option) (*DataSource[doc.Record], error) {
	const op = "data source from definition"
	if backend == nil {
		return nil, dserr.Configuration(op, "no backend")
	}
	d, ok := docs.Lookup(spec.Document)
	if !ok {
		return nil, dserr.Configuration(op, "data source %s: unknown document %q", spec.Name, spec.Document)
	}

	base := []Option{WithDescriptor(d), WithName(spec.Name), WithSoftDelete(spec.SoftDelete)}
	if len(spec.Options) > 0 {
		o, err := ParseOptions(spec.Options)
		if err != nil {
			return nil, err
		}
		base = append(base, WithOptions(o))
	}

	if g := spec.IDGen; g != nil {
		switch g.Kind {
		case "sequential":
			step := g.Step
			if step == 0 {
				step = 1
			}
			base = append(base, WithSequential(idgen.Config{StartAt: g.StartAt, Step: step, MaxAttempts: g.MaxAttempts}))
		case "uuid":
			base = append(base, WithIDGenerator(idgen.UUIDv7{Attempts: g.MaxAttempts}))
		case "none":
			base = append(base, WithIDGenerator(nil))
		default:
			return nil, dserr.Configuration(op, "data source %s: unknown id generator %q", spec.Name, g.Kind)
		}
	}

	if spec.Select != nil {
		plan, err := queryir.FromSpec(*spec.Select, queryir.KindSelect, backend.Family(), docs)
		if err != nil {
			return nil, err
		}
		base = append(base, WithSelectPlan(plan))
	}

	return New[doc.Record](backend, append(base, opts...)...)
}

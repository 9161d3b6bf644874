package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/roach88/dsq/internal/cursor"
	"github.com/roach88/dsq/internal/dserr"
	"github.com/roach88/dsq/internal/ir"
	"github.com/roach88/dsq/internal/querydoc"
	"github.com/roach88/dsq/internal/queryir"
)

// Backend executes document-family plans against a Store.
type Backend struct {
	store    *Store
	renderer *querydoc.Renderer
	logger   *slog.Logger
}

// NewBackend creates a backend over store. A nil logger uses
// slog.Default().
func NewBackend(store *Store, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{store: store, renderer: querydoc.NewRenderer(), logger: logger}
}

// Family reports the plan family the backend accepts.
func (b *Backend) Family() queryir.Family { return queryir.FamilyDocument }

// Renderer exposes the backend's renderer.
func (b *Backend) Renderer() *querydoc.Renderer { return b.renderer }

func (b *Backend) bind(ctx context.Context, op string, req querydoc.Request, args map[string]any) (map[string]any, error) {
	bound, err := req.Bind(args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	text := req.Text()
	queryir.TraceStatement(ctx, text)
	b.logger.DebugContext(ctx, "executing request", "op", op, "statement", text, "params", len(bound))
	return bound, nil
}

// matching returns the stored documents of the request's collection that
// pass its filter, in id order.
func (b *Backend) matching(ctx context.Context, req querydoc.Request, args map[string]any) ([]map[string]any, error) {
	var docs []map[string]any
	err := b.store.Scan(ctx, req.Collection, func(_ any, d map[string]any) error {
		ok, err := req.Filter.Match(d, args)
		if ok {
			docs = append(docs, d)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Op, req.Collection, err)
	}
	return docs, nil
}

// Select runs a select plan for one page. Rows are keyed by entry name.
func (b *Backend) Select(ctx context.Context, plan *queryir.Builder, args map[string]any, page queryir.Page) (cursor.Source[map[string]any], error) {
	req, err := b.renderer.RenderFind(plan, page)
	if err != nil {
		return nil, err
	}
	bound, err := b.bind(ctx, "select", req, args)
	if err != nil {
		return nil, err
	}
	docs, err := b.matching(ctx, req, bound)
	if err != nil {
		return nil, err
	}
	if err := sortDocuments(docs, req.Sort); err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}

	docs = docs[min(req.Skip, len(docs)):]
	if req.Limit != nil && *req.Limit < len(docs) {
		docs = docs[:*req.Limit]
	}
	rows := make([]map[string]any, len(docs))
	for i, d := range docs {
		rows[i] = project(d, req.Fields)
	}
	return cursor.FromSlice(rows), nil
}

func sortDocuments(docs []map[string]any, keys []querydoc.SortKey) error {
	if len(keys) == 0 {
		return nil
	}
	var sortErr error
	slices.SortStableFunc(docs, func(a, b map[string]any) int {
		for _, k := range keys {
			c, err := querydoc.Compare(a[k.Key], b[k.Key])
			if err != nil {
				sortErr = err
				return 0
			}
			if k.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
	return sortErr
}

// project maps a stored document to a row keyed by entry name.
func project(d map[string]any, fields []querydoc.Field) map[string]any {
	if len(fields) == 0 {
		return maps.Clone(d)
	}
	row := make(map[string]any, len(fields))
	for _, f := range fields {
		if f.Excluded {
			row[f.Name] = nil
			continue
		}
		row[f.Name] = d[f.Key]
	}
	return row
}

// Count returns the number of documents a select plan matches.
func (b *Backend) Count(ctx context.Context, plan *queryir.Builder, args map[string]any) (int64, error) {
	req, err := b.renderer.RenderCount(plan)
	if err != nil {
		return 0, err
	}
	bound, err := b.bind(ctx, "count", req, args)
	if err != nil {
		return 0, err
	}
	docs, err := b.matching(ctx, req, bound)
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

// Aggregate returns the plan's aggregations keyed by result name. Like
// SQL, sum, avg, min and max over no values are nil and count skips nulls.
func (b *Backend) Aggregate(ctx context.Context, plan *queryir.Builder, args map[string]any) (map[string]any, error) {
	req, err := b.renderer.RenderAggregate(plan)
	if err != nil {
		return nil, err
	}
	bound, err := b.bind(ctx, "aggregate", req, args)
	if err != nil {
		return nil, err
	}
	docs, err := b.matching(ctx, req, bound)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(req.Aggregations))
	for _, a := range req.Aggregations {
		v, err := aggregate(a, docs)
		if err != nil {
			return nil, fmt.Errorf("aggregate %s: %w", a.Name, err)
		}
		out[a.Name] = v
	}
	return out, nil
}

func aggregate(a querydoc.Aggregation, docs []map[string]any) (any, error) {
	if a.Key == "" {
		return int64(len(docs)), nil
	}
	var values []any
	for _, d := range docs {
		if v := d[a.Key]; v != nil {
			values = append(values, v)
		}
	}
	if a.Func == "count" {
		return int64(len(values)), nil
	}
	if len(values) == 0 {
		return nil, nil
	}

	switch a.Func {
	case "min", "max":
		best := values[0]
		for _, v := range values[1:] {
			c, err := querydoc.Compare(v, best)
			if err != nil {
				return nil, err
			}
			if (a.Func == "min" && c < 0) || (a.Func == "max" && c > 0) {
				best = v
			}
		}
		return best, nil
	case "sum", "avg":
		var (
			isum   int64
			fsum   float64
			floats bool
		)
		for _, v := range values {
			switch n := v.(type) {
			case int64:
				isum += n
				fsum += float64(n)
			case float64:
				fsum += n
				floats = true
			default:
				return nil, dserr.New(dserr.CodeInvalidArgument, "aggregate", "%s over non-numeric value %v", a.Func, v)
			}
		}
		if a.Func == "avg" {
			return fsum / float64(len(values)), nil
		}
		if floats {
			return fsum, nil
		}
		return isum, nil
	}
	return nil, dserr.Unsupported("aggregate", "function %q", a.Func)
}

// ExtremeID returns the largest (max) or smallest integer id of the plan's
// root collection, or nil when it is empty.
func (b *Backend) ExtremeID(ctx context.Context, plan *queryir.Builder, max bool) (any, error) {
	req, err := b.renderer.RenderExtremeID(plan, max)
	if err != nil {
		return nil, err
	}
	if _, err := b.bind(ctx, "extreme id", req, nil); err != nil {
		return nil, err
	}
	id, err := b.store.ExtremeID(req.Collection, max)
	if err != nil {
		return nil, fmt.Errorf("extreme id: %w", err)
	}
	return id, nil
}

// Insert stores values (keyed by entry name) through an insert plan. The
// document must carry its id; an existing id is a CONFLICT error.
func (b *Backend) Insert(ctx context.Context, plan *queryir.Builder, values map[string]any) error {
	root, ok := plan.Root()
	if !ok || root.Descriptor == nil {
		return dserr.Configuration("insert", "plan root has no document descriptor")
	}
	req, err := b.renderer.RenderInsert(plan, presentFields(root, values))
	if err != nil {
		return err
	}
	bound, err := b.bind(ctx, "insert", req, values)
	if err != nil {
		return err
	}
	stored, err := storedValues(req.Fields, bound)
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	id := stored[req.IDKey]
	if req.IDKey == "" || id == nil {
		return dserr.New(dserr.CodeInvalidArgument, "insert", "%s documents need an id", req.Collection)
	}
	if err := b.store.Insert(req.Collection, id, stored); err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

// Update runs an update, soft-delete or restore plan. values holds the set
// fields by entry name; args the plan's own parameters.
func (b *Backend) Update(ctx context.Context, plan *queryir.Builder, values, args map[string]any) (int64, error) {
	var (
		req querydoc.Request
		err error
	)
	switch plan.Kind() {
	case queryir.KindSoftDelete:
		req, err = b.renderer.RenderSoftDelete(plan)
	case queryir.KindRestore:
		req, err = b.renderer.RenderRestore(plan)
	default:
		root, ok := plan.Root()
		if !ok || root.Descriptor == nil {
			return 0, dserr.Configuration("update", "plan root has no document descriptor")
		}
		req, err = b.renderer.RenderUpdate(plan, presentFields(root, values))
	}
	if err != nil {
		return 0, err
	}

	merged := make(map[string]any, len(values)+len(args))
	maps.Copy(merged, args)
	maps.Copy(merged, values)
	op := plan.Kind().String()
	bound, err := b.bind(ctx, op, req, merged)
	if err != nil {
		return 0, err
	}
	set, err := storedValues(req.Fields, bound)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	n, err := b.store.Mutate(ctx, req.Collection, func(_ any, d map[string]any) (map[string]any, bool, error) {
		ok, err := req.Filter.Match(d, bound)
		if err != nil || !ok {
			return nil, false, err
		}
		maps.Copy(d, set)
		return d, true, nil
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// Delete runs a delete plan and returns the number of documents removed.
func (b *Backend) Delete(ctx context.Context, plan *queryir.Builder, args map[string]any) (int64, error) {
	req, err := b.renderer.RenderDelete(plan)
	if err != nil {
		return 0, err
	}
	bound, err := b.bind(ctx, "delete", req, args)
	if err != nil {
		return 0, err
	}
	n, err := b.store.Mutate(ctx, req.Collection, func(_ any, d map[string]any) (map[string]any, bool, error) {
		ok, err := req.Filter.Match(d, bound)
		return nil, ok, err
	})
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}
	return n, nil
}

// storedValues maps bound entry values to stored keys, normalizing them to
// the plain values JSON encodes (times in UTC, pointers dereferenced).
func storedValues(fields []querydoc.Field, bound map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		v, err := ir.FromGo(bound[f.Name])
		if err != nil {
			return nil, dserr.Wrap(dserr.CodeInvalidArgument, f.Name, err)
		}
		out[f.Key] = ir.ToGo(v)
	}
	return out, nil
}

func presentFields(root queryir.Container, values map[string]any) []string {
	var fields []string
	for _, e := range root.Descriptor.Entries() {
		if _, ok := values[e.Name]; ok {
			fields = append(fields, e.Name)
		}
	}
	return fields
}

package querysql

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/roach88/dsq/internal/cursor"
	"github.com/roach88/dsq/internal/dserr"
	"github.com/roach88/dsq/internal/queryir"
)

// Row is one result row keyed by result column name.
type Row = map[string]any

// Executor runs rendered statements. The store (SQLite) and pgstore
// (PostgreSQL) packages implement it.
//
// Implementations map unique-constraint violations to dserr.CodeConflict so
// inserts can retry id generation.
type Executor interface {
	Query(ctx context.Context, text string, args []Arg) (cursor.Source[Row], error)
	Exec(ctx context.Context, text string, args []Arg) (int64, error)
}

// Backend executes SQL-family plans through an Executor.
type Backend struct {
	exec     Executor
	renderer *Renderer
	logger   *slog.Logger
}

// NewBackend creates a backend rendering for dialect. A nil logger uses
// slog.Default().
func NewBackend(exec Executor, dialect Dialect, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{exec: exec, renderer: NewRenderer(dialect), logger: logger}
}

// Family reports the plan family the backend accepts.
func (b *Backend) Family() queryir.Family { return queryir.FamilySQL }

// Renderer exposes the backend's renderer.
func (b *Backend) Renderer() *Renderer { return b.renderer }

func (b *Backend) bind(ctx context.Context, op string, st Statement, args map[string]any) ([]Arg, error) {
	bound, err := st.Bind(args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	queryir.TraceStatement(ctx, st.Text)
	b.logger.DebugContext(ctx, "executing statement", "op", op, "statement", st.Text, "params", len(bound))
	return bound, nil
}

// Select runs a select plan for one page and streams its rows.
func (b *Backend) Select(ctx context.Context, plan *queryir.Builder, args map[string]any, page queryir.Page) (cursor.Source[Row], error) {
	st, err := b.renderer.RenderSelect(plan, page)
	if err != nil {
		return nil, err
	}
	bound, err := b.bind(ctx, "select", st, args)
	if err != nil {
		return nil, err
	}
	src, err := b.exec.Query(ctx, st.Text, bound)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	return src, nil
}

// Count returns the number of rows a select plan matches.
func (b *Backend) Count(ctx context.Context, plan *queryir.Builder, args map[string]any) (int64, error) {
	st, err := b.renderer.RenderCount(plan)
	if err != nil {
		return 0, err
	}
	row, err := b.single(ctx, "count", st, args)
	if err != nil {
		return 0, err
	}
	n, ok := row[CountColumn].(int64)
	if !ok {
		return 0, fmt.Errorf("count: unexpected %T result", row[CountColumn])
	}
	return n, nil
}

// Aggregate returns the plan's aggregations keyed by result name.
func (b *Backend) Aggregate(ctx context.Context, plan *queryir.Builder, args map[string]any) (map[string]any, error) {
	st, err := b.renderer.RenderAggregate(plan)
	if err != nil {
		return nil, err
	}
	return b.single(ctx, "aggregate", st, args)
}

// ExtremeID returns the largest (max) or smallest id of the plan's root
// container, or nil when it holds no rows.
func (b *Backend) ExtremeID(ctx context.Context, plan *queryir.Builder, max bool) (any, error) {
	st, err := b.renderer.RenderExtremeID(plan, max)
	if err != nil {
		return nil, err
	}
	row, err := b.single(ctx, "extreme id", st, nil)
	if err != nil {
		return nil, err
	}
	return row[ExtremeColumn], nil
}

// single runs a statement returning exactly one row.
func (b *Backend) single(ctx context.Context, op string, st Statement, args map[string]any) (Row, error) {
	bound, err := b.bind(ctx, op, st, args)
	if err != nil {
		return nil, err
	}
	src, err := b.exec.Query(ctx, st.Text, bound)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer src.Close()

	row, ok, err := src.Next(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: statement returned no row", op)
	}
	return row, nil
}

// Insert stores values (keyed by entry name) through an insert plan. Only
// the entries present in values are written, in descriptor order.
func (b *Backend) Insert(ctx context.Context, plan *queryir.Builder, values map[string]any) error {
	root, ok := plan.Root()
	if !ok || root.Descriptor == nil {
		return dserr.Configuration("insert", "plan root has no document descriptor")
	}
	fields := presentFields(root, values)
	st, err := b.renderer.RenderInsert(plan, fields)
	if err != nil {
		return err
	}
	bound, err := b.bind(ctx, "insert", st, values)
	if err != nil {
		return err
	}
	if _, err := b.exec.Exec(ctx, st.Text, bound); err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

// Update runs an update, soft-delete or restore plan. values holds the set
// fields by entry name; args the plan's own parameters. It returns the
// number of rows affected.
func (b *Backend) Update(ctx context.Context, plan *queryir.Builder, values, args map[string]any) (int64, error) {
	var (
		st  Statement
		err error
	)
	switch plan.Kind() {
	case queryir.KindSoftDelete:
		st, err = b.renderer.RenderSoftDelete(plan)
	case queryir.KindRestore:
		st, err = b.renderer.RenderRestore(plan)
	default:
		root, ok := plan.Root()
		if !ok || root.Descriptor == nil {
			return 0, dserr.Configuration("update", "plan root has no document descriptor")
		}
		st, err = b.renderer.RenderUpdate(plan, presentFields(root, values))
	}
	if err != nil {
		return 0, err
	}

	merged := make(map[string]any, len(values)+len(args))
	maps.Copy(merged, args)
	maps.Copy(merged, values)
	bound, err := b.bind(ctx, plan.Kind().String(), st, merged)
	if err != nil {
		return 0, err
	}
	n, err := b.exec.Exec(ctx, st.Text, bound)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", plan.Kind(), err)
	}
	return n, nil
}

// Delete runs a delete plan and returns the number of rows removed.
func (b *Backend) Delete(ctx context.Context, plan *queryir.Builder, args map[string]any) (int64, error) {
	st, err := b.renderer.RenderDelete(plan)
	if err != nil {
		return 0, err
	}
	bound, err := b.bind(ctx, "delete", st, args)
	if err != nil {
		return 0, err
	}
	n, err := b.exec.Exec(ctx, st.Text, bound)
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}
	return n, nil
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

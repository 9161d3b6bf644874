package datasource

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/dsq/internal/cursor"
	"github.com/roach88/dsq/internal/doc"
	"github.com/roach88/dsq/internal/dserr"
	"github.com/roach88/dsq/internal/idgen"
	"github.com/roach88/dsq/internal/ir"
	"github.com/roach88/dsq/internal/queryir"
)

// Query selects documents. The zero Query selects every live document.
type Query struct {
	// Where adds conditions to a copy of the select plan.
	Where func(b *queryir.Builder) error
	// Filters are declared conditions added after Where. An empty alias
	// names the plan's root container.
	Filters []ir.ConditionSpec
	// OrderBy sorts after the plan's own sort terms. An empty alias names
	// the root container.
	OrderBy []queryir.SortOrder
	// Args supplies the plan's parameters by name.
	Args map[string]any

	Skip int
	// Take bounds the number of documents; zero or less means unbounded.
	Take int
	// LastPage makes the returned cursor report whether the page ends the
	// result set.
	LastPage bool

	Mode SoftDeleteMode
}

func (q Query) page() queryir.Page {
	take := q.Take
	if take <= 0 {
		take = -1
	}
	return queryir.Page{Skip: q.Skip, Take: take, LastPage: q.LastPage && take >= 0}
}

// UpdateOptions refines Update.
type UpdateOptions struct {
	// Fields lists the entries to write. Empty means every writable entry.
	Fields []string
	// Valid, when not empty, limits Fields to these entries.
	Valid []string
	// FetchResult asks for the stored document after the update. No
	// backend supports it.
	FetchResult bool
}

// begin checks that the operation is allowed and installs the query text
// hook.
func (ds *DataSource[T]) begin(ctx context.Context, op string, need Options) (context.Context, error) {
	if !ds.options.Has(need) {
		return ctx, dserr.Unsupported(op, "data source %s does not allow %s", ds.name, op)
	}
	return queryir.WithStatementHook(ctx, ds.queryText), nil
}

// Insert stores d, filling in its id and creation dates, and returns it.
//
// When the id is zero and a generator is configured, ids are generated and
// the insert is retried on conflicts up to the generator's attempt limit.
func (ds *DataSource[T]) Insert(ctx context.Context, d *T) (*T, error) {
	const op = "insert"
	ctx, err := ds.begin(ctx, op, CanInsert)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, dserr.New(dserr.CodeInvalidArgument, op, "nil document")
	}

	now := ds.clock.Now()
	for _, e := range []*doc.Entry{ds.desc.DateCreated(), ds.desc.DateModified()} {
		if err := fillZero(e, d, now); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	values, err := ds.insertValues(d)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	id := ds.desc.ID()
	var current any
	if id != nil {
		if current, err = id.Get(d); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	if id == nil || ds.gen == nil || !doc.IsZero(current) {
		if err := ds.backend.Insert(ctx, ds.insert, values); err != nil {
			return nil, err
		}
		ds.logger.DebugContext(ctx, "inserted document", "op", op, "id", current)
		return d, nil
	}

	generated, err := idgen.Retry(ctx, ds.gen, nil, func(candidate any) error {
		v, err := id.Convert(candidate)
		if err != nil {
			return err
		}
		values[id.Name] = v
		return ds.backend.Insert(ctx, ds.insert, values)
	})
	if err != nil {
		return nil, err
	}
	if err := id.Set(d, generated); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ds.logger.DebugContext(ctx, "inserted document", "op", op, "id", generated)
	return d, nil
}

func fillZero(e *doc.Entry, d any, now time.Time) error {
	if e == nil {
		return nil
	}
	v, err := e.Get(d)
	if err != nil {
		return err
	}
	if !doc.IsZero(v) {
		return nil
	}
	return e.Set(d, now)
}

// insertValues collects every entry of d except zero read-only entries,
// which are left to the store.
func (ds *DataSource[T]) insertValues(d *T) (map[string]any, error) {
	values := make(map[string]any, len(ds.desc.Entries()))
	for _, e := range ds.desc.Entries() {
		v, err := e.Get(d)
		if err != nil {
			return nil, err
		}
		if e.Flags.Has(doc.FlagReadOnly) && doc.IsZero(v) {
			continue
		}
		values[e.Name] = v
	}
	return values, nil
}

// Get returns the document with the given id, deleted or not.
func (ds *DataSource[T]) Get(ctx context.Context, id any) (*T, error) {
	const op = "get"
	ctx, err := ds.begin(ctx, op, CanSelect)
	if err != nil {
		return nil, err
	}
	if ds.selectByID == nil {
		return nil, dserr.Unsupported(op, "document %s has no id field", ds.desc.Name)
	}
	src, err := ds.backend.Select(ctx, ds.selectByID, map[string]any{queryir.IDParam: id}, queryir.Page{Take: 1})
	if err != nil {
		return nil, err
	}
	docs, err := cursor.Collect(cursor.New(ctx, cursor.Map(src, ds.decode)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(docs) == 0 {
		return nil, dserr.NotFound(op, "%s %v", ds.desc.Name, id)
	}
	return docs[0], nil
}

// Select streams the documents q matches. The caller must close the
// cursor, or drain it to the end.
func (ds *DataSource[T]) Select(ctx context.Context, q Query) (*cursor.Cursor[*T], error) {
	const op = "select"
	ctx, err := ds.begin(ctx, op, CanSelect)
	if err != nil {
		return nil, err
	}
	plan, err := ds.queryPlan(op, q)
	if err != nil {
		return nil, err
	}
	page := q.page()
	src, err := ds.backend.Select(ctx, plan, q.Args, page)
	if err != nil {
		return nil, err
	}
	docs := cursor.Map(src, ds.decode)
	if page.LastPage {
		return cursor.WithLastPage(ctx, docs, page.Take), nil
	}
	return cursor.New(ctx, docs), nil
}

// Count returns the number of documents q matches. Paging fields are
// ignored.
func (ds *DataSource[T]) Count(ctx context.Context, q Query) (int64, error) {
	const op = "count"
	ctx, err := ds.begin(ctx, op, CanSelect)
	if err != nil {
		return 0, err
	}
	plan, err := ds.queryPlan(op, q)
	if err != nil {
		return 0, err
	}
	return ds.backend.Count(ctx, plan, q.Args)
}

// Aggregate computes aggs over the documents q matches and returns the
// results keyed by aggregation name. An empty alias names the root
// container.
func (ds *DataSource[T]) Aggregate(ctx context.Context, aggs []queryir.Aggregation, q Query) (map[string]any, error) {
	const op = "aggregate"
	ctx, err := ds.begin(ctx, op, CanSelect)
	if err != nil {
		return nil, err
	}
	if len(aggs) == 0 {
		return nil, dserr.Configuration(op, "no aggregations")
	}
	plan, err := ds.queryPlan(op, q)
	if err != nil {
		return nil, err
	}
	if plan == ds.selectAll {
		plan = plan.Clone()
	}
	root, _ := plan.Root()
	for _, a := range aggs {
		if a.Alias == "" {
			a.Alias = root.Alias
		}
		if err := plan.Aggregate(a.Func, a.Alias, a.Field, a.Name); err != nil {
			return nil, err
		}
	}
	return ds.backend.Aggregate(ctx, plan, q.Args)
}

// queryPlan returns the select template, or a normalized copy of it with
// the query's conditions and sorts added.
func (ds *DataSource[T]) queryPlan(op string, q Query) (*queryir.Builder, error) {
	switch q.Mode {
	case Actual, All:
	case Deleted:
		if !ds.softDelete {
			return nil, dserr.Unsupported(op, "data source %s does not soft delete", ds.name)
		}
	default:
		return nil, dserr.New(dserr.CodeInvalidArgument, op, "invalid soft delete mode %d", int(q.Mode))
	}
	marker := ds.softDelete && q.Mode != All
	if q.Where == nil && len(q.Filters) == 0 && len(q.OrderBy) == 0 && !marker {
		return ds.selectAll, nil
	}

	b := ds.selectAll.Clone().GroupFilters(0)
	root, _ := b.Root()
	n := b.NumFilters()
	if q.Where != nil {
		if err := q.Where(b); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := queryir.AddFilters(b, q.Filters); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	b.GroupFilters(n)

	if marker {
		e := ds.desc.DateDeleted()
		cmp := queryir.Eq
		if q.Mode == Deleted {
			cmp = queryir.Ne
		}
		if err := b.Where(root.Alias, e.Name, cmp, queryir.LiveMarker(e)); err != nil {
			return nil, err
		}
	}
	for _, s := range q.OrderBy {
		if s.Alias == "" {
			s.Alias = root.Alias
		}
		if err := b.OrderBy(s.Alias, s.Field, s.Direction); err != nil {
			return nil, err
		}
	}
	if err := b.Normalize(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return b, nil
}

// decode builds a document from a result row keyed by entry name.
func (ds *DataSource[T]) decode(row map[string]any) (*T, error) {
	d := new(T)
	for _, e := range ds.desc.Entries() {
		v, ok := row[e.Name]
		if !ok {
			continue
		}
		if err := e.Set(d, v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", ds.desc.Name, err)
		}
	}
	return d, nil
}

// Update writes the named fields of d to the stored document with d's id.
// With no fields it writes every writable entry. See UpdateWith.
func (ds *DataSource[T]) Update(ctx context.Context, d *T, fields ...string) error {
	return ds.UpdateWith(ctx, d, UpdateOptions{Fields: fields})
}

// UpdateWith writes fields of d to the stored document with d's id.
//
// The id, read-only, creation-date and deletion-marker entries are never
// written. The update and modification dates are set to now unless the
// caller lists them. When no field is left, ErrNothingChanged is returned
// and the backend is not called.
func (ds *DataSource[T]) UpdateWith(ctx context.Context, d *T, o UpdateOptions) error {
	const op = "update"
	ctx, err := ds.begin(ctx, op, CanUpdate)
	if err != nil {
		return err
	}
	if o.FetchResult {
		return dserr.Unsupported(op, "fetching the updated document is not supported")
	}
	if d == nil {
		return dserr.New(dserr.CodeInvalidArgument, op, "nil document")
	}

	fields, err := ds.updateFields(op, o)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return ErrNothingChanged
	}

	now := ds.clock.Now()
	for _, e := range []*doc.Entry{ds.desc.DateUpdated(), ds.desc.DateModified()} {
		if e == nil || slices.Contains(fields, e.Name) {
			continue
		}
		if err := e.Set(d, now); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		fields = append(fields, e.Name)
	}

	values := make(map[string]any, len(fields))
	for _, name := range fields {
		e, _ := ds.desc.Entry(name)
		v, err := e.Get(d)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		values[name] = v
	}
	id, err := ds.desc.ID().Get(d)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := ds.backend.Update(ctx, ds.update, values, map[string]any{queryir.IDParam: id})
	if err != nil {
		return err
	}
	if n == 0 {
		return dserr.NotFound(op, "%s %v", ds.desc.Name, id)
	}
	ds.logger.DebugContext(ctx, "updated document", "op", op, "id", id, "fields", len(values))
	return nil
}

func (ds *DataSource[T]) updateFields(op string, o UpdateOptions) ([]string, error) {
	requested := o.Fields
	if len(requested) == 0 {
		for _, e := range ds.desc.Entries() {
			// Dates are stamped after the field list is known.
			if e.Flags.Has(doc.FlagDateUpdated) || e.Flags.Has(doc.FlagDateModified) {
				continue
			}
			requested = append(requested, e.Name)
		}
	}
	var fields []string
	for _, name := range requested {
		e, ok := ds.desc.Entry(name)
		if !ok {
			return nil, dserr.Configuration(op, "document %s has no field %q", ds.desc.Name, name)
		}
		if !writable(e) || slices.Contains(fields, name) {
			continue
		}
		if len(o.Valid) > 0 && !slices.Contains(o.Valid, name) {
			continue
		}
		fields = append(fields, name)
	}
	return fields, nil
}

func writable(e *doc.Entry) bool {
	return !e.Flags.Has(doc.FlagIDField) &&
		!e.Flags.Has(doc.FlagReadOnly) &&
		!e.Flags.Has(doc.FlagDateCreated) &&
		!e.Flags.Has(doc.FlagDateDeleted)
}

// Delete removes the document with the given id, or marks it deleted when
// soft delete is enabled.
func (ds *DataSource[T]) Delete(ctx context.Context, id any) error {
	const op = "delete"
	ctx, err := ds.begin(ctx, op, CanDelete)
	if err != nil {
		return err
	}
	args := map[string]any{queryir.IDParam: id}

	var n int64
	if ds.softDelete {
		marker := ds.desc.DateDeleted()
		now, err := marker.Convert(ds.clock.Now())
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		n, err = ds.backend.Update(ctx, ds.softDel, map[string]any{marker.Name: now}, args)
		if err != nil {
			return err
		}
	} else {
		n, err = ds.backend.Delete(ctx, ds.del, args)
		if err != nil {
			return err
		}
	}
	if n == 0 {
		return dserr.NotFound(op, "%s %v", ds.desc.Name, id)
	}
	ds.logger.DebugContext(ctx, "deleted document", "op", op, "id", id, "soft", ds.softDelete)
	return nil
}

// Restore clears the deletion marker of the soft-deleted document with the
// given id.
func (ds *DataSource[T]) Restore(ctx context.Context, id any) error {
	const op = "restore"
	ctx, err := ds.begin(ctx, op, CanRestore)
	if err != nil {
		return err
	}
	marker := ds.desc.DateDeleted()
	n, err := ds.backend.Update(ctx, ds.restore,
		map[string]any{marker.Name: queryir.LiveMarker(marker)},
		map[string]any{queryir.IDParam: id})
	if err != nil {
		return err
	}
	if n == 0 {
		return dserr.NotFound(op, "deleted %s %v", ds.desc.Name, id)
	}
	ds.logger.DebugContext(ctx, "restored document", "op", op, "id", id)
	return nil
}

package querysql

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/roach88/dsq/internal/doc"
	"github.com/roach88/dsq/internal/dserr"
	"github.com/roach88/dsq/internal/ir"
	"github.com/roach88/dsq/internal/queryir"
)

// Dialect selects the few places where SQLite and PostgreSQL syntax
// differ. Both accept @name placeholders (go-sqlite3 natively, pgx through
// NamedArgs).
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// ParseDialect maps "sqlite" and "postgres" to dialects.
func ParseDialect(s string) (Dialect, bool) {
	switch s {
	case "sqlite", "sqlite3":
		return SQLite, true
	case "postgres", "postgresql", "pgx":
		return Postgres, true
	}
	return 0, false
}

// ExtremeColumn is the result column of RenderExtremeID.
const ExtremeColumn = "extreme"

// CountColumn is the result column of RenderCount.
const CountColumn = "count"

const maxCached = 512

// Renderer turns normalized plans into SQL statements.
//
// Layout (select):
//
//	SELECT
//		"col",
//		"other" AS "Name"
//	FROM "root"[ AS "alias"]
//	JOIN "x" AS "a" ON <tree>
//	LEFT JOIN "y" AS "b" ON <tree>
//	CROSS JOIN "z" AS "c"
//	WHERE <tree>
//	ORDER BY "col"[ DESC], ...
//	LIMIT n
//	OFFSET n
//
// Identifiers are double-quoted. Columns are qualified with their alias
// only when the plan has more than one container. Result columns are named
// after document entries, so rows map back to documents by entry name.
//
// Rendered statements are cached by plan fingerprint. A Renderer is safe
// for concurrent use.
type Renderer struct {
	dialect Dialect

	mu    sync.Mutex
	cache map[cacheKey]Statement
}

type cacheKey struct {
	fingerprint string
	verb        string
	skip, limit int
	fields      string
}

// NewRenderer creates a renderer for dialect.
func NewRenderer(dialect Dialect) *Renderer {
	return &Renderer{dialect: dialect, cache: make(map[cacheKey]Statement)}
}

// Dialect returns the renderer's dialect.
func (r *Renderer) Dialect() Dialect { return r.dialect }

// cached normalizes plan, then returns the cached statement for key or
// renders and caches it.
func (r *Renderer) cached(plan *queryir.Builder, key cacheKey, render func(w *writer) error) (Statement, error) {
	if !plan.IsNormalized() {
		if err := plan.Normalize(); err != nil {
			return Statement{}, err
		}
	}
	fp, err := plan.Fingerprint()
	if err != nil {
		return Statement{}, fmt.Errorf("render %s: %w", key.verb, err)
	}
	key.fingerprint = fp

	r.mu.Lock()
	st, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		return st, nil
	}

	w := newWriter(plan, r.dialect)
	if err := render(w); err != nil {
		return Statement{}, err
	}
	st = Statement{Text: w.sb.String(), Params: w.params}

	r.mu.Lock()
	if len(r.cache) >= maxCached {
		clear(r.cache)
	}
	r.cache[key] = st
	r.mu.Unlock()
	return st, nil
}

// RenderSelect renders a select plan for the page. A negative skip is an
// INVALID_ARGUMENT error. With page.LastPage the statement fetches one row
// more than page.Take.
func (r *Renderer) RenderSelect(plan *queryir.Builder, page queryir.Page) (Statement, error) {
	const op = "render select"
	if page.Skip < 0 {
		return Statement{}, dserr.New(dserr.CodeInvalidArgument, op, "skip must not be negative, got %d", page.Skip)
	}
	key := cacheKey{verb: "select", skip: page.Skip, limit: page.Limit()}
	return r.cached(plan, key, func(w *writer) error {
		root, err := w.selectRoot(op)
		if err != nil {
			return err
		}
		w.line("SELECT")
		w.columns(root)
		if err := w.from(); err != nil {
			return err
		}
		if err := w.where(); err != nil {
			return err
		}
		if err := w.orderBy(op); err != nil {
			return err
		}
		w.window(page.Skip, page.Limit())
		return nil
	})
}

// RenderCount renders the number of rows a select plan matches, reported
// in CountColumn. Sorts are ignored.
func (r *Renderer) RenderCount(plan *queryir.Builder) (Statement, error) {
	const op = "render count"
	return r.cached(plan, cacheKey{verb: "count"}, func(w *writer) error {
		if _, err := w.selectRoot(op); err != nil {
			return err
		}
		w.line("SELECT")
		w.line("\tCOUNT(*) AS " + quote(CountColumn))
		if err := w.from(); err != nil {
			return err
		}
		return w.where()
	})
}

// RenderAggregate renders the plan's aggregations, one result column per
// aggregation name.
func (r *Renderer) RenderAggregate(plan *queryir.Builder) (Statement, error) {
	const op = "render aggregate"
	return r.cached(plan, cacheKey{verb: "aggregate"}, func(w *writer) error {
		if _, err := w.selectRoot(op); err != nil {
			return err
		}
		aggs := plan.Aggregations()
		if len(aggs) == 0 {
			return dserr.Configuration(op, "plan has no aggregations")
		}
		w.line("SELECT")
		for i, a := range aggs {
			arg := "*"
			if a.Field != "" {
				arg = w.col(a.Alias, a.Field)
			}
			sep := ","
			if i == len(aggs)-1 {
				sep = ""
			}
			w.line(fmt.Sprintf("\t%s(%s) AS %s%s", strings.ToUpper(a.Func.String()), arg, quote(a.Name), sep))
		}
		if err := w.from(); err != nil {
			return err
		}
		return w.where()
	})
}

// RenderExtremeID renders the largest (max) or smallest id stored in the
// plan's root container, reported in ExtremeColumn. Filters are ignored:
// ids are unique across every row, deleted or not.
func (r *Renderer) RenderExtremeID(plan *queryir.Builder, max bool) (Statement, error) {
	const op = "render extreme id"
	verb := "min-id"
	fn := "MIN"
	if max {
		verb, fn = "max-id", "MAX"
	}
	return r.cached(plan, cacheKey{verb: verb}, func(w *writer) error {
		root := w.containers[0]
		if root.Operation == queryir.OpExec {
			return dserr.Unsupported(op, "exec containers are not supported")
		}
		if root.Descriptor == nil || root.Descriptor.ID() == nil {
			return dserr.Configuration(op, "container %q has no id field", root.Alias)
		}
		w.line("SELECT")
		w.line(fmt.Sprintf("\t%s(%s) AS %s", fn, quote(root.Descriptor.ID().DBSideName), quote(ExtremeColumn)))
		w.line("FROM " + quoteName(root.Name))
		return nil
	})
}

// RenderInsert renders an insert of the named entries of the root
// document. Each value binds to a parameter named after its entry.
func (r *Renderer) RenderInsert(plan *queryir.Builder, fields []string) (Statement, error) {
	const op = "render insert"
	key := cacheKey{verb: "insert", fields: strings.Join(fields, ",")}
	return r.cached(plan, key, func(w *writer) error {
		root, err := w.mutationRoot(op, queryir.KindInsert)
		if err != nil {
			return err
		}
		entries, err := w.entries(op, root, fields)
		if err != nil {
			return err
		}
		w.line("INSERT INTO " + quoteName(root.Name) + " (")
		for i, e := range entries {
			w.line("\t" + quote(e.DBSideName) + sepAfter(i, len(entries)))
		}
		w.line(")")
		w.line("VALUES (")
		for i, e := range entries {
			w.line("\t" + w.param(e.Name, e.Nullable) + sepAfter(i, len(entries)))
		}
		w.line(")")
		return nil
	})
}

// RenderUpdate renders an update plan setting the named entries. Set values
// bind to parameters named after their entries, which must not collide
// with the plan's own parameters.
func (r *Renderer) RenderUpdate(plan *queryir.Builder, fields []string) (Statement, error) {
	return r.renderUpdate("render update", plan, queryir.KindUpdate, fields)
}

// RenderSoftDelete renders a soft-delete plan: it sets the deletion marker
// through the parameter named after the marker entry.
func (r *Renderer) RenderSoftDelete(plan *queryir.Builder) (Statement, error) {
	return r.renderMarker("render soft delete", plan, queryir.KindSoftDelete)
}

// RenderRestore renders a restore plan: it resets the deletion marker
// through the parameter named after the marker entry.
func (r *Renderer) RenderRestore(plan *queryir.Builder) (Statement, error) {
	return r.renderMarker("render restore", plan, queryir.KindRestore)
}

func (r *Renderer) renderMarker(op string, plan *queryir.Builder, kind queryir.Kind) (Statement, error) {
	root, ok := plan.Root()
	if !ok || root.Descriptor == nil || root.Descriptor.DateDeleted() == nil {
		return Statement{}, dserr.Configuration(op, "plan root has no deletion marker")
	}
	return r.renderUpdate(op, plan, kind, []string{root.Descriptor.DateDeleted().Name})
}

func (r *Renderer) renderUpdate(op string, plan *queryir.Builder, kind queryir.Kind, fields []string) (Statement, error) {
	key := cacheKey{verb: kind.String(), fields: strings.Join(fields, ",")}
	return r.cached(plan, key, func(w *writer) error {
		root, err := w.mutationRoot(op, kind)
		if err != nil {
			return err
		}
		entries, err := w.entries(op, root, fields)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return dserr.Configuration(op, "no fields to set")
		}
		for _, e := range entries {
			if _, clash := plan.Param(e.Name); clash {
				return dserr.Configuration(op, "field %q collides with plan parameter @%s", e.Name, e.Name)
			}
		}
		w.line("UPDATE " + quoteName(root.Name))
		w.line("SET")
		for i, e := range entries {
			w.line("\t" + quote(e.DBSideName) + " = " + w.param(e.Name, e.Nullable) + sepAfter(i, len(entries)))
		}
		return w.where()
	})
}

// RenderDelete renders a delete plan. The plan always has a filter.
func (r *Renderer) RenderDelete(plan *queryir.Builder) (Statement, error) {
	const op = "render delete"
	return r.cached(plan, cacheKey{verb: "delete"}, func(w *writer) error {
		root, err := w.mutationRoot(op, queryir.KindDelete)
		if err != nil {
			return err
		}
		w.line("DELETE FROM " + quoteName(root.Name))
		return w.where()
	})
}

func sepAfter(i, n int) string {
	if i < n-1 {
		return ","
	}
	return ""
}

// writer renders one statement.
type writer struct {
	plan       *queryir.Builder
	dialect    Dialect
	containers []queryir.Container
	multi      bool

	sb        strings.Builder
	params    []Param
	emitted   map[string]bool
	reserved  map[string]bool
	nextConst int
}

func newWriter(plan *queryir.Builder, dialect Dialect) *writer {
	w := &writer{
		plan:       plan,
		dialect:    dialect,
		containers: plan.Containers(),
		emitted:    make(map[string]bool),
		reserved:   make(map[string]bool),
	}
	w.multi = len(w.containers) > 1
	for _, p := range plan.Parameters() {
		w.reserved[p.Name] = true
	}
	for _, c := range append(plan.Filters(), connectsOf(plan, w.containers)...) {
		if c.Source == queryir.SourceParam {
			w.reserved[c.Param] = true
		}
	}
	if len(w.containers) > 0 && w.containers[0].Descriptor != nil {
		for _, e := range w.containers[0].Descriptor.Entries() {
			w.reserved[e.Name] = true
		}
	}
	return w
}

func connectsOf(plan *queryir.Builder, cs []queryir.Container) []queryir.Condition {
	var out []queryir.Condition
	for _, c := range cs {
		out = append(out, plan.Connects(c.Alias)...)
	}
	return out
}

func (w *writer) line(s string) {
	w.sb.WriteString(s)
	w.sb.WriteByte('\n')
}

func (w *writer) selectRoot(op string) (queryir.Container, error) {
	if w.plan.Kind() != queryir.KindSelect {
		return queryir.Container{}, dserr.Configuration(op, "plan is a %s plan", w.plan.Kind())
	}
	root := w.containers[0]
	if root.Operation == queryir.OpExec {
		return queryir.Container{}, dserr.Unsupported(op, "exec containers are not supported")
	}
	return root, nil
}

func (w *writer) mutationRoot(op string, kind queryir.Kind) (queryir.Container, error) {
	if w.plan.Kind() != kind {
		return queryir.Container{}, dserr.Configuration(op, "plan is a %s plan", w.plan.Kind())
	}
	if w.multi {
		return queryir.Container{}, dserr.Unsupported(op, "%s over more than one container", kind)
	}
	if len(w.plan.SortOrders()) > 0 {
		return queryir.Container{}, dserr.Unsupported(op, "%s with a sort order", kind)
	}
	root := w.containers[0]
	if root.Descriptor == nil && kind != queryir.KindDelete {
		return queryir.Container{}, dserr.Configuration(op, "container %q has no document descriptor", root.Alias)
	}
	return root, nil
}

func (w *writer) entries(op string, root queryir.Container, fields []string) ([]*doc.Entry, error) {
	out := make([]*doc.Entry, 0, len(fields))
	for _, f := range fields {
		e, ok := root.Descriptor.Entry(f)
		if !ok {
			return nil, dserr.Configuration(op, "document %s has no field %q", root.Descriptor.Name, f)
		}
		out = append(out, e)
	}
	return out, nil
}

// columns writes the select list: every root entry in order, excluded
// entries as NULL.
func (w *writer) columns(root queryir.Container) {
	if root.Descriptor == nil {
		if w.multi {
			w.line("\t" + quote(root.Alias) + ".*")
		} else {
			w.line("\t*")
		}
		return
	}
	entries := root.Descriptor.Entries()
	for i, e := range entries {
		var col string
		switch {
		case w.plan.IsExcluded(root.Alias, e.Name):
			col = "NULL AS " + quote(e.Name)
		case e.Name != e.DBSideName:
			col = w.qualify(root.Alias, e.DBSideName) + " AS " + quote(e.Name)
		default:
			col = w.qualify(root.Alias, e.DBSideName)
		}
		w.line("\t" + col + sepAfter(i, len(entries)))
	}
}

func (w *writer) from() error {
	root := w.containers[0]
	w.line("FROM " + w.containerRef(root))
	for _, c := range w.containers[1:] {
		switch c.Operation {
		case queryir.OpCrossJoin:
			w.line("CROSS JOIN " + w.containerRef(c))
		case queryir.OpJoin, queryir.OpLeftJoin:
			tree, err := w.plan.ConnectTree(c.Alias)
			if err != nil {
				return err
			}
			on, err := w.predicate(tree)
			if err != nil {
				return err
			}
			kw := "JOIN"
			if c.Operation == queryir.OpLeftJoin {
				kw = "LEFT JOIN"
			}
			w.line(kw + " " + w.containerRef(c) + " ON " + on)
		default:
			return dserr.Unsupported("render", "container %q has operation %s", c.Alias, c.Operation)
		}
	}
	return nil
}

func (w *writer) containerRef(c queryir.Container) string {
	if !w.multi {
		return quoteName(c.Name)
	}
	return quoteName(c.Name) + " AS " + quote(c.Alias)
}

func (w *writer) where() error {
	tree, err := w.plan.FilterTree()
	if err != nil {
		return err
	}
	if tree == nil {
		return nil
	}
	s, err := w.predicate(tree)
	if err != nil {
		return err
	}
	w.line("WHERE " + s)
	return nil
}

func (w *writer) orderBy(op string) error {
	sorts := w.plan.SortOrders()
	if len(sorts) == 0 {
		return nil
	}
	terms := make([]string, len(sorts))
	for i, s := range sorts {
		col := w.col(s.Alias, s.Field)
		switch s.Direction {
		case queryir.Ascending:
			terms[i] = col
		case queryir.Descending:
			terms[i] = col + " DESC"
		default:
			return dserr.Unsupported(op, "sort direction %s", s.Direction)
		}
	}
	w.line("ORDER BY " + strings.Join(terms, ", "))
	return nil
}

func (w *writer) window(skip, limit int) {
	switch {
	case limit >= 0:
		w.line("LIMIT " + strconv.Itoa(limit))
	case skip > 0 && w.dialect == SQLite:
		// SQLite only accepts OFFSET after a LIMIT.
		w.line("LIMIT -1")
	}
	if skip > 0 {
		w.line("OFFSET " + strconv.Itoa(skip))
	}
}

func (w *writer) predicate(p queryir.Predicate) (string, error) {
	switch n := p.(type) {
	case queryir.Leaf:
		return w.leaf(n.Condition)
	case queryir.And:
		return w.join(n.Items, " AND ")
	case queryir.Or:
		return w.join(n.Items, " OR ")
	case queryir.Group:
		inner, err := w.predicate(n.Inner)
		if err != nil {
			return "", err
		}
		return "(" + inner + ")", nil
	default:
		return "", fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (w *writer) join(items []queryir.Predicate, sep string) (string, error) {
	parts := make([]string, len(items))
	for i, it := range items {
		s, err := w.predicate(it)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return strings.Join(parts, sep), nil
}

var sqlOperators = map[queryir.Operator]string{
	queryir.Eq:      "=",
	queryir.Ne:      "<>",
	queryir.Gt:      ">",
	queryir.Ge:      ">=",
	queryir.Lt:      "<",
	queryir.Le:      "<=",
	queryir.In:      "IN",
	queryir.NotIn:   "NOT IN",
	queryir.Like:    "LIKE",
	queryir.NotLike: "NOT LIKE",
}

func (w *writer) leaf(c queryir.Condition) (string, error) {
	lhs := w.col(c.Alias, c.Field)
	op := sqlOperators[c.Operator]

	switch c.Source {
	case queryir.SourceParam:
		if c.Operator == queryir.In || c.Operator == queryir.NotIn {
			return "", dserr.Unsupported("render", "%s against parameter @%s; use a list constant", c.Operator, c.Param)
		}
		nullable := false
		if p, ok := w.plan.Param(c.Param); ok {
			nullable = p.Nullable
		}
		return lhs + " " + op + " " + w.param(c.Param, nullable), nil

	case queryir.SourceField:
		return lhs + " " + op + " " + w.col(c.Ref.Alias, c.Ref.Field), nil

	case queryir.SourceConst:
		if ir.IsNull(c.Value) {
			if c.Operator == queryir.Ne {
				return lhs + " IS NOT NULL", nil
			}
			return lhs + " IS NULL", nil
		}
		if list, ok := c.Value.(ir.List); ok {
			names := make([]string, len(list))
			for i, v := range list {
				names[i] = w.constant(v)
			}
			return lhs + " " + op + " (" + strings.Join(names, ", ") + ")", nil
		}
		return lhs + " " + op + " " + w.constant(c.Value), nil
	}
	return "", fmt.Errorf("condition on %s.%s has no value source", c.Alias, c.Field)
}

// param writes a placeholder for a caller parameter.
func (w *writer) param(name string, nullable bool) string {
	if !w.emitted[name] {
		w.emitted[name] = true
		w.params = append(w.params, Param{Name: name, Nullable: nullable})
	}
	return "@" + name
}

// constant binds v as a generated parameter.
func (w *writer) constant(v ir.Value) string {
	var name string
	for {
		name = "c" + strconv.Itoa(w.nextConst)
		w.nextConst++
		if !w.reserved[name] && !w.emitted[name] {
			break
		}
	}
	w.emitted[name] = true
	w.params = append(w.params, Param{Name: name, Const: true, Value: ir.ToGo(v)})
	return "@" + name
}

// col returns the (qualified) column of alias.field.
func (w *writer) col(alias, field string) string {
	column := field
	for _, c := range w.containers {
		if c.Alias != alias || c.Descriptor == nil {
			continue
		}
		if e, ok := c.Descriptor.Entry(field); ok {
			column = e.DBSideName
		}
	}
	return w.qualify(alias, column)
}

func (w *writer) qualify(alias, column string) string {
	if w.multi {
		return quote(alias) + "." + quote(column)
	}
	return quote(column)
}

// quote double-quotes an identifier, doubling embedded quotes.
func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// quoteName quotes a possibly schema-qualified container name.
func quoteName(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = quote(p)
	}
	return strings.Join(parts, ".")
}

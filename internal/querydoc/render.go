package querydoc

import (
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/dsq/internal/dserr"
	"github.com/roach88/dsq/internal/ir"
	"github.com/roach88/dsq/internal/queryir"
)

const maxCached = 512

// Renderer turns normalized document-family plans into Requests. Rendered
// requests are cached by plan fingerprint and shape, so a Renderer is safe
// for concurrent use.
type Renderer struct {
	mu    sync.Mutex
	cache map[cacheKey]Request
}

type cacheKey struct {
	fingerprint string
	verb        string
	skip, limit int
	fields      string
}

// NewRenderer creates an empty renderer.
func NewRenderer() *Renderer {
	return &Renderer{cache: make(map[cacheKey]Request)}
}

func (r *Renderer) cached(plan *queryir.Builder, key cacheKey, render func(w *walker) (Request, error)) (Request, error) {
	if !plan.IsNormalized() {
		if err := plan.Normalize(); err != nil {
			return Request{}, err
		}
	}
	fp, err := plan.Fingerprint()
	if err != nil {
		return Request{}, fmt.Errorf("render %s: %w", key.verb, err)
	}
	key.fingerprint = fp

	r.mu.Lock()
	req, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		return req, nil
	}

	w := &walker{plan: plan, containers: plan.Containers(), emitted: make(map[string]bool)}
	req, err = render(w)
	if err != nil {
		return Request{}, err
	}
	req.Params = w.params

	r.mu.Lock()
	if len(r.cache) >= maxCached {
		clear(r.cache)
	}
	r.cache[key] = req
	r.mu.Unlock()
	return req, nil
}

// RenderFind renders a select plan for the page. Every root entry is
// listed in Fields; excluded entries are flagged. With page.LastPage the
// limit is one more than page.Take.
func (r *Renderer) RenderFind(plan *queryir.Builder, page queryir.Page) (Request, error) {
	const op = "render find"
	if page.Skip < 0 {
		return Request{}, dserr.New(dserr.CodeInvalidArgument, op, "skip must not be negative, got %d", page.Skip)
	}
	key := cacheKey{verb: "find", skip: page.Skip, limit: page.Limit()}
	return r.cached(plan, key, func(w *walker) (Request, error) {
		root, err := w.root(op, queryir.KindSelect)
		if err != nil {
			return Request{}, err
		}
		req := w.request(OpFind, root)
		if root.Descriptor != nil {
			for _, e := range root.Descriptor.Entries() {
				req.Fields = append(req.Fields, Field{
					Name:     e.Name,
					Key:      e.DBSideName,
					Excluded: plan.IsExcluded(root.Alias, e.Name),
				})
			}
		}
		if req.Filter, err = w.filter(); err != nil {
			return Request{}, err
		}
		if req.Sort, err = w.sort(op); err != nil {
			return Request{}, err
		}
		req.Skip = page.Skip
		if limit := page.Limit(); limit >= 0 {
			req.Limit = &limit
		}
		return req, nil
	})
}

// RenderCount renders the number of documents a select plan matches.
func (r *Renderer) RenderCount(plan *queryir.Builder) (Request, error) {
	const op = "render count"
	return r.cached(plan, cacheKey{verb: "count"}, func(w *walker) (Request, error) {
		root, err := w.root(op, queryir.KindSelect)
		if err != nil {
			return Request{}, err
		}
		req := w.request(OpCount, root)
		req.Filter, err = w.filter()
		return req, err
	})
}

// RenderAggregate renders the plan's aggregations.
func (r *Renderer) RenderAggregate(plan *queryir.Builder) (Request, error) {
	const op = "render aggregate"
	return r.cached(plan, cacheKey{verb: "aggregate"}, func(w *walker) (Request, error) {
		root, err := w.root(op, queryir.KindSelect)
		if err != nil {
			return Request{}, err
		}
		aggs := plan.Aggregations()
		if len(aggs) == 0 {
			return Request{}, dserr.Configuration(op, "plan has no aggregations")
		}
		req := w.request(OpAggregate, root)
		for _, a := range aggs {
			agg := Aggregation{Func: a.Func.String(), Name: a.Name}
			if a.Field != "" {
				agg.Key = w.key(a.Field)
			}
			req.Aggregations = append(req.Aggregations, agg)
		}
		req.Filter, err = w.filter()
		return req, err
	})
}

// RenderExtremeID renders the largest (max) or smallest id of the plan's
// root collection. Filters are ignored.
func (r *Renderer) RenderExtremeID(plan *queryir.Builder, max bool) (Request, error) {
	const op = "render extreme id"
	verb := "min-id"
	if max {
		verb = "max-id"
	}
	return r.cached(plan, cacheKey{verb: verb}, func(w *walker) (Request, error) {
		root, err := w.root(op, plan.Kind())
		if err != nil {
			return Request{}, err
		}
		if root.Descriptor == nil || root.Descriptor.ID() == nil {
			return Request{}, dserr.Configuration(op, "container %q has no id field", root.Alias)
		}
		req := w.request(OpExtreme, root)
		req.Max = max
		return req, nil
	})
}

// RenderInsert renders an insert of the named entries. Each value binds to
// a parameter named after its entry.
func (r *Renderer) RenderInsert(plan *queryir.Builder, fields []string) (Request, error) {
	const op = "render insert"
	key := cacheKey{verb: "insert", fields: strings.Join(fields, ",")}
	return r.cached(plan, key, func(w *walker) (Request, error) {
		root, err := w.mutationRoot(op, queryir.KindInsert)
		if err != nil {
			return Request{}, err
		}
		req := w.request(OpInsert, root)
		if req.Fields, err = w.fields(op, root, fields); err != nil {
			return Request{}, err
		}
		return req, nil
	})
}

// RenderUpdate renders an update plan setting the named entries.
func (r *Renderer) RenderUpdate(plan *queryir.Builder, fields []string) (Request, error) {
	return r.renderUpdate("render update", plan, queryir.KindUpdate, fields)
}

// RenderSoftDelete renders a soft-delete plan, setting the deletion marker
// through the parameter named after the marker entry.
func (r *Renderer) RenderSoftDelete(plan *queryir.Builder) (Request, error) {
	return r.renderMarker("render soft delete", plan, queryir.KindSoftDelete)
}

// RenderRestore renders a restore plan, resetting the deletion marker
// through the parameter named after the marker entry.
func (r *Renderer) RenderRestore(plan *queryir.Builder) (Request, error) {
	return r.renderMarker("render restore", plan, queryir.KindRestore)
}

func (r *Renderer) renderMarker(op string, plan *queryir.Builder, kind queryir.Kind) (Request, error) {
	root, ok := plan.Root()
	if !ok || root.Descriptor == nil || root.Descriptor.DateDeleted() == nil {
		return Request{}, dserr.Configuration(op, "plan root has no deletion marker")
	}
	return r.renderUpdate(op, plan, kind, []string{root.Descriptor.DateDeleted().Name})
}

func (r *Renderer) renderUpdate(op string, plan *queryir.Builder, kind queryir.Kind, fields []string) (Request, error) {
	key := cacheKey{verb: kind.String(), fields: strings.Join(fields, ",")}
	return r.cached(plan, key, func(w *walker) (Request, error) {
		root, err := w.mutationRoot(op, kind)
		if err != nil {
			return Request{}, err
		}
		if len(fields) == 0 {
			return Request{}, dserr.Configuration(op, "no fields to set")
		}
		for _, f := range fields {
			if _, clash := plan.Param(f); clash {
				return Request{}, dserr.Configuration(op, "field %q collides with plan parameter @%s", f, f)
			}
		}
		req := w.request(OpUpdate, root)
		if req.Fields, err = w.fields(op, root, fields); err != nil {
			return Request{}, err
		}
		req.Filter, err = w.filter()
		return req, err
	})
}

// RenderDelete renders a delete plan.
func (r *Renderer) RenderDelete(plan *queryir.Builder) (Request, error) {
	const op = "render delete"
	return r.cached(plan, cacheKey{verb: "delete"}, func(w *walker) (Request, error) {
		root, err := w.mutationRoot(op, queryir.KindDelete)
		if err != nil {
			return Request{}, err
		}
		req := w.request(OpDelete, root)
		req.Filter, err = w.filter()
		return req, err
	})
}

// walker translates one plan.
type walker struct {
	plan       *queryir.Builder
	containers []queryir.Container
	params     []Param
	emitted    map[string]bool
}

func (w *walker) root(op string, kind queryir.Kind) (queryir.Container, error) {
	if w.plan.Kind() != kind {
		return queryir.Container{}, dserr.Configuration(op, "plan is a %s plan", w.plan.Kind())
	}
	if len(w.containers) > 1 {
		return queryir.Container{}, dserr.Unsupported(op, "document requests over more than one container")
	}
	root := w.containers[0]
	if root.Operation == queryir.OpExec {
		return queryir.Container{}, dserr.Unsupported(op, "exec containers are not supported")
	}
	return root, nil
}

func (w *walker) mutationRoot(op string, kind queryir.Kind) (queryir.Container, error) {
	root, err := w.root(op, kind)
	if err != nil {
		return root, err
	}
	if len(w.plan.SortOrders()) > 0 {
		return root, dserr.Unsupported(op, "%s with a sort order", kind)
	}
	if root.Descriptor == nil && kind != queryir.KindDelete {
		return root, dserr.Configuration(op, "container %q has no document descriptor", root.Alias)
	}
	return root, nil
}

func (w *walker) request(verb Op, root queryir.Container) Request {
	req := Request{Op: verb, Collection: root.Name}
	if root.Descriptor != nil && root.Descriptor.ID() != nil {
		req.IDKey = root.Descriptor.ID().DBSideName
	}
	return req
}

func (w *walker) fields(op string, root queryir.Container, names []string) ([]Field, error) {
	out := make([]Field, 0, len(names))
	for _, name := range names {
		e, ok := root.Descriptor.Entry(name)
		if !ok {
			return nil, dserr.Configuration(op, "document %s has no field %q", root.Descriptor.Name, name)
		}
		w.param(e.Name, e.Nullable)
		out = append(out, Field{Name: e.Name, Key: e.DBSideName})
	}
	return out, nil
}

func (w *walker) sort(op string) ([]SortKey, error) {
	var out []SortKey
	for _, s := range w.plan.SortOrders() {
		switch s.Direction {
		case queryir.Ascending:
			out = append(out, SortKey{Key: w.key(s.Field)})
		case queryir.Descending:
			out = append(out, SortKey{Key: w.key(s.Field), Desc: true})
		default:
			return nil, dserr.Unsupported(op, "sort direction %s", s.Direction)
		}
	}
	return out, nil
}

func (w *walker) filter() (*Filter, error) {
	tree, err := w.plan.FilterTree()
	if err != nil || tree == nil {
		return nil, err
	}
	return w.node(tree)
}

func (w *walker) node(p queryir.Predicate) (*Filter, error) {
	switch n := p.(type) {
	case queryir.Leaf:
		return w.leaf(n.Condition)
	case queryir.Group:
		return w.node(n.Inner)
	case queryir.And:
		items, err := w.nodes(n.Items)
		return &Filter{And: items}, err
	case queryir.Or:
		items, err := w.nodes(n.Items)
		return &Filter{Or: items}, err
	default:
		return nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (w *walker) nodes(items []queryir.Predicate) ([]*Filter, error) {
	out := make([]*Filter, len(items))
	for i, it := range items {
		f, err := w.node(it)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

func (w *walker) leaf(c queryir.Condition) (*Filter, error) {
	f := &Filter{Key: w.key(c.Field), Op: c.Operator.String()}
	switch c.Source {
	case queryir.SourceParam:
		if c.Operator == queryir.In || c.Operator == queryir.NotIn {
			return nil, dserr.Unsupported("render", "%s against parameter @%s; use a list constant", c.Operator, c.Param)
		}
		nullable := false
		if p, ok := w.plan.Param(c.Param); ok {
			nullable = p.Nullable
		}
		w.param(c.Param, nullable)
		f.Param = c.Param
	case queryir.SourceConst:
		if ir.IsNull(c.Value) {
			f.Null = true
		} else {
			f.Value = ir.ToGo(c.Value)
		}
	case queryir.SourceField:
		return nil, dserr.Unsupported("render", "field comparison %s.%s in a document filter", c.Alias, c.Field)
	default:
		return nil, fmt.Errorf("condition on %s.%s has no value source", c.Alias, c.Field)
	}
	return f, nil
}

func (w *walker) param(name string, nullable bool) {
	if w.emitted[name] {
		return
	}
	w.emitted[name] = true
	w.params = append(w.params, Param{Name: name, Nullable: nullable})
}

// key returns the stored key of a root field.
func (w *walker) key(field string) string {
	if d := w.containers[0].Descriptor; d != nil {
		if e, ok := d.Entry(field); ok {
			return e.DBSideName
		}
	}
	return field
}

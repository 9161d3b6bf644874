package datasource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/roach88/dsq/internal/cursor"
	"github.com/roach88/dsq/internal/doc"
	"github.com/roach88/dsq/internal/dserr"
	"github.com/roach88/dsq/internal/idgen"
	"github.com/roach88/dsq/internal/queryir"
)

// Backend renders and executes plans of one family. Rows and values are
// keyed by entry name.
//
// querysql.Backend (SQLite, PostgreSQL) and docstore.Backend implement it.
type Backend interface {
	Family() queryir.Family
	Select(ctx context.Context, plan *queryir.Builder, args map[string]any, page queryir.Page) (cursor.Source[map[string]any], error)
	Count(ctx context.Context, plan *queryir.Builder, args map[string]any) (int64, error)
	Aggregate(ctx context.Context, plan *queryir.Builder, args map[string]any) (map[string]any, error)
	Insert(ctx context.Context, plan *queryir.Builder, values map[string]any) error
	// Update runs update, soft-delete and restore plans.
	Update(ctx context.Context, plan *queryir.Builder, values, args map[string]any) (int64, error)
	Delete(ctx context.Context, plan *queryir.Builder, args map[string]any) (int64, error)
	// ExtremeID returns the largest (max) or smallest id of the plan's
	// root container, or nil when it is empty.
	ExtremeID(ctx context.Context, plan *queryir.Builder, max bool) (any, error)
}

// Options is the set of operations a data source allows.
type Options uint8

const (
	CanInsert Options = 1 << iota
	CanSelect
	CanUpdate
	CanDelete
	CanRestore
)

// AllOptions allows every operation.
const AllOptions = CanInsert | CanSelect | CanUpdate | CanDelete | CanRestore

var optionNames = []struct {
	opt  Options
	name string
}{
	{CanInsert, "insert"},
	{CanSelect, "select"},
	{CanUpdate, "update"},
	{CanDelete, "delete"},
	{CanRestore, "restore"},
}

// Has reports whether every operation in x is allowed.
func (o Options) Has(x Options) bool { return o&x == x }

func (o Options) String() string {
	var names []string
	for _, n := range optionNames {
		if o.Has(n.opt) {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// ParseOptions converts operation names ("insert", "select", ...) into
// Options.
func ParseOptions(names []string) (Options, error) {
	var o Options
next:
	for _, name := range names {
		for _, n := range optionNames {
			if n.name == name {
				o |= n.opt
				continue next
			}
		}
		return 0, dserr.Configuration("parse options", "unknown operation %q", name)
	}
	return o, nil
}

// SoftDeleteMode selects the documents a select sees when soft delete is
// enabled. It has no effect otherwise.
type SoftDeleteMode int

const (
	// Actual selects documents that are not deleted.
	Actual SoftDeleteMode = iota
	// Deleted selects soft-deleted documents only.
	Deleted
	// All ignores the deletion marker.
	All
)

func (m SoftDeleteMode) String() string {
	switch m {
	case Actual:
		return "actual"
	case Deleted:
		return "deleted"
	case All:
		return "all"
	default:
		return fmt.Sprintf("SoftDeleteMode(%d)", int(m))
	}
}

// ParseSoftDeleteMode converts a mode name; "" is Actual.
func ParseSoftDeleteMode(s string) (SoftDeleteMode, bool) {
	switch s {
	case "", "actual":
		return Actual, true
	case "deleted":
		return Deleted, true
	case "all":
		return All, true
	}
	return 0, false
}

// ErrNothingChanged is returned by Update when no field is left to write.
var ErrNothingChanged = errors.New("nothing changed")

// Clock supplies the time stamped into date entries.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type config struct {
	desc       *doc.Descriptor
	name       string
	container  string
	kind       queryir.ContainerKind
	options    *Options
	softDelete *bool
	logger     *slog.Logger
	clock      Clock
	queryText  func(string)
	gen        idgen.Generator
	genSet     bool
	sequential *idgen.Config
	counter    *idgen.Counter
	plans      map[queryir.Kind]*queryir.Builder
}

// Option configures a DataSource.
type Option func(*config)

// WithDescriptor sets the document descriptor. It is required for
// doc.Record documents; struct documents default to doc.Of[T]().
func WithDescriptor(d *doc.Descriptor) Option {
	return func(c *config) { c.desc = d }
}

// WithName names the data source in logs and errors. The default is the
// document name.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithContainer overrides the descriptor's container name and kind. A zero
// kind keeps the descriptor's.
func WithContainer(name string, kind queryir.ContainerKind) Option {
	return func(c *config) { c.container, c.kind = name, kind }
}

// WithOptions restricts the allowed operations. The default allows every
// operation, Restore only when soft delete is enabled.
func WithOptions(o Options) Option {
	return func(c *config) { c.options = &o }
}

// WithSoftDelete turns soft delete on or off. It defaults to on when the
// document has a deletion marker.
func WithSoftDelete(on bool) Option {
	return func(c *config) { c.softDelete = &on }
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithQueryText registers fn to receive the text of every statement the
// data source executes.
func WithQueryText(fn func(text string)) Option {
	return func(c *config) { c.queryText = fn }
}

// WithClock sets the clock used for date entries.
func WithClock(clock Clock) Option {
	return func(c *config) { c.clock = clock }
}

// WithIDGenerator replaces the default id generator. nil disables id
// generation: documents are inserted with the id they carry.
func WithIDGenerator(g idgen.Generator) Option {
	return func(c *config) { c.gen, c.genSet = g, true }
}

// WithSequential configures the sequential generator used for integer ids.
func WithSequential(cfg idgen.Config) Option {
	return func(c *config) { c.sequential = &cfg }
}

// WithCounter gives the sequential generator its own counter instead of
// the process-wide one shared by data sources over the same container.
func WithCounter(counter *idgen.Counter) Option {
	return func(c *config) { c.counter = counter }
}

// WithSelectPlan replaces the auto-built select plan used by Select, Count
// and Aggregate. Its root must store the data source's document.
func WithSelectPlan(b *queryir.Builder) Option {
	return WithPlan(b)
}

// WithPlan replaces the auto-built plan of b's kind.
func WithPlan(b *queryir.Builder) Option {
	return func(c *config) {
		if b == nil {
			return
		}
		if c.plans == nil {
			c.plans = make(map[queryir.Kind]*queryir.Builder)
		}
		c.plans[b.Kind()] = b
	}
}

// DataSource runs typed operations for documents of type T, passed around
// as *T. T is a struct with ds/db tags or doc.Record.
type DataSource[T any] struct {
	name       string
	desc       *doc.Descriptor
	backend    Backend
	options    Options
	softDelete bool
	logger     *slog.Logger
	clock      Clock
	queryText  func(string)
	gen        idgen.Generator

	// Normalized templates; never mutated after New.
	selectAll  *queryir.Builder
	selectByID *queryir.Builder
	idPlan     *queryir.Builder
	insert     *queryir.Builder
	update     *queryir.Builder
	del        *queryir.Builder
	softDel    *queryir.Builder
	restore    *queryir.Builder
}

// New creates a data source over backend.
func New[T any](backend Backend, opts ...Option) (*DataSource[T], error) {
	const op = "new data source"
	if backend == nil {
		return nil, dserr.Configuration(op, "no backend")
	}
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}

	desc, err := descriptorFor[T](cfg.desc)
	if err != nil {
		return nil, err
	}

	ds := &DataSource[T]{
		name:      cfg.name,
		desc:      desc,
		backend:   backend,
		logger:    cfg.logger,
		clock:     cfg.clock,
		queryText: cfg.queryText,
	}
	if ds.name == "" {
		ds.name = desc.Name
	}
	if ds.logger == nil {
		ds.logger = slog.Default()
	}
	ds.logger = ds.logger.With("datasource", ds.name)
	if ds.clock == nil {
		ds.clock = systemClock{}
	}

	ds.softDelete = desc.DateDeleted() != nil
	if cfg.softDelete != nil {
		if *cfg.softDelete && desc.DateDeleted() == nil {
			return nil, dserr.Configuration(op, "soft delete: document %s has no deletion marker", desc.Name)
		}
		ds.softDelete = *cfg.softDelete
	}

	ds.options = AllOptions
	if !ds.softDelete {
		ds.options &^= CanRestore
	}
	if cfg.options != nil {
		ds.options = *cfg.options
		if ds.options.Has(CanRestore) && !ds.softDelete {
			return nil, dserr.Configuration(op, "data source %s allows restore without soft delete", ds.name)
		}
	}

	target := queryir.Target{Descriptor: desc, Name: cfg.container, Kind: cfg.kind}
	if err := ds.buildPlans(target, backend.Family(), cfg.plans); err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, ds.name, err)
	}
	if err := ds.buildGenerator(&cfg); err != nil {
		return nil, err
	}
	return ds, nil
}

func descriptorFor[T any](d *doc.Descriptor) (*doc.Descriptor, error) {
	const op = "new data source"
	typ := reflect.TypeFor[T]()
	if d == nil {
		if typ == reflect.TypeFor[doc.Record]() {
			return nil, dserr.Configuration(op, "record documents need WithDescriptor")
		}
		described, err := doc.Of[T]()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return described, nil
	}
	want := d.Type
	if want == nil {
		want = reflect.TypeFor[doc.Record]()
	}
	if want != typ {
		return nil, dserr.Configuration(op, "descriptor %s describes %s, not %s", d.Name, want, typ)
	}
	return d, nil
}

func (ds *DataSource[T]) buildPlans(t queryir.Target, family queryir.Family, custom map[queryir.Kind]*queryir.Builder) error {
	var err error
	if ds.idPlan, err = queryir.SelectAll(t, family); err != nil {
		return err
	}
	ds.selectAll = ds.idPlan
	if b, ok := custom[queryir.KindSelect]; ok {
		if ds.selectAll, err = ds.checkPlan(b, queryir.KindSelect, family); err != nil {
			return err
		}
	}

	if ds.options.Has(CanSelect) && ds.desc.ID() != nil {
		if ds.selectByID, err = queryir.SelectByID(t, family); err != nil {
			return err
		}
	}

	steps := []struct {
		enabled bool
		kind    queryir.Kind
		dst     **queryir.Builder
		build   func(queryir.Target, queryir.Family) (*queryir.Builder, error)
	}{
		{ds.options.Has(CanInsert), queryir.KindInsert, &ds.insert, queryir.InsertInto},
		{ds.options.Has(CanUpdate), queryir.KindUpdate, &ds.update, queryir.UpdateByID},
		{ds.options.Has(CanDelete) && !ds.softDelete, queryir.KindDelete, &ds.del, queryir.DeleteByID},
		{ds.options.Has(CanDelete) && ds.softDelete, queryir.KindSoftDelete, &ds.softDel, queryir.SoftDeleteByID},
		{ds.options.Has(CanRestore), queryir.KindRestore, &ds.restore, queryir.RestoreByID},
	}
	for _, s := range steps {
		if !s.enabled {
			continue
		}
		if b, ok := custom[s.kind]; ok {
			*s.dst, err = ds.checkPlan(b, s.kind, family)
		} else {
			*s.dst, err = s.build(t, family)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// checkPlan normalizes a private copy of a caller-supplied plan.
func (ds *DataSource[T]) checkPlan(b *queryir.Builder, kind queryir.Kind, family queryir.Family) (*queryir.Builder, error) {
	const op = "check plan"
	b = b.Clone()
	if b.Family() != family {
		return nil, dserr.Configuration(op, "%s plan is for the %s family, backend is %s", kind, b.Family(), family)
	}
	if err := b.Normalize(); err != nil {
		return nil, err
	}
	root, _ := b.Root()
	if root.Descriptor != ds.desc {
		return nil, dserr.Configuration(op, "%s plan root %q does not store %s documents", kind, root.Alias, ds.desc.Name)
	}
	return b, nil
}

func (ds *DataSource[T]) buildGenerator(cfg *config) error {
	const op = "new data source"
	id := ds.desc.ID()
	switch {
	case cfg.genSet:
		ds.gen = cfg.gen
		return nil
	case id == nil || !ds.options.Has(CanInsert):
		return nil
	case isInteger(id.Type):
		seq := idgen.Config{StartAt: 1, Step: 1}
		if cfg.sequential != nil {
			seq = *cfg.sequential
		}
		counter := cfg.counter
		if counter == nil {
			root, _ := ds.idPlan.Root()
			counter = idgen.Shared(idgen.Key{Document: ds.desc.Name, Namespace: root.Name})
		}
		gen, err := idgen.NewSequential(seq, counter, ds.extremeID)
		if err != nil {
			return err
		}
		ds.gen = gen
	case id.Type.Kind() == reflect.String:
		if cfg.sequential != nil {
			return dserr.Configuration(op, "sequential ids need an integer id, %s.%s is a string", ds.desc.Name, id.Name)
		}
		ds.gen = idgen.UUIDv7{}
	}
	return nil
}

func (ds *DataSource[T]) extremeID(ctx context.Context, max bool) (any, error) {
	return ds.backend.ExtremeID(ctx, ds.idPlan, max)
}

func isInteger(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

// Name returns the data source's name.
func (ds *DataSource[T]) Name() string { return ds.name }

// Descriptor returns the document descriptor.
func (ds *DataSource[T]) Descriptor() *doc.Descriptor { return ds.desc }

// Options returns the allowed operations.
func (ds *DataSource[T]) Options() Options { return ds.options }

// SoftDelete reports whether Delete soft-deletes.
func (ds *DataSource[T]) SoftDelete() bool { return ds.softDelete }

// Plan returns a copy of the template plan of kind, or false when the data
// source has none.
func (ds *DataSource[T]) Plan(kind queryir.Kind) (*queryir.Builder, bool) {
	var b *queryir.Builder
	switch kind {
	case queryir.KindSelect:
		b = ds.selectAll
	case queryir.KindInsert:
		b = ds.insert
	case queryir.KindUpdate:
		b = ds.update
	case queryir.KindDelete:
		b = ds.del
	case queryir.KindSoftDelete:
		b = ds.softDel
	case queryir.KindRestore:
		b = ds.restore
	}
	if b == nil {
		return nil, false
	}
	return b.Clone(), true
}

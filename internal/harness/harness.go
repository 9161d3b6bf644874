package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/dsq/internal/compiler"
	"github.com/roach88/dsq/internal/cursor"
	"github.com/roach88/dsq/internal/datasource"
	"github.com/roach88/dsq/internal/doc"
	"github.com/roach88/dsq/internal/docstore"
	"github.com/roach88/dsq/internal/dserr"
	"github.com/roach88/dsq/internal/idgen"
	"github.com/roach88/dsq/internal/ir"
	"github.com/roach88/dsq/internal/queryir"
	"github.com/roach88/dsq/internal/querysql"
	"github.com/roach88/dsq/internal/store"
	"github.com/roach88/dsq/internal/testutil"
)

// ClockStep is the interval between consecutive timestamps the harness
// clock hands out.
const ClockStep = time.Second

// Option configures Run.
type Option func(*Harness)

// WithLogger sets the logger passed to the backend and data sources.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// Harness executes one scenario. Each run gets a fresh backend, clock and
// id counters so traces are reproducible.
type Harness struct {
	backend datasource.Backend
	defs    *compiler.Definitions
	docs    *doc.Registry
	clock   *testutil.StepClock
	logger  *slog.Logger

	sources    map[string]*datasource.DataSource[doc.Record]
	counters   map[idgen.Key]*idgen.Counter
	statements []string
}

// Run executes a test scenario and returns the result.
//
// Execution flow:
// 1. Load and check the scenario's CUE definitions
// 2. Open a fresh backend (a temporary SQLite file or in-memory pebble)
// 3. Apply the schema, if any
// 4. Execute each step, recording its statements and checking its expectations
//
// The returned error reports a scenario that could not run at all; failed
// expectations are reported in Result.Errors.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		clock:    testutil.NewStepClock(testutil.DefaultStart, ClockStep),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
		sources:  make(map[string]*datasource.DataSource[doc.Record]),
		counters: make(map[idgen.Key]*idgen.Counter),
	}
	for _, opt := range opts {
		opt(h)
	}

	if err := h.loadDefinitions(scenario.Definitions); err != nil {
		return nil, err
	}

	closeBackend, err := h.openBackend(ctx, scenario)
	if err != nil {
		return nil, err
	}
	defer closeBackend()

	result := NewResult()
	for i, step := range scenario.Steps {
		h.runStep(ctx, i, step, result)
	}
	return result, nil
}

func (h *Harness) loadDefinitions(path string) error {
	defs, errs := compiler.LoadDefinitions(path, compiler.LoadModeCollectAll)
	if len(errs) > 0 {
		return fmt.Errorf("failed to load definitions: %w", errors.Join(errs...))
	}
	if problems := defs.Check(); len(problems) > 0 {
		errs := make([]error, len(problems))
		for i := range problems {
			errs[i] = &problems[i]
		}
		return fmt.Errorf("invalid definitions: %w", errors.Join(errs...))
	}
	docs, err := defs.Registry()
	if err != nil {
		return fmt.Errorf("failed to register documents: %w", err)
	}
	h.defs, h.docs = defs, docs
	return nil
}

func (h *Harness) openBackend(ctx context.Context, scenario *Scenario) (func(), error) {
	switch scenario.Backend {
	case BackendDocStore:
		st, err := docstore.OpenInMemory()
		if err != nil {
			return nil, fmt.Errorf("failed to open document store: %w", err)
		}
		h.backend = docstore.NewBackend(st, h.logger)
		return func() { st.Close() }, nil

	default:
		// WAL needs a real file, so each run gets its own directory.
		dir, err := os.MkdirTemp("", "dsq-scenario-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create scenario directory: %w", err)
		}
		st, err := store.Open(filepath.Join(dir, "scenario.db"))
		if err != nil {
			os.RemoveAll(dir)
			return nil, fmt.Errorf("failed to create store: %w", err)
		}
		cleanup := func() {
			st.Close()
			os.RemoveAll(dir)
		}
		if scenario.Schema != "" {
			migration := store.Migration{Version: 1, Name: scenario.Name, SQL: scenario.Schema}
			if _, err := st.Migrate(ctx, []store.Migration{migration}); err != nil {
				cleanup()
				return nil, fmt.Errorf("failed to apply schema: %w", err)
			}
		}
		h.backend = querysql.NewBackend(st, querysql.SQLite, h.logger)
		return cleanup, nil
	}
}

// dataSource builds the named data source on first use. Data sources over
// the same container share one id counter.
func (h *Harness) dataSource(name string) (*datasource.DataSource[doc.Record], error) {
	if ds, ok := h.sources[name]; ok {
		return ds, nil
	}
	spec, ok := h.defs.DataSource(name)
	if !ok {
		return nil, fmt.Errorf("unknown data source %q", name)
	}
	d, ok := h.docs.Lookup(spec.Document)
	if !ok {
		return nil, fmt.Errorf("data source %s: unknown document %q", name, spec.Document)
	}
	key := idgen.Key{Document: d.Name, Namespace: d.Container}
	counter, ok := h.counters[key]
	if !ok {
		counter = idgen.NewCounter()
		h.counters[key] = counter
	}

	ds, err := datasource.FromSpec(h.backend, spec, h.docs,
		datasource.WithClock(h.clock),
		datasource.WithLogger(h.logger),
		datasource.WithCounter(counter),
		datasource.WithQueryText(func(text string) { h.statements = append(h.statements, text) }),
	)
	if err != nil {
		return nil, err
	}
	h.sources[name] = ds
	return ds, nil
}

// outcome is what a step produced.
type outcome struct {
	id       any
	count    *int64
	records  []doc.Record
	lastPage *bool
}

func (h *Harness) runStep(ctx context.Context, index int, step Step, result *Result) {
	h.statements = nil
	label := fmt.Sprintf("steps[%d] (%s %s)", index, step.Op, step.DataSource)

	out, err := h.execute(ctx, step)

	event := TraceEvent{
		Op:         step.Op,
		DataSource: step.DataSource,
		Statements: h.statements,
		Outcome:    outcomeOf(err),
	}
	switch {
	case err != nil:
	case step.Op == OpInsert:
		event.Result = out.id
	case out.count != nil:
		event.Result = *out.count
	}
	result.AddEvent(event)

	for _, msg := range checkExpect(step.Expect, out, err) {
		result.AddError(label + ": " + msg)
	}
	h.logger.DebugContext(ctx, "scenario step", "step", index, "op", step.Op, "datasource", step.DataSource, "outcome", event.Outcome)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, datasource.ErrNothingChanged):
		return "NOTHING_CHANGED"
	}
	if code := dserr.CodeOf(err); code != "" {
		return string(code)
	}
	return OutcomeError
}

func (h *Harness) execute(ctx context.Context, step Step) (outcome, error) {
	ds, err := h.dataSource(step.DataSource)
	if err != nil {
		return outcome{}, err
	}
	desc := ds.Descriptor()

	switch step.Op {
	case OpInsert:
		rec, err := buildRecord(desc, step.Record, true)
		if err != nil {
			return outcome{}, err
		}
		if _, err := ds.Insert(ctx, &rec); err != nil {
			return outcome{}, err
		}
		var id any
		if e := desc.ID(); e != nil {
			id = rec[e.Name]
		}
		return outcome{id: id, records: []doc.Record{rec}}, nil

	case OpGet:
		id, err := convertID(desc, step.ID)
		if err != nil {
			return outcome{}, err
		}
		rec, err := ds.Get(ctx, id)
		if err != nil {
			return outcome{}, err
		}
		return withCount(outcome{records: []doc.Record{*rec}}), nil

	case OpSelect:
		q, err := buildQuery(step)
		if err != nil {
			return outcome{}, err
		}
		cur, err := ds.Select(ctx, q)
		if err != nil {
			return outcome{}, err
		}
		docs, err := cursor.Collect(cur)
		if err != nil {
			return outcome{}, err
		}
		out := outcome{records: make([]doc.Record, len(docs))}
		for i, d := range docs {
			out.records[i] = *d
		}
		if q.LastPage {
			last, err := cur.IsLastPage()
			if err != nil {
				return outcome{}, err
			}
			out.lastPage = &last
		}
		return withCount(out), nil

	case OpCount:
		q, err := buildQuery(step)
		if err != nil {
			return outcome{}, err
		}
		n, err := ds.Count(ctx, q)
		if err != nil {
			return outcome{}, err
		}
		return outcome{count: &n}, nil

	case OpUpdate:
		rec, err := buildRecord(desc, step.Record, false)
		if err != nil {
			return outcome{}, err
		}
		fields := step.Fields
		if len(fields) == 0 {
			fields = presentFields(desc, step.Record)
		}
		if err := ds.Update(ctx, &rec, fields...); err != nil {
			return outcome{}, err
		}
		return outcome{records: []doc.Record{rec}}, nil

	case OpDelete, OpRestore:
		id, err := convertID(desc, step.ID)
		if err != nil {
			return outcome{}, err
		}
		if step.Op == OpDelete {
			return outcome{}, ds.Delete(ctx, id)
		}
		return outcome{}, ds.Restore(ctx, id)
	}
	return outcome{}, fmt.Errorf("unknown op %q", step.Op)
}

func withCount(out outcome) outcome {
	n := int64(len(out.records))
	out.count = &n
	return out
}

// buildRecord converts scenario values to the document's field types. With
// all set, fields missing from values are set to their zero value (nil for
// nullable fields).
func buildRecord(desc *doc.Descriptor, values map[string]any, all bool) (doc.Record, error) {
	for name := range values {
		if _, ok := desc.Entry(name); !ok {
			return nil, fmt.Errorf("document %s has no field %q", desc.Name, name)
		}
	}
	rec := doc.Record{}
	for _, e := range desc.Entries() {
		v, ok := values[e.Name]
		if !ok && !all {
			continue
		}
		if err := e.Set(rec, v); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// presentFields lists the writable fields of values in declaration order.
func presentFields(desc *doc.Descriptor, values map[string]any) []string {
	var fields []string
	for _, e := range desc.Entries() {
		if _, ok := values[e.Name]; ok && e != desc.ID() {
			fields = append(fields, e.Name)
		}
	}
	return fields
}

func convertID(desc *doc.Descriptor, id any) (any, error) {
	e := desc.ID()
	if e == nil {
		return nil, fmt.Errorf("document %s has no id field", desc.Name)
	}
	return e.Convert(id)
}

func buildQuery(step Step) (datasource.Query, error) {
	mode, ok := datasource.ParseSoftDeleteMode(step.Mode)
	if !ok {
		return datasource.Query{}, fmt.Errorf("unknown mode %q", step.Mode)
	}
	q := datasource.Query{
		Args:     step.Args,
		Skip:     step.Skip,
		Take:     step.Take,
		LastPage: step.LastPage,
		Mode:     mode,
	}
	for _, f := range step.Filters {
		cond := ir.ConditionSpec{Field: f.Field, Op: f.Op, Param: f.Param, Begin: f.Begin, End: f.End, Or: f.Or}
		if f.Param == "" {
			v, err := ir.FromGo(f.Value)
			if err != nil {
				return datasource.Query{}, fmt.Errorf("filter on %s: %w", f.Field, err)
			}
			cond.Value = v
		}
		q.Filters = append(q.Filters, cond)
	}
	for _, s := range step.Sort {
		dir, ok := queryir.ParseSortDirection(s.Direction)
		if !ok {
			return datasource.Query{}, fmt.Errorf("unknown sort direction %q", s.Direction)
		}
		q.OrderBy = append(q.OrderBy, queryir.SortOrder{Field: s.Field, Direction: dir})
	}
	return q, nil
}

// RunFile loads the scenario at path and runs it.
func RunFile(ctx context.Context, path string, opts ...Option) (*Scenario, *Result, error) {
	scenario, err := LoadScenario(path)
	if err != nil {
		return nil, nil, err
	}
	result, err := Run(ctx, scenario, opts...)
	return scenario, result, err
}

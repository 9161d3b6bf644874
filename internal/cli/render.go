package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/roach88/dsq/internal/config"
	"github.com/roach88/dsq/internal/datasource"
	"github.com/roach88/dsq/internal/doc"
	"github.com/roach88/dsq/internal/docstore"
	"github.com/roach88/dsq/internal/querydoc"
	"github.com/roach88/dsq/internal/queryir"
	"github.com/roach88/dsq/internal/querysql"
)

// Render operations.
const (
	RenderSelect  = "select"
	RenderCount   = "count"
	RenderExtreme = "extreme"
	RenderInsert  = "insert"
	RenderUpdate  = "update"
	RenderDelete  = "delete"
	RenderRestore = "restore"
)

// RenderOps lists the operations render accepts.
var RenderOps = []string{RenderSelect, RenderCount, RenderExtreme, RenderInsert, RenderUpdate, RenderDelete, RenderRestore}

// RenderOptions holds flags for the render command.
type RenderOptions struct {
	*RootOptions
	Op       string
	Backend  string // sqlite | postgres | docstore; empty uses the configured backend
	Skip     int
	Take     int
	LastPage bool
}

// RenderResult is one rendered statement or request.
type RenderResult struct {
	DataSource string   `json:"datasource"`
	Op         string   `json:"op"`
	Backend    string   `json:"backend"`
	Text       string   `json:"text"`
	Params     []string `json:"params,omitempty"`
}

// NewRenderCommand creates the render command.
func NewRenderCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RenderOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "render <definitions> <datasource>",
		Short: "Print the statement a data source operation runs",
		Long: `Render one of a data source's plans without touching a database:
SQL for the sqlite and postgres backends, a JSON request for the
document store.

delete renders the soft delete when the data source soft-deletes.

Examples:
  dsq render ./defs Orders
  dsq render ./defs Orders --take 20 --skip 40 --last-page
  dsq render ./defs Orders --op update --backend postgres
  dsq render ./defs Notes --op delete --backend docstore`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Op, "op", RenderSelect, "operation ("+strings.Join(RenderOps, "|")+")")
	cmd.Flags().StringVar(&opts.Backend, "backend", "", "sqlite|postgres|docstore (default from config)")
	cmd.Flags().IntVar(&opts.Skip, "skip", 0, "rows to skip (select)")
	cmd.Flags().IntVar(&opts.Take, "take", -1, "rows to take, negative for all (select)")
	cmd.Flags().BoolVar(&opts.LastPage, "last-page", false, "fetch one extra row to detect the last page (select)")

	return cmd
}

func runRender(opts *RenderOptions, defsPath, name string, cmd *cobra.Command) error {
	if err := opts.setup(cmd.ErrOrStderr()); err != nil {
		return err
	}
	formatter := opts.formatter(cmd)

	if !slices.Contains(RenderOps, opts.Op) {
		return formatter.Fail(ExitCommandError, ErrCodeRender, fmt.Errorf("unknown op %q: must be one of %v", opts.Op, RenderOps))
	}
	backendName := opts.Backend
	if backendName == "" {
		backendName = opts.Config.Backend
	}

	// The backends only render here; they never reach a store.
	var backend datasource.Backend
	switch backendName {
	case config.BackendSQLite:
		backend = querysql.NewBackend(nil, querysql.SQLite, opts.Logger)
	case config.BackendPostgres:
		backend = querysql.NewBackend(nil, querysql.Postgres, opts.Logger)
	case config.BackendDocStore:
		backend = docstore.NewBackend(nil, opts.Logger)
	default:
		return formatter.Fail(ExitCommandError, ErrCodeRender, fmt.Errorf("unknown backend %q", backendName))
	}

	defs, err := loadChecked(formatter, defsPath)
	if err != nil {
		return err
	}
	ds, err := defs.dataSource(formatter, backend, name, opts.Config, opts.Logger)
	if err != nil {
		return err
	}

	result, err := renderOp(ds, backend, opts.Op, queryir.Page{Skip: opts.Skip, Take: opts.Take, LastPage: opts.LastPage && opts.Take >= 0})
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeRender, err)
	}
	result.DataSource, result.Backend = name, backendName

	if formatter.IsJSON() {
		return formatter.Success(result)
	}
	fmt.Fprintln(formatter.Writer, result.Text)
	if len(result.Params) > 0 {
		fmt.Fprintf(formatter.Writer, "-- params: %s\n", strings.Join(result.Params, ", "))
	}
	return nil
}

// renderOp renders the plan op runs. The statement text matches what the
// backend executes, before any query filters are applied.
func renderOp(ds *datasource.DataSource[doc.Record], backend datasource.Backend, op string, page queryir.Page) (RenderResult, error) {
	desc := ds.Descriptor()
	kind, fields := queryir.KindSelect, []string(nil)
	switch op {
	case RenderInsert:
		kind = queryir.KindInsert
		for _, e := range desc.Entries() {
			fields = append(fields, e.Name)
		}
	case RenderUpdate:
		kind = queryir.KindUpdate
		fields = writableFields(desc)
	case RenderDelete:
		kind = queryir.KindDelete
		if ds.SoftDelete() {
			kind = queryir.KindSoftDelete
		}
	case RenderRestore:
		kind = queryir.KindRestore
	}

	plan, ok := ds.Plan(kind)
	if !ok {
		return RenderResult{}, fmt.Errorf("data source %s has no %s plan", ds.Name(), kind)
	}

	switch b := backend.(type) {
	case *querysql.Backend:
		st, err := renderSQL(b.Renderer(), plan, op, kind, fields, page)
		if err != nil {
			return RenderResult{}, err
		}
		res := RenderResult{Op: op, Text: st.Text}
		for _, p := range st.Params {
			if !p.Const {
				res.Params = append(res.Params, p.Name)
			}
		}
		return res, nil

	case *docstore.Backend:
		req, err := renderDoc(b, plan, op, kind, fields, page)
		if err != nil {
			return RenderResult{}, err
		}
		text, err := json.MarshalIndent(req, "", "  ")
		if err != nil {
			return RenderResult{}, err
		}
		res := RenderResult{Op: op, Text: string(text)}
		for _, p := range req.Params {
			res.Params = append(res.Params, p.Name)
		}
		return res, nil
	}
	return RenderResult{}, fmt.Errorf("backend %T cannot render", backend)
}

func renderSQL(r *querysql.Renderer, plan *queryir.Builder, op string, kind queryir.Kind, fields []string, page queryir.Page) (querysql.Statement, error) {
	switch op {
	case RenderCount:
		return r.RenderCount(plan)
	case RenderExtreme:
		return r.RenderExtremeID(plan, true)
	case RenderInsert:
		return r.RenderInsert(plan, fields)
	case RenderUpdate:
		return r.RenderUpdate(plan, fields)
	case RenderDelete:
		if kind == queryir.KindSoftDelete {
			return r.RenderSoftDelete(plan)
		}
		return r.RenderDelete(plan)
	case RenderRestore:
		return r.RenderRestore(plan)
	}
	return r.RenderSelect(plan, page)
}

func renderDoc(b *docstore.Backend, plan *queryir.Builder, op string, kind queryir.Kind, fields []string, page queryir.Page) (querydoc.Request, error) {
	r := b.Renderer()
	switch op {
	case RenderCount:
		return r.RenderCount(plan)
	case RenderExtreme:
		return r.RenderExtremeID(plan, true)
	case RenderInsert:
		return r.RenderInsert(plan, fields)
	case RenderUpdate:
		return r.RenderUpdate(plan, fields)
	case RenderDelete:
		if kind == queryir.KindSoftDelete {
			return r.RenderSoftDelete(plan)
		}
		return r.RenderDelete(plan)
	case RenderRestore:
		return r.RenderRestore(plan)
	}
	return r.RenderFind(plan, page)
}

// writableFields lists the entries an update writes by default.
func writableFields(desc *doc.Descriptor) []string {
	var fields []string
	for _, e := range desc.Entries() {
		if e.Flags.Has(doc.FlagIDField) || e.Flags.Has(doc.FlagReadOnly) ||
			e.Flags.Has(doc.FlagDateCreated) || e.Flags.Has(doc.FlagDateDeleted) {
			continue
		}
		fields = append(fields, e.Name)
	}
	return fields
}

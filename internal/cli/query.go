package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/roach88/dsq/internal/datasource"
	"github.com/roach88/dsq/internal/doc"
	"github.com/roach88/dsq/internal/queryir"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	DB       string
	Args     []string
	Sort     []string
	Mode     string
	Skip     int
	Take     int
	LastPage bool
	Count    bool
}

// QueryResult holds the documents a query returned.
type QueryResult struct {
	DataSource string       `json:"datasource"`
	Count      int64        `json:"count"`
	Records    []doc.Record `json:"records,omitempty"`
	LastPage   *bool        `json:"last_page,omitempty"`
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <definitions> <datasource>",
		Short: "Select documents through a data source",
		Long: `Run a data source's select plan against the configured backend
and print the documents, one JSON object per line.

Plan parameters are passed with --arg. Soft-deleted documents are
hidden unless --mode deleted or --mode all is given.

Examples:
  dsq query ./defs Orders --db orders.db
  dsq query ./defs BigOrders --db orders.db --arg min=100 --sort name:desc
  dsq query ./defs Orders --db orders.db --take 10 --skip 20 --last-page
  dsq query ./defs Orders --db orders.db --count --mode deleted`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "SQLite file or document store directory (default from config)")
	cmd.Flags().StringArrayVar(&opts.Args, "arg", nil, "plan argument name=value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Sort, "sort", nil, "sort by field[:asc|desc] (repeatable)")
	cmd.Flags().StringVar(&opts.Mode, "mode", "actual", "soft-deleted documents (actual|deleted|all)")
	cmd.Flags().IntVar(&opts.Skip, "skip", 0, "documents to skip")
	cmd.Flags().IntVar(&opts.Take, "take", 0, "documents to take, zero for all")
	cmd.Flags().BoolVar(&opts.LastPage, "last-page", false, "report whether the page is the last one (needs --take)")
	cmd.Flags().BoolVar(&opts.Count, "count", false, "print the number of matching documents only")

	return cmd
}

func runQuery(ctx context.Context, opts *QueryOptions, defsPath, name string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := opts.setup(cmd.ErrOrStderr()); err != nil {
		return err
	}
	formatter := opts.formatter(cmd)

	q, rawArgs, err := opts.query()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeQuery, err)
	}

	defs, err := loadChecked(formatter, defsPath)
	if err != nil {
		return err
	}
	backend, closeBackend, err := openBackend(ctx, opts.Config, opts.DB, opts.Logger)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBackend, err)
	}
	defer closeBackend()

	ds, err := defs.dataSource(formatter, backend, name, opts.Config, opts.Logger,
		datasource.WithQueryText(func(text string) { formatter.VerboseLog("%s", text) }))
	if err != nil {
		return err
	}
	if plan, ok := ds.Plan(queryir.KindSelect); ok {
		q.Args = planArgs(plan, rawArgs)
	}

	result := QueryResult{DataSource: name}
	if opts.Count {
		n, err := ds.Count(ctx, q)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeQuery, err)
		}
		result.Count = n
		if formatter.IsJSON() {
			return formatter.Success(result)
		}
		fmt.Fprintln(formatter.Writer, n)
		return nil
	}

	cur, err := ds.Select(ctx, q)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeQuery, err)
	}
	defer cur.Close()
	for {
		ok, err := cur.MoveNextAsync(ctx)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeQuery, err)
		}
		if !ok {
			break
		}
		result.Records = append(result.Records, *cur.Current())
	}
	result.Count = int64(len(result.Records))
	if q.LastPage {
		last, err := cur.IsLastPage()
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeQuery, err)
		}
		result.LastPage = &last
	}

	if formatter.IsJSON() {
		return formatter.Success(result)
	}
	for _, rec := range result.Records {
		line, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		fmt.Fprintln(formatter.Writer, string(line))
	}
	if result.LastPage != nil {
		fmt.Fprintf(formatter.Writer, "-- %d document(s), last page: %t\n", result.Count, *result.LastPage)
	}
	return nil
}

// query translates the flags. Arguments stay raw until the plan's
// parameter types are known.
func (o *QueryOptions) query() (datasource.Query, map[string]string, error) {
	mode, ok := datasource.ParseSoftDeleteMode(o.Mode)
	if !ok {
		return datasource.Query{}, nil, fmt.Errorf("unknown mode %q: must be actual, deleted or all", o.Mode)
	}
	if o.Skip < 0 {
		return datasource.Query{}, nil, fmt.Errorf("--skip must not be negative")
	}
	if o.LastPage && o.Take <= 0 {
		return datasource.Query{}, nil, fmt.Errorf("--last-page needs a positive --take")
	}
	raw, err := parseAssignments(o.Args)
	if err != nil {
		return datasource.Query{}, nil, err
	}

	q := datasource.Query{Skip: o.Skip, Take: o.Take, LastPage: o.LastPage, Mode: mode}
	for _, s := range o.Sort {
		field, dirName, _ := strings.Cut(s, ":")
		dir, ok := queryir.ParseSortDirection(dirName)
		if !ok || field == "" {
			return datasource.Query{}, nil, fmt.Errorf("invalid sort %q: want field[:asc|desc]", s)
		}
		q.OrderBy = append(q.OrderBy, queryir.SortOrder{Field: field, Direction: dir})
	}
	return q, raw, nil
}

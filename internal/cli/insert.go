package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/dsq/internal/datasource"
	"github.com/roach88/dsq/internal/doc"
)

// InsertOptions holds flags for the insert command.
type InsertOptions struct {
	*RootOptions
	DB     string
	Fields []string
}

// InsertResult reports the stored document.
type InsertResult struct {
	DataSource string     `json:"datasource"`
	ID         any        `json:"id,omitempty"`
	Record     doc.Record `json:"record"`
}

// NewInsertCommand creates the insert command.
func NewInsertCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InsertOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "insert <definitions> <datasource>",
		Short: "Insert one document through a data source",
		Long: `Insert a document built from --set assignments. Fields left out
get their zero value (null when nullable). Without an id the data
source's generator assigns one, retrying on conflicts up to
idgen.max_attempts times.

Examples:
  dsq insert ./defs Orders --db orders.db --set name=first --set total=12.5
  dsq insert ./defs Orders --db orders.db --set id=40 --set name=explicit`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInsert(cmd.Context(), opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "SQLite file or document store directory (default from config)")
	cmd.Flags().StringArrayVar(&opts.Fields, "set", nil, "field value name=value (repeatable)")

	return cmd
}

func runInsert(ctx context.Context, opts *InsertOptions, defsPath, name string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := opts.setup(cmd.ErrOrStderr()); err != nil {
		return err
	}
	formatter := opts.formatter(cmd)

	raw, err := parseAssignments(opts.Fields)
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
	desc := ds.Descriptor()
	rec, err := recordFrom(desc, raw)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeQuery, err)
	}
	if _, err := ds.Insert(ctx, &rec); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeQuery, err)
	}

	result := InsertResult{DataSource: name, Record: rec}
	if e := desc.ID(); e != nil {
		result.ID = rec[e.Name]
	}
	if formatter.IsJSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "inserted %s %v\n", desc.Name, result.ID)
	return nil
}

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/dsq/internal/config"
	"github.com/roach88/dsq/internal/pgstore"
	"github.com/roach88/dsq/internal/store"
)

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	*RootOptions
	DB string
}

// MigrateResult reports a migration run.
type MigrateResult struct {
	Backend string `json:"backend"`
	Applied int    `json:"applied"`
	Version int    `json:"version,omitempty"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate <file.sql>...",
		Short: "Apply SQL schema scripts",
		Long: `Apply SQL scripts to the configured SQL backend. The first file is
schema version 1, the second version 2 and so on; versions the
database already has are skipped, so running migrate again is a
no-op.

SQLite records the version in user_version, PostgreSQL in the
dsq_schema_version table.

Examples:
  dsq migrate --db orders.db schema/001_orders.sql schema/002_notes.sql`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "SQLite file (default from config)")

	return cmd
}

func runMigrate(ctx context.Context, opts *MigrateOptions, paths []string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := opts.setup(cmd.ErrOrStderr()); err != nil {
		return err
	}
	formatter := opts.formatter(cmd)

	migrations, err := store.LoadMigrations(paths...)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeMigrate, err)
	}

	result := MigrateResult{Backend: opts.Config.Backend}
	switch opts.Config.Backend {
	case config.BackendPostgres:
		st, err := pgstore.Open(ctx, pgstore.Config{DSN: opts.Config.Postgres.DSN, MaxConns: opts.Config.Postgres.MaxConns})
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeBackend, err)
		}
		defer st.Close()

		scripts := make([]string, len(migrations))
		for i, m := range migrations {
			scripts[i] = m.SQL
		}
		if result.Applied, err = st.Migrate(ctx, scripts); err != nil {
			return formatter.Fail(ExitFailure, ErrCodeMigrate, err)
		}

	case config.BackendSQLite:
		path := opts.DB
		if path == "" {
			path = opts.Config.SQLite.Path
		}
		st, err := store.Open(path)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeBackend, err)
		}
		defer st.Close()

		for _, m := range migrations {
			formatter.VerboseLog("Migration %d: %s", m.Version, m.Name)
		}
		if result.Applied, err = st.Migrate(ctx, migrations); err != nil {
			return formatter.Fail(ExitFailure, ErrCodeMigrate, err)
		}
		if result.Version, err = st.Version(ctx); err != nil {
			return formatter.Fail(ExitFailure, ErrCodeMigrate, err)
		}

	default:
		return formatter.Fail(ExitCommandError, ErrCodeMigrate, fmt.Errorf("backend %s has no SQL schema", opts.Config.Backend))
	}

	if formatter.IsJSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "applied %d migration(s)", result.Applied)
	if result.Version > 0 {
		fmt.Fprintf(formatter.Writer, ", schema version %d", result.Version)
	}
	fmt.Fprintln(formatter.Writer)
	return nil
}

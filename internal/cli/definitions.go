package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/roach88/dsq/internal/compiler"
	"github.com/roach88/dsq/internal/config"
	"github.com/roach88/dsq/internal/datasource"
	"github.com/roach88/dsq/internal/doc"
	"github.com/roach88/dsq/internal/docstore"
	"github.com/roach88/dsq/internal/idgen"
	"github.com/roach88/dsq/internal/pgstore"
	"github.com/roach88/dsq/internal/querysql"
	"github.com/roach88/dsq/internal/store"
)

// loaded is a checked set of definitions.
type loaded struct {
	defs *compiler.Definitions
	docs *doc.Registry
}

// loadChecked loads the definitions at path and rejects any that fail
// Check. Every failure is a command error.
func loadChecked(f *OutputFormatter, path string) (*loaded, error) {
	defs, errs := compiler.LoadDefinitions(path, compiler.LoadModeFailFast)
	if len(errs) > 0 {
		return nil, f.Fail(ExitCommandError, loadErrorCode(errs[0]), errs[0])
	}
	f.VerboseLog("Loaded %d document(s) and %d data source(s) from %d file(s)", len(defs.Documents), len(defs.DataSources), defs.FileCount)

	if problems := defs.Check(); len(problems) > 0 {
		p := problems[0]
		return nil, f.Fail(ExitCommandError, p.Code, fmt.Errorf("invalid definitions: %w", p))
	}
	docs, err := defs.Registry()
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeGeneric, err)
	}
	return &loaded{defs: defs, docs: docs}, nil
}

func loadErrorCode(err error) string {
	var loadErr *compiler.LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code
	}
	return ErrCodeGeneric
}

// dataSource builds the named data source over backend. Id generators
// without an explicit retry bound use the configured one.
func (l *loaded) dataSource(f *OutputFormatter, backend datasource.Backend, name string, cfg config.Config, logger *slog.Logger, opts ...datasource.Option) (*datasource.DataSource[doc.Record], error) {
	spec, ok := l.defs.DataSource(name)
	if !ok {
		return nil, f.Fail(ExitCommandError, ErrCodeDataSource, fmt.Errorf("unknown data source %q", name))
	}

	attempts := cfg.IDGen.MaxAttempts
	base := []datasource.Option{datasource.WithLogger(logger)}
	switch {
	case spec.IDGen != nil:
		if spec.IDGen.MaxAttempts == 0 {
			g := *spec.IDGen
			g.MaxAttempts = attempts
			spec.IDGen = &g
		}
	default:
		if d, ok := l.docs.Lookup(spec.Document); ok && d.ID() != nil {
			switch d.ID().Type.Kind() {
			case reflect.Int, reflect.Int32, reflect.Int64:
				base = append(base, datasource.WithSequential(idgen.Config{StartAt: 1, Step: 1, MaxAttempts: attempts}))
			case reflect.String:
				base = append(base, datasource.WithIDGenerator(idgen.UUIDv7{Attempts: attempts}))
			}
		}
	}

	ds, err := datasource.FromSpec(backend, spec, l.docs, append(base, opts...)...)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeDataSource, err)
	}
	return ds, nil
}

// openBackend opens the configured store. path, when set, replaces the
// configured SQLite file or document store directory.
func openBackend(ctx context.Context, cfg config.Config, path string, logger *slog.Logger) (datasource.Backend, func(), error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		st, err := pgstore.Open(ctx, pgstore.Config{DSN: cfg.Postgres.DSN, MaxConns: cfg.Postgres.MaxConns})
		if err != nil {
			return nil, nil, err
		}
		return querysql.NewBackend(st, querysql.Postgres, logger), st.Close, nil

	case config.BackendDocStore:
		if path == "" {
			path = cfg.DocStore.Path
		}
		st, err := docstore.Open(path)
		if err != nil {
			return nil, nil, err
		}
		return docstore.NewBackend(st, logger), func() { st.Close() }, nil

	default:
		if path == "" {
			path = cfg.SQLite.Path
		}
		st, err := store.Open(path)
		if err != nil {
			return nil, nil, err
		}
		return querysql.NewBackend(st, querysql.SQLite, logger), func() { st.Close() }, nil
	}
}

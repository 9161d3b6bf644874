// Package pgstore executes rendered SQL against PostgreSQL through a pgx
// connection pool.
//
// Statements keep the @name placeholders the renderer emits; pgx.NamedArgs
// rewrites them to positional parameters. Unique violations (SQLSTATE
// 23505) surface as dserr.CodeConflict.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/dsq/internal/cursor"
	"github.com/roach88/dsq/internal/dserr"
	"github.com/roach88/dsq/internal/querysql"
)

const uniqueViolation = "23505"

// Config holds pool settings.
type Config struct {
	DSN      string
	MaxConns int32
}

// Store wraps a pgx pool.
type Store struct {
	Pool *pgxpool.Pool
}

var _ querysql.Executor = (*Store)(nil)

// Open creates a pool and verifies it with a ping.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{Pool: pool}, nil
}

// Close closes the pool.
func (s *Store) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// Query runs a statement and streams its rows.
func (s *Store) Query(ctx context.Context, text string, args []querysql.Arg) (cursor.Source[querysql.Row], error) {
	rows, err := s.Pool.Query(ctx, text, namedArgs(args))
	if err != nil {
		return nil, mapError("query", err)
	}
	return &rowSource{rows: rows}, nil
}

// Exec runs a statement and returns the number of rows affected.
func (s *Store) Exec(ctx context.Context, text string, args []querysql.Arg) (int64, error) {
	tag, err := s.Pool.Exec(ctx, text, namedArgs(args))
	if err != nil {
		return 0, mapError("exec", err)
	}
	return tag.RowsAffected(), nil
}

// WithTx executes fn within a transaction, rolling back when it fails.
func (s *Store) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("transaction error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Migrate applies scripts newer than the version recorded in
// dsq_schema_version, each in its own transaction. scripts[i] is version
// i+1. It returns the number applied.
func (s *Store) Migrate(ctx context.Context, scripts []string) (int, error) {
	if _, err := s.Pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS dsq_schema_version (version INTEGER NOT NULL)`); err != nil {
		return 0, fmt.Errorf("migrate: %w", err)
	}
	var version int
	err := s.Pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM dsq_schema_version`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("migrate: read version: %w", err)
	}

	applied := 0
	for i := version; i < len(scripts); i++ {
		err := s.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, scripts[i]); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO dsq_schema_version (version) VALUES ($1)`, i+1)
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("migrate to version %d: %w", i+1, err)
		}
		applied++
	}
	return applied, nil
}

func namedArgs(args []querysql.Arg) pgx.NamedArgs {
	out := make(pgx.NamedArgs, len(args))
	for _, a := range args {
		out[a.Name] = a.Value
	}
	return out
}

func mapError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return dserr.Wrap(dserr.CodeConflict, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// rowSource streams pgx rows as maps keyed by result column.
type rowSource struct {
	rows pgx.Rows
}

func (r *rowSource) Next(ctx context.Context) (querysql.Row, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return nil, false, mapError("read rows", err)
		}
		return nil, false, nil
	}
	values, err := r.rows.Values()
	if err != nil {
		return nil, false, fmt.Errorf("scan row: %w", err)
	}
	fields := r.rows.FieldDescriptions()
	row := make(querysql.Row, len(fields))
	for i, f := range fields {
		row[f.Name] = values[i]
	}
	return row, true, nil
}

func (r *rowSource) Close() error {
	r.rows.Close()
	return r.rows.Err()
}

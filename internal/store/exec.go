package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/dsq/internal/cursor"
	"github.com/roach88/dsq/internal/dserr"
	"github.com/roach88/dsq/internal/querysql"
)

var _ querysql.Executor = (*Store)(nil)

// Query runs a statement and streams its rows. The driver binds @name
// placeholders from sql.Named arguments.
func (s *Store) Query(ctx context.Context, text string, args []querysql.Arg) (cursor.Source[querysql.Row], error) {
	rows, err := s.db.QueryContext(ctx, text, named(args)...)
	if err != nil {
		return nil, mapError("query", err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("query: %w", err)
	}
	return &rowSource{rows: rows, cols: cols}, nil
}

// Exec runs a statement and returns the number of rows affected.
func (s *Store) Exec(ctx context.Context, text string, args []querysql.Arg) (int64, error) {
	res, err := s.db.ExecContext(ctx, text, named(args)...)
	if err != nil {
		return 0, mapError("exec", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("exec: rows affected: %w", err)
	}
	return n, nil
}

func named(args []querysql.Arg) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = sql.Named(a.Name, a.Value)
	}
	return out
}

// mapError reports unique and primary-key violations as conflicts.
func mapError(op string, err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return dserr.Wrap(dserr.CodeConflict, op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// rowSource streams *sql.Rows as maps keyed by column name.
type rowSource struct {
	rows *sql.Rows
	cols []string
}

func (r *rowSource) Next(ctx context.Context) (querysql.Row, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return nil, false, fmt.Errorf("read rows: %w", err)
		}
		return nil, false, nil
	}

	values := make([]any, len(r.cols))
	ptrs := make([]any, len(r.cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, false, fmt.Errorf("scan row: %w", err)
	}

	row := make(querysql.Row, len(r.cols))
	for i, c := range r.cols {
		row[c] = values[i]
	}
	return row, true, nil
}

func (r *rowSource) Close() error {
	return r.rows.Close()
}

package pgstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dsq/internal/cursor"
	"github.com/roach88/dsq/internal/dserr"
	"github.com/roach88/dsq/internal/querysql"
)

func TestMapError(t *testing.T) {
	unique := fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "23505", Message: "duplicate key"})
	assert.True(t, dserr.IsConflict(mapError("exec", unique)))

	notNull := &pgconn.PgError{Code: "23502"}
	err := mapError("exec", notNull)
	assert.False(t, dserr.IsConflict(err))
	assert.ErrorIs(t, err, notNull)

	assert.EqualError(t, mapError("query", errors.New("boom")), "query: boom")
}

func TestNamedArgs(t *testing.T) {
	got := namedArgs([]querysql.Arg{{Name: "id", Value: int64(1)}, {Name: "c0", Value: "x"}})
	assert.Equal(t, pgx.NamedArgs{"id": int64(1), "c0": "x"}, got)
}

// TestStore_Postgres runs against a live server when DSQ_TEST_POSTGRES_DSN
// is set.
func TestStore_Postgres(t *testing.T) {
	dsn := os.Getenv("DSQ_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DSQ_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, Config{DSN: dsn, MaxConns: 2})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Pool.Exec(ctx, `DROP TABLE IF EXISTS dsq_pg_orders`)
	require.NoError(t, err)
	_, err = s.Pool.Exec(ctx, `CREATE TABLE dsq_pg_orders (id BIGINT PRIMARY KEY, name TEXT NOT NULL)`)
	require.NoError(t, err)

	insert := `INSERT INTO dsq_pg_orders (id, name) VALUES (@id, @name)`
	n, err := s.Exec(ctx, insert, []querysql.Arg{{Name: "id", Value: int64(1)}, {Name: "name", Value: "a"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.Exec(ctx, insert, []querysql.Arg{{Name: "id", Value: int64(1)}, {Name: "name", Value: "b"}})
	assert.True(t, dserr.IsConflict(err))

	src, err := s.Query(ctx, `SELECT "id", "name" FROM dsq_pg_orders WHERE "id" = @id`, []querysql.Arg{{Name: "id", Value: int64(1)}})
	require.NoError(t, err)
	rows, err := cursor.Collect(cursor.New(ctx, src))
	require.NoError(t, err)
	assert.Equal(t, []querysql.Row{{"id": int64(1), "name": "a"}}, rows)
}

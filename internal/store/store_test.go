package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dsq/internal/cursor"
	"github.com/roach88/dsq/internal/doc"
	"github.com/roach88/dsq/internal/dserr"
	"github.com/roach88/dsq/internal/ir"
	"github.com/roach88/dsq/internal/queryir"
	"github.com/roach88/dsq/internal/querysql"
)

const ordersSchema = `
CREATE TABLE orders (
	id      INTEGER PRIMARY KEY,
	name    TEXT NOT NULL,
	deleted DATETIME
);
CREATE UNIQUE INDEX idx_orders_name ON orders(name);
`

// createTestStore opens a migrated database under t.TempDir().
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.Migrate(context.Background(), []Migration{{Version: 1, Name: "orders", SQL: ordersSchema}})
	require.NoError(t, err)
	return s
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	assert.Error(t, err)
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	assert.NoError(t, s.Close())
}

func TestPragmas(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer s.Close()

	tests := []struct {
		pragma string
		want   string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.pragma, func(t *testing.T) {
			assert.NoError(t, s.verifyPragma(tt.pragma, tt.want))
		})
	}
}

func TestMigrate_AppliesOnceInOrder(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")
	migrations := []Migration{
		{Version: 1, Name: "orders", SQL: ordersSchema},
		{Version: 2, Name: "notes", SQL: "ALTER TABLE orders ADD COLUMN note TEXT"},
	}

	s, err := Open(path)
	require.NoError(t, err)
	n, err := s.Migrate(ctx, migrations[:1])
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	n, err = s.Migrate(ctx, migrations)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the new migration runs")

	v, err := s.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	n, err = s.Migrate(ctx, migrations)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMigrate_FailureRollsBack(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Migrate(ctx, []Migration{{Version: 1, Name: "broken.sql", SQL: "CREATE TABLE x (id INTEGER); CREATE TABL y"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.sql")

	v, err := s.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestMigrate_RejectsGap(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Migrate(context.Background(), []Migration{{Version: 2, Name: "two", SQL: "SELECT 1"}})
	assert.ErrorContains(t, err, "expected 1")
}

func TestLoadMigrations(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "001_orders.sql")
	b := filepath.Join(dir, "002_notes.sql")
	require.NoError(t, os.WriteFile(a, []byte(ordersSchema), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("SELECT 1"), 0o644))

	ms, err := LoadMigrations(a, b)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, Migration{Version: 2, Name: "002_notes.sql", SQL: "SELECT 1"}, ms[1])

	_, err = LoadMigrations(filepath.Join(dir, "missing.sql"))
	assert.Error(t, err)
}

func TestExecAndQuery_NamedParameters(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	n, err := s.Exec(ctx, `INSERT INTO orders (id, name) VALUES (@id, @name)`, []querysql.Arg{
		{Name: "id", Value: int64(1)},
		{Name: "name", Value: "first"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	src, err := s.Query(ctx, `SELECT "id", "name" AS "label" FROM orders WHERE id = @id`, []querysql.Arg{{Name: "id", Value: int64(1)}})
	require.NoError(t, err)
	rows, err := cursor.Collect(cursor.New(ctx, src))
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0]["id"])
	assert.Contains(t, []any{"first", []byte("first")}, rows[0]["label"])
}

func TestQuery_ExcludedColumnKeepsEntryName(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	_, err := s.Exec(ctx, `INSERT INTO orders (id, name) VALUES (1, 'first')`, nil)
	require.NoError(t, err)

	d, err := doc.FromSpec(ir.DocumentSpec{
		Name:      "Order",
		Container: "orders",
		Kind:      "table",
		Fields: []ir.FieldSpec{
			{Name: "id", Type: "int", Flags: []string{"id"}},
			{Name: "name", Type: "string"},
		},
	})
	require.NoError(t, err)
	plan, err := queryir.SelectAll(queryir.Target{Descriptor: d}, queryir.FamilySQL)
	require.NoError(t, err)
	require.NoError(t, plan.Exclude(queryir.DefaultAlias, "name"))

	st, err := querysql.NewRenderer(querysql.SQLite).RenderSelect(plan, queryir.Unbounded)
	require.NoError(t, err)

	src, err := s.Query(ctx, st.Text, nil)
	require.NoError(t, err)
	rows, err := cursor.Collect(cursor.New(ctx, src))
	require.NoError(t, err)

	// Rows are keyed by column name, so the excluded column must carry the
	// entry name rather than SQLite's "NULL".
	require.Len(t, rows, 1)
	assert.Equal(t, querysql.Row{"id": int64(1), "name": nil}, rows[0])
}

func TestExec_ConstraintViolationIsConflict(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	insert := `INSERT INTO orders (id, name) VALUES (@id, @name)`

	_, err := s.Exec(ctx, insert, []querysql.Arg{{"id", int64(1)}, {"name", "a"}})
	require.NoError(t, err)

	_, err = s.Exec(ctx, insert, []querysql.Arg{{"id", int64(1)}, {"name", "b"}})
	assert.True(t, dserr.IsConflict(err), "primary key: %v", err)

	_, err = s.Exec(ctx, insert, []querysql.Arg{{"id", int64(2)}, {"name", "a"}})
	assert.True(t, dserr.IsConflict(err), "unique index: %v", err)

	_, err = s.Exec(ctx, `INSERT INTO orders (id) VALUES (@id)`, []querysql.Arg{{"id", int64(3)}})
	require.Error(t, err)
	assert.False(t, dserr.IsConflict(err), "NOT NULL is not a conflict")
}

func TestQuery_CancelledContext(t *testing.T) {
	s := createTestStore(t)
	_, err := s.Exec(context.Background(), `INSERT INTO orders (id, name, deleted) VALUES (1, 'a', @deleted)`,
		[]querysql.Arg{{"deleted", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	src, err := s.Query(ctx, `SELECT * FROM orders`, nil)
	require.NoError(t, err)
	cancel()

	c := cursor.New(ctx, src)
	_, err = c.MoveNext()
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, cursor.Closed, c.State())
}

package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/dsq/internal/docstore"
	"github.com/roach88/dsq/internal/store"
)

// Order is the fixture document shared by package tests.
type Order struct {
	ID       int64      `ds:"id,id"`
	Name     string     `ds:"name"`
	Customer int64      `ds:"customerId,foreign" db:"customer_id"`
	Total    float64    `ds:"total"`
	Created  time.Time  `ds:"created,created" db:"created_at"`
	Updated  *time.Time `ds:"updated,updated" db:"updated_at"`
	Deleted  *time.Time `ds:"deleted,deleted"`
}

// OrdersSchema creates the table Order documents live in.
const OrdersSchema = `
CREATE TABLE orders (
	id          INTEGER PRIMARY KEY,
	name        TEXT NOT NULL,
	customer_id INTEGER NOT NULL DEFAULT 0,
	total       REAL NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME,
	deleted     DATETIME
);
CREATE UNIQUE INDEX idx_orders_name ON orders(name);
`

// OpenSQLite opens a SQLite store under t.TempDir() and applies schemas as
// consecutive migrations. The store is closed when the test ends.
func OpenSQLite(t *testing.T, schemas ...string) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	migrations := make([]store.Migration, len(schemas))
	for i, sql := range schemas {
		migrations[i] = store.Migration{Version: i + 1, Name: "fixture", SQL: sql}
	}
	_, err = s.Migrate(context.Background(), migrations)
	require.NoError(t, err)
	return s
}

// OpenPebble opens an in-memory document store that is closed when the
// test ends.
func OpenPebble(t *testing.T) *docstore.Store {
	t.Helper()
	s, err := docstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

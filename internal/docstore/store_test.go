package docstore

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dsq/internal/dserr"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDocKey_OrdersIntegers(t *testing.T) {
	ids := []int64{-1 << 40, -2, -1, 0, 1, 2, 255, 256, 1 << 40}
	var prev []byte
	for _, id := range ids {
		key, err := docKey("orders", id)
		require.NoError(t, err)
		if prev != nil {
			assert.Negative(t, bytes.Compare(prev, key), "key of %d sorts after its predecessor", id)
		}
		prev = key

		got, err := decodeID(key, len("orders")+1)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}
}

func TestDocKey_Strings(t *testing.T) {
	key, err := docKey("notes", "abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("notes\x00sabc"), key)

	got, err := decodeID(key, len("notes")+1)
	require.NoError(t, err)
	assert.Equal(t, "abc", got)

	_, err = docKey("notes", 1.5)
	assert.Equal(t, dserr.CodeInvalidArgument, dserr.CodeOf(err))
}

func TestInsertAndGet(t *testing.T) {
	s := createTestStore(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.Insert("orders", int64(1), map[string]any{
		"id": int64(1), "name": "first", "total": 2.5, "created_at": created, "deleted": nil,
	}))

	d, ok, err := s.Get("orders", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{
		"id": int64(1), "name": "first", "total": 2.5, "created_at": "2026-01-02T03:04:05Z", "deleted": nil,
	}, d)

	_, ok, err = s.Get("orders", 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInsert_ExistingIDIsConflict(t *testing.T) {
	s := createTestStore(t)
	require.NoError(t, s.Insert("orders", int64(1), map[string]any{"id": int64(1)}))

	err := s.Insert("orders", int64(1), map[string]any{"id": int64(1)})
	assert.True(t, dserr.IsConflict(err), "got %v", err)

	require.NoError(t, s.Insert("customers", int64(1), map[string]any{"id": int64(1)}), "collections are separate key ranges")
}

func TestInsert_InvalidCollection(t *testing.T) {
	s := createTestStore(t)
	assert.True(t, dserr.IsConfiguration(s.Insert("", 1, nil)))
	assert.True(t, dserr.IsConfiguration(s.Insert("a\x00b", 1, nil)))
}

func TestScan_CollectionInIDOrder(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	for _, id := range []int64{10, -3, 2} {
		require.NoError(t, s.Insert("orders", id, map[string]any{"id": id}))
	}
	require.NoError(t, s.Insert("orders2", int64(1), map[string]any{"id": int64(1)}))
	require.NoError(t, s.Insert("order", int64(1), map[string]any{"id": int64(1)}))

	var ids []any
	require.NoError(t, s.Scan(ctx, "orders", func(id any, _ map[string]any) error {
		ids = append(ids, id)
		return nil
	}))
	assert.Equal(t, []any{int64(-3), int64(2), int64(10)}, ids)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := s.Scan(cancelled, "orders", func(any, map[string]any) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMutate(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	for _, id := range []int64{1, 2, 3} {
		require.NoError(t, s.Insert("orders", id, map[string]any{"id": id, "n": id * 10}))
	}

	n, err := s.Mutate(ctx, "orders", func(id any, d map[string]any) (map[string]any, bool, error) {
		switch id {
		case int64(1):
			d["n"] = int64(11)
			return d, true, nil
		case int64(2):
			return nil, true, nil
		}
		return nil, false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	d, ok, err := s.Get("orders", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(11), d["n"])

	_, ok, err = s.Get("orders", 2)
	require.NoError(t, err)
	assert.False(t, ok)

	d, _, err = s.Get("orders", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(30), d["n"])
}

func TestExtremeID(t *testing.T) {
	s := createTestStore(t)

	id, err := s.ExtremeID("orders", true)
	require.NoError(t, err)
	assert.Nil(t, id, "empty collection")

	for _, id := range []int64{7, -2, 41} {
		require.NoError(t, s.Insert("orders", id, map[string]any{"id": id}))
	}
	require.NoError(t, s.Insert("orders", "zzz", map[string]any{"id": "zzz"}))
	require.NoError(t, s.Insert("orderz", int64(99), map[string]any{"id": int64(99)}))

	id, err = s.ExtremeID("orders", true)
	require.NoError(t, err)
	assert.Equal(t, int64(41), id)

	id, err = s.ExtremeID("orders", false)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), id)
}

func TestOpen_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Insert("orders", int64(1), map[string]any{"id": int64(1), "name": "kept"}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	d, ok, err := s.Get("orders", int64(1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "kept", d["name"])
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	assert.NoError(t, s.Close())
}

package querysql

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dsq/internal/cursor"
	"github.com/roach88/dsq/internal/queryir"
)

type call struct {
	text string
	args []Arg
}

// fakeExecutor records statements and replies with canned rows.
type fakeExecutor struct {
	calls    []call
	rows     []Row
	affected int64
}

func (f *fakeExecutor) Query(_ context.Context, text string, args []Arg) (cursor.Source[Row], error) {
	f.calls = append(f.calls, call{text, args})
	return cursor.FromSlice(f.rows), nil
}

func (f *fakeExecutor) Exec(_ context.Context, text string, args []Arg) (int64, error) {
	f.calls = append(f.calls, call{text, args})
	return f.affected, nil
}

func TestBackend_SelectTracesStatement(t *testing.T) {
	exec := &fakeExecutor{rows: []Row{{"id": int64(1), "name": "a"}}}
	b := NewBackend(exec, SQLite, nil)
	plan, err := queryir.SelectByID(queryir.Target{Descriptor: ordersDoc(t)}, queryir.FamilySQL)
	require.NoError(t, err)

	var traced []string
	ctx := queryir.WithStatementHook(context.Background(), func(text string) { traced = append(traced, text) })

	src, err := b.Select(ctx, plan, map[string]any{"id": int64(1)}, queryir.Unbounded)
	require.NoError(t, err)
	rows, err := cursor.Collect(cursor.New(ctx, src))
	require.NoError(t, err)

	assert.Equal(t, exec.rows, rows)
	require.Len(t, exec.calls, 1)
	assert.Equal(t, []Arg{{Name: "id", Value: int64(1)}}, exec.calls[0].args)
	assert.Equal(t, []string{exec.calls[0].text}, traced)
}

func TestBackend_InsertWritesPresentFieldsInOrder(t *testing.T) {
	exec := &fakeExecutor{affected: 1}
	b := NewBackend(exec, SQLite, nil)
	plan, err := queryir.InsertInto(queryir.Target{Descriptor: fullOrdersDoc(t)}, queryir.FamilySQL)
	require.NoError(t, err)

	require.NoError(t, b.Insert(context.Background(), plan, map[string]any{
		"total": 9.5,
		"id":    int64(4),
		"name":  "n",
	}))
	require.Len(t, exec.calls, 1)
	assert.Equal(t, "INSERT INTO \"orders\" (\n\t\"id\",\n\t\"name\",\n\t\"total\"\n)\nVALUES (\n\t@id,\n\t@name,\n\t@total\n)\n", exec.calls[0].text)
	assert.Equal(t, []Arg{{"id", int64(4)}, {"name", "n"}, {"total", 9.5}}, exec.calls[0].args)
}

func TestBackend_UpdateKinds(t *testing.T) {
	d := fullOrdersDoc(t)
	target := queryir.Target{Descriptor: d}

	update, err := queryir.UpdateByID(target, queryir.FamilySQL)
	require.NoError(t, err)
	soft, err := queryir.SoftDeleteByID(target, queryir.FamilySQL)
	require.NoError(t, err)

	exec := &fakeExecutor{affected: 1}
	b := NewBackend(exec, SQLite, nil)

	n, err := b.Update(context.Background(), update, map[string]any{"name": "x"}, map[string]any{"id": int64(2)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Contains(t, exec.calls[0].text, "SET\n\t\"name\" = @name\nWHERE")
	assert.Equal(t, []Arg{{"name", "x"}, {"id", int64(2)}}, exec.calls[0].args)

	_, err = b.Update(context.Background(), soft, map[string]any{"deleted": "2026-01-02T00:00:00Z", "name": "ignored"}, map[string]any{"id": int64(2)})
	require.NoError(t, err)
	assert.Contains(t, exec.calls[1].text, "SET\n\t\"deleted\" = @deleted\nWHERE")
	assert.NotContains(t, exec.calls[1].text, "@name")
}

func TestBackend_CountAndExtremeID(t *testing.T) {
	exec := &fakeExecutor{rows: []Row{{CountColumn: int64(3), ExtremeColumn: int64(41)}}}
	b := NewBackend(exec, Postgres, nil)
	plan, err := queryir.SelectAll(queryir.Target{Descriptor: ordersDoc(t)}, queryir.FamilySQL)
	require.NoError(t, err)

	n, err := b.Count(context.Background(), plan, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	id, err := b.ExtremeID(context.Background(), plan, true)
	require.NoError(t, err)
	assert.Equal(t, int64(41), id)

	exec.rows = []Row{{ExtremeColumn: nil}}
	id, err = b.ExtremeID(context.Background(), plan, false)
	require.NoError(t, err)
	assert.Nil(t, id)
}

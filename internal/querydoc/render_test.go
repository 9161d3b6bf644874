package querydoc

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dsq/internal/doc"
	"github.com/roach88/dsq/internal/dserr"
	"github.com/roach88/dsq/internal/ir"
	"github.com/roach88/dsq/internal/queryir"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func notesDoc(t *testing.T) *doc.Descriptor {
	t.Helper()
	d, err := doc.FromSpec(ir.DocumentSpec{
		Name:      "Note",
		Container: "notes",
		Fields: []ir.FieldSpec{
			{Name: "id", Type: "int", Flags: []string{"id"}},
			{Name: "title", Type: "string"},
			{Name: "authorId", Column: "author_id", Type: "int", Flags: []string{"foreign"}},
			{Name: "rank", Type: "float"},
			{Name: "removed", Type: "time", Nullable: true, Flags: []string{"deleted"}},
		},
	})
	require.NoError(t, err)
	return d
}

func assertGolden(t *testing.T, name string, req Request) {
	t.Helper()
	data, err := json.MarshalIndent(req, "", "  ")
	require.NoError(t, err)
	newGoldie(t).Assert(t, name, append(data, '\n'))
}

func TestRenderFind_Golden(t *testing.T) {
	b := queryir.NewBuilder(queryir.KindSelect, queryir.FamilyDocument)
	require.NoError(t, b.From(notesDoc(t), "n", "notes", queryir.ContainerCollection))
	require.NoError(t, b.WhereParam("n", "authorId", queryir.Eq, "@author"))
	b.Or()
	require.NoError(t, b.Where("n", "rank", queryir.Gt, 2.5))
	b.GroupFilters(0)
	require.NoError(t, b.Where("n", "removed", queryir.Eq, nil))
	require.NoError(t, b.OrderBy("n", "rank", queryir.Descending))
	require.NoError(t, b.Exclude("n", "title"))

	req, err := NewRenderer().RenderFind(b, queryir.Page{Skip: 5, Take: 10, LastPage: true})
	require.NoError(t, err)
	assertGolden(t, "find_groups", req)
}

func TestRenderSoftDelete_Golden(t *testing.T) {
	plan, err := queryir.SoftDeleteByID(queryir.Target{Descriptor: notesDoc(t)}, queryir.FamilyDocument)
	require.NoError(t, err)

	req, err := NewRenderer().RenderSoftDelete(plan)
	require.NoError(t, err)
	assertGolden(t, "soft_delete", req)
}

func TestRenderFind_Unbounded(t *testing.T) {
	plan, err := queryir.SelectAll(queryir.Target{Descriptor: notesDoc(t)}, queryir.FamilyDocument)
	require.NoError(t, err)

	req, err := NewRenderer().RenderFind(plan, queryir.Unbounded)
	require.NoError(t, err)
	assert.Nil(t, req.Limit)
	assert.Nil(t, req.Filter)
	assert.Len(t, req.Fields, 5)
	assert.NotContains(t, req.Text(), `"limit"`)
	assert.Contains(t, req.Text(), `"op":"find"`)
}

func TestRenderMutations(t *testing.T) {
	target := queryir.Target{Descriptor: notesDoc(t)}
	r := NewRenderer()

	insert, err := queryir.InsertInto(target, queryir.FamilyDocument)
	require.NoError(t, err)
	req, err := r.RenderInsert(insert, []string{"id", "authorId"})
	require.NoError(t, err)
	assert.Equal(t, OpInsert, req.Op)
	assert.Equal(t, []Field{{Name: "id", Key: "id"}, {Name: "authorId", Key: "author_id"}}, req.Fields)
	assert.Equal(t, []Param{{Name: "id"}, {Name: "authorId"}}, req.Params)

	update, err := queryir.UpdateByID(target, queryir.FamilyDocument)
	require.NoError(t, err)
	req, err = r.RenderUpdate(update, []string{"title"})
	require.NoError(t, err)
	assert.Equal(t, &Filter{Key: "id", Op: "eq", Param: "id"}, req.Filter)
	assert.Equal(t, []string{"title", "id"}, paramNames(req))

	_, err = r.RenderUpdate(update, []string{"id"})
	assert.True(t, dserr.IsConfiguration(err), "id collides with @id: %v", err)

	restore, err := queryir.RestoreByID(target, queryir.FamilyDocument)
	require.NoError(t, err)
	req, err = r.RenderRestore(restore)
	require.NoError(t, err)
	require.Len(t, req.Filter.And, 2)
	assert.Equal(t, &Filter{Key: "removed", Op: "ne", Null: true}, req.Filter.And[1])

	del, err := queryir.DeleteByID(target, queryir.FamilyDocument)
	require.NoError(t, err)
	req, err = r.RenderDelete(del)
	require.NoError(t, err)
	assert.Equal(t, OpDelete, req.Op)
	assert.Empty(t, req.Fields)

	sel, err := queryir.SelectAll(target, queryir.FamilyDocument)
	require.NoError(t, err)
	req, err = r.RenderExtremeID(sel, true)
	require.NoError(t, err)
	assert.Equal(t, Request{Op: OpExtreme, Collection: "notes", IDKey: "id", Max: true}, req)
}

func TestRenderAggregate(t *testing.T) {
	b := queryir.NewBuilder(queryir.KindSelect, queryir.FamilyDocument)
	require.NoError(t, b.From(notesDoc(t), "n", "notes", queryir.ContainerCollection))
	require.NoError(t, b.Aggregate(queryir.AggSum, "n", "authorId", "authors"))
	require.NoError(t, b.Aggregate(queryir.AggCount, "n", "", "n"))
	require.NoError(t, b.Where("n", "title", queryir.In, []string{"a", "b"}))

	req, err := NewRenderer().RenderAggregate(b)
	require.NoError(t, err)
	assert.Equal(t, []Aggregation{
		{Func: "sum", Key: "author_id", Name: "authors"},
		{Func: "count", Name: "n"},
	}, req.Aggregations)
	assert.Equal(t, []any{"a", "b"}, req.Filter.Value)
}

func TestRender_Errors(t *testing.T) {
	notes := notesDoc(t)
	tests := []struct {
		name   string
		build  func(b *queryir.Builder) error
		render func(r *Renderer, b *queryir.Builder) error
		check  func(error) bool
	}{
		{
			name: "negative skip",
			render: func(r *Renderer, b *queryir.Builder) error {
				_, err := r.RenderFind(b, queryir.Page{Skip: -1, Take: 1})
				return err
			},
			check: func(err error) bool { return dserr.CodeOf(err) == dserr.CodeInvalidArgument },
		},
		{
			name: "cross join",
			build: func(b *queryir.Builder) error {
				return b.CrossJoin(notes, "m", "notes", queryir.ContainerCollection)
			},
			check: dserr.IsUnsupported,
		},
		{
			name:  "nulls first",
			build: func(b *queryir.Builder) error { return b.OrderBy("n", "rank", queryir.AscendingNullsFirst) },
			check: dserr.IsUnsupported,
		},
		{
			name:  "in against a parameter",
			build: func(b *queryir.Builder) error { return b.WhereParam("n", "title", queryir.In, "@titles") },
			check: dserr.IsUnsupported,
		},
		{
			name: "count of an insert plan",
			render: func(r *Renderer, b *queryir.Builder) error {
				_, err := r.RenderCount(b.WithKind(queryir.KindInsert))
				return err
			},
			check: dserr.IsConfiguration,
		},
		{
			name: "aggregate without aggregations",
			render: func(r *Renderer, b *queryir.Builder) error {
				_, err := r.RenderAggregate(b)
				return err
			},
			check: dserr.IsConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := queryir.NewBuilder(queryir.KindSelect, queryir.FamilyDocument)
			require.NoError(t, b.From(notes, "n", "notes", queryir.ContainerCollection))
			if tt.build != nil {
				require.NoError(t, tt.build(b))
			}
			render := tt.render
			if render == nil {
				render = func(r *Renderer, b *queryir.Builder) error {
					_, err := r.RenderFind(b, queryir.Unbounded)
					return err
				}
			}
			err := render(NewRenderer(), b)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}
}

func TestRenderer_CachesByFingerprint(t *testing.T) {
	r := NewRenderer()
	plan, err := queryir.SelectByID(queryir.Target{Descriptor: notesDoc(t)}, queryir.FamilyDocument)
	require.NoError(t, err)

	first, err := r.RenderFind(plan, queryir.Page{Take: 1})
	require.NoError(t, err)
	second, err := r.RenderFind(plan.Clone(), queryir.Page{Take: 1})
	require.NoError(t, err)
	assert.Same(t, first.Filter, second.Filter)

	other, err := r.RenderFind(plan, queryir.Page{Take: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, *other.Limit)
}

func TestRequest_Bind(t *testing.T) {
	req := Request{Params: []Param{{Name: "id"}, {Name: "removed", Nullable: true}}}

	args, err := req.Bind(map[string]any{"id": ir.Int(7)})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": int64(7), "removed": nil}, args)

	_, err = req.Bind(map[string]any{"removed": nil})
	assert.True(t, dserr.IsConfiguration(err))
}

func paramNames(req Request) []string {
	names := make([]string, len(req.Params))
	for i, p := range req.Params {
		names[i] = p.Name
	}
	return names
}

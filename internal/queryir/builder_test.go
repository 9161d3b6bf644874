package queryir

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dsq/internal/doc"
	"github.com/roach88/dsq/internal/dserr"
	"github.com/roach88/dsq/internal/ir"
)

// testDoc builds a Record descriptor whose first field is the id.
func testDoc(t *testing.T, name, container string, fields ...string) *doc.Descriptor {
	t.Helper()
	spec := ir.DocumentSpec{Name: name, Container: container, Kind: "table"}
	for i, f := range fields {
		fs := ir.FieldSpec{Name: f, Type: "int"}
		if i == 0 {
			fs.Flags = []string{"id"}
		}
		spec.Fields = append(spec.Fields, fs)
	}
	d, err := doc.FromSpec(spec)
	require.NoError(t, err)
	return d
}

func softDoc(t *testing.T) *doc.Descriptor {
	t.Helper()
	d, err := doc.FromSpec(ir.DocumentSpec{
		Name:      "Order",
		Container: "orders",
		Fields: []ir.FieldSpec{
			{Name: "id", Type: "int", Flags: []string{"id"}},
			{Name: "name", Type: "string"},
			{Name: "deleted", Type: "time", Nullable: true, Flags: []string{"deleted"}},
		},
	})
	require.NoError(t, err)
	return d
}

func TestAddContainer_DuplicateAlias(t *testing.T) {
	d := testDoc(t, "Order", "orders", "id")
	b := NewBuilder(KindSelect, FamilySQL)
	require.NoError(t, b.From(d, "o", "orders", ContainerTable))

	err := b.Join(d, "o", "orders", ContainerTable)
	require.Error(t, err)
	assert.True(t, dserr.IsConfiguration(err))
	assert.Contains(t, err.Error(), `alias "o" already used`)
}

func TestAddContainer_SecondMainOperation(t *testing.T) {
	d := testDoc(t, "Order", "orders", "id")
	b := NewBuilder(KindSelect, FamilySQL)
	require.NoError(t, b.From(d, "o", "orders", ContainerTable))

	err := b.AddContainer(d, "x", "orders", ContainerTable, OpDelete)
	require.Error(t, err)
	assert.True(t, dserr.IsConfiguration(err))
	assert.Contains(t, err.Error(), "already the root")
}

func TestAddContainer_InvalidInput(t *testing.T) {
	b := NewBuilder(KindSelect, FamilySQL)
	assert.Error(t, b.From(nil, "", "orders", ContainerTable))
	assert.Error(t, b.From(nil, "a.b", "orders", ContainerTable))
	assert.Error(t, b.From(nil, "o", "", ContainerTable))
	assert.Error(t, b.AddContainer(nil, "o", "orders", ContainerKind(42), OpSelect))
	assert.Error(t, b.AddContainer(nil, "o", "orders", ContainerTable, Operation(42)))
	assert.Empty(t, b.Containers())
}

func TestAddCondition_ValueSources(t *testing.T) {
	tests := []struct {
		name    string
		flags   ConditionFlags
		value   any
		param   string
		op      Operator
		wantErr string
	}{
		{name: "const", flags: OnConst, value: 1, op: Eq},
		{name: "null const", flags: OnConst, value: nil, op: Eq},
		{name: "param", flags: OnParam, param: "@id", op: Eq},
		{name: "list const", flags: OnConst, value: []int{1, 2}, op: In},
		{name: "no source", flags: 0, value: 1, op: Eq, wantErr: "exactly one of"},
		{name: "two sources", flags: OnConst | OnParam, value: 1, param: "id", op: Eq, wantErr: "exactly one of"},
		{name: "const with param name", flags: OnConst, value: 1, param: "id", op: Eq, wantErr: "both a constant"},
		{name: "param with value", flags: OnParam, value: 1, param: "id", op: Eq, wantErr: "both a parameter"},
		{name: "bad param name", flags: OnParam, param: "1x", op: Eq, wantErr: "invalid parameter name"},
		{name: "field ref in filter", flags: OnField, value: FieldRef{"c", "id"}, op: Eq, wantErr: "belong in join conditions"},
		{name: "field ref wrong type", flags: Connect | OnField, value: "c.id", op: Eq, wantErr: "must be a FieldRef"},
		{name: "self reference", flags: Connect | OnField, value: FieldRef{"o", "id"}, op: Eq, wantErr: "its own container"},
		{name: "in scalar", flags: OnConst, value: 1, op: In, wantErr: "needs a list"},
		{name: "in empty list", flags: OnConst, value: []int{}, op: In, wantErr: "empty list"},
		{name: "like non-string", flags: OnConst, value: 3, op: Like, wantErr: "string pattern"},
		{name: "gt null", flags: OnConst, value: nil, op: Gt, wantErr: "scalar constant"},
		{name: "eq list", flags: OnConst, value: []string{"a"}, op: Eq, wantErr: "against a list"},
		{name: "invalid operator", flags: OnConst, value: 1, op: Operator(99), wantErr: "invalid operator"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder(KindSelect, FamilySQL)
			err := b.AddCondition(tt.flags, FieldRef{"o", "id"}, tt.value, tt.param, tt.op)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, dserr.IsConfiguration(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAddCondition_ConstantsBecomeValues(t *testing.T) {
	b := NewBuilder(KindSelect, FamilySQL)
	require.NoError(t, b.Where("o", "status", Eq, "open"))
	require.NoError(t, b.Where("o", "deleted", Eq, nil))
	require.NoError(t, b.Where("o", "id", In, []int64{1, 2}))

	f := b.Filters()
	require.Len(t, f, 3)
	assert.Equal(t, ir.String("open"), f[0].Value)
	assert.Equal(t, ir.Null{}, f[1].Value)
	assert.Equal(t, ir.List{ir.Int(1), ir.Int(2)}, f[2].Value)
}

func TestAddCondition_DeclaresParameterFromEntry(t *testing.T) {
	d := softDoc(t)
	b := NewBuilder(KindSelect, FamilySQL)

	// Condition first, container second: the parameter is typed once the
	// container arrives.
	require.NoError(t, b.WhereParam("o", "id", Eq, "@id"))
	_, ok := b.Param("id")
	assert.False(t, ok)

	require.NoError(t, b.From(d, "o", "orders", ContainerTable))
	p, ok := b.Param("@id")
	require.True(t, ok)
	assert.Equal(t, reflect.TypeOf(int64(0)), p.Type)
	assert.False(t, p.Nullable)

	require.NoError(t, b.WhereParam("o", "deleted", Lt, "cutoff"))
	p, ok = b.Param("cutoff")
	require.True(t, ok)
	assert.Equal(t, reflect.TypeOf(time.Time{}), p.Type)
	assert.True(t, p.Nullable)

	require.NoError(t, b.WhereParam("o", "id", In, "ids"))
	p, ok = b.Param("ids")
	require.True(t, ok)
	assert.Equal(t, reflect.TypeOf([]int64(nil)), p.Type)
}

func TestAddParameter_Consistency(t *testing.T) {
	b := NewBuilder(KindSelect, FamilySQL)
	str := reflect.TypeOf("")

	require.NoError(t, b.AddParameter("name", str, false, DirIn))
	require.NoError(t, b.AddParameter("@name", str, false, DirIn))
	assert.Len(t, b.Parameters(), 1)

	err := b.AddParameter("name", str, true, DirIn)
	require.Error(t, err)
	assert.True(t, dserr.IsConfiguration(err))
	assert.Contains(t, err.Error(), "redeclared")

	assert.Error(t, b.AddParameter("bad name", str, false, DirIn))
}

func TestExcludeInclude(t *testing.T) {
	b := NewBuilder(KindSelect, FamilySQL)
	require.NoError(t, b.Exclude("o", "name"))
	require.NoError(t, b.Exclude("o", "name"))
	assert.Len(t, b.Exclusions(), 1)
	assert.True(t, b.IsExcluded("o", "name"))

	for _, field := range []string{"id", "name", "missing"} {
		err := b.Include("o", field)
		require.Error(t, err, field)
		assert.True(t, dserr.IsUnsupported(err), field)
		assert.Contains(t, err.Error(), "field inclusion is not supported")
	}
	assert.Len(t, b.Exclusions(), 1)
}

func TestAggregate_Validation(t *testing.T) {
	b := NewBuilder(KindSelect, FamilySQL)
	require.NoError(t, b.Aggregate(AggCount, "", "", "n"))
	assert.Error(t, b.Aggregate(AggSum, "o", "", "total"))
	assert.Error(t, b.Aggregate(AggSum, "o", "amount", ""))
	assert.Error(t, b.Aggregate(AggMax, "o", "amount", "n"))
	assert.Error(t, b.Aggregate(AggregateFunc(0), "o", "amount", "x"))
}

func TestClone_Independent(t *testing.T) {
	d := testDoc(t, "Order", "orders", "id", "total")
	b := NewBuilder(KindSelect, FamilySQL)
	require.NoError(t, b.From(d, "o", "orders", ContainerTable))
	require.NoError(t, b.Where("o", "total", Gt, 10))
	b.Begin()

	c := b.Clone()
	require.NoError(t, c.Where("o", "id", Eq, 1))
	c.End()
	require.NoError(t, c.OrderBy("o", "id", Descending))

	assert.Len(t, b.Filters(), 1)
	assert.Empty(t, b.SortOrders())
	assert.Equal(t, 0, b.Filters()[0].End)

	// The original still has its pending Begin.
	require.NoError(t, b.Where("o", "id", Eq, 2))
	assert.Equal(t, 1, b.Filters()[1].Begin)
	assert.Equal(t, 1, c.Filters()[1].Begin)
	assert.Equal(t, 1, c.Filters()[1].End)
}

func TestClone_EndTargetsOwnConditions(t *testing.T) {
	b := NewBuilder(KindSelect, FamilySQL)
	b.Begin()
	require.NoError(t, b.Where("o", "id", Eq, 1))

	c := b.Clone()
	c.End()

	assert.Equal(t, 0, b.Filters()[0].End)
	assert.Equal(t, 1, c.Filters()[0].End)
}

func TestMutationClearsNormalized(t *testing.T) {
	d := testDoc(t, "Order", "orders", "id")
	b := NewBuilder(KindSelect, FamilySQL)
	require.NoError(t, b.From(d, "o", "orders", ContainerTable))
	require.NoError(t, b.Normalize())
	assert.True(t, b.IsNormalized())

	require.NoError(t, b.OrderBy("o", "id", Ascending))
	assert.False(t, b.IsNormalized())

	require.NoError(t, b.Normalize())
	c := b.Clone()
	assert.True(t, c.IsNormalized())
	require.NoError(t, c.Exclude("o", "id"))
	assert.False(t, c.IsNormalized())
	assert.True(t, b.IsNormalized())
}

func TestFingerprint(t *testing.T) {
	d := testDoc(t, "Order", "orders", "id", "total")
	b := NewBuilder(KindSelect, FamilySQL)
	require.NoError(t, b.From(d, "o", "orders", ContainerTable))
	require.NoError(t, b.Where("o", "total", Gt, 10))

	_, err := b.Fingerprint()
	require.Error(t, err)

	require.NoError(t, b.Normalize())
	fp1, err := b.Fingerprint()
	require.NoError(t, err)

	c := b.Clone()
	fp2, err := c.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, fp1, fp2)

	require.NoError(t, c.Where("o", "id", Eq, 1))
	require.NoError(t, c.Normalize())
	fp3, err := c.Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, fp1, fp3)
	assert.Len(t, fp1, 64)
}

func TestFingerprint_EntryNullability(t *testing.T) {
	fingerprint := func(nullable bool) string {
		t.Helper()
		d, err := doc.FromSpec(ir.DocumentSpec{
			Name:      "Order",
			Container: "orders",
			Fields: []ir.FieldSpec{
				{Name: "id", Type: "int", Flags: []string{"id"}},
				{Name: "note", Type: "string", Nullable: nullable},
			},
		})
		require.NoError(t, err)
		b, err := SelectAll(Target{Descriptor: d}, FamilySQL)
		require.NoError(t, err)
		fp, err := b.Fingerprint()
		require.NoError(t, err)
		return fp
	}

	assert.Equal(t, fingerprint(true), fingerprint(true))
	assert.NotEqual(t, fingerprint(false), fingerprint(true))
}

func TestAddFilters(t *testing.T) {
	d := testDoc(t, "Order", "orders", "id", "total")
	b := NewBuilder(KindSelect, FamilySQL)
	require.NoError(t, b.From(d, "o", "orders", ContainerTable))

	require.NoError(t, AddFilters(b, []ir.ConditionSpec{
		{Field: "total", Op: "gt", Value: ir.Int(10)},
		{Alias: "o", Field: "id", Op: "eq", Param: "id", Or: true},
	}))
	filters := b.Filters()
	require.Len(t, filters, 2)
	assert.Equal(t, "o", filters[0].Alias)
	assert.Equal(t, SourceConst, filters[0].Source)
	assert.True(t, filters[1].Or)
	_, ok := b.Param("id")
	assert.True(t, ok)

	err := AddFilters(b, []ir.ConditionSpec{{Field: "id", Op: "eq", Ref: &ir.FieldRef{Alias: "x", Field: "id"}}})
	assert.True(t, dserr.IsConfiguration(err))

	err = AddFilters(b, []ir.ConditionSpec{{Field: "id", Op: "between"}})
	assert.True(t, dserr.IsConfiguration(err))
}

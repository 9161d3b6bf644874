package cli

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dsq/internal/doc"
	"github.com/roach88/dsq/internal/ir"
)

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{"name=first", " total =12.5", "note=a=b", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "first", "total": "12.5", "note": "a=b", "empty": ""}, got)

	_, err = parseAssignments([]string{"name"})
	assert.EqualError(t, err, `invalid assignment "name": want name=value`)

	_, err = parseAssignments([]string{"=1"})
	assert.Error(t, err)

	_, err = parseAssignments([]string{"id=1", "id=2"})
	assert.EqualError(t, err, "id is assigned twice")
}

func TestScalar(t *testing.T) {
	tests := []struct {
		raw  string
		want any
	}{
		{"12", 12},
		{"-3", -3},
		{"12.5", 12.5},
		{"true", true},
		{"null", nil},
		{"first", "first"},
		{"2026-01-02T03:04:05Z", "2026-01-02T03:04:05Z"},
		{"[1, 2]", "[1, 2]"},
		{"a: b", "a: b"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, scalar(tt.raw))
		})
	}
}

func TestValueFor(t *testing.T) {
	str := reflect.TypeOf("")
	assert.Equal(t, "007", valueFor(str, "007"))
	assert.Equal(t, "true", valueFor(reflect.PointerTo(str), "true"))
	assert.Equal(t, 42, valueFor(reflect.TypeOf(int64(0)), "42"))
	assert.Equal(t, 7, valueFor(nil, "7"))
}

func TestRecordFrom(t *testing.T) {
	desc, err := doc.FromSpec(ir.DocumentSpec{
		Name:      "Order",
		Container: "orders",
		Fields: []ir.FieldSpec{
			{Name: "id", Type: "int", Flags: []string{"id"}},
			{Name: "name", Type: "string"},
			{Name: "total", Type: "float"},
			{Name: "created", Type: "time", Flags: []string{"created"}},
			{Name: "deleted", Type: "time", Nullable: true, Flags: []string{"deleted"}},
		},
	})
	require.NoError(t, err)

	rec, err := recordFrom(desc, map[string]string{
		"name":    "42",
		"total":   "12.5",
		"created": "2026-01-02T03:04:05Z",
	})
	require.NoError(t, err)
	assert.Equal(t, "42", rec["name"])
	assert.Equal(t, 12.5, rec["total"])
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), rec["created"])
	assert.Nil(t, rec["deleted"])
	assert.Contains(t, rec, "id")

	_, err = recordFrom(desc, map[string]string{"color": "red"})
	assert.EqualError(t, err, `document Order has no field "color"`)
}

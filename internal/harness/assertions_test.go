package harness

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/dsq/internal/datasource"
	"github.com/roach88/dsq/internal/doc"
	"github.com/roach88/dsq/internal/dserr"
)

func TestValuesEqual(t *testing.T) {
	when := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	name := "widget"
	var nilName *string

	tests := []struct {
		name     string
		actual   any
		expected any
		want     bool
	}{
		{"both_nil", nil, nil, true},
		{"actual_nil", nil, "value", false},
		{"expected_nil", "value", nil, false},
		{"nil_pointer", nilName, nil, true},
		{"pointer", &name, "widget", true},
		{"strings_equal", "hello", "hello", true},
		{"strings_different", "hello", "world", false},
		{"int64_vs_int", int64(42), 42, true},
		{"int64_vs_float", int64(42), 42.0, true},
		{"float_vs_int", 20.0, 20, true},
		{"float_different", 20.5, 20, false},
		{"bools_equal", true, true, true},
		{"bools_different", true, false, false},
		{"bytes_vs_string", []byte("raw"), "raw", true},
		{"time_equal", when, when.In(time.FixedZone("x", 3600)), true},
		{"time_string", when, "2026-01-02T03:04:05Z", true},
		{"time_string_different", when, "2026-01-02T03:04:06Z", false},
		{"time_bad_string", when, "yesterday", false},
		{"time_vs_int", when, 1, false},
		{"number_vs_string", int64(1), "1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, valuesEqual(tt.actual, tt.expected))
		})
	}
}

func TestMatchRecord(t *testing.T) {
	actual := doc.Record{"id": int64(1), "name": "first", "deleted": nil}

	tests := []struct {
		name     string
		expected map[string]any
		wantKey  string
		wantOK   bool
	}{
		{"subset", map[string]any{"name": "first"}, "", true},
		{"empty", map[string]any{}, "", true},
		{"explicit_nil", map[string]any{"deleted": nil}, "", true},
		{"absent_nil", map[string]any{"total": nil}, "", true},
		{"mismatch", map[string]any{"id": 1, "name": "second"}, "name", false},
		{"missing_key", map[string]any{"total": 10}, "total", false},
		{"first_sorted_key", map[string]any{"name": "x", "id": 2}, "id", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, ok := matchRecord(actual, tt.expected)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}

func TestCheckExpect(t *testing.T) {
	two, three := int64(2), int64(3)
	yes, no := true, false
	notFound := dserr.NotFound("get", "Order 9")
	records := []doc.Record{{"id": int64(1)}, {"id": int64(2)}}

	tests := []struct {
		name   string
		expect *Expect
		out    outcome
		err    error
		want   []string
	}{
		{"no_expect_success", nil, outcome{}, nil, nil},
		{"no_expect_error", nil, outcome{}, notFound, []string{"unexpected error: " + notFound.Error()}},
		{"error_matches", &Expect{Error: "NOT_FOUND"}, outcome{}, notFound, nil},
		{"error_missing", &Expect{Error: "NOT_FOUND"}, outcome{}, nil, []string{"expected error NOT_FOUND, step succeeded"}},
		{"error_differs", &Expect{Error: "CONFLICT"}, outcome{}, notFound,
			[]string{"expected error CONFLICT, got NOT_FOUND: " + notFound.Error()}},
		{"nothing_changed", &Expect{Error: "NOTHING_CHANGED"}, outcome{}, datasource.ErrNothingChanged, nil},
		{"plain_error", &Expect{Error: OutcomeError}, outcome{}, errors.New("boom"), nil},
		{"unexpected_error", &Expect{ID: 1}, outcome{}, notFound, []string{"unexpected error: " + notFound.Error()}},
		{"id", &Expect{ID: 1}, outcome{id: int64(1)}, nil, nil},
		{"id_mismatch", &Expect{ID: 1}, outcome{id: int64(2)}, nil, []string{"expected id 1, got 2"}},
		{"count", &Expect{Count: &two}, outcome{count: &two}, nil, nil},
		{"count_mismatch", &Expect{Count: &three}, outcome{count: &two}, nil, []string{"expected count 3, got 2"}},
		{"count_missing", &Expect{Count: &two}, outcome{}, nil, []string{"expected count 2, step reports no count"}},
		{"records", &Expect{Records: []map[string]any{{"id": 1}, {"id": 2}}}, outcome{records: records}, nil, nil},
		{"records_length", &Expect{Records: []map[string]any{{"id": 1}}}, outcome{records: records}, nil,
			[]string{"expected 1 records, got 2"}},
		{"records_empty", &Expect{Records: []map[string]any{}}, outcome{}, nil, nil},
		{"record_value", &Expect{Records: []map[string]any{{"id": 1}, {"id": 5}}}, outcome{records: records}, nil,
			[]string{"records[1].id: expected 5, got 2"}},
		{"last_page", &Expect{LastPage: &yes}, outcome{lastPage: &yes}, nil, nil},
		{"last_page_mismatch", &Expect{LastPage: &yes}, outcome{lastPage: &no}, nil, []string{"expected last_page true, got false"}},
		{"last_page_untracked", &Expect{LastPage: &no}, outcome{}, nil, []string{"expected last_page, step does not track pages"}},
		{"several", &Expect{ID: 1, Count: &three}, outcome{id: int64(2), count: &two}, nil,
			[]string{"expected id 1, got 2", "expected count 3, got 2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, checkExpect(tt.expect, tt.out, tt.err))
		})
	}
}

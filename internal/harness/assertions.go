package harness

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"time"

	"github.com/roach88/dsq/internal/doc"
)

// checkExpect compares a step's outcome with its expectations and returns
// one message per mismatch.
func checkExpect(expect *Expect, out outcome, err error) []string {
	if expect == nil {
		if err != nil {
			return []string{fmt.Sprintf("unexpected error: %v", err)}
		}
		return nil
	}

	if expect.Error != "" {
		if err == nil {
			return []string{fmt.Sprintf("expected error %s, step succeeded", expect.Error)}
		}
		if got := outcomeOf(err); got != expect.Error {
			return []string{fmt.Sprintf("expected error %s, got %s: %v", expect.Error, got, err)}
		}
		return nil
	}
	if err != nil {
		return []string{fmt.Sprintf("unexpected error: %v", err)}
	}

	var errs []string
	if expect.ID != nil && !valuesEqual(out.id, expect.ID) {
		errs = append(errs, fmt.Sprintf("expected id %v, got %v", expect.ID, out.id))
	}
	if expect.Count != nil {
		switch {
		case out.count == nil:
			errs = append(errs, fmt.Sprintf("expected count %d, step reports no count", *expect.Count))
		case *out.count != *expect.Count:
			errs = append(errs, fmt.Sprintf("expected count %d, got %d", *expect.Count, *out.count))
		}
	}
	if expect.Records != nil {
		errs = append(errs, matchRecords(out.records, expect.Records)...)
	}
	if expect.LastPage != nil {
		switch {
		case out.lastPage == nil:
			errs = append(errs, "expected last_page, step does not track pages")
		case *out.lastPage != *expect.LastPage:
			errs = append(errs, fmt.Sprintf("expected last_page %t, got %t", *expect.LastPage, *out.lastPage))
		}
	}
	return errs
}

func matchRecords(actual []doc.Record, expected []map[string]any) []string {
	if len(actual) != len(expected) {
		return []string{fmt.Sprintf("expected %d records, got %d", len(expected), len(actual))}
	}
	var errs []string
	for i := range expected {
		if key, ok := matchRecord(actual[i], expected[i]); !ok {
			errs = append(errs, fmt.Sprintf("records[%d].%s: expected %v, got %v", i, key, expected[i][key], actual[i][key]))
		}
	}
	return errs
}

// matchRecord checks that every expected field is present in actual with
// an equal value. Extra fields in actual are OK (subset match). On a
// mismatch it returns the first offending key.
func matchRecord(actual doc.Record, expected map[string]any) (string, bool) {
	for _, key := range slices.Sorted(maps.Keys(expected)) {
		actualVal, exists := actual[key]
		if !exists && expected[key] != nil {
			return key, false
		}
		if !valuesEqual(actualVal, expected[key]) {
			return key, false
		}
	}
	return "", true
}

// valuesEqual compares a stored value with a scenario value. Numbers compare
// by value whatever their Go type, times compare as instants and may be
// written as RFC 3339 strings.
func valuesEqual(actual, expected any) bool {
	actual, expected = normalize(actual), normalize(expected)
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}

	if at, ok := actual.(time.Time); ok {
		switch et := expected.(type) {
		case time.Time:
			return at.Equal(et)
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, et)
			return err == nil && at.Equal(parsed)
		}
		return false
	}
	return reflect.DeepEqual(actual, expected)
}

// normalize maps every number to float64 and dereferences pointers.
func normalize(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		return normalize(rv.Elem().Interface())
	}
	switch {
	case rv.CanInt():
		return float64(rv.Int())
	case rv.CanUint():
		return float64(rv.Uint())
	case rv.CanFloat():
		return rv.Float()
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

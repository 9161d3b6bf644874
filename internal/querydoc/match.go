package querydoc

import (
	"cmp"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/dsq/internal/dserr"
	"github.com/roach88/dsq/internal/ir"
)

// Match reports whether the stored document d satisfies f. args holds the
// bound parameter values. A nil filter matches every document.
//
// Comparisons follow SQL null semantics: a missing or null value on either
// side never matches, except through an explicit Null test.
func (f *Filter) Match(d map[string]any, args map[string]any) (bool, error) {
	switch {
	case f == nil:
		return true, nil
	case len(f.And) > 0:
		for _, sub := range f.And {
			ok, err := sub.Match(d, args)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case len(f.Or) > 0:
		for _, sub := range f.Or {
			ok, err := sub.Match(d, args)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	}

	stored := d[f.Key]
	if f.Null {
		if f.Op == "ne" {
			return stored != nil, nil
		}
		return stored == nil, nil
	}
	rhs := f.Value
	if f.Param != "" {
		rhs = args[f.Param]
	}
	if stored == nil || rhs == nil {
		return false, nil
	}

	switch f.Op {
	case "in", "nin":
		list, ok := rhs.([]any)
		if !ok {
			return false, dserr.New(dserr.CodeInvalidArgument, "match", "%s on %q needs a list, got %T", f.Op, f.Key, rhs)
		}
		found := false
		for _, item := range list {
			c, err := Compare(stored, item)
			if err != nil {
				return false, err
			}
			if c == 0 {
				found = true
				break
			}
		}
		return found == (f.Op == "in"), nil
	case "like", "nlike":
		pattern, ok := rhs.(string)
		if !ok {
			return false, dserr.New(dserr.CodeInvalidArgument, "match", "%s on %q needs a string pattern, got %T", f.Op, f.Key, rhs)
		}
		s, ok := stored.(string)
		if !ok {
			s = fmt.Sprint(stored)
		}
		return Like(s, pattern) == (f.Op == "like"), nil
	}

	c, err := Compare(stored, rhs)
	if err != nil {
		return false, err
	}
	switch f.Op {
	case "eq":
		return c == 0, nil
	case "ne":
		return c != 0, nil
	case "gt":
		return c > 0, nil
	case "ge":
		return c >= 0, nil
	case "lt":
		return c < 0, nil
	case "le":
		return c <= 0, nil
	}
	return false, dserr.Unsupported("match", "operator %q", f.Op)
}

// Compare orders two document values. Null sorts before everything else.
// Integers and floats compare numerically, and a string compares with a
// time when it parses as RFC 3339. Other mixed kinds are an
// INVALID_ARGUMENT error.
func Compare(a, b any) (int, error) {
	av, err := ir.FromGo(a)
	if err != nil {
		return 0, dserr.Wrap(dserr.CodeInvalidArgument, "compare", err)
	}
	bv, err := ir.FromGo(b)
	if err != nil {
		return 0, dserr.Wrap(dserr.CodeInvalidArgument, "compare", err)
	}
	switch an, bn := ir.IsNull(av), ir.IsNull(bv); {
	case an && bn:
		return 0, nil
	case an:
		return -1, nil
	case bn:
		return 1, nil
	}

	switch x := av.(type) {
	case ir.Int:
		switch y := bv.(type) {
		case ir.Int:
			return cmp.Compare(x, y), nil
		case ir.Float:
			return cmp.Compare(float64(x), float64(y)), nil
		}
	case ir.Float:
		switch y := bv.(type) {
		case ir.Int:
			return cmp.Compare(float64(x), float64(y)), nil
		case ir.Float:
			return cmp.Compare(x, y), nil
		}
	case ir.String:
		switch y := bv.(type) {
		case ir.String:
			return strings.Compare(string(x), string(y)), nil
		case ir.Time:
			if t, ok := parseTime(string(x)); ok {
				return t.Compare(y.Time), nil
			}
		}
	case ir.Bool:
		if y, ok := bv.(ir.Bool); ok {
			return cmp.Compare(boolRank(bool(x)), boolRank(bool(y))), nil
		}
	case ir.Time:
		switch y := bv.(type) {
		case ir.Time:
			return x.Compare(y.Time), nil
		case ir.String:
			if t, ok := parseTime(string(y)); ok {
				return x.Compare(t), nil
			}
		}
	}
	return 0, dserr.New(dserr.CodeInvalidArgument, "compare", "cannot compare %T with %T", a, b)
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseTime(s string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, s)
	return t, err == nil
}

// Like matches s against a SQL LIKE pattern: % matches any run of
// characters and _ exactly one. Matching is case-sensitive.
func Like(s, pattern string) bool {
	str, pat := []rune(s), []rune(pattern)
	si, pi := 0, 0
	star, mark := -1, 0
	for si < len(str) {
		switch {
		case pi < len(pat) && pat[pi] == '%':
			star, mark = pi, si
			pi++
		case pi < len(pat) && (pat[pi] == '_' || pat[pi] == str[si]):
			si++
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(pat) && pat[pi] == '%' {
		pi++
	}
	return pi == len(pat)
}

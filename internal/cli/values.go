package cli

import (
	"fmt"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/dsq/internal/doc"
	"github.com/roach88/dsq/internal/queryir"
)

// parseAssignments splits name=value flags. A name may appear once.
func parseAssignments(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid assignment %q: want name=value", pair)
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("%s is assigned twice", name)
		}
		out[name] = value
	}
	return out, nil
}

// scalar reads raw as a YAML scalar: integers, floats, booleans and null
// get their Go types, anything else stays the raw string.
func scalar(raw string) any {
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	switch v.(type) {
	case nil, int, float64, bool:
		return v
	}
	return raw
}

// valueFor reads raw for a destination of type typ. String destinations
// take raw verbatim so "007" stays "007".
func valueFor(typ reflect.Type, raw string) any {
	for typ != nil && typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ != nil && typ.Kind() == reflect.String {
		return raw
	}
	return scalar(raw)
}

// planArgs types query arguments after the plan parameters they fill.
func planArgs(plan *queryir.Builder, raw map[string]string) map[string]any {
	args := make(map[string]any, len(raw))
	for name, value := range raw {
		var typ reflect.Type
		if p, ok := plan.Param(name); ok {
			typ = p.Type
		}
		args[name] = valueFor(typ, value)
	}
	return args
}

// recordFrom builds a record of desc from field assignments. Fields not
// assigned get their zero value, nil when nullable.
func recordFrom(desc *doc.Descriptor, raw map[string]string) (doc.Record, error) {
	for name := range raw {
		if _, ok := desc.Entry(name); !ok {
			return nil, fmt.Errorf("document %s has no field %q", desc.Name, name)
		}
	}
	rec := doc.Record{}
	for _, e := range desc.Entries() {
		var v any
		if value, ok := raw[e.Name]; ok {
			v = valueFor(e.Type, value)
		}
		if err := e.Set(rec, v); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

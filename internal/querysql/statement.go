package querysql

import (
	"github.com/roach88/dsq/internal/dserr"
	"github.com/roach88/dsq/internal/ir"
)

// Statement is rendered SQL text with its named parameters.
//
// CRITICAL: values are never interpolated into Text. Plan constants bind as
// generated parameters (@c0, @c1, ...) carried in Params.
type Statement struct {
	Text   string
	Params []Param
}

// Param is a named placeholder of a Statement, in order of first
// appearance.
type Param struct {
	// Name without the "@" prefix.
	Name string
	// Const is set for generated parameters; Value holds their value.
	Const bool
	Value any
	// Nullable parameters bind nil when the caller omits them.
	Nullable bool
}

// Arg is one bound parameter value.
type Arg struct {
	Name  string
	Value any
}

// ParamNames returns the parameter names in order.
func (s Statement) ParamNames() []string {
	names := make([]string, len(s.Params))
	for i, p := range s.Params {
		names[i] = p.Name
	}
	return names
}

// Bind resolves every parameter from args (keyed by name without "@") and
// the generated constants. A missing argument binds nil when the parameter
// is nullable and is a configuration error otherwise.
func (s Statement) Bind(args map[string]any) ([]Arg, error) {
	out := make([]Arg, 0, len(s.Params))
	for _, p := range s.Params {
		if p.Const {
			out = append(out, Arg{Name: p.Name, Value: p.Value})
			continue
		}
		v, ok := args[p.Name]
		if !ok && !p.Nullable {
			return nil, dserr.Configuration("bind", "missing value for parameter @%s", p.Name)
		}
		out = append(out, Arg{Name: p.Name, Value: driverValue(v)})
	}
	return out, nil
}

// driverValue unwraps ir values into the plain Go values drivers accept.
func driverValue(v any) any {
	if iv, ok := v.(ir.Value); ok {
		return ir.ToGo(iv)
	}
	return v
}

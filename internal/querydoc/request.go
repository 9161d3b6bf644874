// Package querydoc renders document-family plans into native document-store
// requests: a filter tree, a sort, a window and the fields to read or write.
//
// Requests never carry caller values. Parameters stay named in the tree and
// resolve through Request.Bind, the way SQL statements bind @name
// placeholders; plan constants are embedded as plain JSON values.
package querydoc

import (
	"github.com/goccy/go-json"

	"github.com/roach88/dsq/internal/dserr"
	"github.com/roach88/dsq/internal/ir"
)

// Op is the verb of a request.
type Op string

const (
	OpFind      Op = "find"
	OpCount     Op = "count"
	OpAggregate Op = "aggregate"
	OpExtreme   Op = "extreme"
	OpInsert    Op = "insert"
	OpUpdate    Op = "update"
	OpDelete    Op = "delete"
)

// Request is one rendered document-store operation. Requests are cached and
// shared by the renderer; treat them as read-only.
type Request struct {
	Op         Op     `json:"op"`
	Collection string `json:"collection"`
	// IDKey is the stored key of the document id, when the document has one.
	IDKey string `json:"idKey,omitempty"`

	// Fields are projected by find and written by insert and update.
	Fields []Field   `json:"fields,omitempty"`
	Filter *Filter   `json:"filter,omitempty"`
	Sort   []SortKey `json:"sort,omitempty"`
	Skip   int       `json:"skip,omitempty"`
	// Limit is unset for an unbounded find.
	Limit *int `json:"limit,omitempty"`

	Aggregations []Aggregation `json:"aggregations,omitempty"`
	// Max selects the largest id for OpExtreme, the smallest otherwise.
	Max bool `json:"max,omitempty"`

	Params []Param `json:"params,omitempty"`
}

// Field maps a document entry to its stored key. For find requests an
// Excluded field is reported as null; for writes the value binds to the
// parameter named after the entry.
type Field struct {
	Name     string `json:"name"`
	Key      string `json:"key"`
	Excluded bool   `json:"excluded,omitempty"`
}

// SortKey orders find results by a stored key.
type SortKey struct {
	Key  string `json:"key"`
	Desc bool   `json:"desc,omitempty"`
}

// Aggregation computes Func over a stored key. An empty Key with "count"
// counts documents.
type Aggregation struct {
	Func string `json:"func"`
	Key  string `json:"key,omitempty"`
	Name string `json:"name"`
}

// Param is a named value the request reads at execution time.
type Param struct {
	Name     string `json:"name"`
	Nullable bool   `json:"nullable,omitempty"`
}

// Filter is a node of a request's filter tree: either a group (And or Or)
// or a comparison of one stored key.
type Filter struct {
	And []*Filter `json:"and,omitempty"`
	Or  []*Filter `json:"or,omitempty"`

	Key string `json:"key,omitempty"`
	Op  string `json:"op,omitempty"`
	// Exactly one of Null, Param and Value is set on a comparison. Null
	// tests for a missing value (eq) or a present one (ne).
	Null  bool   `json:"null,omitempty"`
	Param string `json:"param,omitempty"`
	Value any    `json:"value,omitempty"`
}

// Text renders the request as compact JSON, as reported to statement hooks.
func (r Request) Text() string {
	data, err := json.Marshal(r)
	if err != nil {
		return string(r.Op) + " " + r.Collection
	}
	return string(data)
}

// Bind resolves every request parameter from args. A missing argument
// binds nil when the parameter is nullable and is a configuration error
// otherwise.
func (r Request) Bind(args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(r.Params))
	for _, p := range r.Params {
		v, ok := args[p.Name]
		if !ok && !p.Nullable {
			return nil, dserr.Configuration("bind", "missing value for parameter @%s", p.Name)
		}
		if iv, isIR := v.(ir.Value); isIR {
			v = ir.ToGo(iv)
		}
		out[p.Name] = v
	}
	return out, nil
}

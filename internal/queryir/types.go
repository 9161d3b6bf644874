package queryir

import (
	"fmt"
	"reflect"

	"github.com/roach88/dsq/internal/doc"
	"github.com/roach88/dsq/internal/ir"
)

// Kind is the capability a plan is built for. It decides which
// post-normalization checks apply.
type Kind int

const (
	KindSelect Kind = iota
	KindInsert
	KindUpdate
	KindDelete
	KindSoftDelete
	KindRestore
)

func (k Kind) String() string {
	switch k {
	case KindSelect:
		return "select"
	case KindInsert:
		return "insert"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	case KindSoftDelete:
		return "soft_delete"
	case KindRestore:
		return "restore"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Family is the backend family a plan targets. SQL plans accept tables and
// views; document plans accept collections.
type Family int

const (
	FamilySQL Family = iota
	FamilyDocument
)

func (f Family) String() string {
	if f == FamilyDocument {
		return "document"
	}
	return "sql"
}

// ContainerKind is the storage object a container names.
type ContainerKind int

const (
	ContainerTable ContainerKind = iota + 1
	ContainerView
	ContainerCollection
)

func (k ContainerKind) String() string {
	switch k {
	case ContainerTable:
		return "table"
	case ContainerView:
		return "view"
	case ContainerCollection:
		return "collection"
	default:
		return fmt.Sprintf("container(%d)", int(k))
	}
}

// ParseContainerKind maps "table", "view" and "collection" to their kinds.
func ParseContainerKind(s string) (ContainerKind, bool) {
	switch s {
	case "table":
		return ContainerTable, true
	case "view":
		return ContainerView, true
	case "collection":
		return ContainerCollection, true
	}
	return 0, false
}

// Operation is the role a container plays in a plan.
type Operation int

const (
	OpSelect Operation = iota + 1
	OpInsert
	OpUpdate
	OpDelete
	OpExec
	OpJoin
	OpLeftJoin
	OpCrossJoin
)

var operationNames = map[Operation]string{
	OpSelect:    "select",
	OpInsert:    "insert",
	OpUpdate:    "update",
	OpDelete:    "delete",
	OpExec:      "exec",
	OpJoin:      "join",
	OpLeftJoin:  "left_join",
	OpCrossJoin: "cross_join",
}

func (op Operation) String() string {
	if s, ok := operationNames[op]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// ParseOperation is the inverse of Operation.String.
func ParseOperation(s string) (Operation, bool) {
	for op, name := range operationNames {
		if name == s {
			return op, true
		}
	}
	return 0, false
}

// IsMain reports whether op makes its container the plan's root.
func (op Operation) IsMain() bool {
	switch op {
	case OpSelect, OpInsert, OpUpdate, OpDelete, OpExec:
		return true
	}
	return false
}

// Operator is a comparison used by a condition.
type Operator int

const (
	Eq Operator = iota + 1
	Ne
	Gt
	Ge
	Lt
	Le
	In
	NotIn
	Like
	NotLike
)

var operatorNames = map[Operator]string{
	Eq:      "eq",
	Ne:      "ne",
	Gt:      "gt",
	Ge:      "ge",
	Lt:      "lt",
	Le:      "le",
	In:      "in",
	NotIn:   "nin",
	Like:    "like",
	NotLike: "nlike",
}

func (o Operator) String() string {
	if s, ok := operatorNames[o]; ok {
		return s
	}
	return fmt.Sprintf("operator(%d)", int(o))
}

// ParseOperator is the inverse of Operator.String.
func ParseOperator(s string) (Operator, bool) {
	for o, name := range operatorNames {
		if name == s {
			return o, true
		}
	}
	return 0, false
}

// ConditionFlags select where a condition lives and what it compares
// against. Exactly one of OnConst, OnParam and OnField must be set.
type ConditionFlags uint8

const (
	OnConst ConditionFlags = 1 << iota
	OnParam
	OnField
	// Connect files the condition under its alias's join condition instead
	// of the plan's filters.
	Connect
)

// Source is what the right-hand side of a condition is.
type Source int

const (
	SourceConst Source = iota + 1
	SourceParam
	SourceField
)

// FieldRef names a field of an aliased container.
type FieldRef struct {
	Alias string
	Field string
}

func (r FieldRef) String() string { return r.Alias + "." + r.Field }

// Container is one aliased storage object participating in a plan.
type Container struct {
	// Descriptor is the document type stored in the container. It may be
	// nil for ad-hoc containers, in which case field names are not checked.
	Descriptor *doc.Descriptor

	Alias     string
	Name      string
	Kind      ContainerKind
	Operation Operation
}

// Condition is one comparison of a container field against a constant, a
// named parameter or another container's field.
type Condition struct {
	Alias    string
	Field    string
	Operator Operator
	Source   Source

	// Value is set for SourceConst. ir.Null compares with IS NULL.
	Value ir.Value
	// Param is set for SourceParam, without the "@" prefix.
	Param string
	// Ref is set for SourceField.
	Ref FieldRef

	// Begin is the number of groups opened before this condition and End
	// the number closed after it.
	Begin int
	End   int
	// Or joins this condition to the previous one with OR instead of AND.
	Or bool
}

// Direction is the flow of a parameter.
type Direction int

const (
	DirIn Direction = iota
	DirOut
	DirInOut
)

// Parameter is a named value supplied at execution time.
type Parameter struct {
	Name     string
	Type     reflect.Type
	Nullable bool
	Dir      Direction
}

func (p Parameter) equal(o Parameter) bool {
	return p.Name == o.Name && p.Type == o.Type && p.Nullable == o.Nullable && p.Dir == o.Dir
}

// SortDirection orders results.
type SortDirection int

const (
	Ascending SortDirection = iota
	Descending
	AscendingNullsFirst
	DescendingNullsLast
)

func (d SortDirection) String() string {
	switch d {
	case Ascending:
		return "asc"
	case Descending:
		return "desc"
	case AscendingNullsFirst:
		return "asc_nulls_first"
	case DescendingNullsLast:
		return "desc_nulls_last"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// ParseSortDirection is the inverse of SortDirection.String. The empty
// string means Ascending.
func ParseSortDirection(s string) (SortDirection, bool) {
	switch s {
	case "", "asc":
		return Ascending, true
	case "desc":
		return Descending, true
	case "asc_nulls_first":
		return AscendingNullsFirst, true
	case "desc_nulls_last":
		return DescendingNullsLast, true
	}
	return 0, false
}

// SortOrder is one ORDER BY term.
type SortOrder struct {
	Alias     string
	Field     string
	Direction SortDirection
}

// AggregateFunc is an aggregation function.
type AggregateFunc int

const (
	AggCount AggregateFunc = iota + 1
	AggSum
	AggAvg
	AggMin
	AggMax
)

func (f AggregateFunc) String() string {
	switch f {
	case AggCount:
		return "count"
	case AggSum:
		return "sum"
	case AggAvg:
		return "avg"
	case AggMin:
		return "min"
	case AggMax:
		return "max"
	default:
		return fmt.Sprintf("aggregate(%d)", int(f))
	}
}

// ParseAggregateFunc is the inverse of AggregateFunc.String.
func ParseAggregateFunc(s string) (AggregateFunc, bool) {
	for f := AggCount; f <= AggMax; f++ {
		if f.String() == s {
			return f, true
		}
	}
	return 0, false
}

// Aggregation computes Func over a field and reports it as Name. AggCount
// with an empty Field counts rows.
type Aggregation struct {
	Func  AggregateFunc
	Alias string
	Field string
	Name  string
}

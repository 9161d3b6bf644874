package ir

// DocumentSpec is a compiled document definition: the persisted shape of
// one entity type and the container that stores it.
type DocumentSpec struct {
	Name      string      `json:"name"`
	Container string      `json:"container"` // table, view or collection name
	Kind      string      `json:"kind"`      // "table" | "view" | "collection"
	Fields    []FieldSpec `json:"fields"`    // declaration order is column order
}

// FieldSpec describes one data entry of a document.
type FieldSpec struct {
	Name     string   `json:"name"`
	Column   string   `json:"column"` // DB-side name; defaults to Name
	Type     string   `json:"type"`   // see ValidFieldTypes
	Nullable bool     `json:"nullable,omitempty"`
	Flags    []string `json:"flags,omitempty"` // see ValidFieldFlags
}

// ValidFieldTypes lists the scalar types a field may declare.
var ValidFieldTypes = map[string]bool{
	"string": true,
	"int":    true,
	"float":  true,
	"bool":   true,
	"time":   true,
	"bytes":  true,
}

// ValidFieldFlags lists the flag names a field may carry.
var ValidFieldFlags = map[string]bool{
	"id":       true,
	"readonly": true,
	"created":  true,
	"modified": true,
	"updated":  true,
	"deleted":  true,
	"foreign":  true,
}

// ValidContainerKinds lists the container kinds a document may live in.
var ValidContainerKinds = map[string]bool{
	"table":      true,
	"view":       true,
	"collection": true,
}

// DataSourceSpec is a compiled data source definition.
type DataSourceSpec struct {
	Name       string     `json:"name"`
	Document   string     `json:"document"`
	Options    []string   `json:"options"` // subset of ValidDataSourceOptions
	SoftDelete bool       `json:"soft_delete,omitempty"`
	IDGen      *IDGenSpec `json:"idgen,omitempty"`
	Select     *PlanSpec  `json:"select,omitempty"` // nil means the auto-built plan
}

// ValidDataSourceOptions lists the operations a data source may enable.
var ValidDataSourceOptions = map[string]bool{
	"insert":  true,
	"select":  true,
	"update":  true,
	"delete":  true,
	"restore": true,
}

// IDGenSpec configures id generation for inserts.
type IDGenSpec struct {
	Kind        string `json:"kind"` // "sequential" | "uuid" | "none"
	StartAt     int64  `json:"start_at,omitempty"`
	Step        int64  `json:"step,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
}

// PlanSpec declares a select plan: containers, predicates and ordering.
type PlanSpec struct {
	Containers []ContainerSpec `json:"containers"`
	Connects   []ConditionSpec `json:"connects,omitempty"`
	Conditions []ConditionSpec `json:"conditions,omitempty"`
	Exclude    []FieldRef      `json:"exclude,omitempty"`
	Sort       []SortSpec      `json:"sort,omitempty"`
}

// ContainerSpec declares one container of a plan.
type ContainerSpec struct {
	Alias    string `json:"alias"`
	Document string `json:"document,omitempty"` // optional; joins may omit it
	Name     string `json:"name"`               // DB-side name
	Kind     string `json:"kind"`
	Op       string `json:"op"` // "select" | "join" | "left_join" | "cross_join" | ...
}

// ConditionSpec declares one connect or filter condition.
// Exactly one of Value, Param and Ref is set.
type ConditionSpec struct {
	Alias string    `json:"alias"`
	Field string    `json:"field"`
	Op    string    `json:"op"` // "eq" | "ne" | "gt" | "ge" | "lt" | "le" | "in" | "nin" | "like" | "nlike"
	Value Value     `json:"value,omitempty"`
	Param string    `json:"param,omitempty"`
	Ref   *FieldRef `json:"ref,omitempty"`

	Begin int  `json:"begin,omitempty"` // groups opened before this condition
	End   int  `json:"end,omitempty"`   // groups closed after this condition
	Or    bool `json:"or,omitempty"`    // joined to the previous condition by OR
}

// FieldRef names a field of an aliased container.
type FieldRef struct {
	Alias string `json:"alias"`
	Field string `json:"field"`
}

// SortSpec declares one ORDER BY entry.
type SortSpec struct {
	Alias     string `json:"alias"`
	Field     string `json:"field"`
	Direction string `json:"direction"` // "asc" | "desc"
}

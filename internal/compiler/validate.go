package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/dsq/internal/ir"
	"github.com/roach88/dsq/internal/queryir"
)

// Validation error codes (E100-E199)
const (
	// General validation errors (E100)
	ErrUnsupportedIRType = "E100" // unsupported IR type for validation

	// DocumentSpec errors (E101-E109)
	ErrContainerEmpty     = "E101" // container name is required
	ErrDocumentNoFields   = "E102" // at least one field required
	ErrInvalidFieldType   = "E103" // invalid type string
	ErrDuplicateName      = "E104" // duplicate field name or column
	ErrInvalidFieldFlag   = "E105" // unknown flag
	ErrInvalidKind        = "E106" // invalid container kind
	ErrMissingIDField     = "E107" // no field flagged id
	ErrDuplicateFlag      = "E108" // id or date flag on more than one field
	ErrInvalidIDFieldType = "E109" // id field must be int or string

	// DataSourceSpec errors (E110-E119)
	ErrDocumentEmpty    = "E110" // document reference is required
	ErrInvalidOption    = "E111" // unknown data source option
	ErrInvalidIDGen     = "E112" // invalid id generator settings
	ErrInvalidContainer = "E113" // invalid plan container
	ErrInvalidCondition = "E114" // invalid connect or filter condition
	ErrInvalidSort      = "E115" // invalid sort entry
	ErrConnectCycle     = "E116" // containers connect to each other in a cycle
	ErrUnbalancedGroups = "E117" // begin/end counts do not match
	ErrMultipleRoots    = "E118" // not exactly one main container
	ErrUnknownAlias     = "E119" // reference to an undeclared alias

	// Cross-definition errors (E120-E129)
	ErrUnknownDocument     = "E120" // data source names an undefined document
	ErrSoftDeleteNoMarker  = "E121" // soft_delete without a deleted field
	ErrUnknownField        = "E122" // plan references a field the document lacks
	ErrDuplicateDefinition = "E123" // two definitions share a name
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate validates a compiled definition on its own.
// Returns all errors found (does not fail-fast).
// Supports DocumentSpec and DataSourceSpec.
func Validate(v any) []ValidationError {
	switch spec := v.(type) {
	case *ir.DocumentSpec:
		return validateDocument(spec)
	case ir.DocumentSpec:
		return validateDocument(&spec)
	case *ir.DataSourceSpec:
		return validateDataSource(spec)
	case ir.DataSourceSpec:
		return validateDataSource(&spec)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported IR type: %T", v),
			Code:    ErrUnsupportedIRType,
		}}
	}
}

// uniqueFlags may mark at most one field of a document.
var uniqueFlags = []string{"id", "created", "modified", "updated", "deleted"}

func validateDocument(spec *ir.DocumentSpec) []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(spec.Container) == "" {
		errs = append(errs, ValidationError{
			Field:   "container",
			Message: "container is required and must be non-empty",
			Code:    ErrContainerEmpty,
		})
	}
	if spec.Kind != "" && !ir.ValidContainerKinds[spec.Kind] {
		errs = append(errs, ValidationError{
			Field:   "kind",
			Message: fmt.Sprintf("invalid container kind %q, must be \"table\", \"view\" or \"collection\"", spec.Kind),
			Code:    ErrInvalidKind,
		})
	}
	if len(spec.Fields) == 0 {
		errs = append(errs, ValidationError{
			Field:   "fields",
			Message: "at least one field is required",
			Code:    ErrDocumentNoFields,
		})
		return errs
	}

	names := make(map[string]bool)
	columns := make(map[string]bool)
	flagged := make(map[string][]string)
	for i, f := range spec.Fields {
		path := fmt.Sprintf("fields[%d]", i)
		if names[f.Name] {
			errs = append(errs, ValidationError{
				Field:   path + ".name",
				Message: fmt.Sprintf("duplicate field name: %q", f.Name),
				Code:    ErrDuplicateName,
			})
		}
		names[f.Name] = true

		column := f.Column
		if column == "" {
			column = f.Name
		}
		if columns[column] {
			errs = append(errs, ValidationError{
				Field:   path + ".column",
				Message: fmt.Sprintf("duplicate column: %q", column),
				Code:    ErrDuplicateName,
			})
		}
		columns[column] = true

		if !ir.ValidFieldTypes[f.Type] {
			errs = append(errs, ValidationError{
				Field:   path + ".type",
				Message: fmt.Sprintf("invalid type %q for field %q", f.Type, f.Name),
				Code:    ErrInvalidFieldType,
			})
		}
		for _, flag := range f.Flags {
			if !ir.ValidFieldFlags[flag] {
				errs = append(errs, ValidationError{
					Field:   path + ".flags",
					Message: fmt.Sprintf("unknown flag %q on field %q", flag, f.Name),
					Code:    ErrInvalidFieldFlag,
				})
				continue
			}
			flagged[flag] = append(flagged[flag], f.Name)
		}
	}

	for _, flag := range uniqueFlags {
		if fields := flagged[flag]; len(fields) > 1 {
			errs = append(errs, ValidationError{
				Field:   "fields",
				Message: fmt.Sprintf("flag %q is set on more than one field: %s", flag, strings.Join(fields, ", ")),
				Code:    ErrDuplicateFlag,
			})
		}
	}

	ids := flagged["id"]
	if len(ids) == 0 {
		errs = append(errs, ValidationError{
			Field:   "fields",
			Message: "one field must carry the \"id\" flag",
			Code:    ErrMissingIDField,
		})
	}
	for _, f := range spec.Fields {
		if len(ids) == 1 && f.Name == ids[0] && f.Type != "int" && f.Type != "string" {
			errs = append(errs, ValidationError{
				Field:   "fields." + f.Name,
				Message: fmt.Sprintf("id field must be int or string, not %q", f.Type),
				Code:    ErrInvalidIDFieldType,
			})
		}
	}

	return errs
}

func validateDataSource(spec *ir.DataSourceSpec) []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(spec.Document) == "" {
		errs = append(errs, ValidationError{
			Field:   "document",
			Message: "document is required and must be non-empty",
			Code:    ErrDocumentEmpty,
		})
	}
	for i, o := range spec.Options {
		if !ir.ValidDataSourceOptions[o] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("options[%d]", i),
				Message: fmt.Sprintf("unknown option %q", o),
				Code:    ErrInvalidOption,
			})
		}
	}

	if g := spec.IDGen; g != nil {
		switch g.Kind {
		case "sequential":
			if g.Step == 0 {
				errs = append(errs, ValidationError{
					Field:   "idgen.step",
					Message: "step must be non-zero",
					Code:    ErrInvalidIDGen,
				})
			}
		case "uuid", "none":
		default:
			errs = append(errs, ValidationError{
				Field:   "idgen.kind",
				Message: fmt.Sprintf("invalid id generator %q, must be \"sequential\", \"uuid\" or \"none\"", g.Kind),
				Code:    ErrInvalidIDGen,
			})
		}
		if g.MaxAttempts < 0 {
			errs = append(errs, ValidationError{
				Field:   "idgen.max_attempts",
				Message: "max_attempts must not be negative",
				Code:    ErrInvalidIDGen,
			})
		}
	}

	if spec.Select != nil {
		errs = append(errs, validatePlan(spec.Select)...)
	}
	return errs
}

func validatePlan(plan *ir.PlanSpec) []ValidationError {
	var errs []ValidationError

	aliases := make(map[string]bool)
	roots := 0
	for i, c := range plan.Containers {
		path := fmt.Sprintf("select.containers[%d]", i)
		switch {
		case c.Alias == "" || strings.Contains(c.Alias, "."):
			errs = append(errs, ValidationError{
				Field:   path + ".alias",
				Message: fmt.Sprintf("invalid alias %q", c.Alias),
				Code:    ErrInvalidContainer,
			})
		case aliases[c.Alias]:
			errs = append(errs, ValidationError{
				Field:   path + ".alias",
				Message: fmt.Sprintf("duplicate alias %q", c.Alias),
				Code:    ErrInvalidContainer,
			})
		}
		aliases[c.Alias] = true

		op, ok := queryir.ParseOperation(c.Op)
		if !ok {
			errs = append(errs, ValidationError{
				Field:   path + ".op",
				Message: fmt.Sprintf("unknown operation %q", c.Op),
				Code:    ErrInvalidContainer,
			})
		} else if op.IsMain() {
			roots++
		}
		if c.Kind != "" && !ir.ValidContainerKinds[c.Kind] {
			errs = append(errs, ValidationError{
				Field:   path + ".kind",
				Message: fmt.Sprintf("invalid container kind %q", c.Kind),
				Code:    ErrInvalidKind,
			})
		}
	}
	if roots != 1 {
		errs = append(errs, ValidationError{
			Field:   "select.containers",
			Message: fmt.Sprintf("exactly one main container is required, found %d", roots),
			Code:    ErrMultipleRoots,
		})
	}

	for i, c := range plan.Connects {
		path := fmt.Sprintf("select.connects[%d]", i)
		errs = append(errs, validateCondition(path, c, aliases)...)
		if c.Ref != nil && c.Ref.Alias == c.Alias {
			errs = append(errs, ValidationError{
				Field:   path + ".ref",
				Message: fmt.Sprintf("connect of %q references its own alias", c.Alias),
				Code:    ErrInvalidCondition,
			})
		}
	}
	errs = append(errs, validateGroups("select.connects", plan.Connects)...)

	for i, c := range plan.Conditions {
		path := fmt.Sprintf("select.conditions[%d]", i)
		errs = append(errs, validateCondition(path, c, aliases)...)
		if c.Ref != nil {
			errs = append(errs, ValidationError{
				Field:   path + ".ref",
				Message: "filters compare against a value or a parameter, not a field",
				Code:    ErrInvalidCondition,
			})
		}
	}
	errs = append(errs, validateGroups("select.conditions", plan.Conditions)...)

	for i, x := range plan.Exclude {
		if !aliases[x.Alias] {
			errs = append(errs, unknownAlias(fmt.Sprintf("select.exclude[%d]", i), x.Alias))
		}
	}
	for i, s := range plan.Sort {
		path := fmt.Sprintf("select.sort[%d]", i)
		if !aliases[s.Alias] {
			errs = append(errs, unknownAlias(path, s.Alias))
		}
		if _, ok := queryir.ParseSortDirection(s.Direction); !ok {
			errs = append(errs, ValidationError{
				Field:   path + ".direction",
				Message: fmt.Sprintf("invalid direction %q, must be \"asc\" or \"desc\"", s.Direction),
				Code:    ErrInvalidSort,
			})
		}
	}

	for _, cycle := range AnalyzeCycles(*plan) {
		errs = append(errs, ValidationError{
			Field:   "select.connects",
			Message: cycle.Message,
			Code:    ErrConnectCycle,
		})
	}
	return errs
}

func validateCondition(path string, c ir.ConditionSpec, aliases map[string]bool) []ValidationError {
	var errs []ValidationError
	if !aliases[c.Alias] {
		errs = append(errs, unknownAlias(path+".alias", c.Alias))
	}
	if c.Ref != nil && !aliases[c.Ref.Alias] {
		errs = append(errs, unknownAlias(path+".ref", c.Ref.Alias))
	}
	if _, ok := queryir.ParseOperator(c.Op); !ok {
		errs = append(errs, ValidationError{
			Field:   path + ".op",
			Message: fmt.Sprintf("unknown operator %q", c.Op),
			Code:    ErrInvalidCondition,
		})
	}

	sources := 0
	if c.Ref != nil {
		sources++
	}
	if c.Param != "" {
		sources++
	}
	if c.Value != nil {
		sources++
	}
	if sources != 1 {
		errs = append(errs, ValidationError{
			Field:   path,
			Message: fmt.Sprintf("condition on %s.%s needs exactly one of value, param and ref", c.Alias, c.Field),
			Code:    ErrInvalidCondition,
		})
	}
	if c.Begin < 0 || c.End < 0 {
		errs = append(errs, ValidationError{
			Field:   path,
			Message: "begin and end must not be negative",
			Code:    ErrUnbalancedGroups,
		})
	}
	return errs
}

// validateGroups checks begin/end nesting per owning alias, the unit the
// builder groups conditions by.
func validateGroups(path string, conds []ir.ConditionSpec) []ValidationError {
	var errs []ValidationError
	depth := make(map[string]int)
	var order []string
	for i, c := range conds {
		if _, seen := depth[c.Alias]; !seen {
			order = append(order, c.Alias)
		}
		depth[c.Alias] += c.Begin - c.End
		if depth[c.Alias] < 0 {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s[%d].end", path, i),
				Message: fmt.Sprintf("group closed with none open on %q", c.Alias),
				Code:    ErrUnbalancedGroups,
			})
			depth[c.Alias] = 0
		}
	}
	for _, alias := range order {
		if depth[alias] > 0 {
			errs = append(errs, ValidationError{
				Field:   path,
				Message: fmt.Sprintf("%d group(s) on %q never closed", depth[alias], alias),
				Code:    ErrUnbalancedGroups,
			})
		}
	}
	return errs
}

func unknownAlias(path, alias string) ValidationError {
	return ValidationError{
		Field:   path,
		Message: fmt.Sprintf("unknown alias %q", alias),
		Code:    ErrUnknownAlias,
	}
}

// ValidateDefinitions checks references between definitions: data sources
// name known documents, soft delete has a marker field and plans name
// fields their documents declare. Each definition should already pass
// Validate on its own.
func ValidateDefinitions(docs []ir.DocumentSpec, sources []ir.DataSourceSpec) []ValidationError {
	var errs []ValidationError

	byName := make(map[string]*ir.DocumentSpec, len(docs))
	for i := range docs {
		d := &docs[i]
		if byName[d.Name] != nil {
			errs = append(errs, ValidationError{
				Field:   "document." + d.Name,
				Message: fmt.Sprintf("document %q is defined more than once", d.Name),
				Code:    ErrDuplicateDefinition,
			})
		}
		byName[d.Name] = d
	}

	seen := make(map[string]bool, len(sources))
	for _, s := range sources {
		field := "datasource." + s.Name
		if seen[s.Name] {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("data source %q is defined more than once", s.Name),
				Code:    ErrDuplicateDefinition,
			})
		}
		seen[s.Name] = true

		d := byName[s.Document]
		if d == nil {
			errs = append(errs, ValidationError{
				Field:   field + ".document",
				Message: fmt.Sprintf("unknown document %q", s.Document),
				Code:    ErrUnknownDocument,
			})
			continue
		}
		if s.SoftDelete && !hasFlag(d, "deleted") {
			errs = append(errs, ValidationError{
				Field:   field + ".soft_delete",
				Message: fmt.Sprintf("document %q has no field flagged \"deleted\"", d.Name),
				Code:    ErrSoftDeleteNoMarker,
			})
		}
		if s.Select != nil {
			errs = append(errs, validatePlanFields(field+".select", s.Select, byName)...)
		}
	}
	return errs
}

func validatePlanFields(path string, plan *ir.PlanSpec, docs map[string]*ir.DocumentSpec) []ValidationError {
	var errs []ValidationError
	aliasDocs := make(map[string]*ir.DocumentSpec)
	for i, c := range plan.Containers {
		if c.Document == "" {
			continue
		}
		d := docs[c.Document]
		if d == nil {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s.containers[%d].document", path, i),
				Message: fmt.Sprintf("unknown document %q", c.Document),
				Code:    ErrUnknownDocument,
			})
			continue
		}
		aliasDocs[c.Alias] = d
	}

	check := func(field, alias, name string) {
		d := aliasDocs[alias]
		if d == nil || hasField(d, name) {
			return
		}
		errs = append(errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("document %q has no field %q", d.Name, name),
			Code:    ErrUnknownField,
		})
	}
	for i, c := range plan.Connects {
		check(fmt.Sprintf("%s.connects[%d]", path, i), c.Alias, c.Field)
		if c.Ref != nil {
			check(fmt.Sprintf("%s.connects[%d].ref", path, i), c.Ref.Alias, c.Ref.Field)
		}
	}
	for i, c := range plan.Conditions {
		check(fmt.Sprintf("%s.conditions[%d]", path, i), c.Alias, c.Field)
	}
	for i, x := range plan.Exclude {
		check(fmt.Sprintf("%s.exclude[%d]", path, i), x.Alias, x.Field)
	}
	for i, s := range plan.Sort {
		check(fmt.Sprintf("%s.sort[%d]", path, i), s.Alias, s.Field)
	}
	return errs
}

func hasField(d *ir.DocumentSpec, name string) bool {
	for _, f := range d.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

func hasFlag(d *ir.DocumentSpec, flag string) bool {
	for _, f := range d.Fields {
		for _, fl := range f.Flags {
			if fl == flag {
				return true
			}
		}
	}
	return false
}

package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/dsq/internal/datasource"
	"github.com/roach88/dsq/internal/queryir"
)

// Scenario is a sequence of data source operations run against a fresh
// backend, each step optionally checked against expected results.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden traces are stored
	// under this name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Definitions is the CUE file or directory holding the document and
	// data source definitions. Relative paths are resolved against the
	// scenario file location.
	Definitions string `yaml:"definitions"`

	// Backend is "sqlite" (the default) or "docstore".
	Backend string `yaml:"backend,omitempty"`

	// Schema is SQL applied to a sqlite backend before the first step.
	Schema string `yaml:"schema,omitempty"`

	// Steps run in order. A failing step does not stop the scenario.
	Steps []Step `yaml:"steps"`
}

// Step is one data source operation.
type Step struct {
	// Op is one of insert, get, select, count, update, delete, restore.
	Op string `yaml:"op"`

	// DataSource names the data source definition the step runs on.
	DataSource string `yaml:"datasource"`

	// Record holds field values for insert and update. Update writes the
	// listed Fields, or every field present in Record besides the id.
	Record map[string]any `yaml:"record,omitempty"`
	Fields []string       `yaml:"fields,omitempty"`

	// ID selects the document for get, delete and restore.
	ID any `yaml:"id,omitempty"`

	// Query settings for select and count.
	Filters  []Filter       `yaml:"filters,omitempty"`
	Sort     []Sort         `yaml:"sort,omitempty"`
	Args     map[string]any `yaml:"args,omitempty"`
	Skip     int            `yaml:"skip,omitempty"`
	Take     int            `yaml:"take,omitempty"`
	LastPage bool           `yaml:"last_page,omitempty"`
	Mode     string         `yaml:"mode,omitempty"` // actual | deleted | all

	// Expect is checked after the step. Without it the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Filter is a condition on a field of the root container.
type Filter struct {
	Field string `yaml:"field"`
	Op    string `yaml:"op"`
	Value any    `yaml:"value,omitempty"`
	Param string `yaml:"param,omitempty"`
	Begin int    `yaml:"begin,omitempty"`
	End   int    `yaml:"end,omitempty"`
	Or    bool   `yaml:"or,omitempty"`
}

// Sort orders a select by a field of the root container.
type Sort struct {
	Field     string `yaml:"field"`
	Direction string `yaml:"direction,omitempty"` // asc | desc
}

// Expect specifies the outcome of a step. Unset fields are not checked.
type Expect struct {
	// Error is the expected error code (NOT_FOUND, CONFLICT, ...). When set
	// the step must fail with it.
	Error string `yaml:"error,omitempty"`

	// ID is the id of the inserted document.
	ID any `yaml:"id,omitempty"`

	// Count is the result of a count step or the number of records a
	// select or get returned.
	Count *int64 `yaml:"count,omitempty"`

	// Records are matched in order against the returned documents. Each
	// expected record is a subset match; the number of records must agree.
	Records []map[string]any `yaml:"records,omitempty"`

	// LastPage is the cursor's last-page flag of a select with last_page.
	LastPage *bool `yaml:"last_page,omitempty"`
}

// Step operations.
const (
	OpInsert  = "insert"
	OpGet     = "get"
	OpSelect  = "select"
	OpCount   = "count"
	OpUpdate  = "update"
	OpDelete  = "delete"
	OpRestore = "restore"
)

// Backends a scenario can run against.
const (
	BackendSQLite   = "sqlite"
	BackendDocStore = "docstore"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, filepath.Dir(path))
}

// ParseScenario parses scenario YAML, resolving the definitions path
// relative to baseDir.
func ParseScenario(data []byte, baseDir string) (*Scenario, error) {
	// Strict decoding catches typos like "step:" vs "steps:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Definitions != "" && !filepath.IsAbs(scenario.Definitions) && baseDir != "" {
		scenario.Definitions = filepath.Join(baseDir, scenario.Definitions)
	}
	if scenario.Backend == "" {
		scenario.Backend = BackendSQLite
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Definitions == "" {
		return fmt.Errorf("definitions is required")
	}
	if _, err := os.Stat(s.Definitions); os.IsNotExist(err) {
		return fmt.Errorf("definitions not found: %s", s.Definitions)
	}

	switch s.Backend {
	case BackendSQLite:
	case BackendDocStore:
		if s.Schema != "" {
			return fmt.Errorf("schema only applies to the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", s.Backend)
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i := range s.Steps {
		if err := validateStep(&s.Steps[i]); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step *Step) error {
	if step.DataSource == "" {
		return fmt.Errorf("datasource is required")
	}

	switch step.Op {
	case OpInsert:
		if step.Record == nil {
			return fmt.Errorf("record is required for insert (use {} for an empty record)")
		}
	case OpUpdate:
		if len(step.Record) == 0 {
			return fmt.Errorf("record is required for update")
		}
	case OpGet, OpDelete, OpRestore:
		if step.ID == nil {
			return fmt.Errorf("id is required for %s", step.Op)
		}
	case OpSelect, OpCount:
		if _, ok := datasource.ParseSoftDeleteMode(step.Mode); !ok {
			return fmt.Errorf("unknown mode %q", step.Mode)
		}
		if step.Skip < 0 {
			return fmt.Errorf("skip must not be negative")
		}
		if step.LastPage && step.Take <= 0 {
			return fmt.Errorf("last_page needs a positive take")
		}
	case "":
		return fmt.Errorf("op is required")
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}

	for j, f := range step.Filters {
		if f.Field == "" {
			return fmt.Errorf("filters[%d]: field is required", j)
		}
		if _, ok := queryir.ParseOperator(f.Op); !ok {
			return fmt.Errorf("filters[%d]: unknown operator %q", j, f.Op)
		}
	}
	for j, s := range step.Sort {
		if s.Field == "" {
			return fmt.Errorf("sort[%d]: field is required", j)
		}
		if _, ok := queryir.ParseSortDirection(s.Direction); !ok {
			return fmt.Errorf("sort[%d]: unknown direction %q", j, s.Direction)
		}
	}
	return nil
}

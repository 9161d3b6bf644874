package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScenario writes a definitions file and a scenario beside it and
// returns the scenario path.
func writeScenario(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	defs := `
document: Item: {
	container: "items"
	fields: {
		id: {type: "int", flags: ["id"]}
		label: "string"
	}
}
datasource: Items: document: "Item"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "items.cue"), []byte(defs), 0o644))
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, `
name: items
description: "Insert and read back"
definitions: items.cue
schema: "CREATE TABLE items (id INTEGER PRIMARY KEY, label TEXT);"
steps:
  - op: insert
    datasource: Items
    record: { label: one }
    expect: { id: 1 }
  - op: select
    datasource: Items
    filters:
      - { field: label, op: like, value: "o%" }
    sort:
      - { field: id, direction: desc }
    take: 5
    last_page: true
    expect:
      count: 1
      records:
        - { label: one }
      last_page: true
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "items", scenario.Name)
	assert.Equal(t, BackendSQLite, scenario.Backend, "backend defaults to sqlite")
	assert.Equal(t, filepath.Join(filepath.Dir(path), "items.cue"), scenario.Definitions)
	require.Len(t, scenario.Steps, 2)

	insert := scenario.Steps[0]
	assert.Equal(t, OpInsert, insert.Op)
	assert.Equal(t, "one", insert.Record["label"])
	assert.Equal(t, 1, insert.Expect.ID)

	sel := scenario.Steps[1]
	require.Len(t, sel.Filters, 1)
	assert.Equal(t, "like", sel.Filters[0].Op)
	assert.Equal(t, "o%", sel.Filters[0].Value)
	assert.Equal(t, Sort{Field: "id", Direction: "desc"}, sel.Sort[0])
	require.NotNil(t, sel.Expect.Count)
	assert.Equal(t, int64(1), *sel.Expect.Count)
	require.NotNil(t, sel.Expect.LastPage)
	assert.True(t, *sel.Expect.LastPage)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_MalformedYAML(t *testing.T) {
	path := writeScenario(t, "name: [unclosed\n")
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_UnknownFieldsRejected(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: "Misspelled key"
definitions: items.cue
step:
  - op: get
    datasource: Items
    id: 1
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field step not found")
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"missing name", `
description: d
definitions: items.cue
steps: [{op: get, datasource: Items, id: 1}]
`, "name is required"},
		{"missing description", `
name: n
definitions: items.cue
steps: [{op: get, datasource: Items, id: 1}]
`, "description is required"},
		{"missing definitions", `
name: n
description: d
steps: [{op: get, datasource: Items, id: 1}]
`, "definitions is required"},
		{"definitions not found", `
name: n
description: d
definitions: missing.cue
steps: [{op: get, datasource: Items, id: 1}]
`, "definitions not found"},
		{"unknown backend", `
name: n
description: d
definitions: items.cue
backend: mysql
steps: [{op: get, datasource: Items, id: 1}]
`, `unknown backend "mysql"`},
		{"schema on docstore", `
name: n
description: d
definitions: items.cue
backend: docstore
schema: "CREATE TABLE x (id INTEGER)"
steps: [{op: get, datasource: Items, id: 1}]
`, "schema only applies"},
		{"no steps", `
name: n
description: d
definitions: items.cue
steps: []
`, "steps list is required"},
		{"missing op", `
name: n
description: d
definitions: items.cue
steps: [{datasource: Items}]
`, "steps[0]: op is required"},
		{"unknown op", `
name: n
description: d
definitions: items.cue
steps: [{op: upsert, datasource: Items}]
`, `unknown op "upsert"`},
		{"missing datasource", `
name: n
description: d
definitions: items.cue
steps: [{op: count}]
`, "datasource is required"},
		{"insert without record", `
name: n
description: d
definitions: items.cue
steps: [{op: insert, datasource: Items}]
`, "record is required for insert"},
		{"update without record", `
name: n
description: d
definitions: items.cue
steps: [{op: update, datasource: Items, record: {}}]
`, "record is required for update"},
		{"delete without id", `
name: n
description: d
definitions: items.cue
steps: [{op: delete, datasource: Items}]
`, "id is required for delete"},
		{"unknown mode", `
name: n
description: d
definitions: items.cue
steps: [{op: select, datasource: Items, mode: gone}]
`, `unknown mode "gone"`},
		{"last page without take", `
name: n
description: d
definitions: items.cue
steps: [{op: select, datasource: Items, last_page: true}]
`, "last_page needs a positive take"},
		{"unknown operator", `
name: n
description: d
definitions: items.cue
steps: [{op: count, datasource: Items, filters: [{field: id, op: between}]}]
`, `filters[0]: unknown operator "between"`},
		{"unknown direction", `
name: n
description: d
definitions: items.cue
steps: [{op: select, datasource: Items, sort: [{field: id, direction: up}]}]
`, `sort[0]: unknown direction "up"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid scenario")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseScenario_AbsoluteDefinitions(t *testing.T) {
	path := writeScenario(t, "")
	defs := filepath.Join(filepath.Dir(path), "items.cue")

	scenario, err := ParseScenario([]byte(`
name: abs
description: d
definitions: `+defs+`
backend: docstore
steps: [{op: count, datasource: Items}]
`), "/elsewhere")
	require.NoError(t, err)
	assert.Equal(t, defs, scenario.Definitions)
	assert.Equal(t, BackendDocStore, scenario.Backend)
}

func TestLoadExampleScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			assert.NotEmpty(t, scenario.Steps)
		})
	}
}

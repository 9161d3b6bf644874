package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssertGolden_FromResult(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/notes_docstore.yaml")
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	require.NoError(t, AssertGolden(t, scenario, result))
}

func TestTraceSnapshotMarshal(t *testing.T) {
	snapshot := TraceSnapshot{
		ScenarioName: "snapshot",
		Backend:      BackendSQLite,
		Trace: []TraceEvent{
			{
				Seq:        1,
				Op:         OpInsert,
				DataSource: "Items",
				Statements: []string{"SELECT\n\tMAX(\"id\") AS \"extreme\"\nFROM \"items\"", "INSERT INTO \"items\" (\"id\") VALUES (@id)"},
				Outcome:    OutcomeOK,
				Result:     int64(1),
			},
			{
				Seq:        2,
				Op:         OpDelete,
				DataSource: "Items",
				Statements: []string{},
				Outcome:    "NOT_FOUND",
			},
		},
	}

	got, err := snapshot.Marshal()
	require.NoError(t, err)
	assert.Equal(t,
		`{"backend":"sqlite","scenario_name":"snapshot","trace":[`+
			`{"datasource":"Items","op":"insert","outcome":"ok","result":1,"seq":1,"statements":["SELECT","INSERT"]},`+
			`{"datasource":"Items","op":"delete","outcome":"NOT_FOUND","seq":2,"statements":[]}]}`,
		string(got))

	again, err := snapshot.Marshal()
	require.NoError(t, err)
	assert.Equal(t, got, again, "canonical JSON must be deterministic")
}

func TestStatementVerb(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"SELECT\n\t\"id\"\nFROM \"orders\"", "SELECT"},
		{"  update \"orders\" SET \"name\" = @name", "UPDATE"},
		{"DELETE FROM \"orders\" WHERE \"id\" = @id", "DELETE"},
		{`{"op":"find","container":"notes"}`, "find"},
		{`{"container":"notes","op":"extreme"}`, "extreme"},
		{`{"container":"notes"}`, `{"CONTAINER":"NOTES"}`},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, StatementVerb(tt.text))
		})
	}
}

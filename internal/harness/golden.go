package harness

import (
	"context"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/sebdah/goldie/v2"

	"github.com/roach88/dsq/internal/ir"
)

// TraceSnapshot captures the trace of a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Backend      string       `json:"backend"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonical converts a TraceSnapshot to an ir.Object for canonical JSON
// serialization. Statements are reduced to their verbs: the full text is
// covered by the renderer golden tests, the trace pins down which
// statements each step issues.
func (s *TraceSnapshot) toCanonical() (ir.Value, error) {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		verbs := make([]any, len(event.Statements))
		for j, text := range event.Statements {
			verbs[j] = StatementVerb(text)
		}
		eventMap := map[string]any{
			"seq":        event.Seq,
			"op":         event.Op,
			"datasource": event.DataSource,
			"statements": verbs,
			"outcome":    event.Outcome,
		}
		if event.Result != nil {
			eventMap["result"] = event.Result
		}
		traceList[i] = eventMap
	}

	return ir.FromGo(map[string]any{
		"scenario_name": s.ScenarioName,
		"backend":       s.Backend,
		"trace":         traceList,
	})
}

// Marshal returns the snapshot as canonical JSON.
func (s *TraceSnapshot) Marshal() ([]byte, error) {
	v, err := s.toCanonical()
	if err != nil {
		return nil, err
	}
	return ir.MarshalCanonical(v)
}

// StatementVerb names what a rendered statement does: the leading keyword
// of SQL text, or the op of a document request.
func StatementVerb(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") {
		var req struct {
			Op string `json:"op"`
		}
		if err := json.Unmarshal([]byte(trimmed), &req); err == nil && req.Op != "" {
			return req.Op
		}
	}
	words := strings.Fields(trimmed)
	if len(words) == 0 {
		return ""
	}
	return strings.ToUpper(words[0])
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	return result, assertGolden(t, scenario.Name, scenario.Backend, result)
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenario *Scenario, result *Result) error {
	t.Helper()
	return assertGolden(t, scenario.Name, scenario.Backend, result)
}

func assertGolden(t *testing.T, name, backend string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{
		ScenarioName: name,
		Backend:      backend,
		Trace:        result.Trace,
	}
	traceJSON, err := snapshot.Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, traceJSON)
	return nil
}

package harness

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq        int64  `json:"seq"`
	Op         string `json:"op"`
	DataSource string `json:"datasource"`

	// Statements are the rendered statements (SQL text or document
	// requests) the step sent to the backend, in order.
	Statements []string `json:"statements"`

	// Outcome is "ok" or the error code the step failed with.
	Outcome string `json:"outcome"`

	// Result is the generated id of an insert, the count of a count step
	// or the number of records a select or get returned.
	Result any `json:"result,omitempty"`
}

// Step outcomes besides error codes.
const (
	OutcomeOK    = "ok"
	OutcomeError = "ERROR" // failed without an error code
)

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every step met its expectations.
	Pass bool `json:"pass"`

	// Trace contains one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends a step event, numbering it.
func (r *Result) AddEvent(e TraceEvent) {
	e.Seq = int64(len(r.Trace) + 1)
	if e.Statements == nil {
		e.Statements = []string{}
	}
	r.Trace = append(r.Trace, e)
}

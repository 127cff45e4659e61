package harness

import "github.com/roach88/chatsync/internal/engine"

// TraceEvent records one executed step.
type TraceEvent struct {
	Step   int    `json:"step"`
	Op     string `json:"op"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all assertions match.
	Pass bool `json:"pass"`

	// Trace contains every step in execution order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Final is the scenario conversation after the last step.
	Final []engine.Record `json:"final"`

	// OutboxSize is the number of deliveries still queued.
	OutboxSize int `json:"outbox_size"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Final:  []engine.Record{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step outcome. A failed step keeps only its error.
func (r *Result) AddTrace(step int, op string, result any, err error) {
	ev := TraceEvent{Step: step, Op: op, Result: result}
	if err != nil {
		ev.Result = nil
		ev.Error = err.Error()
	}
	r.Trace = append(r.Trace, ev)
}

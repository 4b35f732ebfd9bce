package harness

import "github.com/roach88/hookledger/internal/store"

// TraceEvent records the outcome of one op.
type TraceEvent struct {
	Step       int    `json:"step"`
	Op         string `json:"op"`
	Table      string `json:"table"`
	Affected   int    `json:"affected"`
	Suppressed int    `json:"suppressed,omitempty"`
	Error      string `json:"error,omitempty"`
}

// StepOutcome records how a step's transaction finished.
type StepOutcome struct {
	Step      int    `json:"step"`
	Name      string `json:"name,omitempty"`
	TxnID     string `json:"txn_id"`
	Committed bool   `json:"committed"`

	// Error is the error code the step failed with, if any.
	Error string `json:"error,omitempty"`

	// Detail is the full error message. It is not part of golden snapshots.
	Detail string `json:"-"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every step met its expectation and all assertions match.
	Pass bool `json:"pass"`

	// Steps holds one outcome per step, in order.
	Steps []StepOutcome `json:"steps"`

	// Trace contains every op outcome in order.
	Trace []TraceEvent `json:"trace"`

	// Ledger is the committed ledger after the last step.
	Ledger []store.Entry `json:"ledger"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepOutcome{},
		Trace:  []TraceEvent{},
		Ledger: []store.Entry{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an op outcome.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}

package harness

import (
	"github.com/roach88/deploydag/internal/engine"
	"github.com/roach88/deploydag/internal/ir"
)

// TraceEvent is one engine notification as recorded by the harness.
type TraceEvent struct {
	Seq     int64     `json:"seq"`
	Unit    string    `json:"unit"`
	Status  ir.Status `json:"status"`
	Address string    `json:"address,omitempty"`
	Attempt int       `json:"attempt,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds engine events in emission order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Outcomes maps each plan unit to its terminal outcome.
	Outcomes map[string]ir.Outcome `json:"outcomes,omitempty"`

	// ChainLog is the fake chain's deploy/confirm log.
	ChainLog []string `json:"chain_log,omitempty"`

	// ErrorCode is the taxonomy code the plan was refused with, if any.
	ErrorCode string `json:"error_code,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Trace:    []TraceEvent{},
		Errors:   []string{},
		Outcomes: make(map[string]ir.Outcome),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends an engine event to the trace. The engine serializes
// notifications, so AddEvent can be passed to engine.WithNotify directly.
func (r *Result) AddEvent(ev engine.Event) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:     ev.Seq,
		Unit:    ev.Unit,
		Status:  ev.Status,
		Address: ev.Address,
		Attempt: ev.Attempt,
		Reason:  ev.Reason,
	})
}

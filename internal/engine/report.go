package engine

import (
	"time"

	"github.com/roach88/deploydag/internal/ir"
)

// Report is the result of one run: a terminal outcome per unit, in the
// order the units were given to Run.
type Report struct {
	RunID      string       `json:"run_id"`
	Network    string       `json:"network"`
	Outcomes   []ir.Outcome `json:"outcomes"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// Failed reports whether any unit ended in Failed. Skipped units alone do
// not fail a run.
func (r *Report) Failed() bool {
	for _, o := range r.Outcomes {
		if o.Status == ir.StatusFailed {
			return true
		}
	}
	return false
}

// Counts tallies outcomes by status.
func (r *Report) Counts() map[ir.Status]int {
	counts := make(map[ir.Status]int)
	for _, o := range r.Outcomes {
		counts[o.Status]++
	}
	return counts
}

// Outcome returns the outcome for unit.
func (r *Report) Outcome(unit string) (ir.Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Unit == unit {
			return o, true
		}
	}
	return ir.Outcome{}, false
}

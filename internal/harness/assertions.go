package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/deploydag/internal/ir"
	"github.com/roach88/deploydag/internal/store"
	"github.com/roach88/deploydag/internal/testutil"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s", ev.Seq, ev.Unit, ev.Status)
			if ev.Reason != "" {
				fmt.Fprintf(&buf, " (%s)", ev.Reason)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// assertChainOrder checks that the entries appear in the chain log in the
// given order. Other entries may appear between them.
func assertChainOrder(log []string, assertion Assertion) error {
	pos := 0
	for _, want := range assertion.Entries {
		found := false
		for pos < len(log) {
			pos++
			if log[pos-1] == want {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertChainOrder,
				Expected: strings.Join(assertion.Entries, " -> "),
				Actual:   strings.Join(log, " -> "),
			}
		}
	}
	return nil
}

// assertDeployCount counts deploy attempts that reached the chain,
// including failed ones.
func assertDeployCount(log []string, assertion Assertion) error {
	count := 0
	for _, entry := range log {
		if entry == "deploy:"+assertion.Unit {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertDeployCount,
			Expected: fmt.Sprintf("%s deployed %d times", assertion.Unit, assertion.Count),
			Actual:   fmt.Sprintf("%d times", count),
		}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Unit == assertion.Unit && ev.Status == assertion.Status {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d %s events for %s", assertion.Count, assertion.Status, assertion.Unit),
			Actual:   fmt.Sprintf("%d", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertManifest checks the active record of a unit and, when History is
// set, how many records the key has accumulated.
func assertManifest(ctx context.Context, m store.Manifest, network string, assertion Assertion) error {
	rec, err := m.Get(ctx, network, assertion.Unit)
	if err != nil {
		return &AssertionError{
			Type:     AssertManifest,
			Expected: fmt.Sprintf("active record for %s on %s", assertion.Unit, network),
			Actual:   err.Error(),
		}
	}

	want := assertion.Address
	if assertion.Nonce != nil {
		want = testutil.AddressAt(*assertion.Nonce)
	}
	if want != "" && !strings.EqualFold(rec.Address, want) {
		return &AssertionError{
			Type:     AssertManifest,
			Expected: fmt.Sprintf("%s at %s", assertion.Unit, want),
			Actual:   rec.Address,
		}
	}

	if assertion.History > 0 {
		history, err := m.History(ctx, network, assertion.Unit)
		if err != nil {
			return fmt.Errorf("manifest: history of %s: %w", assertion.Unit, err)
		}
		if len(history) != assertion.History {
			return &AssertionError{
				Type:     AssertManifest,
				Expected: fmt.Sprintf("%d records for %s", assertion.History, assertion.Unit),
				Actual:   fmt.Sprintf("%d", len(history)),
			}
		}
	}
	return nil
}

func assertSkippedBy(outcomes map[string]ir.Outcome, assertion Assertion) error {
	o, ok := outcomes[assertion.Unit]
	if !ok {
		return &AssertionError{
			Type:     AssertSkippedBy,
			Expected: fmt.Sprintf("%s in the run", assertion.Unit),
			Actual:   "no outcome",
		}
	}
	if o.Status != ir.StatusSkipped || o.BlockedBy != assertion.BlockedBy {
		actual := o.Line()
		if o.BlockedBy != "" {
			actual += " by " + o.BlockedBy
		}
		return &AssertionError{
			Type:     AssertSkippedBy,
			Expected: fmt.Sprintf("%s skipped, blocked by %s", assertion.Unit, assertion.BlockedBy),
			Actual:   actual,
		}
	}
	return nil
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Manifest store.Manifest
	Ctx      context.Context
	Network  string
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides manifest access for manifest assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertChainOrder:
			err = assertChainOrder(result.ChainLog, assertion)
		case AssertDeployCount:
			err = assertDeployCount(result.ChainLog, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertManifest:
			if actx == nil || actx.Manifest == nil {
				err = fmt.Errorf("assertion[%d]: manifest requires a manifest context", i)
			} else {
				err = assertManifest(actx.Ctx, actx.Manifest, actx.Network, assertion)
			}
		case AssertSkippedBy:
			err = assertSkippedBy(result.Outcomes, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

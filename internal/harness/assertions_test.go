package harness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deploydag/internal/ir"
	"github.com/roach88/deploydag/internal/store"
	"github.com/roach88/deploydag/internal/testutil"
)

var sampleLog = []string{
	"deploy:Token", "confirm:Token",
	"deploy:Factory", "deploy:Factory", "confirm:Factory",
	"deploy:Router", "confirm:Router",
}

func TestAssertChainOrder(t *testing.T) {
	tests := []struct {
		name    string
		entries []string
		wantErr bool
	}{
		{"adjacent", []string{"deploy:Token", "confirm:Token"}, false},
		{"gaps allowed", []string{"confirm:Token", "confirm:Router"}, false},
		{"repeated entry", []string{"deploy:Factory", "deploy:Factory", "confirm:Factory"}, false},
		{"out of order", []string{"confirm:Router", "deploy:Token"}, true},
		{"missing entry", []string{"deploy:Token", "deploy:Vault"}, true},
		{"repeated more than logged", []string{"deploy:Token", "deploy:Token"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertChainOrder(sampleLog, Assertion{Type: AssertChainOrder, Entries: tt.entries})
			if tt.wantErr {
				var aerr *AssertionError
				require.ErrorAs(t, err, &aerr)
				assert.Equal(t, AssertChainOrder, aerr.Type)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestAssertDeployCount(t *testing.T) {
	assert.NoError(t, assertDeployCount(sampleLog, Assertion{Unit: "Factory", Count: 2}))
	assert.NoError(t, assertDeployCount(sampleLog, Assertion{Unit: "Vault", Count: 0}))

	err := assertDeployCount(sampleLog, Assertion{Unit: "Token", Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Token deployed 2 times")
	assert.Contains(t, err.Error(), "Actual: 1 times")
}

func TestAssertTraceCount(t *testing.T) {
	trace := []TraceEvent{
		{Seq: 1, Unit: "Token", Status: ir.StatusSubmitting, Attempt: 1},
		{Seq: 2, Unit: "Token", Status: ir.StatusSubmitting, Attempt: 2},
		{Seq: 3, Unit: "Token", Status: ir.StatusDeployed, Attempt: 2},
	}

	assert.NoError(t, assertTraceCount(trace, Assertion{Unit: "Token", Status: ir.StatusSubmitting, Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Unit: "Token", Status: ir.StatusFailed, Count: 0}))

	err := assertTraceCount(trace, Assertion{Unit: "Token", Status: ir.StatusDeployed, Count: 2})
	require.Error(t, err)
	// The full trace is included for context.
	assert.Contains(t, err.Error(), "[2] Token Submitting")
}

func TestAssertSkippedBy(t *testing.T) {
	outcomes := map[string]ir.Outcome{
		"Router": {Unit: "Router", Status: ir.StatusSkipped, Reason: ir.ReasonBlockedByDependencyFailure, BlockedBy: "Factory"},
		"Token":  {Unit: "Token", Status: ir.StatusDeployed, Address: testutil.AddressAt(0)},
	}

	assert.NoError(t, assertSkippedBy(outcomes, Assertion{Unit: "Router", BlockedBy: "Factory"}))

	err := assertSkippedBy(outcomes, Assertion{Unit: "Router", BlockedBy: "Token"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Skipped BlockedByDependencyFailure by Factory")

	err = assertSkippedBy(outcomes, Assertion{Unit: "Token", BlockedBy: "Factory"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Deployed "+testutil.AddressAt(0))

	err = assertSkippedBy(outcomes, Assertion{Unit: "Ghost", BlockedBy: "Factory"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no outcome")
}

func TestAssertManifest(t *testing.T) {
	ctx := context.Background()
	m, err := store.OpenMemory()
	require.NoError(t, err)
	defer m.Close()

	put := func(addr string, mode ir.PutMode) {
		rec := ir.Record{
			Network:    "testnet",
			Unit:       "Token",
			Artifact:   "Token",
			Address:    addr,
			Args:       ir.IRArray{},
			RunID:      "run-" + addr,
			DeployedAt: time.Unix(0, 0).UTC(),
		}
		rec.ID, err = ir.RecordID(rec)
		require.NoError(t, err)
		_, _, err = m.Put(ctx, rec, mode)
		require.NoError(t, err)
	}
	put(testutil.AddressAt(0), ir.PutIfAbsent)
	put(testutil.AddressAt(1), ir.PutSupersede)

	one := uint64(1)
	zero := uint64(0)

	assert.NoError(t, assertManifest(ctx, m, "testnet", Assertion{Unit: "Token", Nonce: &one, History: 2}))
	assert.NoError(t, assertManifest(ctx, m, "testnet", Assertion{Unit: "Token", Address: testutil.AddressAt(1)}))

	err = assertManifest(ctx, m, "testnet", Assertion{Unit: "Token", Nonce: &zero})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Token at "+testutil.AddressAt(0))

	err = assertManifest(ctx, m, "testnet", Assertion{Unit: "Token", History: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 records for Token")

	err = assertManifest(ctx, m, "mainnet", Assertion{Unit: "Token"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "active record for Token on mainnet")
}

func TestEvaluateAssertions(t *testing.T) {
	result := NewResult()
	result.ChainLog = sampleLog

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertDeployCount, Unit: "Router", Count: 1},
		{Type: AssertManifest, Unit: "Router"},
		{Type: "final_state"},
	}, nil)

	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "assertion[1]: manifest requires a manifest context")
	assert.Contains(t, errs[1], `assertion[2]: unknown assertion type "final_state"`)
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceCount,
		Expected: "1 Failed events for Token",
		Actual:   "0",
		Trace: []TraceEvent{
			{Seq: 1, Unit: "Token", Status: ir.StatusSkipped, Reason: ir.ReasonCancelled},
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: trace_count\n")
	assert.Contains(t, msg, "  Expected: 1 Failed events for Token\n")
	assert.Contains(t, msg, "  Actual: 0\n")
	assert.Contains(t, msg, "  [1] Token Skipped (Cancelled)\n")
}

package harness

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/roach88/deploydag/internal/compiler"
	"github.com/roach88/deploydag/internal/engine"
	"github.com/roach88/deploydag/internal/ir"
	"github.com/roach88/deploydag/internal/registry"
	"github.com/roach88/deploydag/internal/resolver"
	"github.com/roach88/deploydag/internal/store"
	"github.com/roach88/deploydag/internal/testutil"
)

const (
	defaultNetwork = "testnet"
	defaultRunID   = "scenario-run"
	seedRunID      = "seed"
)

// Harness holds the per-scenario fixtures: a fresh in-memory manifest, a
// fake chain and a deterministic clock.
type Harness struct {
	store *store.Store
	chain *testutil.FakeChain
	clock *testutil.DeterministicClock
}

// Run executes a scenario and returns the result. The returned error is
// reserved for harness failures (the manifest could not be opened, a seed
// could not be written); scenario mismatches are reported in the result.
//
// Each scenario runs against its own in-memory manifest.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.OpenMemory()
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory manifest: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store: st,
		chain: scriptChain(scenario.Chain),
		clock: testutil.NewDeterministicClock(),
	}

	network := scenario.Network
	if network == "" {
		network = defaultNetwork
	}

	if err := h.seed(ctx, network, scenario.Seed); err != nil {
		return nil, fmt.Errorf("failed to seed manifest: %w", err)
	}

	result := NewResult()

	ordered, err := h.prepare(ctx, scenario, network)
	if err != nil {
		result.ErrorCode = errorCode(err)
		switch {
		case scenario.ExpectError == "":
			result.AddError(fmt.Sprintf("plan refused: %v", err))
		case result.ErrorCode != scenario.ExpectError:
			result.AddError(fmt.Sprintf("plan refused with %q, expected %q: %v", result.ErrorCode, scenario.ExpectError, err))
		}
		return result, nil
	}
	if scenario.ExpectError != "" {
		result.AddError(fmt.Sprintf("plan accepted, expected it to be refused with %q", scenario.ExpectError))
		return result, nil
	}

	report, err := h.newEngine(scenario, result).Run(ctx, network, ordered)
	if report == nil {
		return nil, fmt.Errorf("engine refused resolved plan: %w", err)
	}
	if err != nil {
		result.AddError(fmt.Sprintf("run: %v", err))
	}

	for _, o := range report.Outcomes {
		result.Outcomes[o.Unit] = o
	}
	result.ChainLog = h.chain.Log()

	checkExpectations(result, scenario.Expect)

	actx := &AssertionContext{
		Manifest: st,
		Ctx:      ctx,
		Network:  network,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func scriptChain(script ChainScript) *testutil.FakeChain {
	chain := testutil.NewFakeChain()
	for _, unit := range script.Reject {
		chain.Reject(unit)
	}
	for unit, n := range script.Transient {
		chain.FailTransient(unit, n)
	}
	for unit, n := range script.Timeout {
		chain.TimeoutConfirm(unit, n)
	}
	for unit, n := range script.Drop {
		chain.DropConfirm(unit, n)
	}
	return chain
}

// seed writes records as an earlier run would have.
func (h *Harness) seed(ctx context.Context, network string, seeds []SeedRecord) error {
	for _, s := range seeds {
		rec := ir.Record{
			Network:    network,
			Unit:       s.Unit,
			Artifact:   s.Artifact,
			Address:    s.Address,
			Args:       ir.IRArray{},
			RunID:      seedRunID,
			DeployedAt: h.clock.Now(),
		}
		if rec.Artifact == "" {
			rec.Artifact = s.Unit
		}
		id, err := ir.RecordID(rec)
		if err != nil {
			return err
		}
		rec.ID = id
		if _, _, err := h.store.Put(ctx, rec, ir.PutSupersede); err != nil {
			return fmt.Errorf("seed %s: %w", s.Unit, err)
		}
	}
	return nil
}

// prepare registers the scenario's units, compiles the plan and orders it
// against the seeded manifest.
func (h *Harness) prepare(ctx context.Context, scenario *Scenario, network string) ([]ir.Request, error) {
	reg := registry.New()
	for _, u := range scenario.unitSchemas() {
		if err := reg.Register(u); err != nil {
			return nil, err
		}
	}

	plan, err := compiler.LoadBytes(scenario.Name+".yaml", compiler.FormatYAML, []byte(scenario.Plan), reg)
	if err != nil {
		return nil, err
	}

	return resolver.Resolve(plan, func(unit string) bool {
		_, err := h.store.Get(ctx, network, unit)
		return err == nil
	})
}

func (h *Harness) newEngine(scenario *Scenario, result *Result) *engine.Engine {
	opts := scenario.Options

	concurrency := opts.Concurrency
	if concurrency == 0 {
		concurrency = 1
	}
	attempts := opts.MaxAttempts
	if attempts == 0 {
		attempts = 3
	}
	runID := scenario.RunID
	if runID == "" {
		runID = defaultRunID
	}

	return engine.New(h.chain, h.store,
		engine.WithConcurrency(concurrency),
		engine.WithRetry(attempts, time.Millisecond, 2*time.Millisecond),
		engine.WithForce(opts.Force),
		engine.WithForceUnits(opts.ForceUnits...),
		engine.WithRunID(runID),
		engine.WithDeployer(testutil.FakeDeployer.Hex()),
		engine.WithNow(h.clock.Now),
		engine.WithNotify(result.AddEvent),
	)
}

// checkExpectations compares terminal statuses. Units named in expect but
// absent from the plan are errors; plan units not named are unchecked.
func checkExpectations(result *Result, expect map[string]ir.Status) {
	for _, unit := range slices.Sorted(maps.Keys(expect)) {
		want := expect[unit]
		got, ok := result.Outcomes[unit]
		if !ok {
			result.AddError(fmt.Sprintf("expect.%s: unit is not in the plan", unit))
			continue
		}
		if got.Status != want {
			result.AddError(fmt.Sprintf("expect.%s: got %s, want %s (%s)", unit, got.Status, want, got.Line()))
		}
	}
}

// errorCode returns the taxonomy code of a refusal. Compile errors carry
// their code as a field.
func errorCode(err error) string {
	var cerr *compiler.CompileError
	if errors.As(err, &cerr) {
		return cerr.Code
	}
	return ir.CodeOf(err)
}

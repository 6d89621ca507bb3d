// Package harness runs deployment scenarios against the real engine.
//
// A scenario declares unit schemas, a plan, manifest records left by
// earlier runs, and how the fake chain misbehaves. The harness compiles
// and resolves the plan, runs the engine against testutil.FakeChain and an
// in-memory manifest, and checks the outcomes and assertions.
//
// # Scenario Format
//
//	name: rejected_dependency
//	description: "A rejected unit blocks its dependents"
//	units:
//	  - name: Token
//	  - name: Factory
//	    params: [address]
//	plan: |
//	  name: demo
//	  units:
//	    - unit: Token
//	    - unit: Factory
//	      args: [ref(Token)]
//	chain:
//	  reject: [Token]
//	expect:
//	  Token: Failed
//	  Factory: Skipped
//	assertions:
//	  - type: skipped_by
//	    unit: Factory
//	    blocked_by: Token
//
// Instead of expect, a scenario may set expect_error to the taxonomy code
// the plan must be refused with before anything runs.
//
// # Assertion Types
//
//   - chain_order: entries appear in the fake chain log in this order
//   - deploy_count: a unit reached the chain exactly count times
//   - trace_count: a unit emitted count events with the given status
//   - manifest: the active record of a unit, and optionally its history length
//   - skipped_by: a skipped unit names the given blocking dependency
//
// # Determinism
//
// The engine clock numbers events from 1, the run id defaults to
// "scenario-run" and timestamps come from testutil.DeterministicClock.
// With concurrency 1 (the default) the trace is identical across runs and
// can be compared against a golden file with RunWithGolden.
package harness

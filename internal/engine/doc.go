// Package engine runs a resolved deployment plan against a chain client.
//
// ARCHITECTURE:
//
// Single-Writer Scheduler:
// Run owns all bookkeeping (outcomes, in-run addresses, dependency
// counters) in one goroutine. Workers only perform the I/O for a single
// unit (manifest lookup, deploy, confirm, manifest write) and hand their
// result back over a channel. This keeps the skip cascade and the ready
// queue free of locks.
//
// Unit Lifecycle:
//  1. A unit becomes ready when every in-plan dependency has succeeded
//     (Deployed or Reused). Ready units are dispatched in plan order.
//  2. At most Concurrency units are in flight at any time.
//  3. A worker reuses an active manifest record unless the unit is forced;
//     otherwise it resolves references (in-run results first, then the
//     manifest), submits, and awaits confirmation.
//  4. Transient and timeout failures are retried with exponential backoff.
//     Rejections are final.
//  5. A failed or skipped unit skips everything that depends on it,
//     transitively, with reason BlockedByDependencyFailure.
//
// Cancellation:
// Once the run context is done no new unit is dispatched. Units already in
// flight continue on a context detached from the cancellation, so a sent
// transaction is followed to confirmation and recorded. Everything that
// never started is Skipped with reason Cancelled.
//
// Partial success is a normal outcome: Run returns a Report with one
// Outcome per unit, and an error only for malformed input or cancellation.
package engine

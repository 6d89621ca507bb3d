// Package store provides the SQLite-backed deployment manifest.
//
// The manifest is an append-only table of deployment records keyed by
// (network, unit):
//   - At most one record per key is active (partial UNIQUE index)
//   - Force redeploys insert a superseding record and retire the old one
//     inside the same transaction
//   - Superseded records are kept and remain visible through History
//
// # Writes
//
// Put is a compare-and-swap on the active record. PutIfAbsent inserts only
// when no active record exists and otherwise hands back the winner, so two
// concurrent deployments of one unit can never both become live.
//
// # Reads
//
// All enumerates active records in insertion order (seq ASC). It pages
// through the table with keyset pagination and never holds a cursor open
// between records, so it is safe to write while iterating.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=FULL: a committed record survives power loss
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - _txlock=immediate: transactions take the write lock up front
//
// Record IDs are computed by ir.RecordID (RFC 8785 canonical JSON and
// SHA-256 with domain separation).
package store

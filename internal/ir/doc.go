// Package ir provides the canonical intermediate representation for deploydag.
//
// Plans compile into ir.Request values, the resolver orders them, the engine
// turns them into ir.Record values, and the manifest stores persist those
// records. ir imports nothing internal so every other package can depend on
// it without cycles.
//
// Key design constraints:
//   - NO float types anywhere - use int64, or decimal strings for uint256
//   - Symbolic references (IRRef, IRDeployer) exist only before execution;
//     a Record never contains one
//   - All JSON tags use snake_case
//   - Record identity is content-addressed (see hash.go)
package ir

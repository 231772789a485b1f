// Package verifier proves the invariants that every ledger write must
// satisfy.
//
// Four theorems are built in: conservation of wealth, solvency, the debt
// ceiling and the non-negative reserve. Each is a set of linear formulas
// parsed once at construction with the CUE expression parser, then proved
// per call by a Backend:
//
//   - SymbolicBackend (default) is an exact rational prover. It accepts
//     partially bound inputs and proves the goal for every value of the
//     unbound variables.
//   - ArithmeticBackend evaluates the formulas at a fully bound point.
//
// Both agree on every fully bound input. Verification fails closed: a
// timeout, an internal error, an unknown theorem or contradictory bindings
// all produce an invalid Result, never an approval.
//
// Every Result is appended to an in-memory log and, when a Sink is
// configured, mirrored to durable storage.
package verifier

// Package harness runs conformance scenarios end to end.
//
// A scenario is a YAML file that sets up accounts and then drives a
// sequence of steps through the real gate: ledger transfers, code and
// command authorizations, and direct theorem checks. Each step states the
// outcome it expects. Every run uses a fresh ledger and audit database in
// a temporary directory, a step clock and sequential transaction ids, so
// the resulting trace is byte-identical across runs and can be compared
// against a golden file.
//
// Step outcomes:
//
//	transfer  committed | rejected | denied
//	code      allowed | denied
//	command   allowed | denied
//	verify    valid | invalid
package harness

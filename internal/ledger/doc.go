// Package ledger is the durable store of account balances and the
// append-only transaction log.
//
// A Ledger owns one JSON document on disk. Every mutation is built on a
// deep copy of the in-memory state, approved by the injected Verifier,
// written to a temporary file, fsynced and renamed over the document, and
// only then swapped into memory. A failure at any point leaves both the
// file and the in-memory state exactly as they were.
//
// Money is github.com/shopspring/decimal throughout; binary floating point
// never touches a balance. Transaction checksums are computed with
// internal/canon and re-verified every time the document is loaded.
//
// Concurrency: mutations are serialized by a single mutex. Snapshot and the
// read accessors take the read lock and return copies. Cross-process
// single-writer ownership is enforced with an advisory lock file next to
// the document.
package ledger

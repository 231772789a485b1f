// Package audit is the durable audit trail: every verifier result and every
// pipeline decision, in SQLite.
//
// The database uses WAL mode and a single connection, so writes from the
// gate and the verifier are serialized by database/sql. Rows are never
// updated or deleted. Reads are ordered by seq, the insertion order, so an
// export of the same database is byte-identical every time.
package audit

// Package canon provides the canonical JSON encoding and domain-separated
// hashing used for transaction checksums.
//
// canon imports nothing internal. Every package that needs a content hash
// goes through MarshalCanonical and HashWithDomain so that a value hashes to
// the same digest on every platform and across restarts.
//
// Encoding rules (RFC 8785 subset):
//   - object keys sorted by UTF-16 code units
//   - strings NFC normalized, no HTML escaping
//   - floats and null are rejected
//   - decimal.Decimal is encoded as its exact string form
//   - time.Time is encoded as an RFC 3339 UTC string with nanoseconds
package canon

package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/apex/internal/canon"
)

// Transaction is an immutable record of one committed transfer.
//
// Checksum is computed once, after every other field is final, over the
// canonical JSON of all other fields. Empty optional fields are omitted
// from the hashed object.
type Transaction struct {
	ID          string          `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	Amount      decimal.Decimal `json:"amount"`
	Kind        Kind            `json:"kind"`
	TaskRef     string          `json:"task_ref,omitempty"`
	Description string          `json:"description,omitempty"`
	Checksum    string          `json:"checksum"`
}

func (t Transaction) checksumFields() canon.Object {
	obj := canon.Object{
		"id":        t.ID,
		"timestamp": t.Timestamp,
		"from":      t.From,
		"to":        t.To,
		"amount":    t.Amount,
		"kind":      string(t.Kind),
	}
	if t.TaskRef != "" {
		obj["task_ref"] = t.TaskRef
	}
	if t.Description != "" {
		obj["description"] = t.Description
	}
	return obj
}

// ComputeChecksum returns the checksum of every field except Checksum.
func (t Transaction) ComputeChecksum() (string, error) {
	return canon.Digest(canon.DomainTransaction, t.checksumFields())
}

// VerifyChecksum recomputes the checksum and compares it with the stored
// one.
func (t Transaction) VerifyChecksum() error {
	want, err := t.ComputeChecksum()
	if err != nil {
		return fmt.Errorf("transaction %s: %w", t.ID, err)
	}
	if want != t.Checksum {
		return fmt.Errorf("%w: transaction %s", ErrChecksumMismatch, t.ID)
	}
	return nil
}

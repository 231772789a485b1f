package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/apex/internal/canon"
	"github.com/roach88/apex/internal/hooks"
	"github.com/roach88/apex/internal/verifier"
)

// Decision is one pipeline outcome as stored.
type Decision struct {
	Seq            int64             `json:"seq"`
	RecordedAt     time.Time         `json:"recorded_at"`
	Phase          hooks.Phase       `json:"phase"`
	Tool           string            `json:"tool,omitempty"`
	Halted         bool              `json:"halted"`
	HaltedBy       string            `json:"halted_by,omitempty"`
	Violations     []hooks.Violation `json:"violations"`
	ManifestDigest string            `json:"manifest_digest,omitempty"`
}

// RecordVerification appends a verifier result. It implements
// verifier.Sink.
func (s *Store) RecordVerification(ctx context.Context, r verifier.Result) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verifications
		(recorded_at, theorem, backend, is_valid, reasoning, error_details, kind)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		r.Timestamp.UTC().Format(canon.TimeLayout),
		r.Theorem,
		r.Backend,
		r.Valid,
		r.Reasoning,
		r.ErrorDetails,
		string(r.Kind),
	)
	if err != nil {
		return fmt.Errorf("record verification: %w", err)
	}
	return nil
}

// RecordDecision appends a pipeline decision. Seq is assigned by the
// database and ignored on input.
func (s *Store) RecordDecision(ctx context.Context, d Decision) error {
	violations := d.Violations
	if violations == nil {
		violations = []hooks.Violation{}
	}
	vs, err := json.Marshal(violations)
	if err != nil {
		return fmt.Errorf("record decision: encode violations: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decisions
		(recorded_at, phase, tool, halted, halted_by, violations, manifest_digest)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		d.RecordedAt.UTC().Format(canon.TimeLayout),
		string(d.Phase),
		d.Tool,
		d.Halted,
		d.HaltedBy,
		string(vs),
		d.ManifestDigest,
	)
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	return nil
}

var _ verifier.Sink = (*Store)(nil)

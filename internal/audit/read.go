package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/roach88/apex/internal/canon"
	"github.com/roach88/apex/internal/faults"
	"github.com/roach88/apex/internal/hooks"
	"github.com/roach88/apex/internal/verifier"
)

// ListVerifications returns stored results in insertion order. An empty
// theorem returns every result.
func (s *Store) ListVerifications(ctx context.Context, theorem string) ([]verifier.Result, error) {
	query := `
		SELECT recorded_at, theorem, backend, is_valid, reasoning, error_details, kind
		FROM verifications`
	var args []any
	if theorem != "" {
		query += ` WHERE theorem = ?`
		args = append(args, theorem)
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query verifications: %w", err)
	}
	defer rows.Close()

	results := []verifier.Result{}
	for rows.Next() {
		var (
			r        verifier.Result
			recorded string
			kind     string
		)
		if err := rows.Scan(&recorded, &r.Theorem, &r.Backend, &r.Valid, &r.Reasoning, &r.ErrorDetails, &kind); err != nil {
			return nil, fmt.Errorf("scan verification: %w", err)
		}
		if r.Timestamp, err = parseTime(recorded); err != nil {
			return nil, err
		}
		r.Kind = faults.Kind(kind)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verifications: %w", err)
	}
	return results, nil
}

// ListDecisions returns stored decisions in insertion order.
func (s *Store) ListDecisions(ctx context.Context) ([]Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, recorded_at, phase, tool, halted, halted_by, violations, manifest_digest
		FROM decisions
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	decisions := []Decision{}
	for rows.Next() {
		var (
			d          Decision
			recorded   string
			phase      string
			violations string
		)
		if err := rows.Scan(&d.Seq, &recorded, &phase, &d.Tool, &d.Halted, &d.HaltedBy, &violations, &d.ManifestDigest); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if d.RecordedAt, err = parseTime(recorded); err != nil {
			return nil, err
		}
		d.Phase = hooks.Phase(phase)
		if err := json.Unmarshal([]byte(violations), &d.Violations); err != nil {
			return nil, fmt.Errorf("decode violations of decision %d: %w", d.Seq, err)
		}
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return decisions, nil
}

// ExportVerifications writes every stored result in the flat export
// format, as an indented JSON array.
func (s *Store) ExportVerifications(ctx context.Context, w io.Writer) error {
	results, err := s.ListVerifications(ctx, "")
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(verifier.Export(results))
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(canon.TimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// Package gate is the single entry point for actions: it runs the hook
// pipeline for each phase and, for ledger transfers, hands approved
// requests to the ledger, which consults the verifier before committing.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/apex/internal/audit"
	"github.com/roach88/apex/internal/faults"
	"github.com/roach88/apex/internal/hooks"
	"github.com/roach88/apex/internal/ledger"
)

// TransferTool is the tool name PRE_TOOL hooks see for ledger transfers.
const TransferTool = "ledger.transfer"

// Transferer is the mutating side of the ledger.
type Transferer interface {
	Transfer(ctx context.Context, req ledger.TransferRequest) (ledger.Transaction, error)
}

// Recorder persists decisions. *audit.Store implements it.
type Recorder interface {
	RecordDecision(ctx context.Context, d audit.Decision) error
}

// Decision is the outcome of one pipeline phase.
type Decision struct {
	Allowed    bool              `json:"allowed"`
	Phase      hooks.Phase       `json:"phase"`
	Tool       string            `json:"tool,omitempty"`
	HaltedBy   string            `json:"halted_by,omitempty"`
	Violations []hooks.Violation `json:"violations,omitempty"`
	Applied    []string          `json:"applied,omitempty"`

	// Payload is the pipeline output: the data the caller should act on.
	Payload *hooks.Payload `json:"-"`
}

// Gate wires the pipeline to the ledger and the audit trail.
type Gate struct {
	pipeline *hooks.Pipeline
	ledger   Transferer
	recorder Recorder
	clock    ledger.Clock
	logger   *slog.Logger
}

type Option func(*Gate)

func WithLedger(t Transferer) Option {
	return func(g *Gate) { g.ledger = t }
}

func WithRecorder(r Recorder) Option {
	return func(g *Gate) { g.recorder = r }
}

func WithClock(c ledger.Clock) Option {
	return func(g *Gate) { g.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// New returns a gate running p.
func New(p *hooks.Pipeline, opts ...Option) *Gate {
	g := &Gate{
		pipeline: p,
		clock:    ledger.SystemClock{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// PreparePrompt runs PRE_PROMPT over data.
func (g *Gate) PreparePrompt(ctx context.Context, data map[string]any) (Decision, error) {
	return g.run(ctx, hooks.PhasePrePrompt, "", data)
}

// AuthorizeTool runs PRE_TOOL for tool over data.
func (g *Gate) AuthorizeTool(ctx context.Context, tool string, data map[string]any) (Decision, error) {
	return g.run(ctx, hooks.PhasePreTool, tool, data)
}

// ReviewOutput runs POST_TOOL for tool over data.
func (g *Gate) ReviewOutput(ctx context.Context, tool string, data map[string]any) (Decision, error) {
	return g.run(ctx, hooks.PhasePostTool, tool, data)
}

// Transfer authorizes req as the TransferTool and, if no hook halts,
// submits it to the ledger. A halted pipeline returns a violation with
// CodeSandboxEscape and the ledger is never called.
func (g *Gate) Transfer(ctx context.Context, req ledger.TransferRequest) (ledger.Transaction, Decision, error) {
	const op = "gate.transfer"
	if g.ledger == nil {
		return ledger.Transaction{}, Decision{}, errors.New(op + ": no ledger configured")
	}

	kind := req.Kind
	if kind == "" {
		kind = ledger.KindTransfer
	}
	d, err := g.AuthorizeTool(ctx, TransferTool, map[string]any{
		"agent_id":    req.From,
		"from":        req.From,
		"to":          req.To,
		"amount":      req.Amount.String(),
		"kind":        string(kind),
		"task_ref":    req.TaskRef,
		"description": req.Description,
	})
	if err != nil {
		return ledger.Transaction{}, d, err
	}
	if !d.Allowed {
		return ledger.Transaction{}, d, faults.Violation(op, faults.CodeSandboxEscape,
			fmt.Sprintf("transfer denied by hook %s", d.HaltedBy),
			map[string]string{"hook": d.HaltedBy, "violations": violationTypes(d.Violations)})
	}

	tx, err := g.ledger.Transfer(ctx, req)
	if err != nil {
		return ledger.Transaction{}, d, err
	}
	return tx, d, nil
}

func (g *Gate) run(ctx context.Context, phase hooks.Phase, tool string, data map[string]any) (Decision, error) {
	out, err := g.pipeline.RunPhase(ctx, phase, hooks.NewPayload(data), tool)

	d := Decision{Phase: phase, Tool: tool}
	var hookErr *hooks.HookError
	switch {
	case errors.As(err, &hookErr):
		d.HaltedBy = hookErr.HookID
	case err != nil:
		return d, err
	}
	if out != nil {
		d.Payload = out
		d.Violations = out.Violations
		d.Applied = out.Applied
		if out.Halt {
			d.HaltedBy = out.HaltedBy
		}
	}
	d.Allowed = err == nil && (out == nil || !out.Halt)

	if recErr := g.record(ctx, d); recErr != nil {
		return Decision{Phase: phase, Tool: tool}, recErr
	}

	if err != nil {
		g.logger.Error("pipeline failed", "phase", string(phase), "tool", tool, "hook", d.HaltedBy, "error", err)
		return d, err
	}
	if !d.Allowed {
		g.logger.Warn("action denied", "phase", string(phase), "tool", tool, "hook", d.HaltedBy,
			"violations", violationTypes(d.Violations))
	}
	return d, nil
}

// record stores d. A decision that cannot be recorded is not granted.
func (g *Gate) record(ctx context.Context, d Decision) error {
	if g.recorder == nil {
		return nil
	}
	err := g.recorder.RecordDecision(ctx, audit.Decision{
		RecordedAt:     g.clock.Now().UTC(),
		Phase:          d.Phase,
		Tool:           d.Tool,
		Halted:         !d.Allowed,
		HaltedBy:       d.HaltedBy,
		Violations:     d.Violations,
		ManifestDigest: g.pipeline.Digest(),
	})
	if err != nil {
		return faults.Integrity("gate.record", err, "audit trail unavailable")
	}
	return nil
}

func violationTypes(vs []hooks.Violation) string {
	types := make([]string, 0, len(vs))
	for _, v := range vs {
		if !slices.Contains(types, v.Type) {
			types = append(types, v.Type)
		}
	}
	return strings.Join(types, ",")
}

package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/apex/internal/audit"
	"github.com/roach88/apex/internal/faults"
	"github.com/roach88/apex/internal/gate"
	"github.com/roach88/apex/internal/hooks"
	"github.com/roach88/apex/internal/hooks/builtin"
	"github.com/roach88/apex/internal/ledger"
	"github.com/roach88/apex/internal/testutil"
	"github.com/roach88/apex/internal/verifier"
)

// Default tool names for code and command steps.
const (
	DefaultCodeTool    = "go_exec"
	DefaultCommandTool = "shell_exec"
)

// Harness holds the components of one scenario run.
type Harness struct {
	ledger   *ledger.Ledger
	verifier *verifier.Verifier
	gate     *gate.Gate
	audit    *audit.Store
}

// Run executes s against a fresh ledger and audit store in a temporary
// directory. Expectation failures are reported in Result.Errors; the error
// return is reserved for failures to set the run up.
func Run(ctx context.Context, s *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "apex-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	clock := testutil.NewStepClock(testutil.Epoch, time.Second)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := audit.Open(filepath.Join(dir, "audit.db"))
	if err != nil {
		return nil, err
	}
	defer store.Close()

	v, err := verifier.New(
		verifier.WithClock(clock),
		verifier.WithSink(store),
		verifier.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	l, err := ledger.Open(filepath.Join(dir, "ledger.json"),
		ledger.WithVerifier(v),
		ledger.WithClock(clock),
		ledger.WithIDGenerator(testutil.NewSequenceGenerator("tx")),
		ledger.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	defer l.Close()

	if err := setupAccounts(ctx, l, s.Accounts); err != nil {
		return nil, err
	}

	m, err := loadManifest(s.Manifest)
	if err != nil {
		return nil, err
	}
	p, err := hooks.New(m, builtin.Registry(builtin.Deps{Accounts: l}), hooks.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	h := &Harness{
		ledger:   l,
		verifier: v,
		audit:    store,
		gate: gate.New(p,
			gate.WithLedger(l),
			gate.WithRecorder(store),
			gate.WithClock(clock),
			gate.WithLogger(logger),
		),
	}

	result := NewResult()
	for i, step := range s.Steps {
		ev := h.runStep(ctx, i+1, step)
		result.Trace = append(result.Trace, ev)
		for _, msg := range checkStep(step, ev) {
			result.AddError(fmt.Sprintf("step %d (%s): %s", ev.Step, stepLabel(step, ev), msg))
		}
	}

	for _, a := range s.Accounts {
		bal, err := l.BalanceOf(a.ID)
		if err != nil {
			return nil, err
		}
		result.Balances[a.ID] = bal
	}
	for _, id := range sortedKeys(s.FinalBalances) {
		want := decimal.RequireFromString(s.FinalBalances[id])
		got, err := l.BalanceOf(id)
		if err != nil {
			result.AddError(fmt.Sprintf("final balance of %s: %v", id, err))
			continue
		}
		if !got.Equal(want) {
			result.AddError(fmt.Sprintf("final balance of %s: got %s, want %s", id, got, want))
		}
	}

	if err := l.VerifyLog(); err != nil {
		result.AddError(err.Error())
	}
	return result, nil
}

func setupAccounts(ctx context.Context, l *ledger.Ledger, accounts []AccountSetup) error {
	for _, a := range accounts {
		spec := ledger.AccountSpec{ID: a.ID, Name: a.Name}
		if a.Balance != "" {
			spec.InitialBalance = decimal.NewNullDecimal(decimal.RequireFromString(a.Balance))
		}
		if a.DebtCeiling != "" {
			spec.DebtCeiling = decimal.NewNullDecimal(decimal.RequireFromString(a.DebtCeiling))
		}
		if _, err := l.CreateAccount(ctx, spec); err != nil {
			return fmt.Errorf("setup account %s: %w", a.ID, err)
		}
	}
	return nil
}

func loadManifest(path string) (*hooks.Manifest, error) {
	if path == "" {
		return builtin.DefaultManifest()
	}
	return hooks.LoadManifest(path)
}

func (h *Harness) runStep(ctx context.Context, n int, step Step) TraceEvent {
	ev := TraceEvent{Step: n, Kind: step.Kind()}
	switch ev.Kind {
	case StepTransfer:
		h.runTransfer(ctx, step.Transfer, &ev)
	case StepCode:
		ev.Tool = orDefault(step.Tool, DefaultCodeTool)
		h.authorize(ctx, ev.Tool, map[string]any{"code": step.Code}, &ev)
	case StepCommand:
		ev.Tool = orDefault(step.Tool, DefaultCommandTool)
		h.authorize(ctx, ev.Tool, map[string]any{"command": step.Command}, &ev)
	case StepVerify:
		h.runVerify(ctx, step.Verify, &ev)
	}
	return ev
}

func (h *Harness) runTransfer(ctx context.Context, t *TransferStep, ev *TraceEvent) {
	req := ledger.TransferRequest{
		From:        t.From,
		To:          t.To,
		Amount:      decimal.RequireFromString(t.Amount),
		Kind:        ledger.Kind(t.Kind),
		TaskRef:     t.TaskRef,
		Description: t.Description,
	}
	tx, d, err := h.gate.Transfer(ctx, req)
	ev.HaltedBy = d.HaltedBy
	ev.Violations = violationTypes(d.Violations)
	ev.ErrorCode = int(faults.CodeOf(err))

	switch {
	case err == nil:
		ev.Outcome = OutcomeCommitted
		ev.TxID = tx.ID
	case faults.IsRejection(err):
		ev.Outcome = OutcomeRejected
	case faults.IsViolation(err):
		ev.Outcome = OutcomeDenied
	default:
		ev.Outcome = OutcomeError
	}
	if err != nil {
		ev.Detail = err.Error()
	}
}

func (h *Harness) authorize(ctx context.Context, tool string, data map[string]any, ev *TraceEvent) {
	d, err := h.gate.AuthorizeTool(ctx, tool, data)
	ev.HaltedBy = d.HaltedBy
	ev.Violations = violationTypes(d.Violations)

	switch {
	case err != nil:
		ev.Outcome = OutcomeError
		ev.Detail = err.Error()
	case d.Allowed:
		ev.Outcome = OutcomeAllowed
	default:
		ev.Outcome = OutcomeDenied
	}
}

func (h *Harness) runVerify(ctx context.Context, v *VerifyStep, ev *TraceEvent) {
	b := verifier.Bindings{}
	for name, value := range v.Bindings {
		b[name] = decimal.RequireFromString(value)
	}
	r := h.verifier.Verify(ctx, v.Theorem, b)
	ev.Theorem = v.Theorem
	ev.Detail = r.Reasoning
	if r.Valid {
		ev.Outcome = OutcomeValid
	} else {
		ev.Outcome = OutcomeInvalid
	}
}

// checkStep compares ev with the step's expectations.
func checkStep(step Step, ev TraceEvent) []string {
	var errs []string
	if ev.Outcome != step.Expect {
		msg := fmt.Sprintf("expected %s, got %s", step.Expect, ev.Outcome)
		if ev.Detail != "" {
			msg += ": " + ev.Detail
		}
		errs = append(errs, msg)
	}
	for _, want := range step.Violations {
		if !slices.Contains(ev.Violations, want) {
			errs = append(errs, fmt.Sprintf("expected violation %s, got %v", want, ev.Violations))
		}
	}
	if step.ErrorCode != 0 && step.ErrorCode != ev.ErrorCode {
		errs = append(errs, fmt.Sprintf("expected error code %d, got %d", step.ErrorCode, ev.ErrorCode))
	}
	return errs
}

func stepLabel(step Step, ev TraceEvent) string {
	if step.Name != "" {
		return step.Name
	}
	return ev.Kind
}

func violationTypes(vs []hooks.Violation) []string {
	var out []string
	for _, v := range vs {
		if !slices.Contains(out, v.Type) {
			out = append(out, v.Type)
		}
	}
	return out
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

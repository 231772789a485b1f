package verifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/roach88/apex/internal/faults"
	"github.com/roach88/apex/internal/ledger"
)

// Report aggregates the checks run for one transaction.
type Report struct {
	Valid   bool     `json:"valid"`
	Reason  string   `json:"reason"`
	Results []Result `json:"results"`
}

// Failed returns the results that did not pass.
func (r Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.Valid {
			out = append(out, res)
		}
	}
	return out
}

// VerifyAllInvariants checks a proposed transaction against the committed
// state pre and the candidate state post:
//
//   - the transaction checksum
//   - solvency of the payer (skipped for the reserve and for penalties)
//   - the payer's debt ceiling after the transfer (skipped for the reserve)
//   - the non-negative reserve, when the reserve is a party
//   - conservation between the two parties
//   - the ledger-wide supply, which must still equal total issued
//
// The report is valid only if every applicable check passes.
func (v *Verifier) VerifyAllInvariants(ctx context.Context, tx ledger.Transaction, pre, post ledger.State) Report {
	var results []Result

	results = append(results, v.checkChecksum(ctx, tx))

	fromPre, _ := pre.BalanceOf(tx.From)
	fromPost, _ := post.BalanceOf(tx.From)
	toPre, _ := pre.BalanceOf(tx.To)
	toPost, _ := post.BalanceOf(tx.To)

	if tx.From != ledger.ReserveID {
		if tx.Kind != ledger.KindPenalty {
			results = append(results, v.Verify(ctx, TheoremSolvency, Bindings{
				"balance":            fromPre,
				"transaction_amount": tx.Amount,
			}))
		}
		ceiling, _ := post.DebtCeilingOf(tx.From)
		results = append(results, v.Verify(ctx, TheoremDebtCeiling, Bindings{
			"balance":      fromPost,
			"debt_ceiling": ceiling,
		}))
	}

	if tx.From == ledger.ReserveID || tx.To == ledger.ReserveID {
		results = append(results, v.Verify(ctx, TheoremNonNegative, Bindings{
			"balance": post.SystemBank.Balance,
		}))
	}

	results = append(results, v.Verify(ctx, TheoremConservation, Bindings{
		"bank_pre":   fromPre,
		"agent_pre":  toPre,
		"reward":     tx.Amount,
		"tax":        decimal.Zero,
		"bank_post":  fromPost,
		"agent_post": toPost,
	}))

	results = append(results, v.checkSupply(ctx, post))

	rep := Report{Valid: true, Results: results}
	var reasons []string
	for _, r := range results {
		if !r.Valid {
			rep.Valid = false
			reasons = append(reasons, r.Theorem+": "+r.Reasoning)
		}
	}
	if rep.Valid {
		rep.Reason = fmt.Sprintf("all %d invariants hold", len(results))
	} else {
		rep.Reason = strings.Join(reasons, "; ")
	}
	return rep
}

func (v *Verifier) checkChecksum(ctx context.Context, tx ledger.Transaction) Result {
	r := Result{Theorem: CheckChecksum, Backend: v.backend.Name(), Timestamp: v.clock.Now().UTC()}
	if err := tx.VerifyChecksum(); err != nil {
		r.Reasoning = "transaction checksum does not match its contents"
		r.ErrorDetails = err.Error()
		r.Kind = faults.KindViolation
	} else {
		r.Valid = true
		r.Reasoning = "checksum matches"
	}
	v.record(ctx, r)
	return r
}

func (v *Verifier) checkSupply(ctx context.Context, post ledger.State) Result {
	r := Result{Theorem: CheckTotalSupply, Backend: v.backend.Name(), Timestamp: v.clock.Now().UTC()}
	total := post.Total()
	if diff := total.Sub(post.Metadata.TotalIssued).Abs(); diff.GreaterThan(Epsilon) {
		r.Reasoning = "sum of balances differs from total issued"
		r.ErrorDetails = fmt.Sprintf("balances %s, issued %s", total, post.Metadata.TotalIssued)
		r.Kind = faults.KindViolation
	} else {
		r.Valid = true
		r.Reasoning = "sum of balances equals total issued"
	}
	v.record(ctx, r)
	return r
}

// ApproveTransaction implements ledger.Verifier. A denial is a violation
// carrying CodeVerificationFailure; a backend fault is a solver error.
func (v *Verifier) ApproveTransaction(ctx context.Context, tx ledger.Transaction, pre, post ledger.State) error {
	const op = "verifier.approve"
	rep := v.VerifyAllInvariants(ctx, tx, pre, post)
	if rep.Valid {
		return nil
	}

	failed := rep.Failed()
	names := make([]string, len(failed))
	for i, r := range failed {
		names[i] = r.Theorem
		if r.Kind == faults.KindSolver {
			return faults.Solver(op, fmt.Errorf("%s: %s", r.Theorem, r.ErrorDetails))
		}
	}
	return faults.Violation(op, faults.CodeVerificationFailure, rep.Reason, map[string]string{
		"tx":       tx.ID,
		"theorems": strings.Join(names, ","),
	})
}

var _ ledger.Verifier = (*Verifier)(nil)

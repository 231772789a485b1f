package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/apex/internal/faults"
)

// CreateAccount adds a new active account. Its initial balance is minted:
// it is added to Metadata.TotalIssued so conservation still holds.
func (l *Ledger) CreateAccount(ctx context.Context, spec AccountSpec) (Account, error) {
	const op = "ledger.create_account"
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return Account{}, fmt.Errorf("%s: %w", op, ErrClosed)
	}

	if spec.ID == "" {
		return Account{}, faults.Rejection(op, faults.CodeInvalidParams, nil, "account id is empty")
	}
	if spec.ID == ReserveID {
		return Account{}, faults.Rejection(op, faults.CodeInvalidParams, ErrReservedID, "account %q", spec.ID)
	}
	if _, ok := l.state.Accounts[spec.ID]; ok {
		return Account{}, faults.Rejection(op, faults.CodeInvalidParams, ErrAccountExists, "account %q", spec.ID)
	}

	balance := l.initialBalance
	if spec.InitialBalance.Valid {
		balance = spec.InitialBalance.Decimal
	}
	ceiling := l.debtCeiling
	if spec.DebtCeiling.Valid {
		ceiling = spec.DebtCeiling.Decimal
	}
	if balance.IsNegative() {
		return Account{}, faults.Rejection(op, faults.CodeInvalidParams, ErrNegativeAmount, "initial balance %s", balance)
	}
	if ceiling.IsPositive() {
		return Account{}, faults.Rejection(op, faults.CodeInvalidParams, nil, "debt ceiling %s must be <= 0", ceiling)
	}
	tier := spec.Tier
	if tier == "" {
		tier = TierNovice
	}
	if !tier.Valid() {
		return Account{}, faults.Rejection(op, faults.CodeInvalidParams, ErrInvalidTier, "tier %q", tier)
	}

	name := spec.Name
	if name == "" {
		name = spec.ID
	}
	now := l.clock.Now().UTC()
	acct := Account{
		ID:          spec.ID,
		Name:        name,
		Balance:     balance,
		DebtCeiling: ceiling,
		Status:      StatusActive,
		Tier:        tier,
		Performance: Performance{ReputationScore: decimal.NewFromInt(50)},
		CreatedAt:   now,
		LastActive:  now,
	}

	next := l.state.Clone()
	next.Accounts[acct.ID] = acct
	next.Metadata.TotalIssued = next.Metadata.TotalIssued.Add(balance)

	if err := l.commit(op, next); err != nil {
		return Account{}, err
	}
	l.logger.Info("account created", "account", acct.ID, "balance", balance.String(), "debt_ceiling", ceiling.String())
	return acct, nil
}

// Transfer moves Amount from From to To.
//
// Preconditions are checked before any I/O and fail with a rejection:
// both parties exist and are active, the amount is non-negative, the kind
// is known, the parties differ, the payer is solvent (skipped for the
// reserve and for penalties) and the payer stays at or above its debt
// ceiling. The candidate state must then be approved by the Verifier.
// Only after approval is the document rewritten.
func (l *Ledger) Transfer(ctx context.Context, req TransferRequest) (Transaction, error) {
	const op = "ledger.transfer"
	if err := ctx.Err(); err != nil {
		return Transaction{}, err
	}
	if req.Kind == "" {
		req.Kind = KindTransfer
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return Transaction{}, fmt.Errorf("%s: %w", op, ErrClosed)
	}

	if err := l.checkTransfer(op, req); err != nil {
		return Transaction{}, err
	}

	pre := l.state
	next := pre.Clone()
	now := l.clock.Now().UTC()
	applyTransfer(&next, req, now)

	tx := Transaction{
		ID:          l.ids.Generate(),
		Timestamp:   now,
		From:        req.From,
		To:          req.To,
		Amount:      req.Amount,
		Kind:        req.Kind,
		TaskRef:     req.TaskRef,
		Description: req.Description,
	}
	sum, err := tx.ComputeChecksum()
	if err != nil {
		return Transaction{}, faults.Integrity(op, err, "compute checksum")
	}
	tx.Checksum = sum

	if err := l.inject(StageAfterMutate); err != nil {
		return Transaction{}, faults.Integrity(op, err, "commit aborted at %s", StageAfterMutate)
	}

	if l.verifier != nil {
		if err := l.verifier.ApproveTransaction(ctx, tx, pre, next); err != nil {
			l.logger.Warn("transfer denied by verifier", "from", req.From, "to", req.To, "amount", req.Amount.String(), "error", err)
			return Transaction{}, err
		}
	}

	if err := l.inject(StageBeforeAppend); err != nil {
		return Transaction{}, faults.Integrity(op, err, "commit aborted at %s", StageBeforeAppend)
	}
	next.Transactions = append(next.Transactions, tx)
	next.Metadata.LastCheckpointHash = tx.Checksum

	if err := l.commit(op, next); err != nil {
		return Transaction{}, err
	}
	l.logger.Info("transfer committed",
		"tx", tx.ID, "kind", string(tx.Kind), "from", tx.From, "to", tx.To, "amount", tx.Amount.String())
	return tx, nil
}

func (l *Ledger) checkTransfer(op string, req TransferRequest) error {
	if !req.Kind.Valid() {
		return faults.Rejection(op, faults.CodeInvalidParams, ErrInvalidKind, "kind %q", req.Kind)
	}
	if req.Amount.IsNegative() {
		return faults.Rejection(op, faults.CodeInvalidParams, ErrNegativeAmount, "amount %s", req.Amount)
	}
	if req.From == req.To {
		return faults.Rejection(op, faults.CodeInvalidParams, ErrSameAccount, "account %q", req.From)
	}
	for _, id := range []string{req.From, req.To} {
		if id == ReserveID {
			continue
		}
		acct, ok := l.state.Accounts[id]
		if !ok {
			return faults.Rejection(op, faults.CodeInvalidParams, ErrAccountNotFound, "account %q", id)
		}
		if acct.Status == StatusRetired {
			return faults.Rejection(op, faults.CodeInvalidParams, ErrAccountRetired, "account %q", id)
		}
	}

	balance, _ := l.state.BalanceOf(req.From)
	ceiling, _ := l.state.DebtCeilingOf(req.From)
	if req.From != ReserveID && req.Kind != KindPenalty && balance.LessThan(req.Amount) {
		return faults.Rejection(op, faults.CodeFiscalInsolvency, ErrInsufficientFunds,
			"account %q has %s, needs %s", req.From, balance, req.Amount)
	}
	if post := balance.Sub(req.Amount); post.LessThan(ceiling) {
		return faults.Rejection(op, faults.CodeFiscalInsolvency, ErrDebtCeiling,
			"account %q would reach %s, ceiling %s", req.From, post, ceiling)
	}
	return nil
}

// applyTransfer mutates st with the balance movement and the bookkeeping
// side effects of req.Kind.
func applyTransfer(st *State, req TransferRequest, now time.Time) {
	amount := req.Amount

	if req.From == ReserveID {
		st.SystemBank.Balance = st.SystemBank.Balance.Sub(amount)
	} else {
		acct := st.Accounts[req.From]
		acct.Balance = acct.Balance.Sub(amount)
		acct.LastActive = now
		if req.Kind == KindBond && req.To == ReserveID {
			acct.EscrowHold = acct.EscrowHold.Add(amount)
		}
		st.Accounts[req.From] = acct
	}

	if req.To == ReserveID {
		st.SystemBank.Balance = st.SystemBank.Balance.Add(amount)
		switch req.Kind {
		case KindTax:
			st.SystemBank.TotalTaxCollected = st.SystemBank.TotalTaxCollected.Add(amount)
		case KindBond:
			st.SystemBank.TotalBondsHeld = st.SystemBank.TotalBondsHeld.Add(amount)
		case KindPenalty:
			st.SystemBank.TotalPenaltiesCollected = st.SystemBank.TotalPenaltiesCollected.Add(amount)
		}
	} else {
		acct := st.Accounts[req.To]
		acct.Balance = acct.Balance.Add(amount)
		acct.LastActive = now
		if req.Kind == KindReward {
			acct.LifetimeEarnings = acct.LifetimeEarnings.Add(amount)
		}
		st.Accounts[req.To] = acct
	}

	if req.Kind == KindReward && req.From == ReserveID {
		st.SystemBank.TotalRewardsPaid = st.SystemBank.TotalRewardsPaid.Add(amount)
	}
}

// UpdatePerformance applies a partial update to an account's performance
// metrics. Balances are untouched.
func (l *Ledger) UpdatePerformance(ctx context.Context, id string, upd PerformanceUpdate) (Account, error) {
	const op = "ledger.update_performance"
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return Account{}, fmt.Errorf("%s: %w", op, ErrClosed)
	}

	acct, ok := l.state.Accounts[id]
	if !ok {
		return Account{}, faults.Rejection(op, faults.CodeInvalidParams, ErrAccountNotFound, "account %q", id)
	}
	if upd.Tier != nil && !upd.Tier.Valid() {
		return Account{}, faults.Rejection(op, faults.CodeInvalidParams, ErrInvalidTier, "tier %q", *upd.Tier)
	}

	perf := &acct.Performance
	if upd.Outcome != nil {
		if *upd.Outcome {
			perf.TasksCompleted++
			perf.Streak++
		} else {
			perf.TasksFailed++
			perf.Streak = 0
		}
		total := perf.TasksCompleted + perf.TasksFailed
		perf.SuccessRate = decimal.NewFromInt(int64(perf.TasksCompleted)).
			DivRound(decimal.NewFromInt(int64(total)), 4)
	}
	if upd.AvgTokenEfficiency != nil {
		perf.AvgTokenEfficiency = *upd.AvgTokenEfficiency
	}
	if upd.ReputationScore != nil {
		perf.ReputationScore = *upd.ReputationScore
	}
	if upd.Tier != nil {
		acct.Tier = *upd.Tier
	}
	acct.LastActive = l.clock.Now().UTC()

	next := l.state.Clone()
	next.Accounts[id] = acct
	if err := l.commit(op, next); err != nil {
		return Account{}, err
	}
	return acct, nil
}

// RetireAccount tombstones an account. Its balance stays on the books and
// still counts toward conservation, but it can no longer pay or receive.
func (l *Ledger) RetireAccount(ctx context.Context, id string) error {
	const op = "ledger.retire_account"
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}

	acct, ok := l.state.Accounts[id]
	if !ok {
		return faults.Rejection(op, faults.CodeInvalidParams, ErrAccountNotFound, "account %q", id)
	}
	if acct.Status == StatusRetired {
		return nil
	}
	acct.Status = StatusRetired

	next := l.state.Clone()
	next.Accounts[id] = acct
	if err := l.commit(op, next); err != nil {
		return err
	}
	l.logger.Info("account retired", "account", id, "balance", acct.Balance.String())
	return nil
}

// commit persists next and swaps it in. Callers hold l.mu.
func (l *Ledger) commit(op string, next State) error {
	if err := l.writeState(next); err != nil {
		l.logger.Error("ledger commit failed", "op", op, "path", l.path, "error", err)
		return faults.Integrity(op, err, "persist ledger %s", l.path)
	}
	l.state = next
	return nil
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/shopspring/decimal"

	"github.com/roach88/apex/internal/faults"
)

// Verifier approves a proposed transaction before it is committed. pre is
// the committed state; post is the candidate state including the effects
// of tx but not yet tx itself in the log. Implementations must treat both
// as read-only. A non-nil error denies the commit.
type Verifier interface {
	ApproveTransaction(ctx context.Context, tx Transaction, pre, post State) error
}

// Ledger is the durable balance store. Safe for concurrent use.
type Ledger struct {
	mu     sync.RWMutex
	state  State
	path   string
	lock   *flock.Flock
	closed bool

	verifier Verifier
	clock    Clock
	ids      IDGenerator
	logger   *slog.Logger
	injector FaultInjector

	currency       string
	initialReserve decimal.Decimal
	initialBalance decimal.Decimal
	debtCeiling    decimal.Decimal
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithVerifier installs the invariant verifier consulted before every
// transfer commit. Without one, only the built-in precondition checks run.
func WithVerifier(v Verifier) Option {
	return func(l *Ledger) { l.verifier = v }
}

func WithClock(c Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

func WithIDGenerator(g IDGenerator) Option {
	return func(l *Ledger) { l.ids = g }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithFaultInjector aborts commits at chosen stages. Tests only.
func WithFaultInjector(f FaultInjector) Option {
	return func(l *Ledger) { l.injector = f }
}

// WithCurrency sets the currency recorded in a newly created document.
func WithCurrency(code string) Option {
	return func(l *Ledger) { l.currency = code }
}

// WithInitialReserve sets the reserve balance of a newly created document.
func WithInitialReserve(amount decimal.Decimal) Option {
	return func(l *Ledger) { l.initialReserve = amount }
}

// WithAccountDefaults sets the initial balance and debt ceiling used when
// an AccountSpec leaves them unset.
func WithAccountDefaults(balance, debtCeiling decimal.Decimal) Option {
	return func(l *Ledger) {
		l.initialBalance = balance
		l.debtCeiling = debtCeiling
	}
}

// Open loads the ledger document at path, creating it if absent.
//
// The caller becomes the single writer: Open takes an exclusive advisory
// lock on path+".lock" and fails with ErrLedgerLocked if another process
// holds it. An existing document is fully re-verified (checksums,
// checkpoint hash and conservation) before it is accepted.
func Open(path string, opts ...Option) (*Ledger, error) {
	const op = "ledger.open"

	l := &Ledger{
		path:           path,
		clock:          SystemClock{},
		ids:            UUIDv7Generator{},
		logger:         slog.Default(),
		currency:       "APX",
		initialReserve: decimal.NewFromInt(10000),
		initialBalance: decimal.NewFromInt(100),
		debtCeiling:    decimal.NewFromInt(-100),
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, faults.Integrity(op, err, "create ledger directory")
	}

	l.lock = flock.New(path + ".lock")
	locked, err := l.lock.TryLock()
	if err != nil {
		return nil, faults.Integrity(op, err, "acquire ledger lock")
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrLedgerLocked, path)
	}

	st, err := readState(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		st = l.genesis()
		if err := l.writeState(st); err != nil {
			_ = l.lock.Unlock()
			return nil, faults.Integrity(op, err, "write new ledger %s", path)
		}
		l.logger.Info("ledger created", "path", path, "reserve", st.SystemBank.Balance.String())
	case err != nil:
		_ = l.lock.Unlock()
		return nil, faults.Integrity(op, err, "read ledger %s", path)
	default:
		if err := checkIntegrity(st); err != nil {
			_ = l.lock.Unlock()
			return nil, faults.Integrity(op, err, "ledger %s failed verification", path)
		}
		l.logger.Debug("ledger loaded", "path", path, "accounts", len(st.Accounts), "transactions", len(st.Transactions))
	}

	l.state = st
	return l, nil
}

func (l *Ledger) genesis() State {
	return State{
		Metadata: Metadata{
			Format:      FormatName,
			Version:     FormatVersion,
			Currency:    l.currency,
			CreatedAt:   l.clock.Now().UTC(),
			TotalIssued: l.initialReserve,
		},
		SystemBank: SystemBank{Balance: l.initialReserve},
		Accounts:   map[string]Account{},
	}
}

// checkIntegrity re-verifies a loaded document.
func checkIntegrity(st State) error {
	if st.Metadata.Format != FormatName {
		return fmt.Errorf("unexpected format %q", st.Metadata.Format)
	}
	for i, tx := range st.Transactions {
		if err := tx.VerifyChecksum(); err != nil {
			return fmt.Errorf("log entry %d: %w", i, err)
		}
	}

	var last string
	if n := len(st.Transactions); n > 0 {
		last = st.Transactions[n-1].Checksum
	}
	if st.Metadata.LastCheckpointHash != last {
		return fmt.Errorf("checkpoint hash %q does not match last log entry %q", st.Metadata.LastCheckpointHash, last)
	}

	if total := st.Total(); !total.Equal(st.Metadata.TotalIssued) {
		return fmt.Errorf("conservation broken: balances sum to %s, issued %s", total, st.Metadata.TotalIssued)
	}

	for id, acct := range st.Accounts {
		if id != acct.ID {
			return fmt.Errorf("account key %q holds account %q", id, acct.ID)
		}
		if acct.Balance.LessThan(acct.DebtCeiling) {
			return fmt.Errorf("account %q balance %s below debt ceiling %s", id, acct.Balance, acct.DebtCeiling)
		}
	}
	if st.SystemBank.Balance.IsNegative() {
		return fmt.Errorf("reserve balance %s is negative", st.SystemBank.Balance)
	}
	return nil
}

// Path returns the document path.
func (l *Ledger) Path() string {
	return l.path
}

// Close releases the writer lock. The Ledger must not be used afterwards.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.lock.Unlock()
}

// Currency returns the currency code recorded in the document.
func (l *Ledger) Currency() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Metadata.Currency
}

// Snapshot returns a deep copy of the current state.
func (l *Ledger) Snapshot() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Clone()
}

// BalanceOf returns the balance of id. ReserveID returns the reserve
// balance.
func (l *Ledger) BalanceOf(id string) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	bal, ok := l.state.BalanceOf(id)
	if !ok {
		return decimal.Zero, faults.Rejection("ledger.balance", faults.CodeInvalidParams, ErrAccountNotFound, "account %q", id)
	}
	return bal, nil
}

// Account returns a copy of one account.
func (l *Ledger) Account(id string) (Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acct, ok := l.state.Accounts[id]
	if !ok {
		return Account{}, faults.Rejection("ledger.account", faults.CodeInvalidParams, ErrAccountNotFound, "account %q", id)
	}
	return acct, nil
}

// VerifyLog re-verifies every stored checksum and the checkpoint hash.
func (l *Ledger) VerifyLog() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := checkIntegrity(l.state); err != nil {
		return faults.Integrity("ledger.verify_log", err, "ledger %s failed verification", l.path)
	}
	return nil
}

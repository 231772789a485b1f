package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/roach88/apex/internal/testutil"
)

type approveFunc func(ctx context.Context, tx Transaction, pre, post State) error

func (f approveFunc) ApproveTransaction(ctx context.Context, tx Transaction, pre, post State) error {
	return f(ctx, tx, pre, post)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testOptions(opts ...Option) []Option {
	base := []Option{
		WithClock(testutil.NewStepClock(time.Time{}, time.Second)),
		WithIDGenerator(testutil.NewSequenceGenerator("tx")),
	}
	return append(base, opts...)
}

// newTestLedger opens a ledger in a temp dir with accounts A and B at 100.
func newTestLedger(t *testing.T, opts ...Option) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger.json"), testOptions(opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	ctx := context.Background()
	_, err = l.CreateAccount(ctx, AccountSpec{ID: "A", Name: "Agent A"})
	require.NoError(t, err)
	_, err = l.CreateAccount(ctx, AccountSpec{ID: "B", Name: "Agent B"})
	require.NoError(t, err)
	return l
}

func requireBalance(t *testing.T, l *Ledger, id, want string) {
	t.Helper()
	got, err := l.BalanceOf(id)
	require.NoError(t, err)
	require.True(t, got.Equal(dec(want)), "balance of %s: got %s, want %s", id, got, want)
}

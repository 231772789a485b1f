package budget

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/apex/internal/hooks"
	"github.com/roach88/apex/internal/ledger"
	"github.com/roach88/apex/internal/testutil"
)

func openLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.json"),
		ledger.WithClock(testutil.NewStepClock(testutil.Epoch, time.Second)),
		ledger.WithIDGenerator(testutil.NewSequenceGenerator("tx")),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	ctx := context.Background()
	_, err = l.CreateAccount(ctx, ledger.AccountSpec{ID: "rich"})
	require.NoError(t, err)
	_, err = l.CreateAccount(ctx, ledger.AccountSpec{
		ID:             "broke",
		InitialBalance: decimal.NewNullDecimal(decimal.Zero),
		DebtCeiling:    decimal.NewNullDecimal(decimal.Zero),
	})
	require.NoError(t, err)
	_, err = l.CreateAccount(ctx, ledger.AccountSpec{ID: "gone"})
	require.NoError(t, err)
	require.NoError(t, l.RetireAccount(ctx, "gone"))
	return l
}

func run(t *testing.T, h hooks.Hook, data map[string]any) *hooks.Payload {
	t.Helper()
	out, err := h.Execute(context.Background(), hooks.NewPayload(data))
	require.NoError(t, err)
	return out
}

func TestGateInjectsFiscalContext(t *testing.T) {
	g, err := New(openLedger(t), DefaultConfig())
	require.NoError(t, err)

	out := run(t, g, map[string]any{"agent_id": "rich", "prompt": "plan"})
	assert.False(t, out.Halt)
	assert.Equal(t, map[string]any{
		"agent_id":     "rich",
		"balance":      "100",
		"debt_ceiling": "-100",
		"available":    "200",
		"currency":     "APX",
		"tier":         "novice",
	}, out.Data[ContextKey])
}

func TestGateHalts(t *testing.T) {
	l := openLedger(t)

	tests := []struct {
		name  string
		cfg   Config
		agent string
		want  string
	}{
		{name: "at ceiling", cfg: DefaultConfig(), agent: "broke", want: ViolationInsolvent},
		{name: "within floor", cfg: Config{Floor: "250"}, agent: "rich", want: ViolationInsolvent},
		{name: "retired", cfg: DefaultConfig(), agent: "gone", want: ViolationRetired},
		{name: "unknown", cfg: DefaultConfig(), agent: "ghost", want: ViolationUnknownAgent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := New(l, tt.cfg)
			require.NoError(t, err)

			out := run(t, g, map[string]any{"agent_id": tt.agent})
			assert.True(t, out.Halt)
			require.Len(t, out.Violations, 1)
			assert.Equal(t, tt.want, out.Violations[0].Type)
		})
	}
}

func TestGateWithoutAgent(t *testing.T) {
	l := openLedger(t)

	g, err := New(l, DefaultConfig())
	require.NoError(t, err)
	out := run(t, g, map[string]any{"prompt": "hello"})
	assert.False(t, out.Halt)
	assert.NotContains(t, out.Data, ContextKey)

	g, err = New(l, Config{RequireAgent: true})
	require.NoError(t, err)
	out = run(t, g, map[string]any{"prompt": "hello"})
	assert.True(t, out.Halt)
	assert.Equal(t, ViolationMissingAgent, out.Violations[0].Type)
}

func TestGateSkipsReserve(t *testing.T) {
	g, err := New(openLedger(t), Config{RequireAgent: true})
	require.NoError(t, err)

	out := run(t, g, map[string]any{"agent_id": ledger.ReserveID})
	assert.False(t, out.Halt)
	assert.Empty(t, out.Violations)
	assert.NotContains(t, out.Data, ContextKey)
}

type failingReader struct{}

func (failingReader) Account(string) (ledger.Account, error) {
	return ledger.Account{}, errors.New("disk on fire")
}

func (failingReader) Currency() string { return "APX" }

func TestGateReaderErrorIsReturned(t *testing.T) {
	g, err := New(failingReader{}, DefaultConfig())
	require.NoError(t, err)

	_, err = g.Execute(context.Background(), hooks.NewPayload(map[string]any{"agent_id": "a"}))
	require.ErrorContains(t, err, "disk on fire")
}

func TestFactory(t *testing.T) {
	_, err := Factory(nil)(nil)
	require.Error(t, err)

	_, err = Factory(failingReader{})(map[string]any{"floor": "ten"})
	require.Error(t, err)

	h, err := Factory(failingReader{})(map[string]any{"floor": "10", "agent_key": "who"})
	require.NoError(t, err)
	assert.NotNil(t, h)
}

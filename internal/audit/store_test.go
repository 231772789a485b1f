package audit

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/apex/internal/faults"
	"github.com/roach88/apex/internal/hooks"
	"github.com/roach88/apex/internal/testutil"
	"github.com/roach88/apex/internal/verifier"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit", "audit.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestOpenAppliesPragmasAndSchema(t *testing.T) {
	s, path := openTestStore(t)

	mode, err := s.pragma("journal_mode")
	require.NoError(t, err)
	assert.Equal(t, "wal", mode)

	version, err := s.pragma("user_version")
	require.NoError(t, err)
	assert.Equal(t, "1", version)

	var columns int
	require.NoError(t, s.db.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info('decisions') WHERE name = 'manifest_digest'`).Scan(&columns))
	assert.Equal(t, 1, columns)

	require.NoError(t, s.Close())
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	version, err = s2.pragma("user_version")
	require.NoError(t, err)
	assert.Equal(t, "1", version)
}

func TestOpenRefusesNewerSchema(t *testing.T) {
	s, path := openTestStore(t)
	_, err := s.db.Exec("PRAGMA user_version = 7")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema v7 is newer than supported v1")
}

func TestVerificationsRoundTripInOrder(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	results := []verifier.Result{
		{Theorem: "conservation", Valid: true, Reasoning: "holds", Backend: "symbolic", Timestamp: testutil.Epoch},
		{Theorem: "solvency", Valid: false, Reasoning: "balance below amount", ErrorDetails: "A: 10 < 30",
			Backend: "symbolic", Timestamp: testutil.Epoch.Add(time.Second)},
		{Theorem: "conservation", Valid: false, Reasoning: "backend timed out", Backend: "symbolic",
			Kind: faults.KindSolver, Timestamp: testutil.Epoch.Add(2 * time.Second)},
	}
	for _, r := range results {
		require.NoError(t, s.RecordVerification(ctx, r))
	}

	got, err := s.ListVerifications(ctx, "")
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := range results {
		assert.Equal(t, results[i].Theorem, got[i].Theorem)
		assert.Equal(t, results[i].Valid, got[i].Valid)
		assert.Equal(t, results[i].ErrorDetails, got[i].ErrorDetails)
		assert.Equal(t, results[i].Kind, got[i].Kind)
		assert.True(t, results[i].Timestamp.Equal(got[i].Timestamp))
	}

	only, err := s.ListVerifications(ctx, "conservation")
	require.NoError(t, err)
	require.Len(t, only, 2)
	assert.True(t, only[0].Valid)
	assert.False(t, only[1].Valid)
}

func TestListOnEmptyStore(t *testing.T) {
	s, _ := openTestStore(t)

	vs, err := s.ListVerifications(context.Background(), "")
	require.NoError(t, err)
	assert.NotNil(t, vs)
	assert.Empty(t, vs)

	ds, err := s.ListDecisions(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, ds)
	assert.Empty(t, ds)
}

func TestDecisions(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordDecision(ctx, Decision{
		RecordedAt: testutil.Epoch,
		Phase:      hooks.PhasePrePrompt,
	}))
	require.NoError(t, s.RecordDecision(ctx, Decision{
		RecordedAt: testutil.Epoch.Add(time.Second),
		Phase:      hooks.PhasePreTool,
		Tool:       "shell_exec",
		Halted:     true,
		HaltedBy:   "command-guard",
		Violations: []hooks.Violation{{
			Type: "blocked_command", Severity: hooks.SeverityHigh, Description: "blocked command rm", Hook: "command-guard",
		}},
		ManifestDigest: "abc",
	}))

	got, err := s.ListDecisions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, int64(1), got[0].Seq)
	assert.False(t, got[0].Halted)
	assert.Empty(t, got[0].Violations)

	assert.Equal(t, int64(2), got[1].Seq)
	assert.True(t, got[1].Halted)
	assert.Equal(t, "command-guard", got[1].HaltedBy)
	assert.Equal(t, "shell_exec", got[1].Tool)
	assert.Equal(t, "abc", got[1].ManifestDigest)
	require.Len(t, got[1].Violations, 1)
	assert.Equal(t, "blocked_command", got[1].Violations[0].Type)
}

func TestExportVerificationsGolden(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordVerification(ctx, verifier.Result{
		Theorem: "conservation", Valid: true, Reasoning: "goal follows from constraints",
		Backend: "symbolic", Timestamp: testutil.Epoch,
	}))
	require.NoError(t, s.RecordVerification(ctx, verifier.Result{
		Theorem: "debt_ceiling", Valid: false, Reasoning: "goal does not hold",
		ErrorDetails: "post_balance - ceiling = -5", Backend: "arithmetic",
		Timestamp: testutil.Epoch.Add(1500 * time.Millisecond),
	}))

	var buf bytes.Buffer
	require.NoError(t, s.ExportVerifications(ctx, &buf))

	g := goldie.New(t, goldie.WithFixtureDir("testdata"), goldie.WithNameSuffix(".golden.json"))
	g.Assert(t, "export", buf.Bytes())
}

func TestStoreAsVerifierSink(t *testing.T) {
	s, _ := openTestStore(t)
	v, err := verifier.New(
		verifier.WithSink(s),
		verifier.WithClock(testutil.NewStepClock(testutil.Epoch, time.Second)),
	)
	require.NoError(t, err)

	res := v.Verify(context.Background(), "no_such_theorem", nil)
	assert.False(t, res.Valid)

	got, err := s.ListVerifications(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "no_such_theorem", got[0].Theorem)
	assert.Equal(t, faults.KindViolation, got[0].Kind)
	assert.True(t, got[0].Timestamp.Equal(testutil.Epoch))
}

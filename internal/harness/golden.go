package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/apex/internal/canon"
)

// Snapshot is the part of a Result that golden files pin down. Transaction
// checksums and verifier reasoning are left out; ids and timestamps are
// deterministic under the harness clock.
type Snapshot struct {
	ScenarioName  string
	Trace         []TraceEvent
	FinalBalances map[string]string
}

// NewSnapshot builds the snapshot of result under name.
func NewSnapshot(name string, result *Result) Snapshot {
	balances := make(map[string]string, len(result.Balances))
	for id, b := range result.Balances {
		balances[id] = b.String()
	}
	return Snapshot{ScenarioName: name, Trace: result.Trace, FinalBalances: balances}
}

// Canonical renders the snapshot as canonical JSON.
func (s Snapshot) Canonical() ([]byte, error) {
	trace := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		trace[i] = ev.canonical()
	}
	return canon.MarshalCanonical(canon.Object{
		"scenario_name":  s.ScenarioName,
		"trace":          trace,
		"final_balances": s.FinalBalances,
	})
}

// RunWithGolden runs scenario and compares its snapshot with
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares result with the golden file for scenarioName
// without re-running anything.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := NewSnapshot(scenarioName, result).Canonical()
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}

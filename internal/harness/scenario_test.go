package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "transfer_commits.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "transfer_commits", s.Name)
	require.Len(t, s.Accounts, 2)
	require.Len(t, s.Steps, 1)
	assert.Equal(t, StepTransfer, s.Steps[0].Kind())
	assert.Equal(t, "30", s.Steps[0].Transfer.Amount)
	assert.Equal(t, "task-1", s.Steps[0].Transfer.TaskRef)
	assert.Equal(t, map[string]string{"A": "70", "B": "130"}, s.FinalBalances)
}

func TestLoadScenario_ResolvesManifestRelativeToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.yaml")
	content := `
name: relative
description: manifest next to the scenario
manifest: hooks.yaml
steps:
  - command: ls
    expect: allowed
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "hooks.yaml"), s.Manifest)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read scenario file")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: "description: d\nsteps:\n  - command: ls\n    expect: allowed\n",
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: "name: n\nsteps:\n  - command: ls\n    expect: allowed\n",
			want: "description is required",
		},
		{
			name: "no steps",
			yaml: "name: n\ndescription: d\n",
			want: "steps list is required",
		},
		{
			name: "unknown field",
			yaml: "name: n\ndescription: d\nflow: []\nsteps:\n  - command: ls\n    expect: allowed\n",
			want: "parse YAML",
		},
		{
			name: "two actions in one step",
			yaml: "name: n\ndescription: d\nsteps:\n  - command: ls\n    code: x\n    expect: allowed\n",
			want: "exactly one of",
		},
		{
			name: "outcome not valid for kind",
			yaml: "name: n\ndescription: d\nsteps:\n  - command: ls\n    expect: committed\n",
			want: `expect "committed" is not valid for command`,
		},
		{
			name: "duplicate account",
			yaml: "name: n\ndescription: d\naccounts:\n  - id: A\n  - id: A\nsteps:\n  - command: ls\n    expect: allowed\n",
			want: `duplicate id "A"`,
		},
		{
			name: "bad amount",
			yaml: "name: n\ndescription: d\nsteps:\n  - transfer: {from: A, to: B, amount: lots}\n    expect: committed\n",
			want: "steps[0].transfer.amount",
		},
		{
			name: "transfer without parties",
			yaml: "name: n\ndescription: d\nsteps:\n  - transfer: {amount: \"1\"}\n    expect: committed\n",
			want: "from and to are required",
		},
		{
			name: "verify without theorem",
			yaml: "name: n\ndescription: d\nsteps:\n  - verify: {bindings: {balance: \"1\"}}\n    expect: valid\n",
			want: "theorem is required",
		},
		{
			name: "bad final balance",
			yaml: "name: n\ndescription: d\nsteps:\n  - command: ls\n    expect: allowed\nfinal_balances:\n  A: ten\n",
			want: "final_balances.A",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestStepKind(t *testing.T) {
	assert.Equal(t, StepCode, Step{Code: "package main"}.Kind())
	assert.Equal(t, StepCommand, Step{Command: "ls"}.Kind())
	assert.Equal(t, StepVerify, Step{Verify: &VerifyStep{Theorem: "solvency"}}.Kind())
	assert.Equal(t, StepTransfer, Step{Transfer: &TransferStep{}}.Kind())
	assert.Equal(t, "", Step{}.Kind())
	assert.Equal(t, "", Step{Code: "x", Command: "ls"}.Kind())
}

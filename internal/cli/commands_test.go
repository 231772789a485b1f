package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("NO_COLOR", "1")
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

// workspace runs init in a temp dir and returns the config path.
func workspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	_, _, err := execute(t, "init", dir)
	require.NoError(t, err)
	return filepath.Join(dir, "apex.yaml")
}

func decodeData(t *testing.T, out string, dst any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.NoError(t, json.Unmarshal(resp.Data, dst), out)
}

func TestInit(t *testing.T) {
	dir := t.TempDir()
	out, _, err := execute(t, "init", dir, "--format", "json")
	require.NoError(t, err)

	var res InitResult
	decodeData(t, out, &res)
	assert.Equal(t, "10000", res.Reserve)
	assert.FileExists(t, filepath.Join(dir, "apex.yaml"))
	assert.FileExists(t, filepath.Join(dir, "hooks.yaml"))
	assert.FileExists(t, filepath.Join(dir, "ledger.json"))
	assert.FileExists(t, filepath.Join(dir, "audit.db"))

	// A second init keeps the edited config.
	cfg := filepath.Join(dir, "apex.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("ledger:\n  currency: XYZ\n"), 0o644))
	_, _, err = execute(t, "init", dir)
	require.NoError(t, err)
	data, err := os.ReadFile(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(data), "XYZ")
}

func TestAccountLifecycle(t *testing.T) {
	cfg := workspace(t)

	out, _, err := execute(t, "-c", cfg, "account", "create", "A", "--name", "Agent A", "--balance", "250", "--tier", "expert")
	require.NoError(t, err)
	assert.Contains(t, out, "Created account A with balance 250 APX")

	out, _, err = execute(t, "-c", cfg, "account", "show", "A")
	require.NoError(t, err)
	assert.Contains(t, out, "Agent A")
	assert.Contains(t, out, "expert")

	_, _, err = execute(t, "-c", cfg, "account", "create", "A")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	_, _, err = execute(t, "-c", cfg, "account", "retire", "A")
	require.NoError(t, err)
	out, _, err = execute(t, "-c", cfg, "balance", "A")
	require.NoError(t, err)
	assert.Contains(t, out, "(retired)")

	_, _, err = execute(t, "-c", cfg, "account", "show", "ghost")
	require.Error(t, err)

	_, _, err = execute(t, "-c", cfg, "account", "create", "B", "--balance", "lots")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTransferFlow(t *testing.T) {
	cfg := workspace(t)
	for _, args := range [][]string{
		{"account", "create", "A", "--balance", "100"},
		{"account", "create", "B", "--balance", "100"},
		{"account", "create", "broke", "--balance", "0", "--debt-ceiling", "0"},
	} {
		_, _, err := execute(t, append([]string{"-c", cfg}, args...)...)
		require.NoError(t, err)
	}

	out, _, err := execute(t, "-c", cfg, "transfer", "A", "B", "30", "--task", "task-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Committed")

	out, _, err = execute(t, "-c", cfg, "--format", "json", "balance")
	require.NoError(t, err)
	var balances []BalanceEntry
	decodeData(t, out, &balances)
	got := map[string]string{}
	for _, b := range balances {
		got[b.ID] = b.Balance
	}
	assert.Equal(t, map[string]string{"system_bank": "10000", "A": "70", "B": "130", "broke": "0"}, got)

	t.Run("overdraft is rejected", func(t *testing.T) {
		out, _, err := execute(t, "-c", cfg, "--format", "json", "transfer", "A", "B", "500")
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		var resp CLIResponse
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.Equal(t, -32000, resp.Error.Code)
	})

	t.Run("budget gate denies", func(t *testing.T) {
		out, _, err := execute(t, "-c", cfg, "--format", "json", "transfer", "broke", "B", "0")
		require.Error(t, err)
		var resp CLIResponse
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.Equal(t, -32001, resp.Error.Code)
		assert.Equal(t, "violation", resp.Error.Kind)
		assert.Contains(t, out, "fiscal_insolvency")
	})

	t.Run("snapshot shows the log", func(t *testing.T) {
		out, _, err := execute(t, "-c", cfg, "snapshot")
		require.NoError(t, err)
		assert.Contains(t, out, `"transaction_log"`)
		assert.Contains(t, out, `"task_ref": "task-1"`)
	})

	t.Run("decisions are audited", func(t *testing.T) {
		out, _, err := execute(t, "-c", cfg, "--format", "json", "audit", "decisions")
		require.NoError(t, err)
		var ds []map[string]any
		decodeData(t, out, &ds)
		require.Len(t, ds, 3)
		assert.Equal(t, true, ds[2]["halted"])
		assert.Equal(t, "transfer-budget", ds[2]["halted_by"])
	})

	t.Run("bad amount", func(t *testing.T) {
		_, _, err := execute(t, "-c", cfg, "transfer", "A", "B", "ten")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})
}

func TestVerifyAndExport(t *testing.T) {
	cfg := workspace(t)

	out, _, err := execute(t, "-c", cfg, "verify", "solvency", "--bind", "balance=50", "--bind", "transaction_amount=80")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "solvency is invalid")

	out, _, err = execute(t, "-c", cfg, "verify", "debt_ceiling", "-b", "balance=-50", "-b", "debt_ceiling=-100")
	require.NoError(t, err)
	assert.Contains(t, out, "debt_ceiling is valid")

	_, _, err = execute(t, "-c", cfg, "verify", "solvency", "--bind", "balance")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out, _, err = execute(t, "-c", cfg, "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "conservation")

	out, _, err = execute(t, "-c", cfg, "audit", "export")
	require.NoError(t, err)
	var records []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "solvency", records[0]["theorem"])
	assert.Equal(t, false, records[0]["is_valid"])
	assert.Equal(t, "debt_ceiling", records[1]["theorem"])

	dst := filepath.Join(t.TempDir(), "export.json")
	_, _, err = execute(t, "-c", cfg, "audit", "export", "-o", dst)
	require.NoError(t, err)
	assert.FileExists(t, dst)
}

func TestCheckCode(t *testing.T) {
	cfg := workspace(t)
	dir := filepath.Dir(cfg)

	bad := filepath.Join(dir, "bad.go")
	require.NoError(t, os.WriteFile(bad, []byte("package main\n\nimport \"os/exec\"\n\nfunc main() { exec.Command(\"ls\").Run() }\n"), 0o644))
	out, _, err := execute(t, "-c", cfg, "check", "code", bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "DENIED by code-scanner")
	assert.Contains(t, out, "blocked_import")

	good := filepath.Join(dir, "good.go")
	require.NoError(t, os.WriteFile(good, []byte("package main\n\nfunc main() {}\n"), 0o644))
	out, _, err = execute(t, "-c", cfg, "check", "code", good)
	require.NoError(t, err)
	assert.Contains(t, out, "ALLOWED")

	_, _, err = execute(t, "-c", cfg, "check", "code", filepath.Join(dir, "missing.go"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCheckCommand(t *testing.T) {
	cfg := workspace(t)

	out, _, err := execute(t, "-c", cfg, "--format", "json", "check", "command", "cat", "~/.ssh/id_rsa")
	require.Error(t, err)
	var res CheckResult
	decodeData(t, out, &res)
	assert.False(t, res.Allowed)
	assert.Equal(t, "command-guard", res.HaltedBy)
	require.NotEmpty(t, res.Violations)
	assert.Equal(t, "sensitive_path", res.Violations[0].Type)

	out, _, err = execute(t, "-c", cfg, "check", "command", "ls /workspace")
	require.NoError(t, err)
	assert.Contains(t, out, "ALLOWED")
}

func TestHooksCommands(t *testing.T) {
	cfg := workspace(t)

	out, _, err := execute(t, "-c", cfg, "hooks", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "code-scanner")
	assert.Contains(t, out, "output-guard")

	out, _, err = execute(t, "-c", cfg, "--format", "json", "hooks", "list", "--phase", "pre_tool", "--tool", "shell_exec")
	require.NoError(t, err)
	var entries []HookEntry
	decodeData(t, out, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "command-guard", entries[0].ID)
	assert.Equal(t, "security", entries[0].Band)

	_, _, err = execute(t, "-c", cfg, "hooks", "list", "--phase", "LATER")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out, _, err = execute(t, "-c", cfg, "hooks", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Manifest is valid: 5 hooks")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("version: 1\nhooks:\n  - id: x\n    phase: PRE_TOOL\n    kind: teleporter\n    priority: 10\n"), 0o644))
	_, _, err = execute(t, "-c", cfg, "hooks", "validate", bad)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommand(t *testing.T) {
	scenarios := filepath.Join("..", "harness", "testdata", "scenarios")

	out, _, err := execute(t, "test", scenarios)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ transfer_commits")
	assert.Contains(t, out, "0 failed")

	out, _, err = execute(t, "--format", "json", "test", scenarios, "--filter", "transfer_*")
	require.NoError(t, err)
	var res TestResult
	decodeData(t, out, &res)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.Passed)
}

func TestTestCommandFailures(t *testing.T) {
	dir := t.TempDir()
	scenario := `
name: wrong
description: expects the wrong outcome
steps:
  - command: ls /workspace
    expect: denied
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(scenario), 0o644))

	out, _, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong")
	assert.Contains(t, out, "expected denied, got allowed")

	_, _, err = execute(t, "test", filepath.Join(dir, "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out, _, err = execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")
}

func TestTestCommandUpdateWritesGolden(t *testing.T) {
	dir := t.TempDir()
	scenario := `
name: listing
description: ls is allowed
steps:
  - command: ls
    expect: allowed
`
	path := filepath.Join(dir, "listing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(scenario), 0o644))

	_, _, err := execute(t, "test", path, "--update")
	require.NoError(t, err)
	golden := filepath.Join(dir, "golden", "listing.golden")
	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Equal(t,
		`{"final_balances":{},"scenario_name":"listing","trace":[{"kind":"command","outcome":"allowed","step":1,"tool":"shell_exec"}]}`,
		string(data))

	require.NoError(t, os.WriteFile(golden, []byte("{}"), 0o644))
	out, _, err := execute(t, "test", path)
	require.Error(t, err)
	assert.Contains(t, out, "does not match golden file")
}

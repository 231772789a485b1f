package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/apex/internal/hooks"
	"github.com/roach88/apex/internal/hooks/builtin"
	"github.com/roach88/apex/internal/hooks/cmdguard"
	"github.com/roach88/apex/internal/hooks/codescan"
)

// CheckResult is the JSON payload of check code and check command.
type CheckResult struct {
	Allowed    bool              `json:"allowed"`
	HaltedBy   string            `json:"halted_by,omitempty"`
	Violations []hooks.Violation `json:"violations,omitempty"`
	Hooks      []string          `json:"hooks"`
}

func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run the code scanner or command guard without executing anything",
		Long: `Run the configured code_scanner or command_guard hooks over input and
report violations. Nothing is executed and the ledger is not opened.

Exit codes:
  0 - Allowed
  1 - Denied
  2 - Command error`,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "code <file|->",
		Short: "Scan Go source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readSource(args[0], cmd.InOrStdin())
			if err != nil {
				return WrapExitError(ExitCommandError, "read source", err)
			}
			return runCheck(rootOpts, cmd, codescan.Kind, codescan.PayloadKey, string(src))
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "command <cmdline...>",
		Short: "Check a shell command line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(rootOpts, cmd, cmdguard.Kind, cmdguard.PayloadKey, strings.Join(args, " "))
		},
	})
	return cmd
}

func runCheck(opts *RootOptions, cmd *cobra.Command, kind, key, input string) error {
	out := opts.formatter(cmd)
	e, err := newEnv(opts, cmd.ErrOrStderr())
	if err != nil {
		return out.Fail(err, nil)
	}
	m, err := e.manifest()
	if err != nil {
		return out.Fail(err, nil)
	}

	p, err := hooks.New(checkManifest(m, kind), builtin.Registry(builtin.Deps{Accounts: detachedAccounts{}}), hooks.WithLogger(e.logger))
	if err != nil {
		return out.Fail(err, nil)
	}
	res, err := p.RunPhase(cmd.Context(), hooks.PhasePreTool, hooks.NewPayload(map[string]any{key: input}), "")
	if err != nil {
		return out.Fail(err, nil)
	}

	result := CheckResult{
		Allowed:    !res.Halt,
		HaltedBy:   res.HaltedBy,
		Violations: res.Violations,
		Hooks:      res.Applied,
	}
	if opts.Format == "json" {
		if err := out.Success(result, ""); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), formatCheck(result))
	}
	if !result.Allowed {
		return reportedExit(ExitFailure, "denied by "+result.HaltedBy)
	}
	return nil
}

// checkManifest keeps the enabled PRE_TOOL hooks of kind, without their
// tool targets. A manifest with none gets one default-configured hook.
func checkManifest(m *hooks.Manifest, kind string) *hooks.Manifest {
	out := &hooks.Manifest{Version: m.Version, Digest: m.Digest}
	for _, d := range m.Hooks {
		if d.Kind != kind || d.Phase != hooks.PhasePreTool || !d.IsEnabled() {
			continue
		}
		d.TargetTool = ""
		out.Hooks = append(out.Hooks, d)
	}
	if len(out.Hooks) == 0 {
		out.Hooks = []hooks.Descriptor{{ID: strings.ReplaceAll(kind, "_", "-"), Phase: hooks.PhasePreTool, Kind: kind, Priority: 50}}
	}
	return out
}

func formatCheck(r CheckResult) string {
	var b strings.Builder
	if r.Allowed {
		b.WriteString("ALLOWED")
	} else {
		fmt.Fprintf(&b, "DENIED by %s", r.HaltedBy)
	}
	for _, v := range r.Violations {
		fmt.Fprintf(&b, "\n  %s", v)
	}
	return b.String()
}

func readSource(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

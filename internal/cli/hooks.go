package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/apex/internal/hooks"
	"github.com/roach88/apex/internal/hooks/builtin"
)

// HookEntry is one row of hooks list.
type HookEntry struct {
	hooks.Descriptor
	Band string `json:"band"`
}

// HooksOptions holds flags for hooks list.
type HooksOptions struct {
	*RootOptions
	Phase string
	Tool  string
}

func NewHooksCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hooks",
		Short: "Inspect and validate hook manifests",
	}
	cmd.AddCommand(newHooksListCommand(rootOpts))
	cmd.AddCommand(newHooksValidateCommand(rootOpts))
	return cmd
}

func newHooksListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HooksOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List hooks in execution order",
		Long: `List the hooks of the configured manifest in execution order. With
--phase, only the hooks that would run for that phase (and --tool) are
shown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			phase := hooks.Phase(strings.ToUpper(opts.Phase))
			if phase != "" && !phase.Valid() {
				return NewExitError(ExitCommandError, fmt.Sprintf("unknown phase %q", opts.Phase))
			}

			e, err := newEnv(opts.RootOptions, cmd.ErrOrStderr())
			if err != nil {
				return out.Fail(err, nil)
			}
			m, err := e.manifest()
			if err != nil {
				return out.Fail(err, nil)
			}
			p, err := buildDetached(m)
			if err != nil {
				return out.Fail(err, nil)
			}

			entries := []HookEntry{}
			for _, d := range p.Hooks(phase, opts.Tool) {
				entries = append(entries, HookEntry{Descriptor: d, Band: d.Band()})
			}
			return out.Success(entries, formatHooks(entries, p.Digest()))
		},
	}
	cmd.Flags().StringVar(&opts.Phase, "phase", "", "PRE_PROMPT|PRE_TOOL|POST_TOOL")
	cmd.Flags().StringVar(&opts.Tool, "tool", "", "tool name for PRE_TOOL filtering")
	return cmd
}

func newHooksValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [manifest]",
		Short: "Validate a manifest and build every hook",
		Long: `Validate a manifest (.yaml, .json or .cue) against the schema and build
every hook it declares, so unknown kinds and bad hook config are reported.
Without an argument the configured manifest is checked.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			var (
				m   *hooks.Manifest
				err error
			)
			if len(args) == 1 {
				m, err = hooks.LoadManifest(args[0])
			} else {
				var e *env
				if e, err = newEnv(rootOpts, cmd.ErrOrStderr()); err == nil {
					m, err = e.manifest()
				}
			}
			if err != nil {
				return out.Fail(err, nil)
			}
			if _, err := buildDetached(m); err != nil {
				return out.Fail(err, nil)
			}
			data := map[string]any{"valid": true, "hooks": len(m.Hooks), "digest": m.Digest}
			return out.Success(data, fmt.Sprintf("Manifest is valid: %d hooks, digest %s", len(m.Hooks), m.Digest))
		},
	}
}

// buildDetached builds m without a ledger.
func buildDetached(m *hooks.Manifest) (*hooks.Pipeline, error) {
	return hooks.New(m, builtin.Registry(builtin.Deps{Accounts: detachedAccounts{}}))
}

func formatHooks(entries []HookEntry, digest string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-18s %-10s %-14s %4s %-10s %s\n", "ID", "PHASE", "KIND", "PRIO", "BAND", "TARGET")
	for _, e := range entries {
		target := e.TargetTool
		if target == "" {
			target = "*"
		}
		id := e.ID
		if !e.IsEnabled() {
			id += " (off)"
		}
		fmt.Fprintf(&b, "%-18s %-10s %-14s %4d %-10s %s\n", id, e.Phase, e.Kind, e.Priority, e.Band, target)
	}
	fmt.Fprintf(&b, "digest %s", digest)
	return b.String()
}

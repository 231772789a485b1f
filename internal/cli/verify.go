package cli

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/roach88/apex/internal/verifier"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Bindings []string
}

func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "verify [theorem]",
		Short: "Prove a theorem against concrete bindings",
		Long: `Prove one of the built-in theorems with --bind name=value for each
variable. Without a theorem, list the theorems and their variables.

Exit codes:
  0 - Valid
  1 - Invalid, or the backend failed
  2 - Command error`,
		Example: `  apex verify solvency --bind balance=50 --bind transaction_amount=80
  apex verify conservation --bind bank_pre=10000 --bind agent_pre=100 \
    --bind reward=10 --bind tax=2 --bind bank_post=9992 --bind agent_post=108`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runListTheorems(opts, cmd)
			}
			return runVerify(opts, args[0], cmd)
		},
	}
	cmd.Flags().StringArrayVarP(&opts.Bindings, "bind", "b", nil, "variable binding name=value (repeatable)")
	return cmd
}

func runVerify(opts *VerifyOptions, theorem string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	b, err := parseBindings(opts.Bindings)
	if err != nil {
		return err
	}

	e, err := newEnv(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return out.Fail(err, nil)
	}
	defer e.Close()
	if err := e.openVerifier(); err != nil {
		return out.Fail(err, nil)
	}

	r := e.verifier.Verify(cmd.Context(), theorem, b)
	if !r.Valid {
		msg := fmt.Sprintf("%s is invalid: %s", r.Theorem, r.Reasoning)
		if r.ErrorDetails != "" {
			msg += " (" + r.ErrorDetails + ")"
		}
		if opts.Format == "json" {
			return out.Fail(NewExitError(ExitFailure, msg), r)
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg)
		return reportedExit(ExitFailure, r.Theorem+" is invalid")
	}
	return out.Success(r, fmt.Sprintf("%s is valid: %s", r.Theorem, r.Reasoning))
}

func runListTheorems(opts *VerifyOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	v, err := verifier.New()
	if err != nil {
		return out.Fail(err, nil)
	}
	defs := v.Theorems()

	var b strings.Builder
	for i, d := range defs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%-14s %s\n", d.Key, d.Name)
		fmt.Fprintf(&b, "%-14s vars: %s\n", "", strings.Join(d.Variables, ", "))
		fmt.Fprintf(&b, "%-14s goal: %s", "", d.Goal)
	}
	return out.Success(defs, b.String())
}

func parseBindings(raw []string) (verifier.Bindings, error) {
	b := verifier.Bindings{}
	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("binding %q: want name=value", kv))
		}
		d, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("binding %q", kv), err)
		}
		b[name] = d
	}
	return b, nil
}

package cli

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/apex/internal/faults"
)

// AuditOptions holds flags for audit export.
type AuditOptions struct {
	*RootOptions
	Output string
}

func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read the audit trail",
	}
	cmd.AddCommand(newAuditExportCommand(rootOpts))
	cmd.AddCommand(newAuditDecisionsCommand(rootOpts))
	return cmd
}

// auditEnv opens only the audit store.
func auditEnv(opts *RootOptions, cmd *cobra.Command) (*env, error) {
	e, err := newEnv(opts, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	if e.cfg.Audit.Disabled {
		return nil, faults.Config("cli.audit", nil, "audit store is disabled in the configuration")
	}
	if err := e.openAudit(); err != nil {
		return nil, err
	}
	return e, nil
}

func newAuditExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export verification results as a flat JSON list",
		Long: `Write every recorded verification as a JSON list of
{timestamp, theorem, is_valid, reasoning, error_details}, oldest first.
The export is always JSON, regardless of --format.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			e, err := auditEnv(opts.RootOptions, cmd)
			if err != nil {
				return out.Fail(err, nil)
			}
			defer e.Close()

			var buf bytes.Buffer
			if err := e.audit.ExportVerifications(cmd.Context(), &buf); err != nil {
				return out.Fail(err, nil)
			}
			if opts.Output == "" || opts.Output == "-" {
				_, err := cmd.OutOrStdout().Write(buf.Bytes())
				return err
			}
			if err := os.WriteFile(opts.Output, buf.Bytes(), 0o644); err != nil {
				return WrapExitError(ExitCommandError, "write export", err)
			}
			out.VerboseLog("wrote %s", opts.Output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func newAuditDecisionsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "decisions",
		Short: "List recorded pipeline decisions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			e, err := auditEnv(rootOpts, cmd)
			if err != nil {
				return out.Fail(err, nil)
			}
			defer e.Close()

			ds, err := e.audit.ListDecisions(cmd.Context())
			if err != nil {
				return out.Fail(err, nil)
			}

			var b strings.Builder
			for i, d := range ds {
				if i > 0 {
					b.WriteByte('\n')
				}
				verdict := "allowed"
				if d.Halted {
					verdict = "halted by " + d.HaltedBy
				}
				fmt.Fprintf(&b, "%4d %s %-10s %-16s %s", d.Seq, d.RecordedAt.Format("2006-01-02T15:04:05Z07:00"), d.Phase, d.Tool, verdict)
				for _, v := range d.Violations {
					fmt.Fprintf(&b, "\n       %s", v)
				}
			}
			if len(ds) == 0 {
				b.WriteString("No decisions recorded.")
			}
			return out.Success(ds, b.String())
		},
	}
}

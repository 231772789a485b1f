package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Print the full ledger document",
		Long:  "Print a consistent copy of the ledger document after re-verifying the transaction log checksums.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			e, err := ledgerEnv(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return out.Fail(err, nil)
			}
			defer e.Close()

			if err := e.ledger.VerifyLog(); err != nil {
				return out.Fail(err, nil)
			}
			st := e.ledger.Snapshot()
			text, err := json.MarshalIndent(st, "", "  ")
			if err != nil {
				return out.Fail(err, nil)
			}
			return out.Success(st, string(text))
		},
	}
}

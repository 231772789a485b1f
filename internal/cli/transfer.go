package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/apex/internal/gate"
	"github.com/roach88/apex/internal/ledger"
)

// TransferOptions holds flags for the transfer command.
type TransferOptions struct {
	*RootOptions
	Kind        string
	TaskRef     string
	Description string
}

// TransferResult is the JSON payload of transfer.
type TransferResult struct {
	Transaction *ledger.Transaction `json:"transaction,omitempty"`
	Decision    gate.Decision       `json:"decision"`
}

func NewTransferCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TransferOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "transfer <from> <to> <amount>",
		Short: "Move funds through the hook pipeline and the verifier",
		Long: `Submit a transfer. PRE_TOOL hooks targeting ledger.transfer run first;
a halt denies the transfer without touching the ledger. The ledger then
checks solvency and debt ceilings and asks the verifier to prove
conservation before committing.

Use "system_bank" to address the reserve.

Exit codes:
  0 - Committed
  1 - Rejected or denied
  2 - Command error`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransfer(opts, args, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Kind, "kind", string(ledger.KindTransfer), "transfer|reward|tax|bond|penalty")
	cmd.Flags().StringVar(&opts.TaskRef, "task", "", "task reference")
	cmd.Flags().StringVar(&opts.Description, "description", "", "free-form description")
	return cmd
}

func runTransfer(opts *TransferOptions, args []string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	amount, err := parseAmount(args[2])
	if err != nil {
		return err
	}

	e, err := openEnv(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return out.Fail(err, nil)
	}
	defer e.Close()

	tx, d, err := e.gate.Transfer(cmd.Context(), ledger.TransferRequest{
		From:        args[0],
		To:          args[1],
		Amount:      amount,
		Kind:        ledger.Kind(opts.Kind),
		TaskRef:     opts.TaskRef,
		Description: opts.Description,
	})
	if err != nil {
		return out.Fail(err, TransferResult{Decision: d})
	}
	return out.Success(TransferResult{Transaction: &tx, Decision: d},
		fmt.Sprintf("Committed %s: %s -> %s %s %s (%s)", tx.ID, tx.From, tx.To, tx.Amount, e.ledger.Currency(), tx.Kind))
}

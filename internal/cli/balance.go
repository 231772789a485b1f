package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/apex/internal/ledger"
)

// BalanceEntry is one row of the balance listing.
type BalanceEntry struct {
	ID          string `json:"id"`
	Balance     string `json:"balance"`
	DebtCeiling string `json:"debt_ceiling"`
	Status      string `json:"status"`
}

func NewBalanceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance [id...]",
		Short: "Show balances",
		Long:  "Show the balance of each id, or of the reserve and every account when none is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			e, err := ledgerEnv(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return out.Fail(err, nil)
			}
			defer e.Close()

			st := e.ledger.Snapshot()
			ids := args
			if len(ids) == 0 {
				ids = append([]string{ledger.ReserveID}, st.AccountIDs()...)
			}

			entries := make([]BalanceEntry, 0, len(ids))
			for _, id := range ids {
				bal, ok := st.BalanceOf(id)
				if !ok {
					return out.Fail(fmt.Errorf("balance %q: %w", id, ledger.ErrAccountNotFound), nil)
				}
				ceiling, _ := st.DebtCeilingOf(id)
				status := string(ledger.StatusActive)
				if acct, ok := st.Accounts[id]; ok {
					status = string(acct.Status)
				}
				entries = append(entries, BalanceEntry{ID: id, Balance: bal.String(), DebtCeiling: ceiling.String(), Status: status})
			}

			var b strings.Builder
			for i, en := range entries {
				if i > 0 {
					b.WriteByte('\n')
				}
				fmt.Fprintf(&b, "%-20s %14s %s", en.ID, en.Balance, st.Metadata.Currency)
				if en.Status != string(ledger.StatusActive) {
					fmt.Fprintf(&b, " (%s)", en.Status)
				}
			}
			return out.Success(entries, b.String())
		},
	}
}

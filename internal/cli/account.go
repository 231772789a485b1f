package cli

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/roach88/apex/internal/ledger"
)

// AccountOptions holds flags for account create.
type AccountOptions struct {
	*RootOptions
	Name        string
	Balance     string
	DebtCeiling string
	Tier        string
}

func NewAccountCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Create, inspect and retire ledger accounts",
	}
	cmd.AddCommand(newAccountCreateCommand(rootOpts))
	cmd.AddCommand(newAccountShowCommand(rootOpts))
	cmd.AddCommand(newAccountRetireCommand(rootOpts))
	return cmd
}

func newAccountCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AccountOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Create an account",
		Long: `Create an account. The initial balance is minted into the ledger's
total issuance. Unset amounts take the configured defaults.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccountCreate(opts, args[0], cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Balance, "balance", "", "initial balance")
	cmd.Flags().StringVar(&opts.DebtCeiling, "debt-ceiling", "", "lowest balance allowed (<= 0)")
	cmd.Flags().StringVar(&opts.Tier, "tier", "", "tier (novice|established|advanced|expert|master)")
	return cmd
}

func runAccountCreate(opts *AccountOptions, id string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	spec := ledger.AccountSpec{ID: id, Name: opts.Name, Tier: ledger.Tier(opts.Tier)}
	var err error
	if spec.InitialBalance, err = optionalDecimal("balance", opts.Balance); err != nil {
		return err
	}
	if spec.DebtCeiling, err = optionalDecimal("debt-ceiling", opts.DebtCeiling); err != nil {
		return err
	}

	e, err := ledgerEnv(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return out.Fail(err, nil)
	}
	defer e.Close()

	acct, err := e.ledger.CreateAccount(cmd.Context(), spec)
	if err != nil {
		return out.Fail(err, nil)
	}
	return out.Success(acct, fmt.Sprintf("Created account %s with balance %s %s (debt ceiling %s)",
		acct.ID, acct.Balance, e.ledger.Currency(), acct.DebtCeiling))
}

func newAccountShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			e, err := ledgerEnv(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return out.Fail(err, nil)
			}
			defer e.Close()

			acct, err := e.ledger.Account(args[0])
			if err != nil {
				return out.Fail(err, nil)
			}
			return out.Success(acct, formatAccount(acct, e.ledger.Currency()))
		},
	}
}

func newAccountRetireCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retire <id>",
		Short: "Retire an account; its balance stays on the books",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			e, err := ledgerEnv(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return out.Fail(err, nil)
			}
			defer e.Close()

			if err := e.ledger.RetireAccount(cmd.Context(), args[0]); err != nil {
				return out.Fail(err, nil)
			}
			acct, err := e.ledger.Account(args[0])
			if err != nil {
				return out.Fail(err, nil)
			}
			return out.Success(acct, fmt.Sprintf("Retired account %s (balance %s %s)", acct.ID, acct.Balance, e.ledger.Currency()))
		},
	}
}

func formatAccount(a ledger.Account, currency string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Account:      %s\n", a.ID)
	if a.Name != "" {
		fmt.Fprintf(&b, "Name:         %s\n", a.Name)
	}
	fmt.Fprintf(&b, "Status:       %s\n", a.Status)
	fmt.Fprintf(&b, "Tier:         %s\n", a.Tier)
	fmt.Fprintf(&b, "Balance:      %s %s\n", a.Balance, currency)
	fmt.Fprintf(&b, "Debt ceiling: %s\n", a.DebtCeiling)
	fmt.Fprintf(&b, "Escrow:       %s\n", a.EscrowHold)
	fmt.Fprintf(&b, "Earnings:     %s", a.LifetimeEarnings)
	return b.String()
}

func optionalDecimal(flag, raw string) (decimal.NullDecimal, error) {
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, WrapExitError(ExitCommandError, fmt.Sprintf("--%s is not a decimal", flag), err)
	}
	return decimal.NewNullDecimal(d), nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, WrapExitError(ExitCommandError, fmt.Sprintf("amount %q is not a decimal", raw), err)
	}
	return d, nil
}

package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/apex/internal/config"
	"github.com/roach88/apex/internal/hooks/builtin"
	"github.com/roach88/apex/internal/ledger"
)

// HooksFile is the manifest file name written by init.
const HooksFile = "hooks.yaml"

const configTemplate = `# apex configuration. Relative paths resolve against this file.
ledger:
  path: ledger.json
  currency: %s
  initial_reserve: "%s"
  initial_balance: "%s"
  default_debt_ceiling: "%s"
hooks:
  manifest: %s
audit:
  path: audit.db
verifier:
  backend: %s
  timeout: %s
log:
  level: info
  format: text
`

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	Force bool
}

// InitResult is the JSON payload of init.
type InitResult struct {
	Config   string `json:"config"`
	Manifest string `json:"manifest"`
	Ledger   string `json:"ledger"`
	Reserve  string `json:"reserve"`
}

func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Create apex.yaml, hooks.yaml and an empty ledger",
		Long: `Write a default configuration and hook manifest into dir (default
the working directory), then create the ledger document with its initial
reserve. Existing files are kept unless --force is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runInit(opts, dir, cmd)
		},
	}
	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite existing config and manifest")
	return cmd
}

func runInit(opts *InitOptions, dir string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return WrapExitError(ExitCommandError, "create directory", err)
	}

	cfgPath := filepath.Join(dir, config.DefaultFile)
	manifestPath := filepath.Join(dir, HooksFile)
	cfgBody := fmt.Sprintf(configTemplate,
		config.DefaultCurrency, config.DefaultInitialReserve, config.DefaultInitialBalance,
		config.DefaultDebtCeiling, HooksFile, config.DefaultBackend, config.DefaultSolverTimeout)

	for _, f := range []struct {
		path string
		data []byte
	}{
		{cfgPath, []byte(cfgBody)},
		{manifestPath, builtin.DefaultManifestYAML},
	} {
		if err := writeIfAbsent(f.path, f.data, opts.Force); err != nil {
			return WrapExitError(ExitCommandError, "write "+f.path, err)
		}
	}

	local := *opts.RootOptions
	local.ConfigPath = cfgPath
	e, err := openEnv(&local, cmd.ErrOrStderr())
	if err != nil {
		return out.Fail(err, nil)
	}
	defer e.Close()

	reserve, _ := e.ledger.BalanceOf(ledger.ReserveID)
	res := InitResult{
		Config:   cfgPath,
		Manifest: manifestPath,
		Ledger:   e.ledger.Path(),
		Reserve:  reserve.String(),
	}
	return out.Success(res, fmt.Sprintf("Initialized %s (ledger %s, reserve %s %s)",
		dir, res.Ledger, res.Reserve, e.ledger.Currency()))
}

func writeIfAbsent(path string, data []byte, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
	}
	return os.WriteFile(path, data, 0o644)
}

package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/roach88/apex/internal/audit"
	"github.com/roach88/apex/internal/config"
	"github.com/roach88/apex/internal/gate"
	"github.com/roach88/apex/internal/hooks"
	"github.com/roach88/apex/internal/hooks/builtin"
	"github.com/roach88/apex/internal/ledger"
	"github.com/roach88/apex/internal/verifier"
)

// env is the set of components one command works with. Commands build
// only what they need and close it when done.
type env struct {
	cfg      *config.Config
	logger   *slog.Logger
	audit    *audit.Store
	verifier *verifier.Verifier
	ledger   *ledger.Ledger
	pipeline *hooks.Pipeline
	gate     *gate.Gate
}

// loadConfig reads --config, else ./apex.yaml if present, else the
// defaults rooted at the working directory.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	if opts.ConfigPath != "" {
		return config.Load(opts.ConfigPath)
	}
	if _, err := os.Stat(config.DefaultFile); err == nil {
		return config.Load(config.DefaultFile)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	return config.Default(wd), nil
}

// newEnv loads the configuration and the logger only.
func newEnv(opts *RootOptions, logOut io.Writer) (*env, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: newLogger(logOut, cfg.Log, opts.Verbose)}, nil
}

// openEnv builds the full stack: audit store, verifier, ledger, pipeline
// and gate.
func openEnv(opts *RootOptions, logOut io.Writer) (*env, error) {
	e, err := newEnv(opts, logOut)
	if err != nil {
		return nil, err
	}
	if err := e.openLedger(); err != nil {
		e.Close()
		return nil, err
	}
	if err := e.buildGate(); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *env) openAudit() error {
	if e.cfg.Audit.Disabled || e.audit != nil {
		return nil
	}
	store, err := audit.Open(e.cfg.Audit.Path)
	if err != nil {
		return err
	}
	e.audit = store
	return nil
}

func (e *env) openVerifier() error {
	if err := e.openAudit(); err != nil {
		return err
	}
	backend, err := verifier.NewBackend(e.cfg.Verifier.Backend)
	if err != nil {
		return err
	}
	vopts := []verifier.Option{
		verifier.WithBackend(backend),
		verifier.WithTimeout(e.cfg.Verifier.Timeout),
		verifier.WithLogger(e.logger),
	}
	if e.audit != nil {
		vopts = append(vopts, verifier.WithSink(e.audit))
	}
	v, err := verifier.New(vopts...)
	if err != nil {
		return err
	}
	e.verifier = v
	return nil
}

func (e *env) openLedger() error {
	if err := e.openVerifier(); err != nil {
		return err
	}
	money, err := e.cfg.Ledger.Money()
	if err != nil {
		return err
	}
	l, err := ledger.Open(e.cfg.Ledger.Path,
		ledger.WithVerifier(e.verifier),
		ledger.WithLogger(e.logger),
		ledger.WithCurrency(e.cfg.Ledger.Currency),
		ledger.WithInitialReserve(money.InitialReserve),
		ledger.WithAccountDefaults(money.InitialBalance, money.DebtCeiling),
	)
	if err != nil {
		return err
	}
	e.ledger = l
	return nil
}

func (e *env) buildGate() error {
	m, err := e.manifest()
	if err != nil {
		return err
	}
	p, err := hooks.New(m, builtin.Registry(builtin.Deps{Accounts: e.ledger}), hooks.WithLogger(e.logger))
	if err != nil {
		return err
	}
	gopts := []gate.Option{gate.WithLedger(e.ledger), gate.WithLogger(e.logger)}
	if e.audit != nil {
		gopts = append(gopts, gate.WithRecorder(e.audit))
	}
	e.pipeline = p
	e.gate = gate.New(p, gopts...)
	return nil
}

// manifest loads the configured hook manifest, or the built-in one.
func (e *env) manifest() (*hooks.Manifest, error) {
	if e.cfg.Hooks.Manifest == "" {
		return builtin.DefaultManifest()
	}
	return hooks.LoadManifest(e.cfg.Hooks.Manifest)
}

// Close releases the ledger lock and the audit database.
func (e *env) Close() error {
	var errs []error
	if e.ledger != nil {
		errs = append(errs, e.ledger.Close())
	}
	if e.audit != nil {
		errs = append(errs, e.audit.Close())
	}
	return errors.Join(errs...)
}

// detachedAccounts satisfies the budget gate when no ledger is open. Every
// lookup misses.
type detachedAccounts struct{}

func (detachedAccounts) Account(id string) (ledger.Account, error) {
	return ledger.Account{}, fmt.Errorf("account %q: %w", id, ledger.ErrAccountNotFound)
}

func (detachedAccounts) Currency() string { return config.DefaultCurrency }

// ledgerEnv opens everything up to the ledger, without the hook pipeline.
func ledgerEnv(opts *RootOptions, logOut io.Writer) (*env, error) {
	e, err := newEnv(opts, logOut)
	if err != nil {
		return nil, err
	}
	if err := e.openLedger(); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

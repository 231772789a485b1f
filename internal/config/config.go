// Package config loads the apex.yaml configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/roach88/apex/internal/faults"
)

// DefaultFile is the configuration file name looked up in the working
// directory when no --config flag is given.
const DefaultFile = "apex.yaml"

// Defaults mirror the economics of the reference deployment.
const (
	DefaultCurrency       = "APX"
	DefaultInitialReserve = "10000"
	DefaultInitialBalance = "100"
	DefaultDebtCeiling    = "-100"
	DefaultBackend        = "symbolic"
	DefaultSolverTimeout  = 30 * time.Second
)

type Config struct {
	Ledger   LedgerConfig   `yaml:"ledger"`
	Hooks    HooksConfig    `yaml:"hooks"`
	Audit    AuditConfig    `yaml:"audit"`
	Verifier VerifierConfig `yaml:"verifier"`
	Log      LogConfig      `yaml:"log"`
}

// LedgerConfig holds the ledger document location and the economic
// constants applied when a ledger or account is created. Amounts are
// decimal strings.
type LedgerConfig struct {
	Path               string `yaml:"path"`
	Currency           string `yaml:"currency"`
	InitialReserve     string `yaml:"initial_reserve"`
	InitialBalance     string `yaml:"initial_balance"`
	DefaultDebtCeiling string `yaml:"default_debt_ceiling"`
}

type HooksConfig struct {
	Manifest string `yaml:"manifest"`
}

type AuditConfig struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

type VerifierConfig struct {
	Backend string        `yaml:"backend"`
	Timeout time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Money is the parsed form of the LedgerConfig amounts.
type Money struct {
	InitialReserve decimal.Decimal
	InitialBalance decimal.Decimal
	DebtCeiling    decimal.Decimal
}

// Load reads and validates the configuration at path. Unknown keys are
// rejected. Relative paths inside the file resolve against the file's
// directory.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, faults.Config("config.load", nil, "config path is empty")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, faults.Config("config.load", err, "read %s", path)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, faults.Config("config.load", err, "parse %s", path)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file exists, rooted at
// dir.
func Default(dir string) *Config {
	var cfg Config
	cfg.applyDefaults(dir)
	return &cfg
}

func (c *Config) applyDefaults(baseDir string) {
	c.Ledger.Path = resolve(baseDir, c.Ledger.Path, "ledger.json")
	if c.Ledger.Currency == "" {
		c.Ledger.Currency = DefaultCurrency
	}
	if c.Ledger.InitialReserve == "" {
		c.Ledger.InitialReserve = DefaultInitialReserve
	}
	if c.Ledger.InitialBalance == "" {
		c.Ledger.InitialBalance = DefaultInitialBalance
	}
	if c.Ledger.DefaultDebtCeiling == "" {
		c.Ledger.DefaultDebtCeiling = DefaultDebtCeiling
	}

	if c.Hooks.Manifest != "" {
		c.Hooks.Manifest = resolve(baseDir, c.Hooks.Manifest, "")
	}
	if !c.Audit.Disabled {
		c.Audit.Path = resolve(baseDir, c.Audit.Path, "audit.db")
	}

	if c.Verifier.Backend == "" {
		c.Verifier.Backend = DefaultBackend
	}
	if c.Verifier.Timeout <= 0 {
		c.Verifier.Timeout = DefaultSolverTimeout
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func resolve(baseDir, path, fallback string) string {
	if path == "" {
		path = fallback
	}
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Validate checks value ranges after defaults are applied.
func (c *Config) Validate() error {
	money, err := c.Ledger.Money()
	if err != nil {
		return err
	}
	if money.InitialReserve.IsNegative() {
		return faults.Config("config.validate", nil, "ledger.initial_reserve must be >= 0, got %s", money.InitialReserve)
	}
	if money.InitialBalance.IsNegative() {
		return faults.Config("config.validate", nil, "ledger.initial_balance must be >= 0, got %s", money.InitialBalance)
	}
	if money.DebtCeiling.IsPositive() {
		return faults.Config("config.validate", nil, "ledger.default_debt_ceiling must be <= 0, got %s", money.DebtCeiling)
	}

	switch c.Verifier.Backend {
	case "symbolic", "arithmetic":
	default:
		return faults.Config("config.validate", nil, "verifier.backend must be symbolic or arithmetic, got %q", c.Verifier.Backend)
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return faults.Config("config.validate", nil, "log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// Money parses the configured amounts.
func (l LedgerConfig) Money() (Money, error) {
	var m Money
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"initial_reserve", l.InitialReserve, &m.InitialReserve},
		{"initial_balance", l.InitialBalance, &m.InitialBalance},
		{"default_debt_ceiling", l.DefaultDebtCeiling, &m.DebtCeiling},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(strings.TrimSpace(f.raw))
		if err != nil {
			return Money{}, faults.Config("config.validate", err, "ledger.%s is not a decimal: %q", f.name, f.raw)
		}
		*f.dst = d
	}
	return m, nil
}

// SlogLevel parses the configured log level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, faults.Config("config.validate", err, "log.level %q", l.Level)
	}
	return level, nil
}

// String renders the effective configuration for `apex config`.
func (c *Config) String() string {
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(out)
}

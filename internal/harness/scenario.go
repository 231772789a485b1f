package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Scenario is one conformance scenario.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Manifest is a hook manifest path, relative to the scenario file.
	// Empty selects the built-in default manifest.
	Manifest string `yaml:"manifest,omitempty"`

	Accounts      []AccountSetup    `yaml:"accounts"`
	Steps         []Step            `yaml:"steps"`
	FinalBalances map[string]string `yaml:"final_balances,omitempty"`
}

// AccountSetup creates one account before the steps run. Empty amounts use
// the ledger defaults.
type AccountSetup struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name,omitempty"`
	Balance     string `yaml:"balance,omitempty"`
	DebtCeiling string `yaml:"debt_ceiling,omitempty"`
}

// Step is one action. Exactly one of Transfer, Code, Command and Verify is
// set.
type Step struct {
	Name     string        `yaml:"name,omitempty"`
	Transfer *TransferStep `yaml:"transfer,omitempty"`
	Code     string        `yaml:"code,omitempty"`
	Command  string        `yaml:"command,omitempty"`
	Verify   *VerifyStep   `yaml:"verify,omitempty"`

	// Tool overrides the tool name for code and command steps.
	Tool string `yaml:"tool,omitempty"`

	Expect     string   `yaml:"expect"`
	Violations []string `yaml:"violations,omitempty"`
	ErrorCode  int      `yaml:"error_code,omitempty"`
}

type TransferStep struct {
	From        string `yaml:"from"`
	To          string `yaml:"to"`
	Amount      string `yaml:"amount"`
	Kind        string `yaml:"kind,omitempty"`
	TaskRef     string `yaml:"task_ref,omitempty"`
	Description string `yaml:"description,omitempty"`
}

type VerifyStep struct {
	Theorem  string            `yaml:"theorem"`
	Bindings map[string]string `yaml:"bindings,omitempty"`
}

// Step kinds.
const (
	StepTransfer = "transfer"
	StepCode     = "code"
	StepCommand  = "command"
	StepVerify   = "verify"
)

// Outcomes.
const (
	OutcomeCommitted = "committed"
	OutcomeRejected  = "rejected"
	OutcomeDenied    = "denied"
	OutcomeAllowed   = "allowed"
	OutcomeValid     = "valid"
	OutcomeInvalid   = "invalid"
	OutcomeError     = "error"
)

var outcomesByKind = map[string][]string{
	StepTransfer: {OutcomeCommitted, OutcomeRejected, OutcomeDenied},
	StepCode:     {OutcomeAllowed, OutcomeDenied},
	StepCommand:  {OutcomeAllowed, OutcomeDenied},
	StepVerify:   {OutcomeValid, OutcomeInvalid},
}

// Kind returns the step kind, or "" if the step sets zero or several
// actions.
func (s Step) Kind() string {
	var kinds []string
	if s.Transfer != nil {
		kinds = append(kinds, StepTransfer)
	}
	if s.Code != "" {
		kinds = append(kinds, StepCode)
	}
	if s.Command != "" {
		kinds = append(kinds, StepCommand)
	}
	if s.Verify != nil {
		kinds = append(kinds, StepVerify)
	}
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected. A relative manifest path is resolved against the scenario's
// directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if s.Manifest != "" && !filepath.IsAbs(s.Manifest) {
		s.Manifest = filepath.Join(filepath.Dir(path), s.Manifest)
	}
	return s, nil
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	seen := map[string]bool{}
	for i, a := range s.Accounts {
		if a.ID == "" {
			return fmt.Errorf("accounts[%d]: id is required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("accounts[%d]: duplicate id %q", i, a.ID)
		}
		seen[a.ID] = true
		if err := checkDecimal(a.Balance); err != nil {
			return fmt.Errorf("accounts[%d].balance: %w", i, err)
		}
		if err := checkDecimal(a.DebtCeiling); err != nil {
			return fmt.Errorf("accounts[%d].debt_ceiling: %w", i, err)
		}
	}

	for i, step := range s.Steps {
		kind := step.Kind()
		if kind == "" {
			return fmt.Errorf("steps[%d]: exactly one of transfer, code, command, verify is required", i)
		}
		if !slices.Contains(outcomesByKind[kind], step.Expect) {
			return fmt.Errorf("steps[%d]: expect %q is not valid for %s (want one of %v)", i, step.Expect, kind, outcomesByKind[kind])
		}
		switch kind {
		case StepTransfer:
			if step.Transfer.From == "" || step.Transfer.To == "" {
				return fmt.Errorf("steps[%d].transfer: from and to are required", i)
			}
			if step.Transfer.Amount == "" {
				return fmt.Errorf("steps[%d].transfer: amount is required", i)
			}
			if err := checkDecimal(step.Transfer.Amount); err != nil {
				return fmt.Errorf("steps[%d].transfer.amount: %w", i, err)
			}
		case StepVerify:
			if step.Verify.Theorem == "" {
				return fmt.Errorf("steps[%d].verify: theorem is required", i)
			}
			for name, v := range step.Verify.Bindings {
				if err := checkDecimal(v); err != nil {
					return fmt.Errorf("steps[%d].verify.bindings.%s: %w", i, name, err)
				}
			}
		}
	}

	for id, v := range s.FinalBalances {
		if err := checkDecimal(v); err != nil {
			return fmt.Errorf("final_balances.%s: %w", id, err)
		}
	}
	return nil
}

func checkDecimal(s string) error {
	if s == "" {
		return nil
	}
	_, err := decimal.NewFromString(s)
	return err
}

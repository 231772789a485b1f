// Package budget implements the budget_gate hook. It runs before a prompt
// is sent, tells the agent what it can afford, and stops insolvent agents.
package budget

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/roach88/apex/internal/hooks"
	"github.com/roach88/apex/internal/ledger"
)

// Kind is the manifest kind of the budget hook.
const Kind = "budget_gate"

// ContextKey is the payload entry the hook injects.
const ContextKey = "fiscal_context"

// Violation types reported by the hook.
const (
	ViolationInsolvent    = "fiscal_insolvency"
	ViolationUnknownAgent = "unknown_agent"
	ViolationRetired      = "account_retired"
	ViolationMissingAgent = "missing_agent"
)

// AccountReader is the read-only view of the ledger the hook needs.
type AccountReader interface {
	Account(id string) (ledger.Account, error)
	Currency() string
}

// Config tunes the gate. Floor is a decimal string added to the debt
// ceiling; an agent whose balance is at or below ceiling+floor is halted.
type Config struct {
	Floor        string `json:"floor"`
	AgentKey     string `json:"agent_key"`
	RequireAgent bool   `json:"require_agent"`
}

// DefaultConfig halts agents at their debt ceiling and lets payloads
// without an agent through.
func DefaultConfig() Config {
	return Config{Floor: "0", AgentKey: "agent_id"}
}

// Gate is the budget hook.
type Gate struct {
	accounts AccountReader
	floor    decimal.Decimal
	agentKey string
	require  bool
}

// New returns a gate reading balances from accounts.
func New(accounts AccountReader, cfg Config) (*Gate, error) {
	if accounts == nil {
		return nil, errors.New("budget gate requires an account reader")
	}
	floor := decimal.Zero
	if cfg.Floor != "" {
		f, err := decimal.NewFromString(cfg.Floor)
		if err != nil {
			return nil, fmt.Errorf("floor: %w", err)
		}
		floor = f
	}
	key := cfg.AgentKey
	if key == "" {
		key = DefaultConfig().AgentKey
	}
	return &Gate{accounts: accounts, floor: floor, agentKey: key, require: cfg.RequireAgent}, nil
}

// Factory binds accounts into a hooks.Factory.
func Factory(accounts AccountReader) hooks.Factory {
	return func(config map[string]any) (hooks.Hook, error) {
		cfg := DefaultConfig()
		if err := hooks.DecodeConfig(config, &cfg); err != nil {
			return nil, err
		}
		return New(accounts, cfg)
	}
}

func (g *Gate) Execute(_ context.Context, p *hooks.Payload) (*hooks.Payload, error) {
	agent, _ := p.String(g.agentKey)
	if agent == "" {
		if g.require {
			p.Deny(hooks.Violation{
				Type:        ViolationMissingAgent,
				Severity:    hooks.SeverityHigh,
				Description: fmt.Sprintf("payload has no %s", g.agentKey),
			})
		}
		return p, nil
	}
	// The reserve pays rewards and is bounded by its own zero ceiling in
	// the ledger.
	if agent == ledger.ReserveID {
		return p, nil
	}

	acct, err := g.accounts.Account(agent)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		p.Deny(hooks.Violation{
			Type:        ViolationUnknownAgent,
			Severity:    hooks.SeverityHigh,
			Description: fmt.Sprintf("agent %q has no account", agent),
		})
		return p, nil
	}
	if err != nil {
		return nil, err
	}

	available := acct.Balance.Sub(acct.DebtCeiling)
	p.Set(ContextKey, map[string]any{
		"agent_id":     acct.ID,
		"balance":      acct.Balance.String(),
		"debt_ceiling": acct.DebtCeiling.String(),
		"available":    available.String(),
		"currency":     g.accounts.Currency(),
		"tier":         string(acct.Tier),
	})

	switch {
	case acct.Status == ledger.StatusRetired:
		p.Deny(hooks.Violation{
			Type:        ViolationRetired,
			Severity:    hooks.SeverityHigh,
			Description: fmt.Sprintf("agent %q is retired", agent),
		})
	case acct.Balance.LessThanOrEqual(acct.DebtCeiling.Add(g.floor)):
		p.Deny(hooks.Violation{
			Type:     ViolationInsolvent,
			Severity: hooks.SeverityCritical,
			Description: fmt.Sprintf("balance %s is at or below the limit %s",
				acct.Balance, acct.DebtCeiling.Add(g.floor)),
		})
	}
	return p, nil
}

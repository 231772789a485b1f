package verifier

import (
	"fmt"
	"slices"
)

// Built-in theorem keys.
const (
	TheoremConservation = "conservation"
	TheoremSolvency     = "solvency"
	TheoremDebtCeiling  = "debt_ceiling"
	TheoremNonNegative  = "non_negative"
)

// TheoremDef is the textual definition of a theorem. Constraints must be
// equalities; Goal may be any supported comparison.
type TheoremDef struct {
	Key         string
	Name        string
	Description string
	Variables   []string
	Constraints []string
	Goal        string
}

// Theorem is a parsed TheoremDef.
type Theorem struct {
	TheoremDef
	constraints []relation
	goal        relation
}

var builtinTheorems = []TheoremDef{
	{
		Key:         TheoremConservation,
		Name:        "Conservation of Wealth",
		Description: "A transfer between two parties neither creates nor destroys money.",
		Variables:   []string{"bank_pre", "agent_pre", "reward", "tax", "bank_post", "agent_post"},
		Constraints: []string{
			"bank_post == bank_pre + tax - reward",
			"agent_post == agent_pre + reward - tax",
		},
		Goal: "bank_pre + agent_pre == bank_post + agent_post",
	},
	{
		Key:         TheoremSolvency,
		Name:        "Solvency Constraint",
		Description: "The payer holds at least the amount being paid.",
		Variables:   []string{"balance", "transaction_amount"},
		Goal:        "balance >= transaction_amount",
	},
	{
		Key:         TheoremDebtCeiling,
		Name:        "Debt Ceiling Constraint",
		Description: "A balance never falls below its account's debt ceiling.",
		Variables:   []string{"balance", "debt_ceiling"},
		Goal:        "balance >= debt_ceiling",
	},
	{
		Key:         TheoremNonNegative,
		Name:        "Non-Negative Reserve",
		Description: "The system reserve never goes negative.",
		Variables:   []string{"balance"},
		Goal:        "balance >= 0",
	},
}

// compileTheorem parses def and checks that every variable a formula
// mentions is declared.
func compileTheorem(def TheoremDef) (*Theorem, error) {
	th := &Theorem{TheoremDef: def}
	declared := func(r relation) error {
		for _, v := range r.expr.vars() {
			if !slices.Contains(def.Variables, v) {
				return fmt.Errorf("theorem %s: formula %q uses undeclared variable %q", def.Key, r.src, v)
			}
		}
		return nil
	}

	for _, src := range def.Constraints {
		r, err := parseRelation(src)
		if err != nil {
			return nil, fmt.Errorf("theorem %s: %w", def.Key, err)
		}
		if r.op != OpEQ {
			return nil, fmt.Errorf("theorem %s: constraint %q must be an equality", def.Key, src)
		}
		if err := declared(r); err != nil {
			return nil, err
		}
		th.constraints = append(th.constraints, r)
	}

	goal, err := parseRelation(def.Goal)
	if err != nil {
		return nil, fmt.Errorf("theorem %s: %w", def.Key, err)
	}
	if err := declared(goal); err != nil {
		return nil, err
	}
	th.goal = goal
	return th, nil
}

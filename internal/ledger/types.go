package ledger

import (
	"maps"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// ReserveID addresses the system reserve in transfers and balance lookups.
const ReserveID = "system_bank"

// Document format markers written into Metadata.
const (
	FormatName    = "apex-ledger"
	FormatVersion = "3.0.1"
)

// Kind classifies a transaction and selects its bookkeeping side effects.
type Kind string

const (
	KindTransfer Kind = "transfer"
	KindReward   Kind = "reward"
	KindTax      Kind = "tax"
	KindBond     Kind = "bond"
	KindPenalty  Kind = "penalty"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindTransfer, KindReward, KindTax, KindBond, KindPenalty:
		return true
	}
	return false
}

// Status is the lifecycle state of an account. Accounts are never deleted.
type Status string

const (
	StatusActive  Status = "active"
	StatusRetired Status = "retired"
)

// Tier ranks an account by track record.
type Tier string

const (
	TierNovice      Tier = "novice"
	TierEstablished Tier = "established"
	TierAdvanced    Tier = "advanced"
	TierExpert      Tier = "expert"
	TierMaster      Tier = "master"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierNovice, TierEstablished, TierAdvanced, TierExpert, TierMaster:
		return true
	}
	return false
}

// Performance tracks task outcomes. It never affects balances.
type Performance struct {
	Streak             int             `json:"streak"`
	TasksCompleted     int             `json:"tasks_completed"`
	TasksFailed        int             `json:"tasks_failed"`
	SuccessRate        decimal.Decimal `json:"success_rate"`
	AvgTokenEfficiency decimal.Decimal `json:"avg_token_efficiency"`
	ReputationScore    decimal.Decimal `json:"reputation_score"`
}

// Account is a party holding a balance.
//
// Invariant: Balance >= DebtCeiling after every committed transaction.
type Account struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Balance          decimal.Decimal `json:"balance"`
	EscrowHold       decimal.Decimal `json:"escrow_hold"`
	LifetimeEarnings decimal.Decimal `json:"lifetime_earnings"`
	DebtCeiling      decimal.Decimal `json:"debt_ceiling"`
	Status           Status          `json:"status"`
	Tier             Tier            `json:"tier"`
	Performance      Performance     `json:"performance"`
	CreatedAt        time.Time       `json:"created_at"`
	LastActive       time.Time       `json:"last_active"`
}

// SystemBank is the reserve: source of rewards, sink of taxes, bonds and
// penalties. Its debt ceiling is zero.
type SystemBank struct {
	Balance                 decimal.Decimal `json:"balance"`
	TotalTaxCollected       decimal.Decimal `json:"total_tax_collected"`
	TotalRewardsPaid        decimal.Decimal `json:"total_rewards_paid"`
	TotalPenaltiesCollected decimal.Decimal `json:"total_penalties_collected"`
	TotalBondsHeld          decimal.Decimal `json:"total_bonds_held"`
}

// Metadata describes the document.
//
// LastCheckpointHash equals the checksum of the last transaction in the
// log, so a truncated log is detected on load. TotalIssued is every unit
// ever minted (initial reserve plus initial account balances); the sum of
// all balances must always equal it.
type Metadata struct {
	Format             string          `json:"format"`
	Version            string          `json:"version"`
	Currency           string          `json:"currency"`
	CreatedAt          time.Time       `json:"created_at"`
	LastCheckpointHash string          `json:"last_checkpoint_hash"`
	TotalIssued        decimal.Decimal `json:"total_issued"`
}

// State is the whole ledger document.
type State struct {
	Metadata     Metadata           `json:"metadata"`
	SystemBank   SystemBank         `json:"system_bank"`
	Accounts     map[string]Account `json:"accounts"`
	Transactions []Transaction      `json:"transaction_log"`
}

// Clone returns a deep copy. Account and Transaction hold no reference
// fields, so copying the map and slice is sufficient.
func (s State) Clone() State {
	out := s
	out.Accounts = maps.Clone(s.Accounts)
	if out.Accounts == nil {
		out.Accounts = map[string]Account{}
	}
	out.Transactions = slices.Clone(s.Transactions)
	return out
}

// BalanceOf returns the balance of id, resolving ReserveID to the reserve.
func (s State) BalanceOf(id string) (decimal.Decimal, bool) {
	if id == ReserveID {
		return s.SystemBank.Balance, true
	}
	acct, ok := s.Accounts[id]
	if !ok {
		return decimal.Zero, false
	}
	return acct.Balance, true
}

// DebtCeilingOf returns the lower bound for the balance of id.
func (s State) DebtCeilingOf(id string) (decimal.Decimal, bool) {
	if id == ReserveID {
		return decimal.Zero, true
	}
	acct, ok := s.Accounts[id]
	if !ok {
		return decimal.Zero, false
	}
	return acct.DebtCeiling, true
}

// Total is the sum of every account balance plus the reserve.
func (s State) Total() decimal.Decimal {
	total := s.SystemBank.Balance
	for _, id := range slices.Sorted(maps.Keys(s.Accounts)) {
		total = total.Add(s.Accounts[id].Balance)
	}
	return total
}

// AccountIDs returns account ids in sorted order.
func (s State) AccountIDs() []string {
	return slices.Sorted(maps.Keys(s.Accounts))
}

// AccountSpec describes a new account. Unset amounts take the ledger
// defaults.
type AccountSpec struct {
	ID             string
	Name           string
	InitialBalance decimal.NullDecimal
	DebtCeiling    decimal.NullDecimal
	Tier           Tier
}

// TransferRequest is a proposed movement of funds.
type TransferRequest struct {
	From        string
	To          string
	Amount      decimal.Decimal
	Kind        Kind
	TaskRef     string
	Description string
}

// PerformanceUpdate is a partial update; nil fields are left unchanged.
// Outcome, when set, records one completed or failed task and recomputes
// Streak and SuccessRate.
type PerformanceUpdate struct {
	Outcome            *bool
	AvgTokenEfficiency *decimal.Decimal
	ReputationScore    *decimal.Decimal
	Tier               *Tier
}

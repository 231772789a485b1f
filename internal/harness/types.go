package harness

import (
	"github.com/shopspring/decimal"

	"github.com/roach88/apex/internal/canon"
)

// TraceEvent records what one step did.
type TraceEvent struct {
	Step       int      `json:"step"`
	Kind       string   `json:"kind"`
	Outcome    string   `json:"outcome"`
	Tool       string   `json:"tool,omitempty"`
	TxID       string   `json:"tx_id,omitempty"`
	Theorem    string   `json:"theorem,omitempty"`
	HaltedBy   string   `json:"halted_by,omitempty"`
	Violations []string `json:"violations,omitempty"`
	ErrorCode  int      `json:"error_code,omitempty"`

	// Detail is the error or reasoning text. It is not part of the golden
	// trace.
	Detail string `json:"-"`
}

// Result is the outcome of running a scenario.
type Result struct {
	Pass     bool                       `json:"pass"`
	Trace    []TraceEvent               `json:"trace"`
	Errors   []string                   `json:"errors,omitempty"`
	Balances map[string]decimal.Decimal `json:"balances"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Trace:    []TraceEvent{},
		Errors:   []string{},
		Balances: map[string]decimal.Decimal{},
	}
}

// AddError records a failed expectation.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

func (e TraceEvent) canonical() canon.Object {
	obj := canon.Object{
		"step":    e.Step,
		"kind":    e.Kind,
		"outcome": e.Outcome,
	}
	if e.Tool != "" {
		obj["tool"] = e.Tool
	}
	if e.TxID != "" {
		obj["tx_id"] = e.TxID
	}
	if e.Theorem != "" {
		obj["theorem"] = e.Theorem
	}
	if e.HaltedBy != "" {
		obj["halted_by"] = e.HaltedBy
	}
	if len(e.Violations) > 0 {
		obj["violations"] = e.Violations
	}
	if e.ErrorCode != 0 {
		obj["error_code"] = e.ErrorCode
	}
	return obj
}

package faults

import (
	"fmt"
	"sort"
)

// Code is a stable numeric error code in the JSON-RPC server error range.
type Code int

const (
	CodeFiscalInsolvency      Code = -32000
	CodeSandboxEscape         Code = -32001
	CodeVerificationFailure   Code = -32002
	CodeContextWindowExceeded Code = -32003
	CodePersonaCorruption     Code = -32004
	CodeLedgerIntegrity       Code = -32005

	// CodeInvalidParams is the standard JSON-RPC code for malformed
	// requests: unknown accounts, negative amounts and the like.
	CodeInvalidParams Code = -32602
)

// Severity ranks codes for alerting.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes describe a registered code.
type Attributes struct {
	Name     string
	Message  string
	Severity Severity
}

var registry = map[Code]Attributes{
	CodeFiscalInsolvency: {
		Name:     "fiscal_insolvency",
		Message:  "insufficient funds or debt ceiling reached",
		Severity: SeverityWarning,
	},
	CodeSandboxEscape: {
		Name:     "sandbox_escape_attempt",
		Message:  "action denied by the safety pipeline",
		Severity: SeverityCritical,
	},
	CodeVerificationFailure: {
		Name:     "verification_failure",
		Message:  "invariant verification failed",
		Severity: SeverityCritical,
	},
	CodeContextWindowExceeded: {
		Name:     "context_window_exceeded",
		Message:  "payload exceeds the configured size ceiling",
		Severity: SeverityWarning,
	},
	CodePersonaCorruption: {
		Name:     "persona_corruption",
		Message:  "configuration or hook manifest is invalid",
		Severity: SeverityCritical,
	},
	CodeLedgerIntegrity: {
		Name:     "ledger_integrity_violation",
		Message:  "ledger integrity violation",
		Severity: SeverityCritical,
	},
	CodeInvalidParams: {
		Name:     "invalid_params",
		Message:  "invalid request parameters",
		Severity: SeverityInfo,
	},
}

// Lookup returns the attributes registered for code.
func Lookup(code Code) (Attributes, bool) {
	attrs, ok := registry[code]
	return attrs, ok
}

// Codes returns every registered code in descending order (-32000 first).
func Codes() []Code {
	codes := make([]Code, 0, len(registry))
	for c := range registry {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] > codes[j] })
	return codes
}

// String returns the registered name of the code.
func (c Code) String() string {
	if attrs, ok := registry[c]; ok {
		return attrs.Name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

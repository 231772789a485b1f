// Package faults defines the error taxonomy shared by the ledger, the
// verifier and the action pipeline.
//
// Every failure that crosses a package boundary is a *Error carrying a Kind
// (how callers must react) and a stable numeric Code (what external clients
// see). Callers inspect errors with KindOf, CodeOf and the Is* helpers, all
// of which use errors.As and therefore see through fmt.Errorf wrapping.
package faults

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind says how a caller must react to an error.
type Kind string

const (
	// KindRejection is a precondition failure detected before any state
	// change. The caller may correct the request and retry.
	KindRejection Kind = "rejection"

	// KindViolation is a policy or invariant denial. Nothing was committed.
	KindViolation Kind = "violation"

	// KindIntegrity is a durability or consistency failure. Never
	// auto-recovered; the operator must inspect the ledger.
	KindIntegrity Kind = "integrity"

	// KindSolver is a verifier backend failure (timeout or internal
	// error). Treated as a denial.
	KindSolver Kind = "solver"

	// KindConfig is an invalid configuration or hook manifest.
	KindConfig Kind = "config"
)

// Error is the structured error returned across package boundaries.
type Error struct {
	Kind    Kind
	Code    Code
	Op      string
	Message string
	Details map[string]string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + e.Details[k]
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Rejection wraps a precondition failure. Insufficient funds and debt
// ceiling breaches map to CodeFiscalInsolvency, everything else to
// CodeInvalidParams.
func Rejection(op string, code Code, err error, format string, args ...any) *Error {
	return &Error{
		Kind:    KindRejection,
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// Violation reports a denial by the pipeline or the verifier.
func Violation(op string, code Code, message string, details map[string]string) *Error {
	return &Error{
		Kind:    KindViolation,
		Code:    code,
		Op:      op,
		Message: message,
		Details: details,
	}
}

// Integrity wraps a durability or consistency failure.
func Integrity(op string, err error, format string, args ...any) *Error {
	return &Error{
		Kind:    KindIntegrity,
		Code:    CodeLedgerIntegrity,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// Solver wraps a verifier backend failure.
func Solver(op string, err error) *Error {
	return &Error{
		Kind:    KindSolver,
		Code:    CodeVerificationFailure,
		Op:      op,
		Message: "verification backend failed",
		Err:     err,
	}
}

// Config wraps an invalid configuration or manifest.
func Config(op string, err error, format string, args ...any) *Error {
	return &Error{
		Kind:    KindConfig,
		Code:    CodePersonaCorruption,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// KindOf returns the Kind of err, or "" if err is not a *Error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// CodeOf returns the numeric code of err, or 0 if err is not a *Error.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return 0
}

// IsRejection reports whether err is a precondition rejection.
func IsRejection(err error) bool { return KindOf(err) == KindRejection }

// IsViolation reports whether err is a policy or invariant denial.
func IsViolation(err error) bool { return KindOf(err) == KindViolation }

// IsIntegrity reports whether err is an integrity fault.
func IsIntegrity(err error) bool { return KindOf(err) == KindIntegrity }

// IsSolver reports whether err is a verifier backend failure.
func IsSolver(err error) bool { return KindOf(err) == KindSolver }

// IsConfig reports whether err is a configuration fault.
func IsConfig(err error) bool { return KindOf(err) == KindConfig }

// Recoverable reports whether the caller may retry after correcting the
// request. Integrity, solver and config faults are never recoverable.
func Recoverable(err error) bool {
	k := KindOf(err)
	return k == KindRejection || k == KindViolation
}

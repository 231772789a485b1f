package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errLow = errors.New("insufficient funds")

func TestKindAndCodeSeeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("submit: %w", Rejection("ledger.transfer", CodeFiscalInsolvency, errLow, "payer %q has %s", "A", "100"))

	assert.Equal(t, KindRejection, KindOf(err))
	assert.Equal(t, CodeFiscalInsolvency, CodeOf(err))
	assert.True(t, IsRejection(err))
	assert.False(t, IsIntegrity(err))
	assert.True(t, errors.Is(err, errLow))
	assert.True(t, Recoverable(err))
}

func TestErrorMessage(t *testing.T) {
	err := Violation("gate.transfer", CodeSandboxEscape, "pipeline halted", map[string]string{
		"hook":  "command_guard",
		"phase": "PRE_TOOL",
	})
	assert.Equal(t, "gate.transfer: pipeline halted (hook=command_guard, phase=PRE_TOOL)", err.Error())

	wrapped := Integrity("ledger.persist", errors.New("disk full"), "write %s", "ledger.json")
	assert.Equal(t, "ledger.persist: write ledger.json: disk full", wrapped.Error())
	assert.Equal(t, CodeLedgerIntegrity, wrapped.Code)
}

func TestRecoverable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rejection", Rejection("op", CodeInvalidParams, nil, "bad"), true},
		{"violation", Violation("op", CodeVerificationFailure, "denied", nil), true},
		{"integrity", Integrity("op", nil, "corrupt"), false},
		{"solver", Solver("op", errors.New("timeout")), false},
		{"config", Config("op", nil, "bad manifest"), false},
		{"plain", errors.New("plain"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Recoverable(tt.err))
		})
	}
}

func TestRegistry(t *testing.T) {
	codes := Codes()
	require.NotEmpty(t, codes)
	assert.Equal(t, CodeFiscalInsolvency, codes[0])
	assert.Equal(t, CodeInvalidParams, codes[len(codes)-1])

	attrs, ok := Lookup(CodeLedgerIntegrity)
	require.True(t, ok)
	assert.Equal(t, SeverityCritical, attrs.Severity)
	assert.Equal(t, "sandbox_escape_attempt", CodeSandboxEscape.String())
	assert.Equal(t, "code(7)", Code(7).String())
	assert.Equal(t, Code(0), CodeOf(errors.New("plain")))
}

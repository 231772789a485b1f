package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/apex/internal/faults"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Denied action, rejected transfer, invalid theorem, failed scenario
	ExitCommandError = 2 // Command error (bad flags, unreadable config, missing files)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error

	// Reported is set when the command already wrote the failure to its
	// output; main then only sets the exit code.
	Reported bool
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// reportedExit is an ExitError for a failure already shown to the user.
func reportedExit(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message, Reported: true}
}

// IsReported reports whether err was already written to the command
// output.
func IsReported(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr) && exitErr.Reported
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Faults map by kind:
// config faults are command errors, every other fault is a failure.
// Anything else is a command error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	switch faults.KindOf(err) {
	case "":
		return ExitCommandError
	case faults.KindConfig:
		return ExitCommandError
	default:
		return ExitFailure
	}
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics; keeps JSON on Writer clean
	Verbose   bool
}

// CLIResponse is the JSON envelope for every command.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError carries the numeric fault code when there is one.
type CLIError struct {
	Code    int    `json:"code,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success writes data as JSON, or text in text mode.
func (f *OutputFormatter) Success(data any, text string) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, text)
	return err
}

// Fail reports err in the configured format and returns an ExitError
// carrying its exit code. data, when non-nil, is included in JSON mode.
func (f *OutputFormatter) Fail(err error, data any) error {
	code := GetExitCode(err)
	if f.Format == "json" {
		resp := CLIResponse{
			Status: "error",
			Data:   data,
			Error: &CLIError{
				Code:    int(faults.CodeOf(err)),
				Kind:    string(faults.KindOf(err)),
				Message: err.Error(),
			},
		}
		if encErr := json.NewEncoder(f.Writer).Encode(resp); encErr != nil {
			return encErr
		}
	} else {
		fmt.Fprintf(f.GetErrWriter(), "Error: %v\n", err)
	}
	return &ExitError{Code: code, Message: "command failed", Err: err, Reported: true}
}

// VerboseLog writes to ErrWriter only when verbose mode is enabled.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

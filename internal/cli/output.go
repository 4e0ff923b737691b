package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/caseflow/fieldsave/internal/draft"
	"github.com/caseflow/fieldsave/internal/engine"
)

// Process exit codes. Scripts on the device branch on these: 1 means the
// store was fine but the draft or a scenario was not, 2 means the command
// never got to look.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // no draft, unreadable draft, failed scenarios, failed write
	ExitCommandError = 2 // bad flags or key, broken config, store or device key unavailable
)

// ErrCodeNoDraft is reported when nothing is stored under a key. Unreadable
// drafts report the engine's code instead (DECRYPTION, DESERIALIZATION,
// VERSION_MISMATCH, INVALID_RECORD, STORAGE_READ).
const ErrCodeNoDraft = "NO_DRAFT"

// ExitError carries the exit code a command finished with.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError returns an ExitError around err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps a command error to the process exit code. Errors that
// are not ExitErrors, such as a cancelled session, exit with ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &exitErr):
		return exitErr.Code
	default:
		return ExitFailure
	}
}

// OutputFormatter writes command results as text or as a JSON envelope.
// Diagnostics go to ErrWriter so they never mix with --format json output.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope: status "ok" with data, or status
// "error" with an error body.
type CLIResponse struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError describes a draft that could not be served. Code is
// ErrCodeNoDraft or an engine.DraftErrorCode; Details holds the cause.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success writes data. In text mode text renders it; with a nil text the
// value is printed with %v.
func (f *OutputFormatter) Success(data any, text func(w io.Writer)) error {
	switch {
	case f.Format == "json":
		return f.encode(CLIResponse{Status: "ok", Data: data})
	case text == nil:
		_, err := fmt.Fprintln(f.Writer, data)
		return err
	default:
		text(f.Writer)
		return nil
	}
}

// Error writes an error body. Details are printed in text mode only with
// --verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// DraftFailure reports why key could not be read and returns the matching
// ExitFailure. err comes from engine.Inspect.
func (f *OutputFormatter) DraftFailure(key draft.Key, err error) error {
	if errors.Is(err, engine.ErrNoDraft) {
		msg := fmt.Sprintf("no draft for %s", key)
		if ferr := f.Error(ErrCodeNoDraft, msg, nil); ferr != nil {
			return ferr
		}
		return NewExitError(ExitFailure, msg)
	}

	msg := fmt.Sprintf("draft %s is unreadable", key)
	if ferr := f.Error(string(engine.CodeOf(err)), msg, err.Error()); ferr != nil {
		return ferr
	}
	return WrapExitError(ExitFailure, msg, err)
}

func (f *OutputFormatter) encode(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// VerboseLog prints a progress line when --verbose is set.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

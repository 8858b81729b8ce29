package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Validation failure (bad matrix, nothing aligned)
	ExitCommandError = 2 // Command error (bad config, unreadable directory, sink failure)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
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

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// response is the JSON envelope for command output.
type response struct {
	Status string   `json:"status"` // "ok" or "error"
	Data   any      `json:"data,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// printer writes command output as text or JSON.
type printer struct {
	format string
	w      io.Writer
}

// result writes data. text is called to render it in text format.
func (p printer) result(data any, text func(w io.Writer)) error {
	if p.format == "json" {
		return json.NewEncoder(p.w).Encode(response{Status: "ok", Data: data})
	}
	text(p.w)
	return nil
}

// failure writes data along with the problems found.
func (p printer) failure(data any, problems []error, text func(w io.Writer)) error {
	msgs := make([]string, len(problems))
	for i, e := range problems {
		msgs[i] = e.Error()
	}
	if p.format == "json" {
		return json.NewEncoder(p.w).Encode(response{Status: "error", Data: data, Errors: msgs})
	}
	text(p.w)
	for _, m := range msgs {
		fmt.Fprintf(p.w, "  - %s\n", m)
	}
	return nil
}

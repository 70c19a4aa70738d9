package cli

import (
	"errors"
	"fmt"
)

// Process exit codes. Other tooling (CI, schedulers) depends on these
// values, so they are a stable contract.
const (
	ExitSuccess = 0 // test returned normally
	ExitFailure = 1 // assertion or domain test failure
	ExitCommandError = 2 // anything else, including load errors
)

// ExitError carries a specific exit code out of a command. A silent
// ExitError (no message, no wrapped error) means the failure has already
// been reported and main should only set the exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		if e.Message == "" {
			return e.Err.Error()
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError attaches an exit code to an existing error.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// Silent returns true when the error carries only an exit code and has
// already been reported to the user.
func (e *ExitError) Silent() bool {
	return e.Message == "" && e.Err == nil
}

// GetExitCode extracts the exit code from an error. Errors without an
// explicit code are unexpected, so they map to ExitCommandError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

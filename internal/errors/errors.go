package errors

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Exit codes for the capstan CLI.
const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess = 0

	// ExitUser indicates a user-related error (invalid input, configuration,
	// nothing installed, lock contention) or an install that failed but was
	// cleanly rolled back.
	ExitUser = 1

	// ExitSystem indicates a system-related error (I/O, permissions, etc.).
	ExitSystem = 2

	// ExitRollbackFailed indicates an install failed and one or more actions
	// could not be reversed. The machine requires manual intervention.
	ExitRollbackFailed = 3
)

// Sentinel errors for the installation engine.
var (
	// ErrCorruptPackage indicates the package checksum did not match or the
	// manifest could not be decoded. Nothing has been mutated.
	ErrCorruptPackage = errors.New("corrupt package")

	// ErrLogCorrupt indicates the transaction log's append-only structure is
	// violated. Uninstall and repair cannot proceed safely.
	ErrLogCorrupt = errors.New("transaction log corrupt")

	// ErrInstallInProgress indicates another engine instance holds the lock
	// for this install root.
	ErrInstallInProgress = errors.New("install already in progress")

	// ErrNothingInstalled indicates uninstall or repair was requested but no
	// install state exists at the install root.
	ErrNothingInstalled = errors.New("nothing installed")

	// ErrAlreadyInstalled indicates install was requested over a completed
	// installation. Update or repair are the operations for that root.
	ErrAlreadyInstalled = errors.New("already installed")

	// ErrRollbackFailed indicates a subset of reverse operations could not
	// complete. This is the single fatal, non-recoverable outcome.
	ErrRollbackFailed = errors.New("rollback failed")

	// ErrInvalidConfig indicates configuration validation failed.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ActionError wraps a failed forward or reverse platform operation, carrying
// the action kind so callers can report exactly what failed.
type ActionError struct {
	// Kind is the action kind, e.g. "create_shortcut".
	Kind string

	// Reverse is true when the failure occurred undoing the action.
	Reverse bool

	// Err is the underlying cause.
	Err error
}

// NewActionError creates an ActionError for a failed forward operation.
func NewActionError(kind string, err error) *ActionError {
	return &ActionError{Kind: kind, Err: err}
}

// NewReverseActionError creates an ActionError for a failed reverse operation.
func NewReverseActionError(kind string, err error) *ActionError {
	return &ActionError{Kind: kind, Reverse: true, Err: err}
}

// Error implements the error interface.
func (e *ActionError) Error() string {
	if e.Reverse {
		return fmt.Sprintf("reversing %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *ActionError) Unwrap() error {
	return e.Err
}

// ExitError wraps an error with an exit code and optional suggestion for CLI
// use. It implements the error interface and supports unwrapping.
type ExitError struct {
	// Err is the underlying error that caused the exit.
	Err error

	// Code is the exit code to return to the operating system.
	Code int

	// Suggestion is an optional actionable suggestion for the user.
	Suggestion string
}

// NewExitError creates an ExitError with the given underlying error and exit code.
func NewExitError(err error, code int) *ExitError {
	return &ExitError{Err: err, Code: code}
}

// NewUserError creates an ExitError with ExitUser code and a suggestion.
func NewUserError(err error, suggestion string) *ExitError {
	return &ExitError{Err: err, Code: ExitUser, Suggestion: suggestion}
}

// NewSystemError creates an ExitError with ExitSystem code and a suggestion.
func NewSystemError(err error, suggestion string) *ExitError {
	return &ExitError{Err: err, Code: ExitSystem, Suggestion: suggestion}
}

// NewConfigError creates an ExitError with ExitUser code and a standard suggestion.
func NewConfigError(err error) *ExitError {
	return &ExitError{
		Err:        err,
		Code:       ExitUser,
		Suggestion: "Run: capstan init to generate a valid install.toml",
	}
}

// Error returns the error message from the underlying error.
// If the underlying error is nil, it returns a generic message with the exit code.
func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit code %d", e.Code)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error, enabling errors.Is and errors.As
// to examine the error chain.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// Package errors provides error handling conventions for capstan.
//
// It defines the sentinel errors of the installation engine's taxonomy,
// an ActionError carrying the failed action kind, and an ExitError type
// mapping terminal outcomes to CLI exit codes.
//
// # Sentinel Errors
//
// Sentinel errors allow callers to check for specific failure conditions
// using [Is]:
//
//	if errors.Is(err, errors.ErrNothingInstalled) {
//	    // nothing to uninstall
//	}
//
// # Exit Codes
//
//   - ExitSuccess (0): full success
//   - ExitUser (1): user error, or a failed install that rolled back cleanly
//   - ExitSystem (2): system error (I/O, permissions)
//   - ExitRollbackFailed (3): rollback itself failed; manual cleanup required
//
// The package also re-exports the wrapping helpers of
// github.com/cockroachdb/errors so the rest of the tree has a single
// errors import.
package errors

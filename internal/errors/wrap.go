package errors

import "github.com/cockroachdb/errors"

// Thin re-exports so the rest of the tree imports a single errors package.

// New creates an error with the given message.
func New(msg string) error {
	return errors.New(msg)
}

// Newf creates an error from a format string.
func Newf(format string, args ...any) error {
	return errors.Newf(format, args...)
}

// Wrap annotates err with a message. Returns nil if err is nil.
func Wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}

// Wrapf annotates err with a formatted message. Returns nil if err is nil.
func Wrapf(err error, format string, args ...any) error {
	return errors.Wrapf(err, format, args...)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Join wraps a list of errors into a single error.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

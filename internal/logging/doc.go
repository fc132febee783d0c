// Package logging configures structured logging for capstan.
//
// The installation engine reports progress exclusively through a
// *slog.Logger it is handed; this package provides the handlers behind
// it: a colorized single-line text handler for terminals, the standard
// JSON handler for machine consumption, and a MultiHandler for writing
// to stderr and a log file simultaneously.
//
// Color output is enabled only when the writer is a TTY, NO_COLOR is
// unset, and TERM is not "dumb".
package logging

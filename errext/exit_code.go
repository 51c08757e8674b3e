// Package errext contains extensions for normal Go errors that are used in vuflow.
package errext

import (
	"errors"

	"github.com/liuxd6825/vuflow/errext/exitcodes"
)

// HasExitCode is a wrapper around an error with an attached exit code.
type HasExitCode interface {
	error
	ExitCode() exitcodes.ExitCode
}

// WithExitCodeIfNone can attach an exit code to the given error, if it doesn't
// have one already. A nil error stays nil.
func WithExitCodeIfNone(err error, exitCode exitcodes.ExitCode) error {
	if err == nil {
		return nil
	}
	var ecerr HasExitCode
	if errors.As(err, &ecerr) {
		return err
	}
	return withExitCode{err, exitCode}
}

// ExitCodeOf returns the exit code attached anywhere in the error chain, or
// fallback when there is none.
func ExitCodeOf(err error, fallback exitcodes.ExitCode) exitcodes.ExitCode {
	var ecerr HasExitCode
	if errors.As(err, &ecerr) {
		return ecerr.ExitCode()
	}
	return fallback
}

type withExitCode struct {
	error
	exitCode exitcodes.ExitCode
}

func (wc withExitCode) Unwrap() error {
	return wc.error
}

func (wc withExitCode) ExitCode() exitcodes.ExitCode {
	return wc.exitCode
}

var _ HasExitCode = withExitCode{}

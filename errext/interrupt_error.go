package errext

import (
	"errors"

	"github.com/liuxd6825/vuflow/errext/exitcodes"
)

// InterruptError is an error that halts engine execution
type InterruptError struct {
	Reason string
	// External is set when the run was stopped from outside the script,
	// e.g. by an OS signal.
	External bool
}

var _ HasExitCode = &InterruptError{}

// Error returns the reason of the interruption.
func (i *InterruptError) Error() string {
	return i.Reason
}

// ExitCode returns the status code used when the process exits.
func (i *InterruptError) ExitCode() exitcodes.ExitCode {
	if i.External {
		return exitcodes.ExternalAbort
	}
	return exitcodes.ScriptAborted
}

// AbortTest is the reason used when a test script aborts without giving one.
const AbortTest = "test aborted"

// IsInterruptError returns true if err is *InterruptError.
func IsInterruptError(err error) bool {
	if err == nil {
		return false
	}
	var intErr *InterruptError
	return errors.As(err, &intErr)
}

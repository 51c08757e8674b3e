package errext

import (
	"fmt"

	"github.com/liuxd6825/vuflow/errext/exitcodes"
)

// ConfigError is returned when the options document or the command line
// configuration can't be parsed or doesn't validate.
type ConfigError struct {
	Err error
}

// NewConfigError builds a ConfigError from a formatted message. %w verbs are
// honored.
func NewConfigError(format string, a ...interface{}) *ConfigError {
	return &ConfigError{Err: fmt.Errorf(format, a...)}
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error { return e.Err }

// ExitCode implements HasExitCode.
func (e *ConfigError) ExitCode() exitcodes.ExitCode { return exitcodes.InvalidConfig }

// SetupError wraps a failure of the script's setup function. No scenario
// runs after it.
type SetupError struct {
	Err error
}

func (e *SetupError) Error() string {
	return "setup failed: " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *SetupError) Unwrap() error { return e.Err }

// ExitCode implements HasExitCode.
func (e *SetupError) ExitCode() exitcodes.ExitCode { return exitcodes.ScriptException }

// TeardownError wraps a failure of the script's teardown function.
type TeardownError struct {
	Err error
}

func (e *TeardownError) Error() string {
	return "teardown failed: " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *TeardownError) Unwrap() error { return e.Err }

// ExitCode implements HasExitCode.
func (e *TeardownError) ExitCode() exitcodes.ExitCode { return exitcodes.ScriptException }

// VUFatalError is an error that prevents a VU from running at all, such as a
// failure to load its script instance. It cancels the whole scenario.
type VUFatalError struct {
	Scenario string
	VUID     uint64
	Err      error
}

func (e *VUFatalError) Error() string {
	return fmt.Sprintf("scenario %q: VU %d: %s", e.Scenario, e.VUID, e.Err)
}

// Unwrap returns the underlying error.
func (e *VUFatalError) Unwrap() error { return e.Err }

// ExitCode implements HasExitCode.
func (e *VUFatalError) ExitCode() exitcodes.ExitCode { return exitcodes.GenericEngine }

var (
	_ HasExitCode = &ConfigError{}
	_ HasExitCode = &SetupError{}
	_ HasExitCode = &TeardownError{}
	_ HasExitCode = &VUFatalError{}
)

// Package exitcodes contains the constants representing possible vuflow exit codes.
package exitcodes

// ExitCode is just a type representing a process exit code for vuflow
type ExitCode uint8

// list of exit codes used by vuflow
const (
	ThresholdsHaveFailed ExitCode = 99
	SetupTimeout         ExitCode = 100
	TeardownTimeout      ExitCode = 101
	GenericEngine        ExitCode = 103
	InvalidConfig        ExitCode = 104
	ExternalAbort        ExitCode = 105
	ScriptException      ExitCode = 107
	ScriptAborted        ExitCode = 108
	GoPanic              ExitCode = 109
)

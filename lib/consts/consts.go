// Package consts houses some constants needed across vuflow
package consts

// Version contains the current semantic version of vuflow.
const Version = "0.3.0"

// Names of the functions and values a script can export.
const (
	DefaultFn  = "default"
	Options    = "options"
	SetupFn    = "setup"
	TeardownFn = "teardown"
)

package lib

import (
	"context"
	"encoding/json"
)

// ScriptLoader creates script instances. Each call returns an instance that
// shares no mutable state with the others, so that every VU can run its own.
type ScriptLoader interface {
	LoadScript(ctx context.Context, path string) (Script, error)
}

// Script is one instance of a loaded test script. It is not safe for
// concurrent use: only a single goroutine may call into it at a time.
type Script interface {
	// ExportedOptions returns the JSON options document the script exports,
	// or nil if it exports none.
	ExportedOptions() (json.RawMessage, error)

	// HasExport reports whether the script exports a callable with the given name.
	HasExport(name string) bool

	// CallExport invokes an exported function. data is the JSON-encoded
	// setup data (possibly nil) and the result is the JSON-encoded return
	// value. Cancelling ctx interrupts the call.
	CallExport(ctx context.Context, ec *ExecutionContext, name string, data json.RawMessage) (json.RawMessage, error)
}

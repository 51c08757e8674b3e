// Package minirunner is an in-memory lib.ScriptLoader for tests. Its
// "scripts" are plain Go functions.
package minirunner

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/liuxd6825/vuflow/lib"
	"github.com/liuxd6825/vuflow/lib/consts"
)

// IterationFn is the Go stand-in for an exported script function.
type IterationFn func(ctx context.Context, ec *lib.ExecutionContext, data json.RawMessage) error

// MiniRunner loads scripts backed by Go callbacks.
type MiniRunner struct {
	// Fn is the default exec function.
	Fn IterationFn
	// Fns holds additional named exec functions.
	Fns        map[string]IterationFn
	SetupFn    func(ctx context.Context, ec *lib.ExecutionContext) (json.RawMessage, error)
	TeardownFn IterationFn
	// Options is returned as the script's exported options.
	Options json.RawMessage
	// LoadFn, if set, is called on every LoadScript and can fail it.
	LoadFn func(ctx context.Context, loadNumber int64) error

	loads atomic.Int64
}

var _ lib.ScriptLoader = &MiniRunner{}

// LoadScript returns a new script instance. The path is ignored.
func (r *MiniRunner) LoadScript(ctx context.Context, _ string) (lib.Script, error) {
	n := r.loads.Add(1)
	if r.LoadFn != nil {
		if err := r.LoadFn(ctx, n); err != nil {
			return nil, err
		}
	}
	return &script{runner: r}, nil
}

// Loads returns how many script instances were loaded so far.
func (r *MiniRunner) Loads() int64 {
	return r.loads.Load()
}

type script struct {
	runner *MiniRunner
}

func (s *script) ExportedOptions() (json.RawMessage, error) {
	return s.runner.Options, nil
}

func (s *script) HasExport(name string) bool {
	switch name {
	case consts.DefaultFn:
		return s.runner.Fn != nil
	case consts.SetupFn:
		return s.runner.SetupFn != nil
	case consts.TeardownFn:
		return s.runner.TeardownFn != nil
	}
	_, ok := s.runner.Fns[name]
	return ok
}

func (s *script) CallExport(
	ctx context.Context, ec *lib.ExecutionContext, name string, data json.RawMessage,
) (json.RawMessage, error) {
	switch name {
	case consts.SetupFn:
		if s.runner.SetupFn != nil {
			return s.runner.SetupFn(ctx, ec)
		}
		return nil, nil
	case consts.TeardownFn:
		if s.runner.TeardownFn != nil {
			return nil, s.runner.TeardownFn(ctx, ec, data)
		}
		return nil, nil
	case consts.DefaultFn:
		if s.runner.Fn != nil {
			return nil, s.runner.Fn(ctx, ec, data)
		}
	}
	if fn, ok := s.runner.Fns[name]; ok {
		return nil, fn(ctx, ec, data)
	}
	return nil, &MissingExportError{Name: name}
}

// MissingExportError is returned when calling a function the script doesn't have.
type MissingExportError struct {
	Name string
}

func (e *MissingExportError) Error() string {
	return "function '" + e.Name + "' is not exported by the script"
}

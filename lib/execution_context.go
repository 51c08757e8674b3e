package lib

import "sync/atomic"

// ExecutionContext describes the iteration a script call runs in. A fresh one
// is built for every call and is owned by the goroutine making it.
type ExecutionContext struct {
	// VUID is the run-wide VU number, starting at 1. It is 0 for setup and
	// teardown.
	VUID uint64
	// Iteration is the iteration number the executor assigned to the call.
	Iteration int64
	// Scenario is the name of the scenario the call belongs to.
	Scenario string

	failed atomic.Bool
	abort  *AbortSignal
}

// NewExecutionContext returns a context bound to the given abort signal,
// which may be nil.
func NewExecutionContext(abort *AbortSignal, scenario string, vuID uint64, iteration int64) *ExecutionContext {
	return &ExecutionContext{
		VUID:      vuID,
		Iteration: iteration,
		Scenario:  scenario,
		abort:     abort,
	}
}

// MarkFailed flags the iteration as failed without interrupting it.
func (ec *ExecutionContext) MarkFailed() {
	ec.failed.Store(true)
}

// Failed reports whether MarkFailed was called.
func (ec *ExecutionContext) Failed() bool {
	return ec.failed.Load()
}

// AbortTest requests the whole run to stop. Only the first request of a run
// is recorded.
func (ec *ExecutionContext) AbortTest(reason string) {
	if ec.abort != nil {
		ec.abort.Abort(reason)
	}
}

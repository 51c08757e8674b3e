package lib

import (
	"encoding/json"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/liuxd6825/vuflow/metrics"
)

// ExecutionState is the run-wide state shared by all executors of a test run.
type ExecutionState struct {
	Loader     ScriptLoader
	ScriptPath string
	Metrics    *metrics.Collector
	// SetupData is the JSON result of the setup function, nil if there was none.
	SetupData json.RawMessage
	Abort     *AbortSignal
	// Tracer is used for the per-iteration spans. It may be nil.
	Tracer trace.Tracer
	RunID  string

	lastVUID  atomic.Uint64
	activeVUs atomic.Int64
	peakVUs   atomic.Int64
}

// NextVUID returns a new run-wide unique VU id. Ids start at 1.
func (es *ExecutionState) NextVUID() uint64 {
	return es.lastVUID.Add(1)
}

// ModActiveVUs changes the number of running VUs and tracks its peak.
func (es *ExecutionState) ModActiveVUs(delta int64) {
	active := es.activeVUs.Add(delta)
	for {
		peak := es.peakVUs.Load()
		if active <= peak || es.peakVUs.CompareAndSwap(peak, active) {
			return
		}
	}
}

// ActiveVUs returns the number of VUs currently running, across scenarios.
func (es *ExecutionState) ActiveVUs() int64 {
	return es.activeVUs.Load()
}

// PeakVUs returns the highest number of simultaneously running VUs so far.
func (es *ExecutionState) PeakVUs() int64 {
	return es.peakVUs.Load()
}

// GetTracer returns the configured tracer or a no-op one.
func (es *ExecutionState) GetTracer() trace.Tracer {
	if es.Tracer == nil {
		return noop.NewTracerProvider().Tracer("vuflow")
	}
	return es.Tracer
}

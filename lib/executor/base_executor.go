package executor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/liuxd6825/vuflow/errext"
	"github.com/liuxd6825/vuflow/lib"
	"github.com/liuxd6825/vuflow/metrics"
)

// Iteration errors are logged at most at this rate, the rest are counted.
const (
	iterationErrorLogEvery = time.Second
	iterationErrorLogBurst = 5
)

// Executor runs the iterations of one scenario.
type Executor interface {
	GetConfig() ScenarioConfig
	GetLogger() *logrus.Entry
	// Run blocks until the scenario is over. ctx carries the run's abort
	// signal; the scenario's own error is returned, iteration errors are not.
	Run(ctx context.Context) error
}

// BaseExecutor is a helper struct that contains common properties and methods
// between most executors. It is intended to be used as an anonymous struct
// inside of most of the executors.
type BaseExecutor struct {
	scenario       ScenarioConfig
	executionState *lib.ExecutionState
	logger         *logrus.Entry

	errLimiter     *rate.Limiter
	suppressedErrs atomic.Int64
}

// NewBaseExecutor returns an initialized BaseExecutor
func NewBaseExecutor(scenario ScenarioConfig, es *lib.ExecutionState, logger *logrus.Entry) *BaseExecutor {
	return &BaseExecutor{
		scenario:       scenario,
		executionState: es,
		logger: logger.WithFields(logrus.Fields{
			"scenario": scenario.Name,
			"executor": scenario.Executor.Type(),
		}),
		errLimiter: rate.NewLimiter(rate.Every(iterationErrorLogEvery), iterationErrorLogBurst),
	}
}

// GetConfig returns the configuration with which this executor was launched.
func (bs *BaseExecutor) GetConfig() ScenarioConfig {
	return bs.scenario
}

// GetLogger returns the executor logger entry.
func (bs *BaseExecutor) GetLogger() *logrus.Entry {
	return bs.logger
}

// activeVU is a loaded script instance bound to a VU id. It is owned by a
// single goroutine.
type activeVU struct {
	id     uint64
	script lib.Script
}

// initVU loads a new script instance for a new VU.
func (bs *BaseExecutor) initVU(ctx context.Context) (*activeVU, error) {
	return bs.loadVU(ctx, bs.executionState.NextVUID())
}

// loadVU loads a new script instance for the given VU id. A load failure is
// fatal for the scenario.
func (bs *BaseExecutor) loadVU(ctx context.Context, id uint64) (*activeVU, error) {
	script, err := bs.executionState.Loader.LoadScript(ctx, bs.executionState.ScriptPath)
	if err != nil {
		return nil, &errext.VUFatalError{Scenario: bs.scenario.Name, VUID: id, Err: err}
	}
	bs.executionState.ModActiveVUs(1)
	return &activeVU{id: id, script: script}, nil
}

func (bs *BaseExecutor) releaseVU(*activeVU) {
	bs.executionState.ModActiveVUs(-1)
}

// runIteration runs one iteration and records its metrics. Iterations whose
// context is done by the time they return are counted as interrupted and
// don't contribute to the other metrics.
func (bs *BaseExecutor) runIteration(ctx context.Context, vu *activeVU, iteration int64) {
	es := bs.executionState
	ec := lib.NewExecutionContext(es.Abort, bs.scenario.Name, vu.id, iteration)

	ctx, span := es.GetTracer().Start(ctx, "iteration", trace.WithAttributes(
		attribute.String("scenario", bs.scenario.Name),
		attribute.Int64("vu", int64(vu.id)),
		attribute.Int64("iteration", iteration),
	))
	defer span.End()

	start := time.Now()
	_, err := vu.script.CallExport(ctx, ec, bs.scenario.GetExec(), es.SetupData)
	took := time.Since(start)

	// an iteration that aborted the test is interrupted, not failed
	if ctx.Err() != nil || errext.IsInterruptError(err) {
		es.Metrics.AddCounter(metrics.InterruptedIterations, 1)
		span.SetStatus(codes.Error, "interrupted")
		return
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		bs.logIterationError(vu.id, iteration, err)
	} else if ec.Failed() {
		span.SetStatus(codes.Error, "marked as failed")
	}

	es.Metrics.AddCounter(metrics.Iterations, 1)
	es.Metrics.AddTrend(metrics.IterationDuration, float64(took)/float64(time.Millisecond))
	es.Metrics.AddCheck(metrics.IterationStatus, err == nil && !ec.Failed())
}

func (bs *BaseExecutor) logIterationError(vuID uint64, iteration int64, err error) {
	if !bs.errLimiter.Allow() {
		bs.suppressedErrs.Add(1)
		return
	}
	msg, fields := errext.Format(err)
	bs.logger.WithFields(fields).WithFields(logrus.Fields{
		"vu":        vuID,
		"iteration": iteration,
	}).Error(msg)
}

// flushSuppressedErrors reports how many iteration errors weren't logged.
func (bs *BaseExecutor) flushSuppressedErrors() {
	if n := bs.suppressedErrs.Swap(0); n > 0 {
		bs.logger.WithField("count", n).Warn("Some iteration errors were not logged to avoid flooding the output")
	}
}

// New creates the executor matching the scenario's config variant.
func New(scenario ScenarioConfig, es *lib.ExecutionState, logger *logrus.Entry) (Executor, error) {
	switch config := scenario.Executor.(type) {
	case PerVUIterationsConfig:
		return &PerVUIterations{BaseExecutor: NewBaseExecutor(scenario, es, logger), config: config}, nil
	case SharedIterationsConfig:
		return &SharedIterations{BaseExecutor: NewBaseExecutor(scenario, es, logger), config: config}, nil
	case ConstantVUsConfig:
		return &ConstantVUs{BaseExecutor: NewBaseExecutor(scenario, es, logger), config: config}, nil
	case RampingVUsConfig:
		return newRampingVUs(NewBaseExecutor(scenario, es, logger), config), nil
	case ConstantArrivalRateConfig:
		return &ConstantArrivalRate{BaseExecutor: NewBaseExecutor(scenario, es, logger), config: config}, nil
	default:
		return nil, errext.NewConfigError("scenario %q: unsupported executor config %T", scenario.Name, config)
	}
}

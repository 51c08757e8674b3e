// Package core contains the Engine that runs a test from setup to the
// threshold verdict.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/liuxd6825/vuflow/errext"
	"github.com/liuxd6825/vuflow/errext/exitcodes"
	"github.com/liuxd6825/vuflow/execution"
	"github.com/liuxd6825/vuflow/lib"
	"github.com/liuxd6825/vuflow/lib/consts"
	"github.com/liuxd6825/vuflow/metrics"
)

// Params are the dependencies of an Engine.
type Params struct {
	Loader     lib.ScriptLoader
	ScriptPath string
	// Overrides are applied over the options exported by the script.
	Overrides execution.Options
	Logger    logrus.FieldLogger
	// Metrics and Tracer are optional.
	Metrics *metrics.Collector
	Tracer  trace.Tracer
	RunID   string
}

// The Engine is the beating heart of vuflow. It loads the script, runs
// setup(), every scenario, teardown() and finally checks the thresholds.
type Engine struct {
	params Params
	logger logrus.FieldLogger

	abort   *lib.AbortSignal
	metrics *metrics.Collector

	initOnce  sync.Once
	initErr   error
	script    lib.Script // the instance setup() and teardown() run on
	options   execution.Options
	state     *lib.ExecutionState
	scheduler *execution.Scheduler

	mu       sync.Mutex
	duration time.Duration
}

// NewEngine returns an Engine that isn't initialized yet.
func NewEngine(params Params) *Engine {
	collector := params.Metrics
	if collector == nil {
		collector = metrics.NewCollector()
	}
	return &Engine{
		params:  params,
		logger:  params.Logger.WithField("component", "engine"),
		abort:   lib.NewAbortSignal(context.Background()),
		metrics: collector,
	}
}

// Init loads the script, consolidates its options with the overrides and
// creates the executors. It is safe to call more than once; only the first
// call does anything.
func (e *Engine) Init(ctx context.Context) error {
	e.initOnce.Do(func() {
		e.initErr = e.init(ctx)
	})
	return e.initErr
}

func (e *Engine) init(ctx context.Context) error {
	logger := e.logger.WithField("phase", "init")
	logger.WithField("script", e.params.ScriptPath).Debug("Loading script...")

	script, err := e.params.Loader.LoadScript(ctx, e.params.ScriptPath)
	if err != nil {
		return errext.WithExitCodeIfNone(
			fmt.Errorf("could not load %s: %w", e.params.ScriptPath, err), exitcodes.ScriptException)
	}
	raw, err := script.ExportedOptions()
	if err != nil {
		return errext.WithExitCodeIfNone(
			fmt.Errorf("could not read the options of %s: %w", e.params.ScriptPath, err), exitcodes.ScriptException)
	}
	scriptOptions, err := execution.ParseOptions(raw)
	if err != nil {
		return err
	}
	for _, key := range scriptOptions.Unknown {
		logger.Warnf("Unknown option %q is ignored", key)
	}

	options := scriptOptions.Apply(e.params.Overrides)
	if err = options.Validate(); err != nil {
		return err
	}

	state := &lib.ExecutionState{
		Loader:     e.params.Loader,
		ScriptPath: e.params.ScriptPath,
		Metrics:    e.metrics,
		Abort:      e.abort,
		Tracer:     e.params.Tracer,
		RunID:      e.params.RunID,
	}
	scheduler, err := execution.NewScheduler(options.ScenarioConfigs(), state, e.params.Logger)
	if err != nil {
		return err
	}
	for _, exec := range scheduler.GetExecutors() {
		config := exec.GetConfig()
		if fn := config.GetExec(); !script.HasExport(fn) {
			return errext.NewConfigError("scenario %q: function %q is not exported by the script", config.Name, fn)
		}
		logger.WithField("scenario", config.Name).Debug(config.Executor.GetDescription())
	}

	e.script, e.options, e.state, e.scheduler = script, options, state, scheduler
	return nil
}

// Run runs the whole test. The returned error follows this precedence:
// init and setup errors, the first scenario error, a teardown error, the
// abort error and finally a threshold violation. Cancelling ctx aborts the
// run as if Abort was called.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Init(ctx); err != nil {
		return err
	}
	defer e.abort.Release()
	stop := context.AfterFunc(ctx, func() { e.abort.AbortExternal("test run was cancelled") })
	defer stop()

	runCtx, span := e.state.GetTracer().Start(e.abort.Context(), "test-run",
		trace.WithAttributes(attribute.String("run_id", e.params.RunID)))
	defer span.End()

	start := time.Now()
	defer func() {
		e.mu.Lock()
		e.duration = time.Since(start)
		e.mu.Unlock()
	}()

	err := e.run(ctx, runCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (e *Engine) run(ctx, runCtx context.Context) error {
	if err := e.runSetup(runCtx); err != nil {
		if abortErr := e.abortErr(ctx); abortErr != nil {
			return abortErr
		}
		return err
	}

	laneErr := e.scheduler.Run(runCtx)
	if laneErr != nil {
		e.logger.WithError(laneErr).Debug("A scenario failed")
	}

	// teardown isn't interrupted by an abort
	teardownErr := e.runTeardown(context.WithoutCancel(runCtx))

	switch {
	case laneErr != nil:
		return laneErr
	case teardownErr != nil:
		return teardownErr
	}
	if abortErr := e.abortErr(ctx); abortErr != nil {
		return abortErr
	}
	if e.options.NoThresholds.Bool {
		return nil
	}
	return e.options.Thresholds.Evaluate(e.metrics)
}

// abortErr returns the abort error of the run, registering the cancellation
// of ctx as an external abort first.
func (e *Engine) abortErr(ctx context.Context) error {
	if ctx.Err() != nil {
		e.abort.AbortExternal("test run was cancelled")
	}
	return e.abort.Err()
}

func (e *Engine) runSetup(ctx context.Context) error {
	if e.options.NoSetup.Bool || !e.script.HasExport(consts.SetupFn) {
		return nil
	}
	logger := e.logger.WithField("phase", "setup")
	logger.Debug("Running setup()...")

	timeout := e.options.GetSetupTimeout()
	setupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ec := lib.NewExecutionContext(e.abort, "", 0, 0)
	data, err := e.script.CallExport(setupCtx, ec, consts.SetupFn, nil)
	if errors.Is(setupCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return &errext.TimeoutError{Place: errext.StageSetup, D: timeout}
	}
	if err != nil {
		logger.WithError(err).Debug("setup() failed")
		return &errext.SetupError{Err: err}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	e.state.SetupData = data
	return nil
}

func (e *Engine) runTeardown(ctx context.Context) error {
	if e.options.NoTeardown.Bool || !e.script.HasExport(consts.TeardownFn) {
		return nil
	}
	logger := e.logger.WithField("phase", "teardown")
	logger.Debug("Running teardown()...")

	timeout := e.options.GetTeardownTimeout()
	teardownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ec := lib.NewExecutionContext(e.abort, "", 0, 0)
	_, err := e.script.CallExport(teardownCtx, ec, consts.TeardownFn, e.state.SetupData)
	if errors.Is(teardownCtx.Err(), context.DeadlineExceeded) {
		return &errext.TimeoutError{Place: errext.StageTeardown, D: timeout}
	}
	if err != nil {
		logger.WithError(err).Debug("teardown() failed")
		return &errext.TeardownError{Err: err}
	}
	return nil
}

// Abort stops the run from the outside, as a signal would. In-flight
// iterations get their graceful stop and teardown still runs.
func (e *Engine) Abort(reason string) {
	e.logger.WithField("reason", reason).Debug("Aborting the test run")
	e.abort.AbortExternal(reason)
}

// IsAborted reports whether the run was aborted, by the script or from the
// outside.
func (e *Engine) IsAborted() bool {
	return e.abort.Aborted()
}

// Metrics returns the collector all executors write to.
func (e *Engine) Metrics() *metrics.Collector {
	return e.metrics
}

// Options returns the consolidated options. Only valid after Init.
func (e *Engine) Options() execution.Options {
	return e.options
}

// Scheduler returns the scheduler of the run. Only valid after Init.
func (e *Engine) Scheduler() *execution.Scheduler {
	return e.scheduler
}

// ThresholdResults evaluates every threshold against the current metrics.
func (e *Engine) ThresholdResults() []metrics.Result {
	return e.options.Thresholds.Results(e.metrics)
}

// Duration returns how long the last Run took.
func (e *Engine) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration
}

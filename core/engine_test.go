package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/vuflow/errext"
	"github.com/liuxd6825/vuflow/errext/exitcodes"
	"github.com/liuxd6825/vuflow/execution"
	"github.com/liuxd6825/vuflow/lib"
	"github.com/liuxd6825/vuflow/lib/testutils"
	"github.com/liuxd6825/vuflow/lib/testutils/minirunner"
	"github.com/liuxd6825/vuflow/metrics"
)

func newTestEngine(t *testing.T, runner *minirunner.MiniRunner, overrides execution.Options) (*Engine, *testutils.SimpleLogrusHook) {
	t.Helper()
	logger, hook := testutils.NewLogger(t)
	return NewEngine(Params{
		Loader:     runner,
		ScriptPath: "/script.js",
		Overrides:  overrides,
		Logger:     logger,
		RunID:      "test-run",
	}), hook
}

func exitCode(err error) exitcodes.ExitCode {
	return errext.ExitCodeOf(err, 0)
}

func TestEngineLifecycle(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		events []string
		seen   atomic.Int64
	)
	record := func(event string) {
		mu.Lock()
		defer mu.Unlock()
		if len(events) == 0 || events[len(events)-1] != event {
			events = append(events, event)
		}
	}

	runner := &minirunner.MiniRunner{
		Options: json.RawMessage(`{"scenarios": {
			"first": {"executor": "per-vu-iterations", "vus": 2, "iterations": 3},
			"second": {"executor": "shared-iterations", "vus": 2, "iterations": 4}
		}}`),
		SetupFn: func(context.Context, *lib.ExecutionContext) (json.RawMessage, error) {
			record("setup")
			return json.RawMessage(`{"token":"abc"}`), nil
		},
		Fn: func(_ context.Context, _ *lib.ExecutionContext, data json.RawMessage) error {
			record("iteration")
			if string(data) == `{"token":"abc"}` {
				seen.Add(1)
			}
			return nil
		},
		TeardownFn: func(_ context.Context, _ *lib.ExecutionContext, data json.RawMessage) error {
			record("teardown")
			assert.JSONEq(t, `{"token":"abc"}`, string(data))
			return nil
		},
	}
	engine, _ := newTestEngine(t, runner, execution.Options{})
	require.NoError(t, engine.Run(context.Background()))

	assert.Equal(t, []string{"setup", "iteration", "teardown"}, events)
	assert.Equal(t, int64(10), seen.Load())
	assert.Equal(t, uint64(10), engine.Metrics().CounterValue(metrics.Iterations))
	assert.Len(t, engine.Scheduler().GetExecutors(), 2)
	assert.Greater(t, engine.Duration(), time.Duration(0))
	assert.False(t, engine.IsAborted())
}

func TestEngineDefaultScenario(t *testing.T) {
	t.Parallel()
	var count atomic.Int64
	runner := &minirunner.MiniRunner{
		Fn: func(context.Context, *lib.ExecutionContext, json.RawMessage) error {
			count.Add(1)
			return nil
		},
	}
	engine, _ := newTestEngine(t, runner, execution.Options{VUs: null.IntFrom(2), Iterations: null.IntFrom(3)})
	require.NoError(t, engine.Run(context.Background()))
	assert.Equal(t, int64(6), count.Load())
	assert.Equal(t, "default", engine.Scheduler().GetExecutors()[0].GetConfig().Name)
}

func TestEngineInitErrors(t *testing.T) {
	t.Parallel()

	t.Run("load", func(t *testing.T) {
		t.Parallel()
		runner := &minirunner.MiniRunner{
			LoadFn: func(context.Context, int64) error { return errors.New("syntax error") },
		}
		engine, _ := newTestEngine(t, runner, execution.Options{})
		err := engine.Run(context.Background())
		require.ErrorContains(t, err, "syntax error")
		assert.Equal(t, exitcodes.ScriptException, exitCode(err))
	})

	t.Run("options", func(t *testing.T) {
		t.Parallel()
		runner := &minirunner.MiniRunner{
			Options: json.RawMessage(`{"scenarios": {"s": {"executor": "constant-vus"}}}`),
			SetupFn: func(context.Context, *lib.ExecutionContext) (json.RawMessage, error) {
				t.Error("setup shouldn't run")
				return nil, nil
			},
		}
		engine, _ := newTestEngine(t, runner, execution.Options{})
		err := engine.Run(context.Background())
		var cerr *errext.ConfigError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, exitcodes.InvalidConfig, exitCode(err))
		// Init errors stick
		assert.Equal(t, err, engine.Init(context.Background()))
	})

	t.Run("invalid overrides", func(t *testing.T) {
		t.Parallel()
		engine, _ := newTestEngine(t, &minirunner.MiniRunner{}, execution.Options{VUs: null.IntFrom(-1)})
		assert.Equal(t, exitcodes.InvalidConfig, exitCode(engine.Run(context.Background())))
	})

	t.Run("unknown options", func(t *testing.T) {
		t.Parallel()
		runner := &minirunner.MiniRunner{
			Options: json.RawMessage(`{"vus": 1, "userAgent": "x"}`),
			Fn:      func(context.Context, *lib.ExecutionContext, json.RawMessage) error { return nil },
		}
		engine, hook := newTestEngine(t, runner, execution.Options{})
		require.NoError(t, engine.Init(context.Background()))
		assert.Equal(t, 1, hook.Count(logrus.WarnLevel, `Unknown option "userAgent"`))
	})
}

func TestEngineMissingExecFunction(t *testing.T) {
	t.Parallel()

	testCases := map[string]*minirunner.MiniRunner{
		"misspelled exec": {
			Options: json.RawMessage(`{"scenarios": {
				"ok": {"executor": "per-vu-iterations", "vus": 1, "iterations": 1},
				"s": {"executor": "per-vu-iterations", "vus": 2, "iterations": 5, "exec": "typo"}
			}}`),
			Fn: func(context.Context, *lib.ExecutionContext, json.RawMessage) error { return nil },
		},
		"no default export": {
			Fns: map[string]minirunner.IterationFn{
				"api": func(context.Context, *lib.ExecutionContext, json.RawMessage) error { return nil },
			},
		},
	}
	for name, runner := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			runner.SetupFn = func(context.Context, *lib.ExecutionContext) (json.RawMessage, error) {
				t.Error("setup shouldn't run")
				return nil, nil
			}
			engine, _ := newTestEngine(t, runner, execution.Options{})
			err := engine.Run(context.Background())
			var cerr *errext.ConfigError
			require.ErrorAs(t, err, &cerr)
			assert.ErrorContains(t, err, "is not exported by the script")
			assert.Equal(t, exitcodes.InvalidConfig, exitCode(err))
			assert.Zero(t, engine.Metrics().CounterValue(metrics.Iterations))
		})
	}
}

func TestEngineSetupFailure(t *testing.T) {
	t.Parallel()
	var iterations, teardowns atomic.Int64
	runner := &minirunner.MiniRunner{
		SetupFn: func(context.Context, *lib.ExecutionContext) (json.RawMessage, error) {
			return nil, errors.New("no database")
		},
		Fn: func(context.Context, *lib.ExecutionContext, json.RawMessage) error {
			iterations.Add(1)
			return nil
		},
		TeardownFn: func(context.Context, *lib.ExecutionContext, json.RawMessage) error {
			teardowns.Add(1)
			return nil
		},
	}
	engine, _ := newTestEngine(t, runner, execution.Options{})
	err := engine.Run(context.Background())
	var serr *errext.SetupError
	require.ErrorAs(t, err, &serr)
	assert.ErrorContains(t, err, "no database")
	assert.Equal(t, exitcodes.ScriptException, exitCode(err))
	assert.Zero(t, iterations.Load())
	assert.Zero(t, teardowns.Load())
}

func TestEngineSetupTimeout(t *testing.T) {
	t.Parallel()
	runner := &minirunner.MiniRunner{
		Options: json.RawMessage(`{"setupTimeout": "100ms"}`),
		SetupFn: func(ctx context.Context, _ *lib.ExecutionContext) (json.RawMessage, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
		Fn: func(context.Context, *lib.ExecutionContext, json.RawMessage) error { return nil },
	}
	engine, _ := newTestEngine(t, runner, execution.Options{})
	err := engine.Run(context.Background())
	var terr *errext.TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, exitcodes.SetupTimeout, exitCode(err))
}

func TestEngineNoSetupNoTeardown(t *testing.T) {
	t.Parallel()
	runner := &minirunner.MiniRunner{
		SetupFn: func(context.Context, *lib.ExecutionContext) (json.RawMessage, error) {
			t.Error("setup shouldn't run")
			return nil, nil
		},
		Fn: func(_ context.Context, _ *lib.ExecutionContext, data json.RawMessage) error {
			assert.Nil(t, data)
			return nil
		},
		TeardownFn: func(context.Context, *lib.ExecutionContext, json.RawMessage) error {
			t.Error("teardown shouldn't run")
			return nil
		},
	}
	engine, _ := newTestEngine(t, runner, execution.Options{
		NoSetup:    null.BoolFrom(true),
		NoTeardown: null.BoolFrom(true),
	})
	require.NoError(t, engine.Run(context.Background()))
}

func TestEngineThresholds(t *testing.T) {
	t.Parallel()
	newRunner := func() *minirunner.MiniRunner {
		return &minirunner.MiniRunner{
			Options: json.RawMessage(`{
				"scenarios": {"s": {"executor": "per-vu-iterations", "vus": 2, "iterations": 10}},
				"thresholds": {
					"iterations": "count==20",
					"iteration_status": ["rate<0.1"]
				}
			}`),
			Fn: func(_ context.Context, ec *lib.ExecutionContext, _ json.RawMessage) error {
				if ec.Iteration%2 == 0 {
					ec.MarkFailed()
				}
				return nil
			},
		}
	}

	t.Run("violated", func(t *testing.T) {
		t.Parallel()
		engine, _ := newTestEngine(t, newRunner(), execution.Options{})
		err := engine.Run(context.Background())
		var verr *metrics.ThresholdViolation
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "iteration_status", verr.Metric)
		assert.InDelta(t, 0.5, verr.Value, 0.0001)
		assert.Equal(t, exitcodes.ThresholdsHaveFailed, exitCode(err))

		results := engine.ThresholdResults()
		require.Len(t, results, 2)
		assert.True(t, results[0].Passed)
		assert.False(t, results[1].Passed)
	})

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()
		engine, _ := newTestEngine(t, newRunner(), execution.Options{NoThresholds: null.BoolFrom(true)})
		require.NoError(t, engine.Run(context.Background()))
	})
}

func TestEngineScriptAbort(t *testing.T) {
	t.Parallel()
	var teardowns atomic.Int64
	runner := &minirunner.MiniRunner{
		Options: json.RawMessage(`{
			"scenarios": {"s": {"executor": "constant-vus", "vus": 2, "duration": "10s", "gracefulStop": "1s"}},
			"thresholds": {"iteration_status": "rate<0.01"}
		}`),
		Fn: func(_ context.Context, ec *lib.ExecutionContext, _ json.RawMessage) error {
			if ec.Iteration == 3 {
				ec.AbortTest("enough")
			}
			ec.MarkFailed()
			time.Sleep(time.Millisecond)
			return nil
		},
		TeardownFn: func(ctx context.Context, _ *lib.ExecutionContext, _ json.RawMessage) error {
			assert.NoError(t, ctx.Err())
			teardowns.Add(1)
			return nil
		},
	}
	engine, _ := newTestEngine(t, runner, execution.Options{})
	start := time.Now()
	err := engine.Run(context.Background())
	assert.Less(t, time.Since(start), 5*time.Second)

	var ierr *errext.InterruptError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "enough", ierr.Reason)
	assert.Equal(t, exitcodes.ScriptAborted, exitCode(err))
	assert.Equal(t, int64(1), teardowns.Load())
	assert.True(t, engine.IsAborted())
}

func TestEngineExternalAbort(t *testing.T) {
	t.Parallel()

	newRunner := func() *minirunner.MiniRunner {
		return &minirunner.MiniRunner{
			Options: json.RawMessage(`{"vus": 2, "duration": "10s"}`),
			Fn: func(ctx context.Context, _ *lib.ExecutionContext, _ json.RawMessage) error {
				select {
				case <-ctx.Done():
				case <-time.After(5 * time.Millisecond):
				}
				return nil
			},
		}
	}

	t.Run("Abort", func(t *testing.T) {
		t.Parallel()
		engine, _ := newTestEngine(t, newRunner(), execution.Options{})
		time.AfterFunc(100*time.Millisecond, func() { engine.Abort("interrupted") })
		err := engine.Run(context.Background())
		assert.Equal(t, exitcodes.ExternalAbort, exitCode(err))
		assert.ErrorContains(t, err, "interrupted")
	})

	t.Run("context", func(t *testing.T) {
		t.Parallel()
		engine, _ := newTestEngine(t, newRunner(), execution.Options{})
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		err := engine.Run(ctx)
		assert.Equal(t, exitcodes.ExternalAbort, exitCode(err))
	})
}

func TestEngineErrorPrecedence(t *testing.T) {
	t.Parallel()

	t.Run("lane error over teardown error", func(t *testing.T) {
		t.Parallel()
		runner := &minirunner.MiniRunner{
			Options: json.RawMessage(`{"thresholds": {"iterations": "count>100"}}`),
			// the first load is the setup/teardown instance
			LoadFn: func(_ context.Context, n int64) error {
				if n > 1 {
					return errors.New("out of memory")
				}
				return nil
			},
			Fn: func(context.Context, *lib.ExecutionContext, json.RawMessage) error { return nil },
			TeardownFn: func(context.Context, *lib.ExecutionContext, json.RawMessage) error {
				return errors.New("teardown broke")
			},
		}
		engine, _ := newTestEngine(t, runner, execution.Options{})
		err := engine.Run(context.Background())
		var verr *errext.VUFatalError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "default", verr.Scenario)
		assert.Equal(t, exitcodes.GenericEngine, exitCode(err))
	})

	t.Run("teardown error over abort", func(t *testing.T) {
		t.Parallel()
		runner := &minirunner.MiniRunner{
			Fn: func(_ context.Context, ec *lib.ExecutionContext, _ json.RawMessage) error {
				ec.AbortTest("")
				return nil
			},
			TeardownFn: func(context.Context, *lib.ExecutionContext, json.RawMessage) error {
				return errors.New("teardown broke")
			},
		}
		engine, _ := newTestEngine(t, runner, execution.Options{})
		err := engine.Run(context.Background())
		var terr *errext.TeardownError
		require.ErrorAs(t, err, &terr)
		assert.True(t, engine.IsAborted())
	})
}

func TestEngineTracing(t *testing.T) {
	t.Parallel()
	recorder := tracetest.NewSpanRecorder()
	provider := trace.NewTracerProvider(trace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	logger, _ := testutils.NewLogger(t)
	engine := NewEngine(Params{
		Loader: &minirunner.MiniRunner{
			Fn: func(context.Context, *lib.ExecutionContext, json.RawMessage) error { return nil },
		},
		ScriptPath: "/script.js",
		Overrides:  execution.Options{Iterations: null.IntFrom(2)},
		Logger:     logger,
		Tracer:     provider.Tracer("test"),
		RunID:      "abc",
	})
	require.NoError(t, engine.Run(context.Background()))

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	root := spans[len(spans)-1]
	assert.Equal(t, "test-run", root.Name())
	for _, span := range spans[:2] {
		assert.Equal(t, "iteration", span.Name())
		assert.Equal(t, root.SpanContext().SpanID(), span.Parent().SpanID())
	}
}

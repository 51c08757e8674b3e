package executor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/liuxd6825/vuflow/lib"
	"github.com/liuxd6825/vuflow/lib/testutils"
	"github.com/liuxd6825/vuflow/lib/testutils/minirunner"
	"github.com/liuxd6825/vuflow/metrics"
)

func simpleRunner(fn func(ctx context.Context, ec *lib.ExecutionContext) error) *minirunner.MiniRunner {
	return &minirunner.MiniRunner{
		Fn: func(ctx context.Context, ec *lib.ExecutionContext, _ json.RawMessage) error {
			return fn(ctx, ec)
		},
	}
}

func mustParseScenario(t testing.TB, name, doc string) ScenarioConfig {
	t.Helper()
	sc, err := ParseScenario(name, gjson.Parse(doc))
	require.NoError(t, err)
	return sc
}

func newTestExecutionState(t testing.TB, loader lib.ScriptLoader) *lib.ExecutionState {
	t.Helper()
	abort := lib.NewAbortSignal(context.Background())
	t.Cleanup(abort.Release)
	return &lib.ExecutionState{
		Loader:     loader,
		ScriptPath: "/script.js",
		Metrics:    metrics.NewCollector(),
		Abort:      abort,
	}
}

// setupExecutor builds the executor for the scenario config, returning the
// context to run it with and the hook capturing its logs.
func setupExecutor(t testing.TB, config ExecutorConfig, loader lib.ScriptLoader) (
	context.Context, Executor, *lib.ExecutionState, *testutils.SimpleLogrusHook,
) {
	t.Helper()
	es := newTestExecutionState(t, loader)
	logger, logHook := testutils.NewLogger(t)
	executor, err := New(ScenarioConfig{Name: "test", Executor: config}, es, logrus.NewEntry(logger))
	require.NoError(t, err)
	return es.Abort.Context(), executor, es, logHook
}

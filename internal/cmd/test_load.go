package cmd

import (
	"fmt"
	"path/filepath"

	uuid "github.com/nu7hatch/gouuid"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel/trace"

	"github.com/liuxd6825/vuflow/cmd/state"
	"github.com/liuxd6825/vuflow/core"
	"github.com/liuxd6825/vuflow/js"
	"github.com/liuxd6825/vuflow/metrics"
)

// loadedTest is a script with its consolidated options and an initialized
// engine, ready to run or to be inspected.
type loadedTest struct {
	scriptPath string
	runID      string
	metrics    *metrics.Collector
	engine     *core.Engine
}

func loadTest(
	gs *state.GlobalState, flags *pflag.FlagSet, scriptArg string, tracer trace.Tracer,
) (*loadedTest, error) {
	scriptPath := scriptArg
	if !filepath.IsAbs(scriptPath) {
		cwd, err := gs.Getwd()
		if err != nil {
			return nil, fmt.Errorf("'%s' is a relative path but could not determine CWD: %w", scriptPath, err)
		}
		scriptPath = filepath.Join(cwd, scriptPath)
	}

	overrides, err := getConsolidatedOverrides(gs, flags)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("couldn't generate a run id: %w", err)
	}
	runID := id.String()
	logger := gs.Logger.WithField("run_id", runID)
	logger.WithField("script", scriptPath).Debug("Loading the test...")

	collector := metrics.NewCollector()
	engine := core.NewEngine(core.Params{
		Loader:     js.NewLoader(gs.FS, logger, collector),
		ScriptPath: scriptPath,
		Overrides:  overrides,
		Logger:     logger,
		Metrics:    collector,
		Tracer:     tracer,
		RunID:      runID,
	})
	if err = engine.Init(gs.Ctx); err != nil {
		return nil, err
	}

	return &loadedTest{
		scriptPath: scriptPath,
		runID:      runID,
		metrics:    collector,
		engine:     engine,
	}, nil
}

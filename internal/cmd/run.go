package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/liuxd6825/vuflow/cmd/state"
	"github.com/liuxd6825/vuflow/errext"
	"github.com/liuxd6825/vuflow/errext/exitcodes"
	"github.com/liuxd6825/vuflow/internal/lib/trace"
	"github.com/liuxd6825/vuflow/internal/output/summary"
	"github.com/liuxd6825/vuflow/lib/types"
)

const tracesShutdownTimeout = 10 * time.Second

// cmdRun handles the `vuflow run` sub-command
type cmdRun struct {
	gs *state.GlobalState

	tracesOutput  string
	summaryExport string
}

func (c *cmdRun) run(cmd *cobra.Command, args []string) (err error) {
	gs := c.gs

	tp, err := trace.NewProvider(gs.Ctx, c.tracesOutput)
	if err != nil {
		return errext.WithExitCodeIfNone(fmt.Errorf("invalid --traces-output: %w", err), exitcodes.InvalidConfig)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), tracesShutdownTimeout)
		defer cancel()
		if serr := tp.Shutdown(ctx); serr != nil {
			gs.Logger.WithError(serr).Warn("Couldn't flush the traces")
		}
	}()

	test, err := loadTest(gs, cmd.Flags(), args[0], tp.Tracer())
	if err != nil {
		return err
	}
	logger := gs.Logger.WithField("run_id", test.runID)
	printToStdout(gs, c.header(test))

	stopSignalHandling := handleTestAbortSignals(gs, func(sig os.Signal) {
		logger.WithField("sig", sig).Info("Stopping vuflow in response to signal...")
		test.engine.Abort(fmt.Sprintf("the test run was stopped by signal %s", sig))
	}, func(sig os.Signal) {
		logger.WithField("sig", sig).Error("Aborting vuflow in response to signal, not waiting for the test to finish")
	})
	defer stopSignalHandling()

	runErr := test.engine.Run(gs.Ctx)
	if runErr != nil {
		logger.WithError(runErr).Debug("The test run finished with an error")
	}

	data := summary.Data{
		Metrics:  test.metrics,
		Duration: test.engine.Duration(),
		Aborted:  test.engine.IsAborted(),
	}
	if !test.engine.Options().NoThresholds.Bool {
		data.Thresholds = test.engine.ThresholdResults()
	}
	if !test.engine.Options().NoSummary.Bool {
		var buf bytes.Buffer
		if rerr := summary.Render(&buf, data, gs.Flags.NoColor || !gs.Stdout.IsTTY); rerr != nil {
			logger.WithError(rerr).Error("Couldn't render the summary")
		}
		printToStdout(gs, buf.String())
	}
	if c.summaryExport != "" {
		if eerr := c.exportSummary(data); eerr != nil {
			logger.WithError(eerr).Error("Couldn't export the summary")
		}
	}

	return runErr
}

func (c *cmdRun) header(test *loadedTest) string {
	var b strings.Builder
	sched := test.engine.Scheduler()
	executors := sched.GetExecutors()

	fmt.Fprintf(&b, "\n     script: %s\n", test.scriptPath)
	fmt.Fprintf(&b, "     run id: %s\n", test.runID)
	noun := "scenario"
	if len(executors) != 1 {
		noun = "scenarios"
	}
	fmt.Fprintf(&b, "  scenarios: %d %s, %s max duration (incl. graceful stop):\n",
		len(executors), noun, types.Duration(sched.GetMaxDuration()))
	for _, exec := range executors {
		config := exec.GetConfig()
		fmt.Fprintf(&b, "           * %s: %s\n", config.Name, config.Executor.GetDescription())
	}
	b.WriteString("\n")
	return b.String()
}

func (c *cmdRun) exportSummary(data summary.Data) error {
	raw, err := summary.JSON(data)
	if err != nil {
		return err
	}
	path := c.summaryExport
	if !filepath.IsAbs(path) {
		cwd, err := c.gs.Getwd()
		if err != nil {
			return err
		}
		path = filepath.Join(cwd, path)
	}
	return afero.WriteFile(c.gs.FS, path, raw, 0o644)
}

func (c *cmdRun) flagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.AddFlagSet(optionFlagSet())
	flags.StringVar(&c.tracesOutput, "traces-output", "none",
		"set the output for the spans of the test run, possible values are "+
			"'none' and 'otel[=<endpoint>][,proto=http|grpc][,header.<name>=<value>]'")
	flags.StringVar(&c.summaryExport, "summary-export", "", "output the end-of-test summary report to a JSON file")
	return flags
}

func getCmdRun(gs *state.GlobalState) *cobra.Command {
	c := &cmdRun{gs: gs}

	exampleText := fmt.Sprintf(`
  # Run a single VU, once.
  %[1]s run script.js

  # Run a single VU, 10 times.
  %[1]s run -i 10 script.js

  # Run 5 VUs, 10 iterations each.
  %[1]s run -u 5 -i 10 script.js

  # Run 5 VUs for 10s.
  %[1]s run -u 5 -d 10s script.js

  # Send the spans of the run to an OTLP collector.
  %[1]s run --traces-output=otel=http://127.0.0.1:4318/v1/traces script.js`, gs.BinaryName)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start a test",
		Long: `Start a test.

The script's scenarios run concurrently, between its setup() and teardown().
Options are taken from the script, the config file, VUFLOW_* environment
variables and the command line, each overriding the previous ones.`,
		Example: exampleText,
		Args:    exactArgsWithMsg(1, "arg should be a path to a script file"),
		RunE:    c.run,
	}
	runCmd.Flags().SortFlags = false
	runCmd.Flags().AddFlagSet(c.flagSet())
	return runCmd
}

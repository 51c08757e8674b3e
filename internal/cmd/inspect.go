package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/liuxd6825/vuflow/cmd/state"
	"github.com/liuxd6825/vuflow/lib/executor"
	"github.com/liuxd6825/vuflow/lib/types"
)

type inspectedScenario struct {
	Name         string                  `json:"name"`
	Executor     string                  `json:"executor"`
	Exec         string                  `json:"exec"`
	Description  string                  `json:"description"`
	StartTime    types.Duration          `json:"startTime"`
	GracefulStop types.Duration          `json:"gracefulStop"`
	MaxDuration  types.Duration          `json:"maxDuration"`
	Config       executor.ExecutorConfig `json:"config"`
}

type inspectedThreshold struct {
	Metric     string   `json:"metric"`
	Thresholds []string `json:"thresholds"`
}

type inspectOutput struct {
	Scenarios       []inspectedScenario  `json:"scenarios"`
	Thresholds      []inspectedThreshold `json:"thresholds"`
	MaxDuration     types.Duration       `json:"maxDuration"`
	SetupTimeout    types.Duration       `json:"setupTimeout"`
	TeardownTimeout types.Duration       `json:"teardownTimeout"`
}

func getCmdInspect(gs *state.GlobalState) *cobra.Command {
	inspectCmd := &cobra.Command{
		Use:   "inspect [file]",
		Short: "Inspect a script",
		Long: `Inspect a script.

Prints the scenarios and thresholds a run of the script would use, after every
option source is consolidated.`,
		Args: exactArgsWithMsg(1, "arg should be a path to a script file"),
		RunE: func(cmd *cobra.Command, args []string) error {
			test, err := loadTest(gs, cmd.Flags(), args[0], nil)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(inspect(test), "", "  ")
			if err != nil {
				return err
			}
			printToStdout(gs, string(data)+"\n")
			return nil
		},
	}
	inspectCmd.Flags().SortFlags = false
	inspectCmd.Flags().AddFlagSet(optionFlagSet())
	return inspectCmd
}

func inspect(test *loadedTest) inspectOutput {
	opts := test.engine.Options()
	sched := test.engine.Scheduler()

	out := inspectOutput{
		Scenarios:       []inspectedScenario{},
		Thresholds:      []inspectedThreshold{},
		MaxDuration:     types.Duration(sched.GetMaxDuration()),
		SetupTimeout:    types.Duration(opts.GetSetupTimeout()),
		TeardownTimeout: types.Duration(opts.GetTeardownTimeout()),
	}
	for _, exec := range sched.GetExecutors() {
		sc := exec.GetConfig()
		out.Scenarios = append(out.Scenarios, inspectedScenario{
			Name:         sc.Name,
			Executor:     sc.Executor.Type(),
			Exec:         sc.GetExec(),
			Description:  sc.Executor.GetDescription(),
			StartTime:    types.Duration(sc.Executor.GetStartTime()),
			GracefulStop: types.Duration(sc.Executor.GetGracefulStop()),
			MaxDuration:  types.Duration(sc.Executor.GetMaxDuration()),
			Config:       sc.Executor,
		})
	}
	for _, mt := range opts.Thresholds {
		it := inspectedThreshold{Metric: mt.Metric}
		for _, th := range mt.Thresholds {
			it.Thresholds = append(it.Thresholds, th.Source)
		}
		out.Thresholds = append(out.Thresholds, it)
	}
	return out
}

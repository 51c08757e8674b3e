package cmd

import (
	"github.com/spf13/cobra"

	"github.com/liuxd6825/vuflow/cmd/state"
	"github.com/liuxd6825/vuflow/internal/build"
)

func getCmdVersion(gs *state.GlobalState) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show application version",
		Long:  `Show the application version and exit.`,
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			printToStdout(gs, gs.BinaryName+" "+build.FullVersion()+"\n")
		},
	}
}

// Package main is the entry point of the vuflow binary.
package main

import (
	"context"

	"github.com/liuxd6825/vuflow/cmd/state"
	"github.com/liuxd6825/vuflow/internal/cmd"
)

func main() {
	cmd.ExecuteWithGlobalState(state.NewGlobalState(context.Background()))
}

package errext

import (
	"fmt"
	"time"

	"github.com/liuxd6825/vuflow/errext/exitcodes"
)

// Places where a TimeoutError can happen.
const (
	StageSetup    = "setup"
	StageTeardown = "teardown"
)

// TimeoutError is returned when setup or teardown takes longer than allowed.
type TimeoutError struct {
	Place string
	D     time.Duration
}

var (
	_ HasExitCode = &TimeoutError{}
	_ HasHint     = &TimeoutError{}
)

func (t *TimeoutError) Error() string {
	return fmt.Sprintf("%s execution timed out after %.f seconds", t.Place, t.D.Seconds())
}

// ExitCode implements HasExitCode.
func (t *TimeoutError) ExitCode() exitcodes.ExitCode {
	if t.Place == StageTeardown {
		return exitcodes.TeardownTimeout
	}
	return exitcodes.SetupTimeout
}

// Hint returns a hint message for logging with given stage.
func (t *TimeoutError) Hint() string {
	switch t.Place {
	case StageSetup:
		return "You can increase the time limit via the setupTimeout option"
	case StageTeardown:
		return "You can increase the time limit via the teardownTimeout option"
	}
	return ""
}

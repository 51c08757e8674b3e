package executor

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/liuxd6825/vuflow/lib/types"
)

// DefaultGracefulStopValue is the graceful stop value for all executors, unless
// it's manually changed by the gracefulStop in each one.
const DefaultGracefulStopValue = 30 * time.Second

var scenarioNameWhitelist = regexp.MustCompile(`^[0-9a-zA-Z_-]+$`)

const scenarioNameErr = "the scenario name should contain only numbers, latin letters, underscores, and dashes"

// BaseConfig contains the common config fields for all executors
type BaseConfig struct {
	StartTime    types.NullDuration `json:"startTime"`
	GracefulStop types.NullDuration `json:"gracefulStop"`
}

// NewBaseConfig returns a default base config with the default values
func NewBaseConfig() BaseConfig {
	return BaseConfig{
		GracefulStop: types.NewNullDuration(DefaultGracefulStopValue, false),
	}
}

// Validate checks that the start time and the graceful stop aren't negative.
func (bc BaseConfig) Validate() (result []error) {
	if bc.StartTime.Duration < 0 {
		result = append(result, errors.New("the startTime can't be negative"))
	}
	if bc.GracefulStop.Duration < 0 {
		result = append(result, errors.New("the gracefulStop timeout can't be negative"))
	}
	return result
}

// GetStartTime returns the starting time, relative to the beginning of the
// actual test, that this executor is supposed to execute.
func (bc BaseConfig) GetStartTime() time.Duration {
	return bc.StartTime.TimeDuration()
}

// GetGracefulStop returns how long the executor waits for any still
// running iterations to finish executing at the end of its normal duration,
// before it actually interrupts them.
func (bc BaseConfig) GetGracefulStop() time.Duration {
	return bc.GracefulStop.TimeDuration()
}

func (bc *BaseConfig) setField(executorType, key string, value gjson.Result) (err error) {
	switch key {
	case "startTime":
		bc.StartTime, err = ParseNullDuration(key, value)
	case "gracefulStop":
		bc.GracefulStop, err = ParseNullDuration(key, value)
		if !bc.GracefulStop.Valid {
			bc.GracefulStop = types.NewNullDuration(DefaultGracefulStopValue, false)
		}
	default:
		err = fmt.Errorf("unknown field %q for executor %q", key, executorType)
	}
	return err
}

// getBaseInfo is a helper method for the "parent" GetDescription methods.
func (bc BaseConfig) getBaseInfo(facts ...string) string {
	if bc.StartTime.Duration > 0 {
		facts = append(facts, fmt.Sprintf("startTime: %s", bc.StartTime.Duration))
	}
	if bc.GracefulStop.Duration > 0 {
		facts = append(facts, fmt.Sprintf("gracefulStop: %s", bc.GracefulStop.Duration))
	}
	if len(facts) == 0 {
		return ""
	}
	return " (" + strings.Join(facts, ", ") + ")"
}

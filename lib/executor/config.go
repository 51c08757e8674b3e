package executor

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/vuflow/errext"
	"github.com/liuxd6825/vuflow/lib/consts"
	"github.com/liuxd6825/vuflow/lib/types"
)

// ExecutorConfig is the configuration of one of the executor variants. The
// set of implementations is closed: PerVUIterationsConfig,
// SharedIterationsConfig, ConstantVUsConfig, RampingVUsConfig and
// ConstantArrivalRateConfig.
type ExecutorConfig interface {
	// Type returns the executor tag, e.g. "constant-vus".
	Type() string
	GetStartTime() time.Duration
	GetGracefulStop() time.Duration
	// GetMaxDuration returns the longest the executor can run, graceful
	// periods included.
	GetMaxDuration() time.Duration
	GetDescription() string
	Validate() []error

	isExecutorConfig()
}

// ScenarioConfig binds an executor config to a scenario name and to the
// script function its iterations call.
type ScenarioConfig struct {
	Name     string
	Exec     string
	Executor ExecutorConfig
}

// GetExec returns the function the scenario's iterations call.
func (sc ScenarioConfig) GetExec() string {
	if sc.Exec == "" {
		return consts.DefaultFn
	}
	return sc.Exec
}

// Validate checks the scenario name and the executor config.
func (sc ScenarioConfig) Validate() []error {
	var errs []error
	if sc.Name == "" {
		errs = append(errs, errors.New("scenario name can't be empty"))
	} else if !scenarioNameWhitelist.MatchString(sc.Name) {
		errs = append(errs, errors.New(scenarioNameErr))
	}
	if sc.Executor == nil {
		return append(errs, errors.New("missing executor config"))
	}
	return append(errs, sc.Executor.Validate()...)
}

type configDecoder interface {
	setField(key string, value gjson.Result) error
	result() ExecutorConfig
}

func newConfigDecoder(executorType string) (configDecoder, error) {
	switch executorType {
	case PerVUIterationsType:
		c := NewPerVUIterationsConfig()
		return &c, nil
	case SharedIterationsType:
		c := NewSharedIterationsConfig()
		return &c, nil
	case ConstantVUsType:
		c := NewConstantVUsConfig()
		return &c, nil
	case RampingVUsType:
		c := NewRampingVUsConfig()
		return &c, nil
	case ConstantArrivalRateType:
		c := NewConstantArrivalRateConfig()
		return &c, nil
	default:
		return nil, fmt.Errorf("unknown executor type %q", executorType)
	}
}

// ParseScenario builds a validated ScenarioConfig out of one entry of the
// options' "scenarios" object.
func ParseScenario(name string, doc gjson.Result) (ScenarioConfig, error) {
	wrap := func(err error) error {
		return errext.NewConfigError("scenario %q: %w", name, err)
	}
	if !doc.IsObject() {
		return ScenarioConfig{}, wrap(fmt.Errorf("expected an object, got %s", doc.Type))
	}

	tag := doc.Get("executor")
	if !tag.Exists() || tag.Type != gjson.String || tag.Str == "" {
		return ScenarioConfig{}, wrap(errors.New("the executor field is required"))
	}
	decoder, err := newConfigDecoder(tag.Str)
	if err != nil {
		return ScenarioConfig{}, wrap(err)
	}

	sc := ScenarioConfig{Name: name}
	doc.ForEach(func(key, value gjson.Result) bool {
		switch key.Str {
		case "executor":
		case "exec":
			if value.Type != gjson.String || value.Str == "" {
				err = errors.New("exec value must be a non-empty string")
			}
			sc.Exec = value.Str
		default:
			err = decoder.setField(key.Str, value)
		}
		return err == nil
	})
	if err != nil {
		return ScenarioConfig{}, wrap(err)
	}

	sc.Executor = decoder.result()
	if errs := sc.Validate(); len(errs) > 0 {
		return ScenarioConfig{}, wrap(errors.Join(errs...))
	}
	return sc, nil
}

// ParseScenarios parses the options' "scenarios" object. Scenarios are
// returned in declaration order.
func ParseScenarios(doc gjson.Result) ([]ScenarioConfig, error) {
	if !doc.Exists() || doc.Type == gjson.Null {
		return nil, nil
	}
	if !doc.IsObject() {
		return nil, errext.NewConfigError("scenarios must be an object, got %s", doc.Type)
	}

	var (
		scenarios []ScenarioConfig
		seen      = make(map[string]struct{})
		err       error
	)
	doc.ForEach(func(key, value gjson.Result) bool {
		if _, dup := seen[key.Str]; dup {
			err = errext.NewConfigError("scenario %q is declared more than once", key.Str)
			return false
		}
		seen[key.Str] = struct{}{}

		var sc ScenarioConfig
		if sc, err = ParseScenario(key.Str, value); err != nil {
			return false
		}
		scenarios = append(scenarios, sc)
		return true
	})
	if err != nil {
		return nil, err
	}
	return scenarios, nil
}

// ParseNullInt reads a number or a numeric string. JSON null is unset.
func ParseNullInt(key string, value gjson.Result) (null.Int, error) {
	if value.Type == gjson.Null {
		return null.Int{}, nil
	}
	n, err := types.GetInt64Value(value.Value())
	if err != nil {
		return null.Int{}, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return null.IntFrom(n), nil
}

// ParseNullDuration reads a duration. JSON null and empty strings are unset.
func ParseNullDuration(key string, value gjson.Result) (types.NullDuration, error) {
	if value.Type == gjson.Null || (value.Type == gjson.String && strings.TrimSpace(value.Str) == "") {
		return types.NullDuration{}, nil
	}
	d, err := types.GetDurationValue(value.Value())
	if err != nil {
		return types.NullDuration{}, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return types.NullDurationFrom(d), nil
}

package execution

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/vuflow/errext"
	"github.com/liuxd6825/vuflow/lib/consts"
	"github.com/liuxd6825/vuflow/lib/executor"
	"github.com/liuxd6825/vuflow/lib/types"
	"github.com/liuxd6825/vuflow/metrics"
)

// DefaultSetupTimeout is the default limit for setup and teardown.
const DefaultSetupTimeout = 60 * time.Second

// Options are the options of a test run, as declared by a script, a config
// file, the environment or the command line. Unset values are null, so that
// layers can be merged with Apply.
type Options struct {
	// Shortcuts for the implicit scenario, used when no scenarios are declared.
	VUs        null.Int           `json:"vus" envconfig:"VUFLOW_VUS"`
	Iterations null.Int           `json:"iterations" envconfig:"VUFLOW_ITERATIONS"`
	Duration   types.NullDuration `json:"duration" envconfig:"VUFLOW_DURATION"`

	// Scenarios is nil when not set and empty when set to an empty object.
	Scenarios  []executor.ScenarioConfig `json:"-" ignored:"true"`
	Thresholds metrics.Thresholds        `json:"-" ignored:"true"`

	NoSetup         null.Bool          `json:"noSetup" envconfig:"VUFLOW_NO_SETUP"`
	SetupTimeout    types.NullDuration `json:"setupTimeout" envconfig:"VUFLOW_SETUP_TIMEOUT"`
	NoTeardown      null.Bool          `json:"noTeardown" envconfig:"VUFLOW_NO_TEARDOWN"`
	TeardownTimeout types.NullDuration `json:"teardownTimeout" envconfig:"VUFLOW_TEARDOWN_TIMEOUT"`
	NoThresholds    null.Bool          `json:"noThresholds" envconfig:"VUFLOW_NO_THRESHOLDS"`
	NoSummary       null.Bool          `json:"noSummary" envconfig:"VUFLOW_NO_SUMMARY"`

	// Unknown lists the top-level keys that were ignored while parsing.
	Unknown []string `json:"-" ignored:"true"`
}

// ParseOptions parses an options document. An empty document gives empty
// options. Unknown top-level keys are collected in Unknown, unknown keys
// inside scenarios are errors.
func ParseOptions(data []byte) (Options, error) {
	var opts Options
	if len(strings.TrimSpace(string(data))) == 0 {
		return opts, nil
	}
	if !gjson.ValidBytes(data) {
		return opts, errext.NewConfigError("the options aren't valid JSON")
	}
	doc := gjson.ParseBytes(data)
	if doc.Type == gjson.Null {
		return opts, nil
	}
	if !doc.IsObject() {
		return opts, errext.NewConfigError("the options must be an object, got %s", doc.Type)
	}

	var err error
	doc.ForEach(func(key, value gjson.Result) bool {
		err = opts.setField(key.Str, value)
		return err == nil
	})
	return opts, err
}

func (o *Options) setField(key string, value gjson.Result) (err error) {
	switch key {
	case "vus":
		o.VUs, err = executor.ParseNullInt(key, value)
	case "iterations":
		o.Iterations, err = executor.ParseNullInt(key, value)
	case "duration":
		o.Duration, err = executor.ParseNullDuration(key, value)
	case "scenarios":
		if o.Scenarios, err = executor.ParseScenarios(value); err == nil && o.Scenarios == nil && value.IsObject() {
			o.Scenarios = []executor.ScenarioConfig{}
		}
		return err
	case "thresholds":
		if o.Thresholds, err = metrics.ParseThresholds(value); err == nil && o.Thresholds == nil && value.IsObject() {
			o.Thresholds = metrics.Thresholds{}
		}
		return err
	case "noSetup":
		o.NoSetup, err = parseNullBool(key, value)
	case "setupTimeout":
		o.SetupTimeout, err = executor.ParseNullDuration(key, value)
	case "noTeardown":
		o.NoTeardown, err = parseNullBool(key, value)
	case "teardownTimeout":
		o.TeardownTimeout, err = executor.ParseNullDuration(key, value)
	case "noThresholds":
		o.NoThresholds, err = parseNullBool(key, value)
	case "noSummary":
		o.NoSummary, err = parseNullBool(key, value)
	default:
		o.Unknown = append(o.Unknown, key)
	}
	if err != nil {
		return errext.NewConfigError("%w", err)
	}
	return nil
}

// Apply returns a copy of o with every value set in opts overriding its own.
func (o Options) Apply(opts Options) Options {
	if opts.VUs.Valid {
		o.VUs = opts.VUs
	}

	// Specifying iterations, duration or scenarios in a "higher" config tier
	// overwrites all of the execution settings from the "lower" tiers.
	if opts.Iterations.Valid || opts.Duration.Valid || opts.Scenarios != nil {
		o.Iterations = null.Int{}
		o.Duration = types.NullDuration{}
		o.Scenarios = nil
	}
	if opts.Iterations.Valid {
		o.Iterations = opts.Iterations
	}
	if opts.Duration.Valid {
		o.Duration = opts.Duration
	}
	if opts.Scenarios != nil {
		o.Scenarios = opts.Scenarios
	}
	if opts.Thresholds != nil {
		o.Thresholds = opts.Thresholds
	}
	if opts.NoSetup.Valid {
		o.NoSetup = opts.NoSetup
	}
	if opts.SetupTimeout.Valid {
		o.SetupTimeout = opts.SetupTimeout
	}
	if opts.NoTeardown.Valid {
		o.NoTeardown = opts.NoTeardown
	}
	if opts.TeardownTimeout.Valid {
		o.TeardownTimeout = opts.TeardownTimeout
	}
	if opts.NoThresholds.Valid {
		o.NoThresholds = opts.NoThresholds
	}
	if opts.NoSummary.Valid {
		o.NoSummary = opts.NoSummary
	}
	return o
}

// Validate checks the shortcut values. Scenarios are validated when parsed.
func (o Options) Validate() error {
	var errs []error
	if o.VUs.Valid && o.VUs.Int64 < 0 {
		errs = append(errs, errors.New("the number of VUs can't be negative"))
	}
	if o.Iterations.Valid && o.Iterations.Int64 < 0 {
		errs = append(errs, errors.New("the number of iterations can't be negative"))
	}
	if o.Duration.Valid && o.Duration.Duration < 0 {
		errs = append(errs, errors.New("the duration can't be negative"))
	}
	if o.Iterations.Valid && o.Duration.Valid {
		errs = append(errs, errors.New("iterations and duration can't be specified at the same time"))
	}
	if o.SetupTimeout.Valid && o.SetupTimeout.Duration <= 0 {
		errs = append(errs, errors.New("setupTimeout must be positive"))
	}
	if o.TeardownTimeout.Valid && o.TeardownTimeout.Duration <= 0 {
		errs = append(errs, errors.New("teardownTimeout must be positive"))
	}
	if len(errs) > 0 {
		return errext.NewConfigError("%w", errors.Join(errs...))
	}
	return nil
}

// ScenarioConfigs returns the scenarios to run. Without declared scenarios,
// a single "default" scenario is derived from the shortcuts: constant-vus
// when a duration is set, per-vu-iterations otherwise.
func (o Options) ScenarioConfigs() []executor.ScenarioConfig {
	if len(o.Scenarios) > 0 {
		return o.Scenarios
	}

	vus := o.VUs
	if !vus.Valid {
		vus = null.NewInt(1, false)
	}

	if o.Duration.Valid && o.Duration.Duration > 0 {
		config := executor.NewConstantVUsConfig()
		config.VUs = vus
		config.Duration = o.Duration
		return []executor.ScenarioConfig{{Name: consts.DefaultFn, Executor: config}}
	}

	config := executor.NewPerVUIterationsConfig()
	config.VUs = vus
	if o.Iterations.Valid {
		config.Iterations = o.Iterations
	}
	return []executor.ScenarioConfig{{Name: consts.DefaultFn, Executor: config}}
}

// GetSetupTimeout returns the setup limit or its default.
func (o Options) GetSetupTimeout() time.Duration {
	if o.SetupTimeout.Valid {
		return o.SetupTimeout.TimeDuration()
	}
	return DefaultSetupTimeout
}

// GetTeardownTimeout returns the teardown limit or its default.
func (o Options) GetTeardownTimeout() time.Duration {
	if o.TeardownTimeout.Valid {
		return o.TeardownTimeout.TimeDuration()
	}
	return DefaultSetupTimeout
}

func parseNullBool(key string, value gjson.Result) (null.Bool, error) {
	switch value.Type {
	case gjson.Null:
		return null.Bool{}, nil
	case gjson.True, gjson.False:
		return null.BoolFrom(value.Bool()), nil
	default:
		return null.Bool{}, fmt.Errorf("%s must be a boolean, got %s", key, value.Raw)
	}
}

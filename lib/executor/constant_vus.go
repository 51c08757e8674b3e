package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/vuflow/lib/types"
)

// ConstantVUsType is the tag of the constant-vus executor.
const ConstantVUsType = "constant-vus"

// ConstantVUsConfig stores VUs and duration
type ConstantVUsConfig struct {
	BaseConfig
	VUs      null.Int           `json:"vus"`
	Duration types.NullDuration `json:"duration"`
}

// NewConstantVUsConfig returns a ConstantVUsConfig with default values
func NewConstantVUsConfig() ConstantVUsConfig {
	return ConstantVUsConfig{
		BaseConfig: NewBaseConfig(),
		VUs:        null.NewInt(1, false),
	}
}

var _ ExecutorConfig = ConstantVUsConfig{}

func (ConstantVUsConfig) isExecutorConfig() {}

// Type returns the executor tag.
func (ConstantVUsConfig) Type() string { return ConstantVUsType }

// GetDescription returns a human-readable description of the executor options
func (clvc ConstantVUsConfig) GetDescription() string {
	return fmt.Sprintf("%d looping VUs for %s%s",
		clvc.VUs.Int64, clvc.Duration.Duration, clvc.getBaseInfo())
}

// GetMaxDuration returns the duration plus the graceful stop.
func (clvc ConstantVUsConfig) GetMaxDuration() time.Duration {
	return clvc.Duration.TimeDuration() + clvc.GetGracefulStop()
}

// Validate makes sure all options are configured and valid
func (clvc ConstantVUsConfig) Validate() []error {
	errs := clvc.BaseConfig.Validate()
	if clvc.VUs.Int64 < 0 {
		errs = append(errs, errors.New("the number of VUs can't be negative"))
	}
	if !clvc.Duration.Valid {
		errs = append(errs, errors.New("the duration is unspecified"))
	} else if clvc.Duration.Duration <= 0 {
		errs = append(errs, fmt.Errorf("the duration should be more than 0, but is %s", clvc.Duration.Duration))
	}
	return errs
}

func (clvc *ConstantVUsConfig) setField(key string, value gjson.Result) (err error) {
	switch key {
	case "vus":
		clvc.VUs, err = ParseNullInt(key, value)
	case "duration":
		clvc.Duration, err = ParseNullDuration(key, value)
	default:
		err = clvc.BaseConfig.setField(ConstantVUsType, key, value)
	}
	return err
}

func (clvc *ConstantVUsConfig) result() ExecutorConfig { return *clvc }

// ConstantVUs maintains a constant number of VUs running for the
// specified duration.
type ConstantVUs struct {
	*BaseExecutor
	config ConstantVUsConfig
}

var _ Executor = &ConstantVUs{}

// Run constantly loops through as many iterations as possible on a fixed number
// of VUs for the specified duration.
func (clv ConstantVUs) Run(parentCtx context.Context) error {
	defer clv.flushSuppressedErrors()

	numVUs := clv.config.VUs.Int64
	duration := clv.config.Duration.TimeDuration()
	gracefulStop := clv.config.GetGracefulStop()

	clv.logger.WithFields(
		logrus.Fields{"vus": numVUs, "duration": duration},
	).Debug("Starting executor run...")
	if numVUs == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(parentCtx)
	_, maxDurationCtx, regDurationCtx, cancel := getDurationContexts(gctx, duration, gracefulStop)
	defer cancel()

	for i := int64(0); i < numVUs; i++ {
		g.Go(func() error {
			vu, err := clv.initVU(regDurationCtx)
			if err != nil {
				return ignoreCanceled(regDurationCtx, err)
			}
			defer clv.releaseVU(vu)

			for iter := int64(0); regDurationCtx.Err() == nil; iter++ {
				clv.runIteration(maxDurationCtx, vu, iter)
			}
			return nil
		})
	}

	return waitOrAbandon(maxDurationCtx, g.Wait)
}

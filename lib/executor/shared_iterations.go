package executor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/vuflow/lib/types"
	"github.com/liuxd6825/vuflow/metrics"
)

// SharedIterationsType is the tag of the shared-iterations executor.
const SharedIterationsType = "shared-iterations"

// SharedIterationsConfig stores the number of VUs, the total iterations
// they share and the max duration.
type SharedIterationsConfig struct {
	BaseConfig
	VUs         null.Int           `json:"vus"`
	Iterations  null.Int           `json:"iterations"`
	MaxDuration types.NullDuration `json:"maxDuration"`
}

// NewSharedIterationsConfig returns a SharedIterationsConfig with default values
func NewSharedIterationsConfig() SharedIterationsConfig {
	return SharedIterationsConfig{
		BaseConfig:  NewBaseConfig(),
		VUs:         null.NewInt(1, false),
		Iterations:  null.NewInt(1, false),
		MaxDuration: types.NewNullDuration(DefaultMaxDuration, false),
	}
}

var _ ExecutorConfig = SharedIterationsConfig{}

func (SharedIterationsConfig) isExecutorConfig() {}

// Type returns the executor tag.
func (SharedIterationsConfig) Type() string { return SharedIterationsType }

// GetDescription returns a human-readable description of the executor options
func (sic SharedIterationsConfig) GetDescription() string {
	return fmt.Sprintf("%d iterations shared among %d VUs%s",
		sic.Iterations.Int64, sic.VUs.Int64,
		sic.getBaseInfo(fmt.Sprintf("maxDuration: %s", sic.MaxDuration.Duration)))
}

// GetMaxDuration returns the max duration plus the graceful stop.
func (sic SharedIterationsConfig) GetMaxDuration() time.Duration {
	return sic.MaxDuration.TimeDuration() + sic.GetGracefulStop()
}

// Validate makes sure all options are configured and valid
func (sic SharedIterationsConfig) Validate() []error {
	errs := sic.BaseConfig.Validate()
	if sic.VUs.Int64 < 0 {
		errs = append(errs, errors.New("the number of VUs can't be negative"))
	}
	if sic.Iterations.Int64 < 0 {
		errs = append(errs, errors.New("the number of iterations can't be negative"))
	}
	if sic.MaxDuration.Duration <= 0 {
		errs = append(errs, errors.New("the maxDuration should be more than 0"))
	}
	return errs
}

func (sic *SharedIterationsConfig) setField(key string, value gjson.Result) (err error) {
	switch key {
	case "vus":
		sic.VUs, err = ParseNullInt(key, value)
	case "iterations":
		sic.Iterations, err = ParseNullInt(key, value)
	case "maxDuration":
		sic.MaxDuration, err = ParseNullDuration(key, value)
		if !sic.MaxDuration.Valid {
			sic.MaxDuration = types.NewNullDuration(DefaultMaxDuration, false)
		}
	default:
		err = sic.BaseConfig.setField(SharedIterationsType, key, value)
	}
	return err
}

func (sic *SharedIterationsConfig) result() ExecutorConfig { return *sic }

// SharedIterations executes a specific total number of iterations, which are
// all shared by the configured VUs.
type SharedIterations struct {
	*BaseExecutor
	config SharedIterationsConfig
}

var _ Executor = &SharedIterations{}

// Run executes a specific total number of iterations, which are all shared by
// the configured VUs. Every iteration index is claimed by exactly one VU.
func (si SharedIterations) Run(parentCtx context.Context) error {
	defer si.flushSuppressedErrors()

	numVUs := si.config.VUs.Int64
	iterations := si.config.Iterations.Int64
	duration := si.config.MaxDuration.TimeDuration()
	gracefulStop := si.config.GetGracefulStop()

	si.logger.WithFields(logrus.Fields{
		"vus": numVUs, "iterations": iterations, "maxDuration": duration,
	}).Debug("Starting executor run...")
	if numVUs == 0 || iterations == 0 {
		return nil
	}
	if numVUs > iterations {
		numVUs = iterations
	}

	g, gctx := errgroup.WithContext(parentCtx)
	_, maxDurationCtx, regDurationCtx, cancel := getDurationContexts(gctx, duration, gracefulStop)
	defer cancel()

	var claimed atomic.Int64
	for i := int64(0); i < numVUs; i++ {
		g.Go(func() error {
			vu, err := si.initVU(regDurationCtx)
			if err != nil {
				return ignoreCanceled(regDurationCtx, err)
			}
			defer si.releaseVU(vu)

			for regDurationCtx.Err() == nil {
				iter := claimed.Add(1) - 1
				if iter >= iterations {
					return nil
				}
				si.runIteration(maxDurationCtx, vu, iter)
			}
			return nil
		})
	}

	err := waitOrAbandon(maxDurationCtx, g.Wait)
	if started := min(claimed.Load(), iterations); started < iterations &&
		errors.Is(regDurationCtx.Err(), context.DeadlineExceeded) {
		si.executionState.Metrics.AddCounter(metrics.DroppedIterations, uint64(iterations-started))
	}
	return err
}

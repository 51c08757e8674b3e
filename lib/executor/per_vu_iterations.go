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

// PerVUIterationsType is the tag of the per-vu-iterations executor.
const PerVUIterationsType = "per-vu-iterations"

// DefaultMaxDuration bounds the iteration-count executors.
const DefaultMaxDuration = 10 * time.Minute

// PerVUIterationsConfig stores the number of VUs, the iterations each of them
// runs and the max duration.
type PerVUIterationsConfig struct {
	BaseConfig
	VUs         null.Int           `json:"vus"`
	Iterations  null.Int           `json:"iterations"`
	MaxDuration types.NullDuration `json:"maxDuration"`
}

// NewPerVUIterationsConfig returns a PerVUIterationsConfig with default values
func NewPerVUIterationsConfig() PerVUIterationsConfig {
	return PerVUIterationsConfig{
		BaseConfig:  NewBaseConfig(),
		VUs:         null.NewInt(1, false),
		Iterations:  null.NewInt(1, false),
		MaxDuration: types.NewNullDuration(DefaultMaxDuration, false),
	}
}

var _ ExecutorConfig = PerVUIterationsConfig{}

func (PerVUIterationsConfig) isExecutorConfig() {}

// Type returns the executor tag.
func (PerVUIterationsConfig) Type() string { return PerVUIterationsType }

// GetDescription returns a human-readable description of the executor options
func (pvic PerVUIterationsConfig) GetDescription() string {
	return fmt.Sprintf("%d iterations for each of %d VUs%s",
		pvic.Iterations.Int64, pvic.VUs.Int64,
		pvic.getBaseInfo(fmt.Sprintf("maxDuration: %s", pvic.MaxDuration.Duration)))
}

// GetMaxDuration returns the max duration plus the graceful stop.
func (pvic PerVUIterationsConfig) GetMaxDuration() time.Duration {
	return pvic.MaxDuration.TimeDuration() + pvic.GetGracefulStop()
}

// Validate makes sure all options are configured and valid
func (pvic PerVUIterationsConfig) Validate() []error {
	errs := pvic.BaseConfig.Validate()
	if pvic.VUs.Int64 < 0 {
		errs = append(errs, errors.New("the number of VUs can't be negative"))
	}
	if pvic.Iterations.Int64 < 0 {
		errs = append(errs, errors.New("the number of iterations can't be negative"))
	}
	if pvic.MaxDuration.Duration <= 0 {
		errs = append(errs, errors.New("the maxDuration should be more than 0"))
	}
	return errs
}

func (pvic *PerVUIterationsConfig) setField(key string, value gjson.Result) (err error) {
	switch key {
	case "vus":
		pvic.VUs, err = ParseNullInt(key, value)
	case "iterations":
		pvic.Iterations, err = ParseNullInt(key, value)
	case "maxDuration":
		pvic.MaxDuration, err = ParseNullDuration(key, value)
		if !pvic.MaxDuration.Valid {
			pvic.MaxDuration = types.NewNullDuration(DefaultMaxDuration, false)
		}
	default:
		err = pvic.BaseConfig.setField(PerVUIterationsType, key, value)
	}
	return err
}

func (pvic *PerVUIterationsConfig) result() ExecutorConfig { return *pvic }

// PerVUIterations executes a specific number of iterations with each VU.
type PerVUIterations struct {
	*BaseExecutor
	config PerVUIterationsConfig
}

var _ Executor = &PerVUIterations{}

// Run executes a specific number of iterations with each configured VU.
func (pvi PerVUIterations) Run(parentCtx context.Context) error {
	defer pvi.flushSuppressedErrors()

	numVUs := pvi.config.VUs.Int64
	iterations := pvi.config.Iterations.Int64
	duration := pvi.config.MaxDuration.TimeDuration()
	gracefulStop := pvi.config.GetGracefulStop()

	pvi.logger.WithFields(logrus.Fields{
		"vus": numVUs, "iterations": iterations, "maxDuration": duration,
	}).Debug("Starting executor run...")
	if numVUs == 0 || iterations == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(parentCtx)
	_, maxDurationCtx, regDurationCtx, cancel := getDurationContexts(gctx, duration, gracefulStop)
	defer cancel()

	var dropped atomic.Int64
	for i := int64(0); i < numVUs; i++ {
		g.Go(func() error {
			vu, err := pvi.initVU(regDurationCtx)
			if err != nil {
				return ignoreCanceled(regDurationCtx, err)
			}
			defer pvi.releaseVU(vu)

			for iter := int64(0); iter < iterations; iter++ {
				if regDurationCtx.Err() != nil {
					dropped.Add(iterations - iter)
					return nil
				}
				pvi.runIteration(maxDurationCtx, vu, iter)
			}
			return nil
		})
	}

	err := waitOrAbandon(maxDurationCtx, g.Wait)
	if n := dropped.Load(); n > 0 && errors.Is(regDurationCtx.Err(), context.DeadlineExceeded) {
		pvi.executionState.Metrics.AddCounter(metrics.DroppedIterations, uint64(n))
	}
	return err
}

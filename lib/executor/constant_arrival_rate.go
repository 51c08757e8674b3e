package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/vuflow/lib/types"
)

// ConstantArrivalRateType is the tag of the constant-arrival-rate executor.
const ConstantArrivalRateType = "constant-arrival-rate"

// arrivalTick is how often the arrival-rate scheduler catches up with the
// iterations that are due.
const arrivalTick = 5 * time.Millisecond

// ConstantArrivalRateConfig stores config for the constant arrival-rate executor
type ConstantArrivalRateConfig struct {
	BaseConfig
	Rate     null.Int           `json:"rate"`
	TimeUnit types.NullDuration `json:"timeUnit"`
	Duration types.NullDuration `json:"duration"`

	// PreAllocatedVUs is the expected pool size; MaxVUs is a hard limit on the
	// number of VUs the executor will use.
	PreAllocatedVUs null.Int `json:"preAllocatedVUs"`
	MaxVUs          null.Int `json:"maxVUs"`
}

// NewConstantArrivalRateConfig returns a ConstantArrivalRateConfig with default values
func NewConstantArrivalRateConfig() ConstantArrivalRateConfig {
	return ConstantArrivalRateConfig{
		BaseConfig: NewBaseConfig(),
		TimeUnit:   types.NewNullDuration(time.Second, false),
	}
}

var _ ExecutorConfig = ConstantArrivalRateConfig{}

func (ConstantArrivalRateConfig) isExecutorConfig() {}

// Type returns the executor tag.
func (ConstantArrivalRateConfig) Type() string { return ConstantArrivalRateType }

// GetPreAllocatedVUs is just a helper method that returns the pre-allocated VUs.
func (carc ConstantArrivalRateConfig) GetPreAllocatedVUs() int64 {
	return carc.PreAllocatedVUs.Int64
}

// GetMaxVUs returns the max VUs, which default to the pre-allocated ones.
func (carc ConstantArrivalRateConfig) GetMaxVUs() int64 {
	if !carc.MaxVUs.Valid {
		return carc.GetPreAllocatedVUs()
	}
	return carc.MaxVUs.Int64
}

// GetDescription returns a human-readable description of the executor options
func (carc ConstantArrivalRateConfig) GetDescription() string {
	preAllocatedVUs, maxVUs := carc.GetPreAllocatedVUs(), carc.GetMaxVUs()
	maxVUsRange := fmt.Sprintf("maxVUs: %d", preAllocatedVUs)
	if maxVUs > preAllocatedVUs {
		maxVUsRange += fmt.Sprintf("-%d", maxVUs)
	}

	timeUnit := carc.TimeUnit.TimeDuration()
	var arrRatePerSec float64
	if timeUnit > 0 {
		arrRatePerSec = float64(carc.Rate.Int64) * float64(time.Second) / float64(timeUnit)
	}

	return fmt.Sprintf("%.2f iterations/s for %s%s", arrRatePerSec, carc.Duration.Duration,
		carc.getBaseInfo(maxVUsRange))
}

// GetMaxDuration returns the duration plus the graceful stop.
func (carc ConstantArrivalRateConfig) GetMaxDuration() time.Duration {
	return carc.Duration.TimeDuration() + carc.GetGracefulStop()
}

// Validate makes sure all options are configured and valid
func (carc ConstantArrivalRateConfig) Validate() []error {
	errs := carc.BaseConfig.Validate()
	if !carc.Rate.Valid {
		errs = append(errs, errors.New("the iteration rate isn't specified"))
	} else if carc.Rate.Int64 <= 0 {
		errs = append(errs, errors.New("the iteration rate should be more than 0"))
	}

	if carc.TimeUnit.Duration <= 0 {
		errs = append(errs, errors.New("the timeUnit should be more than 0"))
	}

	if !carc.Duration.Valid {
		errs = append(errs, errors.New("the duration is unspecified"))
	} else if carc.Duration.Duration <= 0 {
		errs = append(errs, errors.New("the duration should be more than 0"))
	}

	if !carc.PreAllocatedVUs.Valid {
		errs = append(errs, errors.New("the number of preAllocatedVUs isn't specified"))
	} else if carc.PreAllocatedVUs.Int64 < 0 {
		errs = append(errs, errors.New("the number of preAllocatedVUs shouldn't be negative"))
	}

	if carc.GetMaxVUs() < carc.GetPreAllocatedVUs() {
		errs = append(errs, errors.New("maxVUs shouldn't be less than preAllocatedVUs"))
	} else if carc.GetMaxVUs() == 0 {
		errs = append(errs, errors.New("at least one VU is needed, raise preAllocatedVUs or maxVUs"))
	}

	return errs
}

func (carc *ConstantArrivalRateConfig) setField(key string, value gjson.Result) (err error) {
	switch key {
	case "rate":
		carc.Rate, err = ParseNullInt(key, value)
	case "timeUnit":
		carc.TimeUnit, err = ParseNullDuration(key, value)
		if !carc.TimeUnit.Valid {
			carc.TimeUnit = types.NewNullDuration(time.Second, false)
		}
	case "duration":
		carc.Duration, err = ParseNullDuration(key, value)
	case "preAllocatedVUs":
		carc.PreAllocatedVUs, err = ParseNullInt(key, value)
	case "maxVUs":
		carc.MaxVUs, err = ParseNullInt(key, value)
	default:
		err = carc.BaseConfig.setField(ConstantArrivalRateType, key, value)
	}
	return err
}

func (carc *ConstantArrivalRateConfig) result() ExecutorConfig { return *carc }

// ConstantArrivalRate tries to execute a specific number of iterations for a
// specific period.
type ConstantArrivalRate struct {
	*BaseExecutor
	config ConstantArrivalRateConfig

	warnOnce sync.Once
}

var _ Executor = &ConstantArrivalRate{}

// totalIterations is the number of iterations due in the regular duration:
// iteration i is due at i*timeUnit/rate, for every instant before the end.
func (car *ConstantArrivalRate) totalIterations() int64 {
	perUnit := float64(car.config.Duration.TimeDuration()) * float64(car.config.Rate.Int64) /
		float64(car.config.TimeUnit.TimeDuration())
	return int64(math.Ceil(perUnit))
}

// expectedIterations is the number of iterations due after elapsed time.
func (car *ConstantArrivalRate) expectedIterations(elapsed time.Duration) int64 {
	return int64(float64(elapsed)*float64(car.config.Rate.Int64)/float64(car.config.TimeUnit.TimeDuration())) + 1
}

// Run executes a constant number of iterations per second. Every tick, it
// starts as many iterations as needed to catch up with the number that is
// due by now, so that scheduling jitter doesn't accumulate.
//
// Iterations run on a pool of VU slots that grows on demand up to maxVUs.
// Every iteration loads its own script instance.
func (car *ConstantArrivalRate) Run(parentCtx context.Context) error {
	defer car.flushSuppressedErrors()

	duration := car.config.Duration.TimeDuration()
	gracefulStop := car.config.GetGracefulStop()
	preAllocatedVUs, maxVUs := car.config.GetPreAllocatedVUs(), car.config.GetMaxVUs()
	total := car.totalIterations()

	car.logger.WithFields(logrus.Fields{
		"maxVUs": maxVUs, "preAllocatedVUs": preAllocatedVUs, "duration": duration,
		"rate": car.config.Rate.Int64, "timeUnit": car.config.TimeUnit.TimeDuration(),
	}).Debug("Starting executor run...")

	g, gctx := errgroup.WithContext(parentCtx)
	startTime, maxDurationCtx, regDurationCtx, cancel := getDurationContexts(gctx, duration, gracefulStop)
	defer cancel()

	pool := newVUPool(maxVUs, car.executionState.NextVUID)
	acquire := func() (uint64, bool) {
		for {
			if id, ok := pool.tryAcquire(); ok {
				return id, true
			}
			car.logInsufficientVUs(maxVUs)
			select {
			case <-pool.released:
			case <-regDurationCtx.Done():
				return 0, false
			}
		}
	}

	ticker := time.NewTicker(arrivalTick)
	defer ticker.Stop()

	var triggered int64
loop:
	for triggered < total {
		expected := min(car.expectedIterations(time.Since(startTime)), total)
		for triggered < expected {
			if regDurationCtx.Err() != nil {
				break loop
			}
			id, ok := acquire()
			if !ok {
				break loop
			}
			iter := triggered
			triggered++
			g.Go(func() error {
				defer pool.release(id)
				vu, err := car.loadVU(regDurationCtx, id)
				if err != nil {
					return ignoreCanceled(regDurationCtx, err)
				}
				defer car.releaseVU(vu)
				car.runIteration(maxDurationCtx, vu, iter)
				return nil
			})
		}

		select {
		case <-regDurationCtx.Done():
			break loop
		case <-ticker.C:
		}
	}

	return waitOrAbandon(maxDurationCtx, g.Wait)
}

func (car *ConstantArrivalRate) logInsufficientVUs(maxVUs int64) {
	car.warnOnce.Do(func() {
		car.logger.WithField("maxVUs", maxVUs).Warn("Insufficient VUs, reached the maxVUs limit; iterations are delayed until a VU is free")
	})
}

// vuPool hands out VU ids to arrival-rate tasks. Ids are allocated on
// demand, up to max, and reused once their task is done.
type vuPool struct {
	mu        sync.Mutex
	idle      []uint64
	allocated int64
	max       int64
	newID     func() uint64

	// released gets a token whenever an id becomes idle
	released chan struct{}
}

func newVUPool(max int64, newID func() uint64) *vuPool {
	return &vuPool{max: max, newID: newID, released: make(chan struct{}, 1)}
}

// tryAcquire returns an idle or a new id, or false when max ids are busy.
func (p *vuPool) tryAcquire() (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.idle); n > 0 {
		id := p.idle[n-1]
		p.idle = p.idle[:n-1]
		return id, true
	}
	if p.allocated < p.max {
		p.allocated++
		return p.newID(), true
	}
	return 0, false
}

func (p *vuPool) release(id uint64) {
	p.mu.Lock()
	p.idle = append(p.idle, id)
	p.mu.Unlock()
	select {
	case p.released <- struct{}{}:
	default:
	}
}

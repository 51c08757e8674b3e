package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/vuflow/lib/types"
)

// RampingVUsType is the tag of the ramping-vus executor.
const RampingVUsType = "ramping-vus"

// rampTick is how often the VU target is recomputed while a stage ramps.
const rampTick = 50 * time.Millisecond

// Stage is one step of a ramping-vus scenario: the VU target is moved
// linearly to Target over Duration.
type Stage struct {
	Duration types.NullDuration `json:"duration"`
	Target   null.Int           `json:"target"`
}

// RampingVUsConfig stores the configuration for the stages executor
type RampingVUsConfig struct {
	BaseConfig
	StartVUs         null.Int           `json:"startVUs"`
	Stages           []Stage            `json:"stages"`
	GracefulRampDown types.NullDuration `json:"gracefulRampDown"`
}

// NewRampingVUsConfig returns a RampingVUsConfig with its default values
func NewRampingVUsConfig() RampingVUsConfig {
	return RampingVUsConfig{
		BaseConfig:       NewBaseConfig(),
		StartVUs:         null.NewInt(1, false),
		GracefulRampDown: types.NewNullDuration(30*time.Second, false),
	}
}

var _ ExecutorConfig = RampingVUsConfig{}

func (RampingVUsConfig) isExecutorConfig() {}

// Type returns the executor tag.
func (RampingVUsConfig) Type() string { return RampingVUsType }

// GetDescription returns a human-readable description of the executor options
func (vlvc RampingVUsConfig) GetDescription() string {
	maxVUs := getStagesUnscaledMaxTarget(vlvc.StartVUs.Int64, vlvc.Stages)
	return fmt.Sprintf("Up to %d looping VUs for %s over %d stages%s",
		maxVUs, sumStagesDuration(vlvc.Stages), len(vlvc.Stages),
		vlvc.getBaseInfo(fmt.Sprintf("gracefulRampDown: %s", vlvc.GracefulRampDown.Duration)))
}

// GetMaxDuration returns the total stages duration plus the graceful stop.
func (vlvc RampingVUsConfig) GetMaxDuration() time.Duration {
	return sumStagesDuration(vlvc.Stages) + vlvc.GetGracefulStop()
}

// Validate makes sure all options are configured and valid
func (vlvc RampingVUsConfig) Validate() []error {
	errs := vlvc.BaseConfig.Validate()
	if vlvc.StartVUs.Int64 < 0 {
		errs = append(errs, errors.New("the number of start VUs shouldn't be negative"))
	}
	if vlvc.GracefulRampDown.Duration < 0 {
		errs = append(errs, errors.New("the gracefulRampDown can't be negative"))
	}
	return append(errs, validateStages(vlvc.Stages)...)
}

func (vlvc *RampingVUsConfig) setField(key string, value gjson.Result) (err error) {
	switch key {
	case "startVUs":
		vlvc.StartVUs, err = ParseNullInt(key, value)
	case "gracefulRampDown":
		vlvc.GracefulRampDown, err = ParseNullDuration(key, value)
		if !vlvc.GracefulRampDown.Valid {
			vlvc.GracefulRampDown = types.NewNullDuration(30*time.Second, false)
		}
	case "stages":
		vlvc.Stages, err = parseStages(value)
	default:
		err = vlvc.BaseConfig.setField(RampingVUsType, key, value)
	}
	return err
}

func (vlvc *RampingVUsConfig) result() ExecutorConfig { return *vlvc }

func parseStages(value gjson.Result) ([]Stage, error) {
	if !value.IsArray() {
		return nil, fmt.Errorf("stages must be an array, got %s", value.Type)
	}
	stages := make([]Stage, 0, len(value.Array()))
	for i, raw := range value.Array() {
		if !raw.IsObject() {
			return nil, fmt.Errorf("stage %d must be an object", i+1)
		}
		var (
			stage Stage
			err   error
		)
		raw.ForEach(func(key, value gjson.Result) bool {
			switch key.Str {
			case "duration":
				stage.Duration, err = ParseNullDuration(key.Str, value)
			case "target":
				stage.Target, err = ParseNullInt(key.Str, value)
			default:
				err = fmt.Errorf("unknown field %q in stage %d", key.Str, i+1)
			}
			return err == nil
		})
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

// vuTarget is the current VU target of a ramping scenario. Every change
// closes the channel returned by the previous get, waking up everyone who
// waits on it.
type vuTarget struct {
	mu      sync.Mutex
	value   int64
	changed chan struct{}
}

func newVUTarget(initial int64) *vuTarget {
	return &vuTarget{value: initial, changed: make(chan struct{})}
}

func (t *vuTarget) get() (int64, <-chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value, t.changed
}

func (t *vuTarget) set(v int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v == t.value {
		return
	}
	t.value = v
	close(t.changed)
	t.changed = make(chan struct{})
}

// RampingVUs handles the old "stages" execution configuration - it loops
// iterations with a variable number of VUs for the sum of all of the
// specified stages' duration.
type RampingVUs struct {
	*BaseExecutor
	config RampingVUsConfig

	target    *vuTarget
	activeVUs atomic.Int64
}

var _ Executor = &RampingVUs{}

func newRampingVUs(base *BaseExecutor, config RampingVUsConfig) *RampingVUs {
	return &RampingVUs{
		BaseExecutor: base,
		config:       config,
		target:       newVUTarget(config.StartVUs.Int64),
	}
}

// ActiveVUs returns the number of VUs the scenario currently runs.
func (vlv *RampingVUs) ActiveVUs() int64 {
	return vlv.activeVUs.Load()
}

// CurrentTarget returns the current VU target.
func (vlv *RampingVUs) CurrentTarget() int64 {
	v, _ := vlv.target.get()
	return v
}

// Run walks the stages, adjusting the VU target, while a monitor spawns VUs
// up to the target. VUs above the target exit after their current
// iteration; iterations still running gracefulRampDown after that get
// interrupted.
func (vlv *RampingVUs) Run(parentCtx context.Context) error {
	defer vlv.flushSuppressedErrors()

	duration := sumStagesDuration(vlv.config.Stages)
	gracefulStop := vlv.config.GetGracefulStop()
	maxVUs := getStagesUnscaledMaxTarget(vlv.config.StartVUs.Int64, vlv.config.Stages)

	vlv.logger.WithFields(logrus.Fields{
		"type": vlv.config.Type(), "startVUs": vlv.config.StartVUs.Int64, "maxVUs": maxVUs,
		"duration": duration, "numStages": len(vlv.config.Stages),
	}).Debug("Starting executor run...")

	g, gctx := errgroup.WithContext(parentCtx)
	startTime, maxDurationCtx, regDurationCtx, cancel := getDurationContexts(gctx, duration, gracefulStop)
	defer cancel()

	var controller sync.WaitGroup
	controller.Add(1)
	go func() {
		defer controller.Done()
		vlv.rampTargets(regDurationCtx, startTime)
	}()

	// ordinals are 1-based; the monitor reads exits until the regular
	// duration ends, so a VU exiting after that doesn't wait for it
	busy := make(map[int64]struct{})
	exited := make(chan int64)
	for regDurationCtx.Err() == nil {
		target, changed := vlv.target.get()
		for ordinal := int64(1); ordinal <= target && ordinal <= maxVUs; ordinal++ {
			if _, ok := busy[ordinal]; ok {
				continue
			}
			busy[ordinal] = struct{}{}
			g.Go(func() error {
				defer func() {
					select {
					case exited <- ordinal:
					case <-regDurationCtx.Done():
					}
				}()
				return vlv.runVU(regDurationCtx, maxDurationCtx, ordinal)
			})
		}

		select {
		case <-regDurationCtx.Done():
		case <-changed:
		case ordinal := <-exited:
			delete(busy, ordinal)
		}
	}

	controller.Wait()
	return waitOrAbandon(maxDurationCtx, g.Wait)
}

// rampTargets linearly interpolates the VU target inside every stage, with
// stage boundaries fixed relative to startTime so that ticks don't drift.
func (vlv *RampingVUs) rampTargets(ctx context.Context, startTime time.Time) {
	from := vlv.config.StartVUs.Int64
	stageStart := startTime
	for _, stage := range vlv.config.Stages {
		to := stage.Target.Int64
		stageDuration := stage.Duration.TimeDuration()
		stageEnd := stageStart.Add(stageDuration)

		if stageDuration > 0 && !vlv.rampStage(ctx, from, to, stageStart, stageEnd) {
			return
		}
		vlv.target.set(to)
		from, stageStart = to, stageEnd
	}
}

// rampStage returns false if ctx was done before the stage ended.
func (vlv *RampingVUs) rampStage(ctx context.Context, from, to int64, start, end time.Time) bool {
	ticker := time.NewTicker(rampTick)
	defer ticker.Stop()
	stageTimer := time.NewTimer(time.Until(end))
	defer stageTimer.Stop()

	stageDuration := float64(end.Sub(start))
	for {
		select {
		case <-ctx.Done():
			return false
		case <-stageTimer.C:
			return true
		case now := <-ticker.C:
			frac := float64(now.Sub(start)) / stageDuration
			if frac > 1 {
				frac = 1
			}
			vlv.target.set(from + int64(float64(to-from)*frac))
		}
	}
}

func (vlv *RampingVUs) runVU(regDurationCtx, maxDurationCtx context.Context, ordinal int64) error {
	vu, err := vlv.initVU(regDurationCtx)
	if err != nil {
		return ignoreCanceled(regDurationCtx, err)
	}
	vlv.activeVUs.Add(1)
	defer func() {
		vlv.activeVUs.Add(-1)
		vlv.releaseVU(vu)
	}()

	for iter := int64(0); regDurationCtx.Err() == nil; iter++ {
		if target, _ := vlv.target.get(); ordinal > target {
			return nil
		}
		ctx, cancel := vlv.rampDownContext(maxDurationCtx, ordinal)
		vlv.runIteration(ctx, vu, iter)
		cancel()
	}
	return nil
}

// rampDownContext returns the context for a single iteration of the VU with
// the given ordinal. It is cancelled gracefulRampDown after the target
// drops below the ordinal.
func (vlv *RampingVUs) rampDownContext(parent context.Context, ordinal int64) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	gracefulRampDown := vlv.config.GracefulRampDown.TimeDuration()
	go func() {
		for {
			target, changed := vlv.target.get()
			if target < ordinal {
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-changed:
			}
		}
		timer := time.NewTimer(gracefulRampDown)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			vlv.logger.WithField("ordinal", ordinal).Debug("Interrupting an iteration after the gracefulRampDown")
			cancel()
		}
	}()
	return ctx, cancel
}

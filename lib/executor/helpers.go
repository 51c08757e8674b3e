package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// interruptGrace is how long a join keeps waiting, after the max duration
// context is done, for interrupted iterations to return before abandoning them.
const interruptGrace = 250 * time.Millisecond

func sumStagesDuration(stages []Stage) (result time.Duration) {
	for _, s := range stages {
		result += s.Duration.TimeDuration()
	}
	return result
}

func getStagesUnscaledMaxTarget(unscaledStartValue int64, stages []Stage) int64 {
	max := unscaledStartValue
	for _, s := range stages {
		if s.Target.Int64 > max {
			max = s.Target.Int64
		}
	}
	return max
}

// A helper function to avoid code duplication
func validateStages(stages []Stage) []error {
	var errs []error
	if len(stages) == 0 {
		return append(errs, errors.New("at least one stage has to be specified"))
	}
	for i, s := range stages {
		stageNum := i + 1
		if !s.Duration.Valid {
			errs = append(errs, fmt.Errorf("stage %d doesn't have a duration", stageNum))
		} else if s.Duration.Duration < 0 {
			errs = append(errs, fmt.Errorf("the duration for stage %d shouldn't be negative", stageNum))
		}
		if !s.Target.Valid {
			errs = append(errs, fmt.Errorf("stage %d doesn't have a target", stageNum))
		} else if s.Target.Int64 < 0 {
			errs = append(errs, fmt.Errorf("the target for stage %d shouldn't be negative", stageNum))
		}
	}
	return errs
}

// getDurationContexts is used to create sub-contexts that can restrict an
// executor to only run for its allotted time.
//
// The usage of these contexts should be like this:
//   - As long as the regDurationCtx isn't done, new iterations can be started.
//     It is done when the regular duration is over, or when the parent is
//     done (the test was aborted or the scenario lane failed).
//   - The maxDurationCtx is done gracefulStop after the regDurationCtx, no
//     matter why the latter ended. In-flight iterations run with it and are
//     interrupted when it's done.
//   - maxDurationCancel ends both right away and releases their resources.
func getDurationContexts(parentCtx context.Context, regularDuration, gracefulStop time.Duration) (
	startTime time.Time, maxDurationCtx, regDurationCtx context.Context, maxDurationCancel func(),
) {
	startTime = time.Now()
	regDurationCtx, regCancel := context.WithDeadline(parentCtx, startTime.Add(regularDuration))
	maxDurationCtx, maxCancel := context.WithCancel(context.WithoutCancel(parentCtx))

	var (
		mu      sync.Mutex
		timer   *time.Timer
		stopped bool
	)
	stopAfterFunc := context.AfterFunc(regDurationCtx, func() {
		mu.Lock()
		defer mu.Unlock()
		if !stopped {
			timer = time.AfterFunc(gracefulStop, maxCancel)
		}
	})

	maxDurationCancel = func() {
		stopAfterFunc()
		mu.Lock()
		stopped = true
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		maxCancel()
		regCancel()
	}
	return startTime, maxDurationCtx, regDurationCtx, maxDurationCancel
}

// waitOrAbandon waits for wait to return. Once maxDurationCtx is done, the
// remaining in-flight work gets interruptGrace to notice and is then
// abandoned.
func waitOrAbandon(maxDurationCtx context.Context, wait func() error) error {
	done := make(chan error, 1)
	go func() { done <- wait() }()

	select {
	case err := <-done:
		return err
	case <-maxDurationCtx.Done():
	}

	timer := time.NewTimer(interruptGrace)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return nil
	}
}

// ignoreCanceled drops errors caused by ctx ending, which are expected when
// a VU is started while its scenario winds down.
func ignoreCanceled(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}


package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/vuflow/lib"
	"github.com/liuxd6825/vuflow/lib/types"
	"github.com/liuxd6825/vuflow/metrics"
)

func stage(d time.Duration, target int64) Stage {
	return Stage{Duration: types.NullDurationFrom(d), Target: null.IntFrom(target)}
}

func TestVUTarget(t *testing.T) {
	t.Parallel()
	target := newVUTarget(2)
	v, changed := target.get()
	assert.Equal(t, int64(2), v)

	target.set(2)
	select {
	case <-changed:
		t.Fatal("setting the same value shouldn't notify")
	default:
	}

	target.set(5)
	select {
	case <-changed:
	default:
		t.Fatal("a new value should notify")
	}
	v, _ = target.get()
	assert.Equal(t, int64(5), v)
}

func TestRampingVUsRampUpAndDown(t *testing.T) {
	t.Parallel()
	config := RampingVUsConfig{
		BaseConfig:       BaseConfig{GracefulStop: types.NullDurationFrom(0)},
		StartVUs:         null.IntFrom(0),
		GracefulRampDown: types.NullDurationFrom(0),
		Stages:           []Stage{stage(500*time.Millisecond, 10), stage(500*time.Millisecond, 0)},
	}
	ctx, executor, es, _ := setupExecutor(
		t, config,
		simpleRunner(func(ctx context.Context, _ *lib.ExecutionContext) error {
			select {
			case <-time.After(10 * time.Millisecond):
			case <-ctx.Done():
			}
			return nil
		}),
	)
	ramping := executor.(*RampingVUs)

	var (
		samples []int64
		targets []int64
		mu      sync.Mutex
		done    = make(chan struct{})
		wg      sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				mu.Lock()
				samples = append(samples, ramping.ActiveVUs())
				targets = append(targets, ramping.CurrentTarget())
				mu.Unlock()
			}
		}
	}()

	start := time.Now()
	require.NoError(t, executor.Run(ctx))
	close(done)
	wg.Wait()

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int64(0), ramping.ActiveVUs())
	assert.Equal(t, int64(0), es.ActiveVUs())
	assert.Greater(t, es.Metrics.CounterValue(metrics.Iterations), uint64(0))

	var peak int64
	for i, s := range samples {
		assert.LessOrEqual(t, s, int64(10))
		assert.LessOrEqual(t, targets[i], int64(10))
		if s > peak {
			peak = s
		}
	}
	assert.GreaterOrEqual(t, peak, int64(7))
	assert.LessOrEqual(t, es.PeakVUs(), int64(10))
}

func TestRampingVUsZeroDurationStageJumps(t *testing.T) {
	t.Parallel()
	config := RampingVUsConfig{
		BaseConfig:       BaseConfig{GracefulStop: types.NullDurationFrom(0)},
		StartVUs:         null.IntFrom(1),
		GracefulRampDown: types.NullDurationFrom(0),
		Stages:           []Stage{stage(0, 4), stage(300*time.Millisecond, 4)},
	}
	var vus sync.Map
	ctx, executor, _, _ := setupExecutor(
		t, config,
		simpleRunner(func(ctx context.Context, ec *lib.ExecutionContext) error {
			vus.Store(ec.VUID, true)
			select {
			case <-time.After(10 * time.Millisecond):
			case <-ctx.Done():
			}
			return nil
		}),
	)
	ramping := executor.(*RampingVUs)

	observed := make(chan int64, 1)
	go func() {
		time.Sleep(150 * time.Millisecond)
		observed <- ramping.ActiveVUs()
	}()
	require.NoError(t, executor.Run(ctx))
	assert.Equal(t, int64(4), <-observed)

	var count int
	vus.Range(func(_, _ interface{}) bool { count++; return true })
	assert.Equal(t, 4, count)
}

func TestRampingVUsGracefulRampDown(t *testing.T) {
	t.Parallel()
	config := RampingVUsConfig{
		BaseConfig:       BaseConfig{GracefulStop: types.NullDurationFrom(0)},
		StartVUs:         null.IntFrom(2),
		GracefulRampDown: types.NullDurationFrom(100 * time.Millisecond),
		Stages:           []Stage{stage(100*time.Millisecond, 2), stage(0, 1), stage(time.Second, 1)},
	}

	var (
		mu          sync.Mutex
		interrupted = map[uint64]time.Duration{}
		iterations  atomic.Int64
	)
	start := time.Now()
	ctx, executor, es, _ := setupExecutor(
		t, config,
		simpleRunner(func(ctx context.Context, ec *lib.ExecutionContext) error {
			iterations.Add(1)
			<-ctx.Done()
			mu.Lock()
			interrupted[ec.VUID] = time.Since(start)
			mu.Unlock()
			return ctx.Err()
		}),
	)
	require.NoError(t, executor.Run(ctx))

	assert.Equal(t, int64(2), iterations.Load())
	assert.Equal(t, uint64(2), es.Metrics.CounterValue(metrics.InterruptedIterations))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, interrupted, 2)
	var early, late int
	for _, at := range interrupted {
		switch {
		case at < 600*time.Millisecond:
			early++ // ramped down: stage end + gracefulRampDown
		case at >= time.Second:
			late++ // interrupted at the end of the stages
		}
	}
	assert.Equal(t, 1, early)
	assert.Equal(t, 1, late)
}

func TestRampingVUsAbort(t *testing.T) {
	t.Parallel()
	config := RampingVUsConfig{
		BaseConfig:       BaseConfig{GracefulStop: types.NullDurationFrom(time.Second)},
		StartVUs:         null.IntFrom(5),
		GracefulRampDown: types.NullDurationFrom(time.Second),
		Stages:           []Stage{stage(10*time.Second, 5)},
	}
	var iterations atomic.Int64
	ctx, executor, es, _ := setupExecutor(
		t, config,
		simpleRunner(func(_ context.Context, ec *lib.ExecutionContext) error {
			if iterations.Add(1) == 20 {
				ec.AbortTest("stop")
			}
			time.Sleep(time.Millisecond)
			return nil
		}),
	)
	start := time.Now()
	require.NoError(t, executor.Run(ctx))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, es.Abort.Aborted())
}

func TestRampingVUsMidRampTarget(t *testing.T) {
	t.Parallel()
	config := RampingVUsConfig{
		BaseConfig:       BaseConfig{GracefulStop: types.NullDurationFrom(0)},
		StartVUs:         null.IntFrom(0),
		GracefulRampDown: types.NullDurationFrom(0),
		Stages:           []Stage{stage(2*time.Second, 4)},
	}
	ctx, executor, _, _ := setupExecutor(
		t, config,
		simpleRunner(func(ctx context.Context, _ *lib.ExecutionContext) error {
			select {
			case <-time.After(10 * time.Millisecond):
			case <-ctx.Done():
			}
			return nil
		}),
	)
	ramping := executor.(*RampingVUs)

	type sample struct{ target, active int64 }
	observed := make(chan sample, 1)
	go func() {
		time.Sleep(time.Second)
		observed <- sample{ramping.CurrentTarget(), ramping.ActiveVUs()}
	}()
	require.NoError(t, executor.Run(ctx))

	mid := <-observed
	assert.Greater(t, mid.target, int64(0))
	assert.Less(t, mid.target, int64(4))
	assert.GreaterOrEqual(t, mid.active, int64(1))
	assert.LessOrEqual(t, mid.active, int64(3))
}

func TestRampingVUsHugeTargetStartsOnlyNeededVUs(t *testing.T) {
	t.Parallel()
	config := RampingVUsConfig{
		BaseConfig:       BaseConfig{GracefulStop: types.NullDurationFrom(0)},
		StartVUs:         null.IntFrom(2),
		GracefulRampDown: types.NullDurationFrom(0),
		Stages:           []Stage{stage(200*time.Millisecond, 2), stage(1000*time.Hour, 1_000_000_000)},
	}
	var vus sync.Map
	ctx, executor, es, _ := setupExecutor(
		t, config,
		simpleRunner(func(ctx context.Context, ec *lib.ExecutionContext) error {
			vus.Store(ec.VUID, true)
			select {
			case <-time.After(10 * time.Millisecond):
			case <-ctx.Done():
			}
			return nil
		}),
	)
	ctx, cancel := context.WithTimeout(ctx, 400*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, executor.Run(ctx))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int64(0), es.ActiveVUs())

	var count int
	vus.Range(func(_, _ interface{}) bool { count++; return true })
	assert.GreaterOrEqual(t, count, 2)
	assert.Less(t, count, 1000)
}

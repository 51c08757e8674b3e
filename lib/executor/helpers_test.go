package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func TestGetDurationContexts(t *testing.T) {
	t.Parallel()

	t.Run("regular end", func(t *testing.T) {
		t.Parallel()
		_, maxCtx, regCtx, cancel := getDurationContexts(context.Background(), 100*time.Millisecond, 200*time.Millisecond)
		defer cancel()

		assert.False(t, isDone(regCtx))
		assert.False(t, isDone(maxCtx))

		<-regCtx.Done()
		assert.ErrorIs(t, regCtx.Err(), context.DeadlineExceeded)
		assert.False(t, isDone(maxCtx))

		select {
		case <-maxCtx.Done():
		case <-time.After(time.Second):
			t.Fatal("max duration context wasn't done after the graceful stop")
		}
	})

	t.Run("parent cancelled", func(t *testing.T) {
		t.Parallel()
		parent, parentCancel := context.WithCancel(context.Background())
		start, maxCtx, regCtx, cancel := getDurationContexts(parent, time.Hour, 100*time.Millisecond)
		defer cancel()

		parentCancel()
		<-regCtx.Done()
		assert.False(t, isDone(maxCtx), "in-flight iterations get the graceful stop")
		<-maxCtx.Done()
		assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	})

	t.Run("cancel", func(t *testing.T) {
		t.Parallel()
		_, maxCtx, regCtx, cancel := getDurationContexts(context.Background(), time.Hour, time.Hour)
		cancel()
		assert.True(t, isDone(regCtx))
		assert.True(t, isDone(maxCtx))
	})

	t.Run("no graceful stop", func(t *testing.T) {
		t.Parallel()
		_, maxCtx, regCtx, cancel := getDurationContexts(context.Background(), 50*time.Millisecond, 0)
		defer cancel()
		<-regCtx.Done()
		select {
		case <-maxCtx.Done():
		case <-time.After(time.Second):
			t.Fatal("max duration context wasn't done")
		}
	})
}

func TestWaitOrAbandon(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	err := waitOrAbandon(context.Background(), func() error { return boom })
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	release := make(chan struct{})
	defer close(release)
	start := time.Now()
	require.NoError(t, waitOrAbandon(ctx, func() error {
		<-release
		return boom
	}))
	assert.GreaterOrEqual(t, time.Since(start), interruptGrace)
}

func TestStagesHelpers(t *testing.T) {
	t.Parallel()
	stages := []Stage{stage(time.Second, 5), stage(0, 20), stage(2*time.Second, 3)}
	assert.Equal(t, 3*time.Second, sumStagesDuration(stages))
	assert.Equal(t, int64(20), getStagesUnscaledMaxTarget(1, stages))
	assert.Equal(t, int64(30), getStagesUnscaledMaxTarget(30, stages))
	assert.Empty(t, validateStages(stages))
	assert.Len(t, validateStages(nil), 1)
	assert.Len(t, validateStages([]Stage{{}}), 2)
}

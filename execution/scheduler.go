package execution

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/liuxd6825/vuflow/lib"
	"github.com/liuxd6825/vuflow/lib/executor"
)

// A Scheduler is in charge of running the executors of all scenarios, each
// in its own lane, starting every one of them at its configured startTime.
type Scheduler struct {
	executors []executor.Executor // in declaration order
	state     *lib.ExecutionState
	logger    logrus.FieldLogger
}

// NewScheduler creates the executors for the given scenarios, without
// starting anything.
func NewScheduler(
	scenarios []executor.ScenarioConfig, es *lib.ExecutionState, logger logrus.FieldLogger,
) (*Scheduler, error) {
	executors := make([]executor.Executor, 0, len(scenarios))
	for _, sc := range scenarios {
		exec, err := executor.New(sc, es, logger.WithField("phase", "execution-scheduler"))
		if err != nil {
			return nil, err
		}
		executors = append(executors, exec)
	}

	return &Scheduler{
		executors: executors,
		state:     es,
		logger:    logger.WithField("phase", "execution-scheduler"),
	}, nil
}

// GetState returns the run-wide execution state.
func (s *Scheduler) GetState() *lib.ExecutionState {
	return s.state
}

// GetExecutors returns the executors, in scenario declaration order.
func (s *Scheduler) GetExecutors() []executor.Executor {
	return s.executors
}

// GetMaxDuration returns the longest a run can take, when every scenario
// uses up its graceful stop.
func (s *Scheduler) GetMaxDuration() time.Duration {
	var result time.Duration
	for _, exec := range s.executors {
		config := exec.GetConfig().Executor
		if end := config.GetStartTime() + config.GetMaxDuration(); end > result {
			result = end
		}
	}
	return result
}

// runExecutor waits out the configured startTime of the executor and then
// runs it. Nothing is run if ctx is done before the start time.
func (s *Scheduler) runExecutor(ctx context.Context, exec executor.Executor) error {
	config := exec.GetConfig()
	startTime := config.Executor.GetStartTime()
	logger := s.logger.WithFields(logrus.Fields{
		"scenario":  config.Name,
		"executor":  config.Executor.Type(),
		"startTime": startTime,
	})

	if startTime > 0 {
		logger.Debug("Waiting for executor start time...")
		timer := time.NewTimer(startTime)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			logger.Debug("The run ended before the executor started")
			return nil
		case <-timer.C:
		}
	}

	logger.Debug("Starting executor")
	err := exec.Run(ctx) // executors handle context cancellation themselves
	if err == nil {
		logger.Debug("Executor finished successfully")
	} else {
		logger.WithError(err).Debug("Executor error")
	}
	return err
}

// Run starts every executor in its own lane and waits for all of them. A
// failing lane doesn't stop the others; the first lane error is returned.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.WithField("executorsCount", len(s.executors)).Debug("Start of test run")

	var g errgroup.Group
	for _, exec := range s.executors {
		g.Go(func() error {
			return s.runExecutor(ctx, exec)
		})
	}
	err := g.Wait()

	s.logger.WithFields(logrus.Fields{
		"peakVUs": s.state.PeakVUs(),
	}).Debug("End of test run")
	return err
}

package sync

import (
	"context"
	"sync"
	"time"

	"github.com/tunesyncd/tunesyncd/internal/logger"
)

// pollGranularity bounds how long the scheduler and worker wait before
// re-checking the stop and reset signals.
const pollGranularity = time.Second

// scheduleState tracks the scheduler's next-run hint for the status
// endpoint.
type scheduleState struct {
	mu      sync.Mutex
	nextRun time.Time
}

func (s *scheduleState) set(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextRun = at
}

func (s *scheduleState) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextRun = time.Time{}
}

func (s *scheduleState) get() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.nextRun
}

// NextScheduledRun returns the next scheduled sync time. The zero time
// means a cycle is running right now or the scheduler is not started.
func (s *Service) NextScheduledRun() time.Time {
	return s.schedule.get()
}

// RunScheduler repeats sync cycles every interval until the context is
// cancelled. A timer-reset (raised by a successful manual sync) rearms the
// wait to a full interval from the moment the reset is observed.
func (s *Service) RunScheduler(ctx context.Context, interval time.Duration) {
	logger.Infof(ctx, "Scheduler started with interval %s", interval)

	for {
		s.schedule.clear()

		if !s.RunOnce(ctx, "scheduled") {
			logger.Debug(ctx, "Scheduled sync skipped, lock busy")
		}

		next := time.Now().Add(interval)
		s.schedule.set(next)

		if !s.waitUntil(ctx, next, interval) {
			logger.Info(ctx, "Scheduler stopped")

			return
		}
	}
}

// waitUntil sleeps until the deadline at pollGranularity steps, observing
// the stop signal and the timer-reset signal. It returns false on stop.
func (s *Service) waitUntil(ctx context.Context, deadline time.Time, interval time.Duration) bool {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}

		wait := remaining
		if wait > pollGranularity {
			wait = pollGranularity
		}

		select {
		case <-ctx.Done():
			return false
		case <-s.resetTimer:
			deadline = time.Now().Add(interval)
			s.schedule.set(deadline)

			logger.Debugf(ctx, "Scheduler timer reset, next run at %s", deadline.Format(time.RFC3339))
		case <-time.After(wait):
		}
	}
}

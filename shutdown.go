package genqueue

import (
	"context"
	"sync/atomic"
	"time"
)

// ShutdownMode selects how Shutdown treats in-flight and queued work.
type ShutdownMode int

const (
	// ShutdownDrain waits (up to the deadline) for queued and running
	// tasks to finish naturally, admitting no new work in the meantime.
	ShutdownDrain ShutdownMode = iota

	// ShutdownAbort cancels every in-flight and queued task immediately.
	ShutdownAbort
)

// ShutdownManager coordinates an orderly stop of PriorityQueueCore and
// RateLimiterCleanup, using PriorityQueueCore's own internal WaitGroup
// plus a deadline to bound how long it waits for in-flight work.
type ShutdownManager struct {
	queue       *PriorityQueueCore
	rateLimiter *RateLimiterCleanup
	analytics   AnalyticsSink
	clock       Clock
	logger      *Logger

	defaultDeadline time.Duration
	draining        atomic.Bool
}

// NewShutdownManager constructs a ShutdownManager for queue/rateLimiter,
// using defaultDeadline when Shutdown is called without an explicit one.
func NewShutdownManager(queue *PriorityQueueCore, rateLimiter *RateLimiterCleanup, analytics AnalyticsSink, clock Clock, logger *Logger, defaultDeadline time.Duration) *ShutdownManager {
	if analytics == nil {
		analytics = noopSink{}
	}
	if logger == nil {
		logger = NewDisabledLogger()
	}
	return &ShutdownManager{
		queue:           queue,
		rateLimiter:     rateLimiter,
		analytics:       analytics,
		clock:           clock,
		logger:          logger,
		defaultDeadline: defaultDeadline,
	}
}

// InProgress reports whether Shutdown has been called; it stays true
// after Shutdown returns. QueueManager.AddToQueue checks it to reject new
// work with ActionShutdownInProgress rather than the plain QueueFull path.
func (s *ShutdownManager) InProgress() bool {
	return s.draining.Load()
}

// drainPollInterval is how often Shutdown(drain) polls PriorityQueueCore
// for an idle queue (activeJobs == 0 and no buckets pending). There is no
// idle-notification channel on PriorityQueueCore, so this is a plain poll
// rather than a select.
const drainPollInterval = 10 * time.Millisecond

// Shutdown stops accepting new admissions, then either waits (drain) or
// cancels outstanding work (abort), bounded by deadline. A zero deadline
// uses the manager's configured default.
//
// mode = drain: waits until activeJobs == 0 and the queue is empty, or
// the deadline elapses, without forcibly cancelling anything in flight;
// only once waiting ends does it call queue.Stop() to join the dispatch
// loop (at that point a no-op cancellation if the queue drained
// naturally, or a forced abort of whatever is still running if the
// deadline won).
// mode = abort: cancels every in-flight and queued task immediately.
func (s *ShutdownManager) Shutdown(ctx context.Context, mode ShutdownMode, deadline time.Duration) error {
	if deadline <= 0 {
		deadline = s.defaultDeadline
	}

	s.draining.Store(true)
	s.analytics.Emit(Event{Action: ActionShutdownStarted, Timestamp: s.clock.EpochNow()})

	s.rateLimiter.Stop()

	if mode == ShutdownAbort {
		s.queue.Stop()
		s.analytics.Emit(Event{Action: ActionShutdownCompleted, Timestamp: s.clock.EpochNow()})
		return nil
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for {
		if s.queue.QueueSize() == 0 && s.queue.ActiveJobs() == 0 {
			s.queue.Stop()
			s.analytics.Emit(Event{Action: ActionShutdownCompleted, Timestamp: s.clock.EpochNow()})
			return nil
		}

		select {
		case <-ticker.C:
			continue
		case <-timer.C:
			s.logger.Err().Log("shutdown drain deadline elapsed, aborting remaining work")
			s.queue.Stop()
			s.analytics.Emit(Event{Action: ActionShutdownCompleted, Timestamp: s.clock.EpochNow()})
			return nil
		case <-ctx.Done():
			s.analytics.Emit(Event{Action: ActionShutdownCompleted, Timestamp: s.clock.EpochNow()})
			return ctx.Err()
		}
	}
}

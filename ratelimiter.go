package genqueue

import (
	"sync"
	"sync/atomic"
	"time"
)

// RateLimiterCleanup tracks per-userId activity and periodically sweeps
// entries idle longer than idleTTL. It does not itself enforce a rate —
// PriorityQueueCore/Validator consult Config's bounds for admission
// shaping — this component only bounds the memory the scheduler spends
// remembering per-user activity, via a ticker-driven sweep guarded by a
// CAS-based running flag.
type RateLimiterCleanup struct {
	clock         Clock
	idleTTL       time.Duration
	sweepInterval time.Duration
	analytics     AnalyticsSink

	running *int32
	stopped atomic.Bool

	mu         sync.Mutex
	lastActive map[string]int64 // userId -> MonotonicNow() ns
}

// NewRateLimiterCleanup constructs a RateLimiterCleanup sweeping every
// sweepInterval for entries idle longer than idleTTL, using clock for
// timestamps and analytics to surface restart-noop events.
func NewRateLimiterCleanup(clock Clock, idleTTL, sweepInterval time.Duration, analytics AnalyticsSink) *RateLimiterCleanup {
	if analytics == nil {
		analytics = noopSink{}
	}
	return &RateLimiterCleanup{
		clock:         clock,
		idleTTL:       idleTTL,
		sweepInterval: sweepInterval,
		analytics:     analytics,
		running:       new(int32),
		lastActive:    make(map[string]int64),
	}
}

// Touch records userId as active as of now, lazily starting the sweep
// worker if it is not already running. Touch after an explicit Stop is a
// no-op that still surfaces an ActionRateLimiterCleanupRestartNoop event,
// since silently discarding a restart attempt after shutdown would hide
// a caller bug (a component reusing a stopped cleanup worker).
func (r *RateLimiterCleanup) Touch(userID string) {
	if r.stopped.Load() {
		r.analytics.Emit(Event{
			Action:    ActionRateLimiterCleanupRestartNoop,
			Timestamp: r.clock.EpochNow(),
			UserID:    userID,
		})
		return
	}

	r.mu.Lock()
	r.lastActive[userID] = r.clock.MonotonicNow()
	r.mu.Unlock()

	if atomic.CompareAndSwapInt32(r.running, 0, 1) {
		go r.worker()
	}
}

// worker periodically sweeps idle entries, stopping itself once the
// tracked set is empty.
func (r *RateLimiterCleanup) worker() {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for range ticker.C {
		if r.stopped.Load() {
			atomic.StoreInt32(r.running, 0)
			return
		}
		if empty := r.sweep(); empty {
			atomic.StoreInt32(r.running, 0)
			return
		}
	}
}

// sweep removes every entry idle longer than idleTTL, reporting whether
// the tracked set is now empty.
func (r *RateLimiterCleanup) sweep() (empty bool) {
	threshold := r.clock.MonotonicNow() - r.idleTTL.Nanoseconds()

	r.mu.Lock()
	defer r.mu.Unlock()

	for userID, lastActive := range r.lastActive {
		if lastActive <= threshold {
			delete(r.lastActive, userID)
		}
	}
	return len(r.lastActive) == 0
}

// Count returns the number of userIds currently tracked as active.
func (r *RateLimiterCleanup) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lastActive)
}

// Stop permanently halts the cleanup worker; subsequent Touch calls emit
// ActionRateLimiterCleanupRestartNoop rather than silently restarting.
// Used by ShutdownManager during a coordinated shutdown.
func (r *RateLimiterCleanup) Stop() {
	r.stopped.Store(true)
}

// Restart starts the sweep worker if it is not currently running,
// returning true. If the worker is already running, it emits
// ActionRateLimiterCleanupRestartNoop and returns false instead of
// starting a second worker goroutine. Unlike Touch, Restart clears a
// prior Stop: it is the explicit operation for bringing the cleanup
// worker back up.
func (r *RateLimiterCleanup) Restart() bool {
	if !atomic.CompareAndSwapInt32(r.running, 0, 1) {
		r.analytics.Emit(Event{
			Action:    ActionRateLimiterCleanupRestartNoop,
			Timestamp: r.clock.EpochNow(),
		})
		return false
	}
	r.stopped.Store(false)
	go r.worker()
	return true
}

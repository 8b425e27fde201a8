package genqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterCleanup_TouchTracksActivity(t *testing.T) {
	clock := &fakeClock{}
	r := NewRateLimiterCleanup(clock, time.Hour, time.Hour, nil)
	defer r.Stop()

	r.Touch("user-1")
	assert.Equal(t, 1, r.Count())
}

func TestRateLimiterCleanup_SweepRemovesIdleEntries(t *testing.T) {
	clock := &fakeClock{}
	r := NewRateLimiterCleanup(clock, 10*time.Millisecond, 5*time.Millisecond, nil)
	defer r.Stop()

	r.Touch("user-1")
	assert.Equal(t, 1, r.Count())

	clock.advance(int64(time.Hour))

	assert.Eventually(t, func() bool {
		return r.Count() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestRateLimiterCleanup_WorkerStopsWhenEmpty(t *testing.T) {
	clock := &fakeClock{}
	r := NewRateLimiterCleanup(clock, 5*time.Millisecond, 5*time.Millisecond, nil)
	defer r.Stop()

	r.Touch("user-1")
	clock.advance(int64(time.Hour))

	assert.Eventually(t, func() bool {
		return r.Count() == 0
	}, time.Second, 5*time.Millisecond)

	// worker should have self-stopped; a fresh Touch restarts it cleanly.
	r.Touch("user-2")
	assert.Equal(t, 1, r.Count())
}

func TestRateLimiterCleanup_TouchAfterStopEmitsRestartNoop(t *testing.T) {
	clock := &fakeClock{}
	sink := newRecordingSink(4)
	r := NewRateLimiterCleanup(clock, time.Hour, time.Hour, sink)

	r.Stop()
	r.Touch("user-1")

	select {
	case ev := <-sink.events:
		assert.Equal(t, ActionRateLimiterCleanupRestartNoop, ev.Action)
		assert.Equal(t, "user-1", ev.UserID)
	case <-time.After(time.Second):
		t.Fatal("expected a restart-noop event")
	}

	assert.Equal(t, 0, r.Count())
}

func TestRateLimiterCleanup_Restart_StartsWorkerAfterStop(t *testing.T) {
	clock := &fakeClock{}
	r := NewRateLimiterCleanup(clock, time.Hour, 5*time.Millisecond, nil)
	defer r.Stop()

	// Stop before the worker has ever started: Touch would otherwise just
	// emit a noop, exactly what Restart is meant to supersede.
	r.Stop()

	assert.True(t, r.Restart())

	// Stop no longer applies post-Restart: a fresh Touch tracks activity
	// and the worker sweeps it once it goes idle.
	r.Touch("user-1")
	assert.Equal(t, 1, r.Count())

	clock.advance(int64(time.Hour))
	assert.Eventually(t, func() bool {
		return r.Count() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestRateLimiterCleanup_Restart_NoopWhileAlreadyRunning(t *testing.T) {
	clock := &fakeClock{}
	sink := newRecordingSink(4)
	r := NewRateLimiterCleanup(clock, time.Hour, time.Hour, sink)
	defer r.Stop()

	r.Touch("user-1") // lazily starts the worker

	assert.False(t, r.Restart())

	select {
	case ev := <-sink.events:
		assert.Equal(t, ActionRateLimiterCleanupRestartNoop, ev.Action)
	case <-time.After(time.Second):
		t.Fatal("expected a restart-noop event")
	}

	// still just the one worker/tracked entry; Restart did not spawn a
	// second sweep goroutine.
	assert.Equal(t, 1, r.Count())
}

package genqueue

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestQueue(cfg Config) (*PriorityQueueCore, *LifecycleRegistry, *recordingSink) {
	clock := NewSystemClock()
	sink := newRecordingSink(256)
	lifecycle := NewLifecycleRegistry(clock, sink)
	executor := NewTaskExecutor(lifecycle, sink, clock, NewDisabledLogger())
	retry := NewRetryPolicy(cfg.RetryBaseMs, cfg.RetryMaxMs)
	queue := NewPriorityQueueCore(cfg, clock, lifecycle, executor, retry, sink, NewDisabledLogger())
	return queue, lifecycle, sink
}

func waitForOutcome(t *testing.T, lifecycle *LifecycleRegistry, requestID string, timeout time.Duration) taskOutcome {
	t.Helper()
	ch := lifecycle.RegisterWaiter(requestID)
	select {
	case outcome := <-ch:
		return outcome
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for outcome of %s", requestID)
		return taskOutcome{}
	}
}

func TestPriorityQueueCore_AdmitAndComplete(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Concurrency = 1
	cfg.MaxQueueSize = 10
	queue, lifecycle, _ := newTestQueue(cfg)
	defer queue.Stop()

	task := Task{
		RequestID:  "req-1",
		MaxRetries: 0,
		TimeoutMs:  1000,
		GenerationFn: func(cancelCh <-chan struct{}) (any, error) {
			return "ok", nil
		},
	}

	assert.NoError(t, queue.Admit(task))
	outcome := waitForOutcome(t, lifecycle, "req-1", 2*time.Second)
	assert.NoError(t, outcome.err)
	assert.Equal(t, "ok", outcome.value)
}

func TestPriorityQueueCore_RejectsWhenFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Concurrency = 1
	cfg.MaxQueueSize = 1
	cfg.OnFullPolicy = RejectNew
	queue, lifecycle, _ := newTestQueue(cfg)
	defer queue.Stop()

	block := make(chan struct{})
	blocking := Task{
		RequestID: "req-blocking",
		TimeoutMs: 5000,
		GenerationFn: func(cancelCh <-chan struct{}) (any, error) {
			<-block
			return nil, nil
		},
	}
	assert.NoError(t, queue.Admit(blocking))

	// give the dispatch loop a moment to pick up the blocking task so the
	// queue itself (not the concurrency gate) is what's full next.
	assert.Eventually(t, func() bool { return queue.ActiveJobs() == 1 }, time.Second, time.Millisecond)

	filler := Task{RequestID: "req-filler", TimeoutMs: 1000, GenerationFn: noopGenFunc}
	assert.NoError(t, queue.Admit(filler))

	rejected := Task{RequestID: "req-rejected", TimeoutMs: 1000, GenerationFn: noopGenFunc}
	err := queue.Admit(rejected)
	var qe *QueueError
	assert.ErrorAs(t, err, &qe)
	assert.Equal(t, KindQueueFull, qe.Kind)

	close(block)
	waitForOutcome(t, lifecycle, "req-blocking", 2*time.Second)
	waitForOutcome(t, lifecycle, "req-filler", 2*time.Second)
}

func noopGenFunc(cancelCh <-chan struct{}) (any, error) {
	return nil, nil
}

func TestPriorityQueueCore_DropOldestEvictsLowestPriority(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Concurrency = 1
	cfg.MaxQueueSize = 1
	cfg.OnFullPolicy = DropOldest
	queue, lifecycle, _ := newTestQueue(cfg)
	defer queue.Stop()

	block := make(chan struct{})
	blocking := Task{
		RequestID: "req-blocking",
		TimeoutMs: 5000,
		GenerationFn: func(cancelCh <-chan struct{}) (any, error) {
			<-block
			return nil, nil
		},
	}
	assert.NoError(t, queue.Admit(blocking))
	assert.Eventually(t, func() bool { return queue.ActiveJobs() == 1 }, time.Second, time.Millisecond)

	low := Task{RequestID: "req-low", PriorityNormalized: -10, TimeoutMs: 1000, GenerationFn: noopGenFunc}
	assert.NoError(t, queue.Admit(low))

	high := Task{RequestID: "req-high", PriorityNormalized: 10, TimeoutMs: 1000, GenerationFn: noopGenFunc}
	assert.NoError(t, queue.Admit(high))

	outcome := waitForOutcome(t, lifecycle, "req-low", 2*time.Second)
	var qe *QueueError
	assert.ErrorAs(t, outcome.err, &qe)
	assert.Equal(t, KindCancelled, qe.Kind)

	close(block)
	waitForOutcome(t, lifecycle, "req-blocking", 2*time.Second)
	waitForOutcome(t, lifecycle, "req-high", 2*time.Second)
}

func TestPriorityQueueCore_DispatchesHighestPriorityFirst(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Concurrency = 1
	cfg.MaxQueueSize = 10
	queue, lifecycle, _ := newTestQueue(cfg)
	defer queue.Stop()

	block := make(chan struct{})
	blocking := Task{
		RequestID: "req-blocking",
		TimeoutMs: 5000,
		GenerationFn: func(cancelCh <-chan struct{}) (any, error) {
			<-block
			return nil, nil
		},
	}
	assert.NoError(t, queue.Admit(blocking))
	assert.Eventually(t, func() bool { return queue.ActiveJobs() == 1 }, time.Second, time.Millisecond)

	var order []string
	orderCh := make(chan string, 2)
	makeTask := func(id string, priority int) Task {
		return Task{
			RequestID:          id,
			PriorityNormalized: priority,
			TimeoutMs:          1000,
			GenerationFn: func(cancelCh <-chan struct{}) (any, error) {
				orderCh <- id
				return nil, nil
			},
		}
	}

	assert.NoError(t, queue.Admit(makeTask("req-low", -10)))
	assert.NoError(t, queue.Admit(makeTask("req-high", 10)))

	close(block)
	waitForOutcome(t, lifecycle, "req-blocking", 2*time.Second)

	for i := 0; i < 2; i++ {
		select {
		case id := <-orderCh:
			order = append(order, id)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for dispatch order")
		}
	}
	assert.Equal(t, []string{"req-high", "req-low"}, order)

	waitForOutcome(t, lifecycle, "req-high", 2*time.Second)
	waitForOutcome(t, lifecycle, "req-low", 2*time.Second)
}

func TestPriorityQueueCore_RetryReAdmitsAndEventuallySucceeds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Concurrency = 1
	cfg.MaxQueueSize = 10
	cfg.RetryBaseMs = 1
	cfg.RetryMaxMs = 5
	queue, lifecycle, sink := newTestQueue(cfg)
	defer queue.Stop()

	attempts := 0
	task := Task{
		RequestID:  "req-retry",
		MaxRetries: 2,
		TimeoutMs:  1000,
		GenerationFn: func(cancelCh <-chan struct{}) (any, error) {
			attempts++
			if attempts < 2 {
				return nil, errors.New("transient failure")
			}
			return "recovered", nil
		},
	}

	assert.NoError(t, queue.Admit(task))
	outcome := waitForOutcome(t, lifecycle, "req-retry", 3*time.Second)
	assert.NoError(t, outcome.err)
	assert.Equal(t, "recovered", outcome.value)
	assert.Equal(t, 2, attempts)

	sawRetryScheduled := false
	drain := true
	for drain {
		select {
		case ev := <-sink.events:
			if ev.Action == ActionTaskRetryScheduled {
				sawRetryScheduled = true
			}
		default:
			drain = false
		}
	}
	assert.True(t, sawRetryScheduled)
}

func TestPriorityQueueCore_RetryExhaustedReturnsRetryExhaustedKind(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Concurrency = 1
	cfg.MaxQueueSize = 10
	cfg.RetryBaseMs = 1
	cfg.RetryMaxMs = 5
	queue, lifecycle, _ := newTestQueue(cfg)
	defer queue.Stop()

	task := Task{
		RequestID:  "req-always-fails",
		MaxRetries: 1,
		TimeoutMs:  1000,
		GenerationFn: func(cancelCh <-chan struct{}) (any, error) {
			return nil, errors.New("permanent failure")
		},
	}

	assert.NoError(t, queue.Admit(task))
	outcome := waitForOutcome(t, lifecycle, "req-always-fails", 3*time.Second)
	var qe *QueueError
	assert.ErrorAs(t, outcome.err, &qe)
	assert.Equal(t, KindRetryExhausted, qe.Kind)
}

func TestPriorityQueueCore_UpdateConcurrencyAllowsMoreParallelism(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Concurrency = 1
	cfg.MaxQueueSize = 10
	queue, lifecycle, _ := newTestQueue(cfg)
	defer queue.Stop()

	block := make(chan struct{})
	blockingGen := func(cancelCh <-chan struct{}) (any, error) {
		<-block
		return nil, nil
	}

	assert.NoError(t, queue.Admit(Task{RequestID: "req-a", TimeoutMs: 5000, GenerationFn: blockingGen}))
	assert.Eventually(t, func() bool { return queue.ActiveJobs() == 1 }, time.Second, time.Millisecond)

	assert.NoError(t, queue.Admit(Task{RequestID: "req-b", TimeoutMs: 5000, GenerationFn: blockingGen}))
	// with concurrency 1, req-b should still be queued, not active.
	assert.Equal(t, 1, queue.QueueSize())

	queue.UpdateConcurrency(3)

	// a newly admitted task should now dispatch concurrently with req-b,
	// since the enlarged gate applies to fresh acquisitions even though
	// req-a/req-b's in-flight acquire may still be settling against the
	// old gate.
	assert.NoError(t, queue.Admit(Task{RequestID: "req-c", TimeoutMs: 5000, GenerationFn: blockingGen}))

	close(block)
	waitForOutcome(t, lifecycle, "req-a", 2*time.Second)
	waitForOutcome(t, lifecycle, "req-b", 2*time.Second)
	waitForOutcome(t, lifecycle, "req-c", 2*time.Second)
}

func TestPriorityQueueCore_Stop_StopsDispatching(t *testing.T) {
	cfg := DefaultConfig()
	queue, _, _ := newTestQueue(cfg)
	queue.Stop()

	// Stop must be idempotent in the face of a second call.
	assert.NotPanics(t, func() { queue.Stop() })
}

func TestPriorityQueueCore_CancelViaLifecycleStopsInFlightTask(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Concurrency = 1
	queue, lifecycle, _ := newTestQueue(cfg)
	defer queue.Stop()

	started := make(chan struct{})
	task := Task{
		RequestID: "req-cancel",
		TimeoutMs: 5000,
		GenerationFn: func(cancelCh <-chan struct{}) (any, error) {
			close(started)
			<-cancelCh
			return nil, errors.New("cancelled generation")
		},
	}

	assert.NoError(t, queue.Admit(task))
	<-started

	assert.True(t, lifecycle.Cancel("req-cancel"))

	outcome := waitForOutcome(t, lifecycle, "req-cancel", 2*time.Second)
	var qe *QueueError
	assert.ErrorAs(t, outcome.err, &qe)
	assert.Equal(t, KindCancelled, qe.Kind)
}

func TestPriorityQueueCore_CancelWhileStillQueuedNeverDispatches(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Concurrency = 1
	cfg.MaxQueueSize = 10
	queue, lifecycle, sink := newTestQueue(cfg)
	defer queue.Stop()

	block := make(chan struct{})
	blocking := Task{
		RequestID: "req-blocking",
		TimeoutMs: 5000,
		GenerationFn: func(cancelCh <-chan struct{}) (any, error) {
			<-block
			return nil, nil
		},
	}
	assert.NoError(t, queue.Admit(blocking))
	assert.Eventually(t, func() bool { return queue.ActiveJobs() == 1 }, time.Second, time.Millisecond)

	var dispatched atomic.Bool
	queued := Task{
		RequestID: "req-queued",
		TimeoutMs: 1000,
		GenerationFn: func(cancelCh <-chan struct{}) (any, error) {
			dispatched.Store(true)
			return nil, nil
		},
	}
	assert.NoError(t, queue.Admit(queued))

	state, _ := lifecycle.Get("req-queued").Snapshot()
	assert.Equal(t, StateQueued, state)

	assert.True(t, lifecycle.Cancel("req-queued"))

	outcome := waitForOutcome(t, lifecycle, "req-queued", 2*time.Second)
	var qe *QueueError
	assert.ErrorAs(t, outcome.err, &qe)
	assert.Equal(t, KindCancelled, qe.Kind)

	foundCancelled := false
	drain := true
	for drain {
		select {
		case ev := <-sink.events:
			if ev.Action == ActionTaskCancelled && ev.RequestID == "req-queued" {
				foundCancelled = true
			}
		default:
			drain = false
		}
	}
	assert.True(t, foundCancelled)

	close(block)
	waitForOutcome(t, lifecycle, "req-blocking", 2*time.Second)

	// the generation function must never have run: the dispatcher should
	// discard the record once it notices it was already Cancelled, rather
	// than invoke it and only then react to the cancellation.
	assert.False(t, dispatched.Load())
}

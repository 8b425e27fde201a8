package genqueue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// priorityHeap orders Tasks highest-priority-first, breaking ties by
// admission order (FIFO within a priority bucket). It implements
// container/heap.Interface as a max-heap-by-priority with a FIFO
// tiebreak.
type priorityHeap []Task

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	if h[i].PriorityNormalized != h[j].PriorityNormalized {
		return h[i].PriorityNormalized > h[j].PriorityNormalized
	}
	if h[i].EnqueuedAtMono != h[j].EnqueuedAtMono {
		return h[i].EnqueuedAtMono < h[j].EnqueuedAtMono
	}
	return h[i].admissionSeq < h[j].admissionSeq
}

func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *priorityHeap) Push(x any) { *h = append(*h, x.(Task)) }

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// PriorityQueueCore holds admitted, not-yet-running Tasks in a priority
// heap and dispatches them to TaskExecutor as concurrency slots free up.
// It owns no HTTP or transport surface: QueueManager is the only caller.
type PriorityQueueCore struct {
	cfg       Config
	clock     Clock
	lifecycle *LifecycleRegistry
	executor  *TaskExecutor
	retry     *RetryPolicy
	analytics AnalyticsSink
	logger    *Logger

	sem   *semaphore.Weighted
	semMu sync.RWMutex

	mu           sync.Mutex
	heap         priorityHeap
	admissionSeq uint64

	activeJobs   int
	activeJobsMu sync.Mutex

	wakeCh   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewPriorityQueueCore constructs a PriorityQueueCore and starts its
// dispatch goroutine. Stop must be called to release it.
func NewPriorityQueueCore(cfg Config, clock Clock, lifecycle *LifecycleRegistry, executor *TaskExecutor, retry *RetryPolicy, analytics AnalyticsSink, logger *Logger) *PriorityQueueCore {
	if analytics == nil {
		analytics = noopSink{}
	}
	if logger == nil {
		logger = NewDisabledLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &PriorityQueueCore{
		cfg:       cfg,
		clock:     clock,
		lifecycle: lifecycle,
		executor:  executor,
		retry:     retry,
		analytics: analytics,
		logger:    logger,
		sem:       semaphore.NewWeighted(int64(cfg.Concurrency)),
		wakeCh:    make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	q.wg.Add(1)
	go q.dispatchLoop()
	return q
}

// QueueSize returns the number of tasks currently waiting for a worker
// slot (not counting those already dispatched).
func (q *PriorityQueueCore) QueueSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// ActiveJobs returns the number of tasks currently executing.
func (q *PriorityQueueCore) ActiveJobs() int {
	q.activeJobsMu.Lock()
	defer q.activeJobsMu.Unlock()
	return q.activeJobs
}

// Concurrency returns the currently configured concurrency limit,
// reflecting the most recent UpdateConcurrency call if any.
func (q *PriorityQueueCore) Concurrency() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cfg.Concurrency
}

// UpdateConcurrency replaces the concurrency gate with one sized n. Jobs
// already holding a slot under the old gate are unaffected; the new
// limit applies to the next acquisitions.
func (q *PriorityQueueCore) UpdateConcurrency(n int) {
	q.mu.Lock()
	q.cfg.Concurrency = n
	q.mu.Unlock()

	q.semMu.Lock()
	q.sem = semaphore.NewWeighted(int64(n))
	q.semMu.Unlock()

	q.signalWake()
}

// currentSem returns the active concurrency gate, safe for concurrent
// use with UpdateConcurrency.
func (q *PriorityQueueCore) currentSem() *semaphore.Weighted {
	q.semMu.RLock()
	defer q.semMu.RUnlock()
	return q.sem
}

// Admit pushes task onto the heap, honouring MaxQueueSize and
// cfg.OnFullPolicy. Returns a *QueueError with Kind KindQueueFull if the
// task was rejected outright.
func (q *PriorityQueueCore) Admit(task Task) error {
	q.mu.Lock()

	if len(q.heap) >= q.cfg.MaxQueueSize {
		if q.cfg.OnFullPolicy == DropOldest && len(q.heap) > 0 {
			evicted := q.evictLowestLocked()
			q.mu.Unlock()
			if evicted.RequestID != "" {
				q.lifecycle.Cancel(evicted.RequestID)
			}
			q.mu.Lock()
		} else {
			q.mu.Unlock()
			q.analytics.Emit(Event{
				Action:         ActionTaskEnqueueRejected,
				Timestamp:      q.clock.EpochNow(),
				RequestID:      task.RequestID,
				UserID:         task.UserID,
				QueueSize:      q.QueueSize(),
				ConfigMaxQueue: q.cfg.MaxQueueSize,
			})
			return newQueueFull(task.RequestID)
		}
	}

	task.admissionSeq = q.admissionSeq
	q.admissionSeq++
	heap.Push(&q.heap, task)
	if q.lifecycle.Get(task.RequestID) == nil {
		// First admission: the retry re-admission path already holds a
		// record (transitioned back to Queued by runTask) and must not
		// create a second one.
		q.lifecycle.Record(task, StateQueued)
	}
	q.mu.Unlock()

	q.signalWake()
	return nil
}

// evictLowestLocked removes and returns the lowest-priority, oldest task
// in the heap. Caller must hold q.mu.
func (q *PriorityQueueCore) evictLowestLocked() Task {
	if len(q.heap) == 0 {
		return Task{}
	}
	worst := 0
	for i := 1; i < len(q.heap); i++ {
		w, c := q.heap[worst].PriorityNormalized, q.heap[i].PriorityNormalized
		if c < w || (c == w && q.heap.Less(i, worst)) {
			worst = i
		}
	}
	evicted := q.heap[worst]
	heap.Remove(&q.heap, worst)
	return evicted
}

// signalWake wakes the dispatch loop without blocking.
func (q *PriorityQueueCore) signalWake() {
	select {
	case q.wakeCh <- struct{}{}:
	default:
	}
}

// dispatchLoop pops the highest-priority task and, once a concurrency
// slot is free, hands it to TaskExecutor in its own goroutine. It never
// blocks popping on execution: the slot wait is what paces dispatch.
func (q *PriorityQueueCore) dispatchLoop() {
	defer q.wg.Done()
	for {
		sem := q.currentSem()
		if err := sem.Acquire(q.ctx, 1); err != nil {
			return
		}

		task, ok := q.nextTask()
		if !ok {
			sem.Release(1)
			return
		}

		q.activeJobsMu.Lock()
		q.activeJobs++
		q.activeJobsMu.Unlock()

		q.wg.Add(1)
		go q.runTask(task, sem)
	}
}

// nextTask blocks until a task is available or the queue is stopped.
func (q *PriorityQueueCore) nextTask() (Task, bool) {
	for {
		q.mu.Lock()
		if len(q.heap) > 0 {
			task := heap.Pop(&q.heap).(Task)
			q.mu.Unlock()
			return task, true
		}
		q.mu.Unlock()

		select {
		case <-q.stopCh:
			return Task{}, false
		case <-q.wakeCh:
		}
	}
}

// runTask executes task via TaskExecutor, applying RetryPolicy on
// failure/timeout and re-admitting the task if a retry is warranted.
// Always releases its concurrency slot when done.
func (q *PriorityQueueCore) runTask(task Task, sem *semaphore.Weighted) {
	defer q.wg.Done()
	defer sem.Release(1)
	defer func() {
		q.activeJobsMu.Lock()
		q.activeJobs--
		q.activeJobsMu.Unlock()
	}()

	if rec := q.lifecycle.Get(task.RequestID); rec != nil {
		if state, _ := rec.Snapshot(); state == StateCancelled {
			// Cancelled while still queued: LifecycleRegistry.Cancel already
			// delivered the outcome and emitted the analytics event. Discard
			// without ever invoking the generation function.
			return
		}
	}

	task.AttemptCount++
	value, err := q.executor.Execute(q.ctx, task)
	if err == nil {
		q.lifecycle.DeliverOutcome(task.RequestID, value, nil)
		return
	}

	qe, ok := err.(*QueueError)
	if !ok {
		q.lifecycle.DeliverOutcome(task.RequestID, nil, err)
		return
	}
	if qe.Kind != KindTaskFailed && qe.Kind != KindTimedOut {
		// Cancelled (or any other terminal kind): nothing more to do.
		q.lifecycle.DeliverOutcome(task.RequestID, nil, err)
		return
	}

	delay, retry := q.retry.ShouldRetry(qe, task.AttemptCount, task.MaxRetries)
	if !retry {
		if qe.Kind == KindTimedOut {
			q.analytics.Emit(Event{
				Action:     ActionTaskTimeoutExhausted,
				Timestamp:  q.clock.EpochNow(),
				RequestID:  task.RequestID,
				UserID:     task.UserID,
				RetryCount: task.AttemptCount,
			})
		}
		q.lifecycle.DeliverOutcome(task.RequestID, nil, &QueueError{
			Kind:         KindRetryExhausted,
			RequestID:    task.RequestID,
			DurationMono: qe.DurationMono,
			RetryCount:   task.AttemptCount,
			Cause:        qe,
		})
		return
	}

	if transErr := q.lifecycle.Transition(task.RequestID, StateQueued); transErr != nil {
		q.logger.Err().Str("requestId", task.RequestID).Err(transErr).Log("retry re-admission transition failed")
		return
	}

	q.analytics.Emit(Event{
		Action:       ActionTaskRetryScheduled,
		Timestamp:    q.clock.EpochNow(),
		RequestID:    task.RequestID,
		UserID:       task.UserID,
		RetryCount:   task.AttemptCount,
		RetryDelayMs: delay.Milliseconds(),
	})

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		select {
		case <-time.After(delay):
		case <-q.ctx.Done():
			q.lifecycle.Cancel(task.RequestID)
			return
		}
		task.EnqueuedAtMono = q.clock.MonotonicNow()
		_ = q.Admit(task)
	}()
}

// Stop halts the dispatch loop and waits for in-flight tasks to
// finish or abort. Tasks still waiting in the heap, or waiting out a
// retry backoff, are cancelled through LifecycleRegistry.Cancel. Used by
// ShutdownManager.
func (q *PriorityQueueCore) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
		q.cancel()
		q.mu.Lock()
		pending := q.heap
		q.heap = nil
		q.mu.Unlock()
		for _, task := range pending {
			q.lifecycle.Cancel(task.RequestID)
		}
	})
	q.wg.Wait()
}

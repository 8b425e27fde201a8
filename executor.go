package genqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// errExecGoexit and execPanicError mirror a promisified goroutine's abnormal
// exits (an fn that calls runtime.Goexit, or panics) as classified
// TaskFailed causes rather than letting the scheduler's own goroutine
// die silently.
var (
	errExecGoexit = errors.New("genqueue: generation function exited via runtime.Goexit")
)

// execPanicError wraps a panic value recovered from a TaskExecutor
// attempt goroutine.
type execPanicError struct {
	value any
}

func (e execPanicError) Error() string {
	return fmt.Sprintf("genqueue: generation function panicked: %v", e.value)
}

// TaskExecutor runs a single attempt of a Task's GenerationFunc under a
// local cancellation channel and a timeout, classifying the outcome and
// driving the corresponding LifecycleRegistry transition and analytics
// emission. It never retries internally: retry re-admission is
// PriorityQueueCore's responsibility, so a retried task frees its
// concurrency slot between attempts instead of blocking it on a sleep.
type TaskExecutor struct {
	lifecycle *LifecycleRegistry
	analytics AnalyticsSink
	clock     Clock
	logger    *Logger
}

// NewTaskExecutor constructs a TaskExecutor wired to lifecycle and
// analytics, using clock for attempt-duration measurement.
func NewTaskExecutor(lifecycle *LifecycleRegistry, analytics AnalyticsSink, clock Clock, logger *Logger) *TaskExecutor {
	if analytics == nil {
		analytics = noopSink{}
	}
	if logger == nil {
		logger = NewDisabledLogger()
	}
	return &TaskExecutor{lifecycle: lifecycle, analytics: analytics, clock: clock, logger: logger}
}

// attemptResult is the internal outcome of one raw fn invocation, before
// classification against the cancellation/timeout shape.
type attemptResult struct {
	value any
	err   error
}

// Execute runs task's GenerationFunc once, enforcing task.TimeoutMs and
// wiring LifecycleRegistry's cancel handle to a local cancellation
// channel. It transitions the record to Completed, Cancelled, or (for the
// attempt that will not be retried) Failed/TimedOut, unless the record
// already observed Cancelled concurrently, and emits the matching
// analytics event. A failed or timed-out attempt that will be retried is
// left Running for PriorityQueueCore to move back to Queued. The returned
// error, if any, is always a *QueueError.
func (e *TaskExecutor) Execute(parent context.Context, task Task) (any, error) {
	if err := e.lifecycle.Transition(task.RequestID, StateRunning); err != nil {
		return nil, err
	}

	startMono := e.clock.MonotonicNow()

	abortCtx, stopAbort := ctxFromAbortSignal(parent, task.AbortSignal)
	defer stopAbort()

	timeoutCtx, stopTimeout := context.WithTimeout(abortCtx, time.Duration(task.TimeoutMs)*time.Millisecond)
	defer stopTimeout()

	cancelCh := make(chan struct{})
	var closeOnce sync.Once
	closeCancelCh := func() { closeOnce.Do(func() { close(cancelCh) }) }
	e.lifecycle.RegisterCancelFunc(task.RequestID, closeCancelCh)

	resultCh := make(chan attemptResult, 1)
	go func() {
		completed := false
		defer func() {
			if r := recover(); r != nil {
				resultCh <- attemptResult{err: execPanicError{value: r}}
				return
			}
			if !completed {
				resultCh <- attemptResult{err: errExecGoexit}
			}
		}()
		value, err := task.GenerationFn(cancelCh)
		completed = true
		resultCh <- attemptResult{value: value, err: err}
	}()

	var outcome attemptResult
	select {
	case outcome = <-resultCh:
	case <-timeoutCtx.Done():
		closeCancelCh()
		outcome = <-resultCh
	}

	// cancelCh closes either because the deadline fired above, or because
	// a concurrent LifecycleRegistry.Cancel() call invoked it directly:
	// either way, a failed attempt that observed its own cancellation is
	// a cancellation, not a task failure, regardless of what fn's own
	// error happens to say. A successful attempt that raced the close to
	// a value is still honoured as a success.
	if outcome.err != nil {
		select {
		case <-cancelCh:
			outcome.err = e.classifyCancellation(timeoutCtx, outcome.err)
		default:
		}
	}

	durationMono := e.clock.MonotonicNow() - startMono
	return e.finalize(task, outcome, durationMono)
}

// classifyCancellation attaches the reason an observed cancelCh closure
// ended the attempt, so finalize can tell a caller-initiated abort from a
// timeout.
func (e *TaskExecutor) classifyCancellation(execCtx context.Context, err error) error {
	if isCancellation(err) {
		return err
	}
	if execCtx.Err() == context.DeadlineExceeded {
		return &QueueError{Kind: KindTimedOut}
	}
	// execCtx.Err() == context.Canceled, or cancelCh was closed directly
	// by LifecycleRegistry.Cancel() without touching execCtx at all:
	// either way the abort signal fired, not the timeout.
	return context.Canceled
}

// finalize classifies outcome, applies the lifecycle transition, emits
// the matching analytics event, and returns the (result, error) pair
// Execute promises its caller.
func (e *TaskExecutor) finalize(task Task, outcome attemptResult, durationMono int64) (any, error) {
	now := e.clock.EpochNow()

	if outcome.err == nil {
		if transErr := e.lifecycle.Transition(task.RequestID, StateCompleted); transErr != nil {
			e.logger.Err().Str("requestId", task.RequestID).Err(transErr).Log("lifecycle transition failed after completion")
		}
		e.analytics.Emit(Event{
			Action:       ActionTaskCompleted,
			Timestamp:    now,
			RequestID:    task.RequestID,
			UserID:       task.UserID,
			DurationMono: durationMono,
			RetryCount:   task.AttemptCount,
		})
		return outcome.value, nil
	}

	if isCancellation(outcome.err) {
		// The registry may already be Cancelled (Cancel() closed cancelCh and
		// emitted ActionTaskCancelled itself); a terminal record rejects the
		// duplicate transition with *InvalidStateError, and only a transition
		// made here emits, so the task gets a single cancellation event.
		if e.lifecycle.Transition(task.RequestID, StateCancelled) == nil {
			e.analytics.Emit(Event{
				Action:       ActionTaskCancelled,
				Timestamp:    now,
				RequestID:    task.RequestID,
				UserID:       task.UserID,
				DurationMono: durationMono,
				RetryCount:   task.AttemptCount,
			})
		}
		return nil, &QueueError{Kind: KindCancelled, RequestID: task.RequestID, DurationMono: durationMono, RetryCount: task.AttemptCount}
	}

	// An attempt dispatched by PriorityQueueCore (AttemptCount >= 1) with
	// retries left, by the same attempt <= maxRetries rule RetryPolicy
	// applies, stays Running so runTask can move it back to Queued.
	retryPending := task.AttemptCount > 0 && task.AttemptCount <= task.MaxRetries

	var qe *QueueError
	if errors.As(outcome.err, &qe) && qe.Kind == KindTimedOut {
		if !retryPending {
			if transErr := e.lifecycle.Transition(task.RequestID, StateTimedOut); transErr != nil {
				e.logger.Err().Str("requestId", task.RequestID).Err(transErr).Log("lifecycle transition failed after timeout")
			}
		}
		e.analytics.Emit(Event{
			Action:       ActionTaskTimeout,
			Timestamp:    now,
			RequestID:    task.RequestID,
			UserID:       task.UserID,
			DurationMono: durationMono,
			RetryCount:   task.AttemptCount,
		})
		return nil, &QueueError{Kind: KindTimedOut, RequestID: task.RequestID, DurationMono: durationMono, RetryCount: task.AttemptCount}
	}

	if !retryPending {
		if transErr := e.lifecycle.Transition(task.RequestID, StateFailed); transErr != nil {
			e.logger.Err().Str("requestId", task.RequestID).Err(transErr).Log("lifecycle transition failed after failure")
		}
	}
	e.analytics.Emit(Event{
		Action:       ActionTaskFailed,
		Timestamp:    now,
		RequestID:    task.RequestID,
		UserID:       task.UserID,
		DurationMono: durationMono,
		RetryCount:   task.AttemptCount,
	})
	return nil, &QueueError{Kind: KindTaskFailed, RequestID: task.RequestID, DurationMono: durationMono, RetryCount: task.AttemptCount, Cause: outcome.err}
}

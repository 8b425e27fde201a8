package genqueue

import (
	"context"
)

// QueueManager is the single entry point embedders use: construct one
// with New, then call AddToQueue per generation request. Every other
// exported type in this package exists to be assembled by
// InitializationManager and driven through this façade.
type QueueManager struct {
	b *bundle
}

// New constructs a QueueManager from opts, running the fixed
// construction order InitializationManager enforces. Returns
// *InitializationError (or a Config validation *QueueError) if
// construction fails at any step.
func New(opts ...Option) (*QueueManager, error) {
	resolved := resolveOptions(opts)
	b, err := NewInitializationManager().Build(resolved)
	if err != nil {
		return nil, err
	}
	return &QueueManager{b: b}, nil
}

// AddToQueue validates raw, admits the resulting task, and blocks until
// it reaches a terminal state, returning fn's result or a classified
// *QueueError. Cancellation observed before admission returns
// KindEnqueueCancelled immediately, without ever touching the queue or
// LifecycleRegistry.
func (m *QueueManager) AddToQueue(ctx context.Context, fn GenerationFunc, raw RequestOptions) (any, error) {
	opts := normalizeOptions(raw)

	validated, err := m.b.validator.Validate(opts)
	if err != nil {
		return nil, err
	}

	if validated.AbortSignal != nil && validated.AbortSignal.Aborted() {
		m.b.analytics.Emit(Event{
			Action:    ActionTaskCancelledBeforeEnqueue,
			Timestamp: m.b.clock.EpochNow(),
			RequestID: validated.RequestID,
			UserID:    validated.UserID,
		})
		return nil, newEnqueueCancelled(validated.RequestID)
	}

	if m.b.shutdown.InProgress() {
		m.b.analytics.Emit(Event{
			Action:    ActionShutdownInProgress,
			Timestamp: m.b.clock.EpochNow(),
			RequestID: validated.RequestID,
			UserID:    validated.UserID,
		})
		return nil, newQueueFull(validated.RequestID)
	}

	if validated.UserID != "" {
		m.b.rateLimiter.Touch(validated.UserID)
	}

	task := Task{
		RequestID:          validated.RequestID,
		UserID:             validated.UserID,
		PriorityNormalized: validated.Priority.(int),
		EnqueuedAtMono:     m.b.clock.MonotonicNow(),
		EnqueuedAtEpoch:    m.b.clock.EpochNow(),
		TimeoutMs:          validated.TimeoutMs,
		MaxRetries:         validated.MaxRetries,
		GenerationFn:       fn,
		AbortSignal:        validated.AbortSignal,
	}

	if err := m.b.queue.Admit(task); err != nil {
		return nil, err
	}

	return m.await(ctx, validated.RequestID)
}

// await blocks until requestID's task reaches its one true terminal
// outcome (after retries, if any, are exhausted), bridging
// PriorityQueueCore's asynchronous dispatch back to AddToQueue's
// synchronous call shape.
func (m *QueueManager) await(ctx context.Context, requestID string) (any, error) {
	ch := m.b.lifecycle.RegisterWaiter(requestID)
	select {
	case outcome := <-ch:
		return outcome.value, outcome.err
	case <-ctx.Done():
		m.b.lifecycle.Cancel(requestID)
		return nil, ctx.Err()
	}
}

// CancelRequest cancels requestID's in-flight or queued task. Returns
// false if the task is already terminal or unknown.
func (m *QueueManager) CancelRequest(requestID string) bool {
	return m.b.lifecycle.Cancel(requestID)
}

// CancelAll cancels every non-terminal task belonging to userID. Returns
// the number of tasks actually cancelled.
func (m *QueueManager) CancelAll(userID string) int {
	ids := m.b.lifecycle.ActiveRequestIDsForUser(userID)
	n := 0
	for _, id := range ids {
		if m.b.lifecycle.Cancel(id) {
			n++
		}
	}
	return n
}

// UpdateConcurrency changes the number of concurrently executing tasks
// allowed.
func (m *QueueManager) UpdateConcurrency(n int) error {
	if err := m.b.validator.ValidateConcurrency(n); err != nil {
		return err
	}
	m.b.queue.UpdateConcurrency(n)
	return nil
}

// GetMetrics returns a point-in-time snapshot of queue depth, active
// job count, concurrency, and configured bounds.
func (m *QueueManager) GetMetrics() Metrics {
	return Metrics{
		QueueSize:        m.b.queue.QueueSize(),
		ActiveJobs:       m.b.queue.ActiveJobs(),
		Concurrency:      m.b.queue.Concurrency(),
		ConfigMaxQueue:   m.b.config.MaxQueueSize,
		AnalyticsDropped: m.b.analytics.DroppedCount(),
	}
}

// Shutdown stops accepting new work and either drains or aborts
// outstanding tasks, per mode, bounded by the manager's configured
// shutdown deadline.
func (m *QueueManager) Shutdown(ctx context.Context, mode ShutdownMode) error {
	return m.b.shutdown.Shutdown(ctx, mode, 0)
}

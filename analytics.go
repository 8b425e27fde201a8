package genqueue

import "sync/atomic"

// Action is the closed set of analytics event kinds the scheduler emits.
type Action string

const (
	ActionTaskCancelledBeforeEnqueue    Action = "task_cancelled_before_enqueue"
	ActionTaskEnqueueRejected           Action = "task_enqueue_rejected"
	ActionShutdownInProgress            Action = "shutdown_in_progress"
	ActionTaskCompleted                 Action = "task_completed"
	ActionTaskFailed                    Action = "task_failed"
	ActionTaskCancelled                 Action = "task_cancelled"
	ActionTaskTimeout                   Action = "task_timeout"
	ActionTaskTimeoutExhausted          Action = "task_timeout_exhausted"
	ActionTaskRetryScheduled            Action = "task_retry_scheduled"
	ActionRateLimiterCleanupRestartNoop Action = "rate_limiter_cleanup_restart_noop"
	ActionAnalyticsDrop                 Action = "analytics_drop"
	ActionShutdownStarted               Action = "shutdown_started"
	ActionShutdownCompleted             Action = "shutdown_completed"
)

// Event is a structured analytics emission. Every event carries Action and
// Timestamp (epoch); per-task events carry RequestID, and cancellation
// events additionally carry UserID.
type Event struct {
	Action    Action
	Timestamp int64 // epoch ms

	RequestID string
	UserID    string

	PriorityNormalized int
	QueueSize          int
	ActiveJobs         int
	Concurrency        int
	ConfigMaxQueue     int

	DurationMono int64 // ns, for terminal/retry events
	RetryCount   int
	RetryDelayMs int64

	// DropCount is populated only on ActionAnalyticsDrop, the running
	// count of events dropped since the sink was constructed.
	DropCount int64
}

// AnalyticsSink is the write-only telemetry destination.
// Implementations must be non-blocking from the caller's perspective:
// Emit must never block the scheduler's dispatch or executor goroutines.
type AnalyticsSink interface {
	Emit(event Event)
}

// boundedSink is the default AnalyticsSink: a bounded buffered channel
// drained by a background goroutine, with a drop counter once the buffer
// is full. Ordering of delivery is best-effort, not guaranteed.
type boundedSink struct {
	ch         chan Event
	dropped    atomic.Int64
	downstream AnalyticsSink
	done       chan struct{}
}

// NewBoundedAnalyticsSink wraps downstream in a bounded, non-blocking
// buffer of the given capacity. Every Emit call that would block because
// the buffer is full instead increments the drop counter and emits a
// synthetic ActionAnalyticsDrop event on a best-effort basis (itself
// subject to the same non-blocking discipline, so a drop storm cannot
// recursively back up the sink).
func NewBoundedAnalyticsSink(downstream AnalyticsSink, capacity int) *boundedSink {
	if capacity <= 0 {
		capacity = 1
	}
	s := &boundedSink{
		ch:         make(chan Event, capacity),
		downstream: downstream,
		done:       make(chan struct{}),
	}
	go s.drain()
	return s
}

func (s *boundedSink) drain() {
	defer close(s.done)
	for event := range s.ch {
		s.downstream.Emit(event)
	}
}

// Emit implements AnalyticsSink. Never blocks: a full buffer increments
// the drop counter instead of waiting for space.
func (s *boundedSink) Emit(event Event) {
	select {
	case s.ch <- event:
	default:
		s.dropped.Add(1)
		select {
		case s.ch <- Event{Action: ActionAnalyticsDrop, Timestamp: event.Timestamp, DropCount: s.dropped.Load()}:
		default:
		}
	}
}

// DroppedCount returns the running total of events dropped due to
// back-pressure, surfaced on GetMetrics().
func (s *boundedSink) DroppedCount() int64 {
	return s.dropped.Load()
}

// Close stops accepting new events and waits for the drain goroutine to
// flush whatever is already buffered.
func (s *boundedSink) Close() {
	close(s.ch)
	<-s.done
}

// noopSink discards every event. Used by component constructors
// (TaskExecutor, LifecycleRegistry, PriorityQueueCore, ...) when handed a
// nil AnalyticsSink, so the scheduler never nil-panics on Emit.
type noopSink struct{}

func (noopSink) Emit(Event) {}

// loggingSink is a default, non-discarding AnalyticsSink that logs every
// event via the manager's structured logger. It is typically wrapped in
// a boundedSink.
type loggingSink struct {
	logger *Logger
}

// NewLoggingAnalyticsSink returns an AnalyticsSink that logs every event
// at Info level through logger.
func NewLoggingAnalyticsSink(logger *Logger) AnalyticsSink {
	return &loggingSink{logger: logger}
}

func (s *loggingSink) Emit(event Event) {
	s.logger.Info().
		Str("action", string(event.Action)).
		Str("requestId", event.RequestID).
		Str("userId", event.UserID).
		Log("analytics event")
}

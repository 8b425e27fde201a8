package genqueue

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed taxonomy of classified outcomes a caller, or the
// scheduler's own internals, can observe.
type ErrorKind string

const (
	// KindInvalidArgument marks a validation failure. Surfaced to the
	// caller; never retried.
	KindInvalidArgument ErrorKind = "InvalidArgument"

	// KindQueueFull marks admission refused by maxQueueSize. Surfaced;
	// never retried.
	KindQueueFull ErrorKind = "QueueFull"

	// KindEnqueueCancelled marks a pre-admission abort. Carries the
	// ENQUEUE_CANCEL sentinel. Surfaced; never retried.
	KindEnqueueCancelled ErrorKind = "EnqueueCancelled"

	// KindCancelled marks cooperative cancellation observed after
	// admission. Surfaced; never retried.
	KindCancelled ErrorKind = "Cancelled"

	// KindTimedOut marks an internal timeout. Surfaced only after retries
	// under RetryExhausted; retried according to policy until then.
	KindTimedOut ErrorKind = "TimedOut"

	// KindTaskFailed marks fn returning a non-cancellation error. Retried
	// according to policy; surfaced only after retries exhausted.
	KindTaskFailed ErrorKind = "TaskFailed"

	// KindRetryExhausted wraps the last TaskFailed/TimedOut for the caller.
	KindRetryExhausted ErrorKind = "RetryExhausted"

	// KindInitializationError is fatal at construction.
	KindInitializationError ErrorKind = "InitializationError"

	// KindInvalidState marks an internal invariant violation. Fatal,
	// logged, then re-raised.
	KindInvalidState ErrorKind = "InvalidState"
)

// enqueueCancelSentinel marks an error as a pre-admission cancellation,
// letting CancellationDetector recognise it without string matching.
const enqueueCancelSentinel = "ENQUEUE_CANCEL"

// QueueError is the error type returned to callers and carried through
// retry/terminal-classification decisions. The CancellationDetector does
// not read Kind: it recognises a pre-admission cancellation by its
// sentinel, and treats any other QueueError like any error (name, code,
// flag, then message fragments).
type QueueError struct {
	Kind ErrorKind

	// RequestID is the task this error pertains to, if any.
	RequestID string

	// DurationMono is the monotonic duration of the attempt that produced
	// this error, in nanoseconds. Zero if not applicable (e.g.
	// InvalidArgument before admission).
	DurationMono int64

	// RetryCount is the number of attempts already made, including the one
	// that produced this error.
	RetryCount int

	// Field is the offending option field, populated only for
	// KindInvalidArgument.
	Field string

	// Cause is the underlying error, if this QueueError wraps one (e.g.
	// the last TaskFailed cause of a RetryExhausted, or fn's own error).
	Cause error

	// sentinel carries the ENQUEUE_CANCEL tag for KindEnqueueCancelled
	// errors, so CancellationDetector recognises it without inspecting
	// Kind (which is scheduler-internal) or the message.
	sentinel string
}

// Error implements the error interface.
func (e *QueueError) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("genqueue: %s: invalid field %q", e.Kind, e.Field)
	case e.Cause != nil:
		return fmt.Sprintf("genqueue: %s: %s: %v", e.Kind, e.RequestID, e.Cause)
	default:
		return fmt.Sprintf("genqueue: %s: %s", e.Kind, e.RequestID)
	}
}

// Unwrap returns the wrapped cause, if any, enabling errors.Is/errors.As
// through the cause chain.
func (e *QueueError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *QueueError with the same Kind, matching
// on classification rather than identity, message, or cause.
func (e *QueueError) Is(target error) bool {
	var other *QueueError
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// isEnqueueCancelSentinel reports whether err carries the pre-admission
// cancellation sentinel, regardless of the error's Kind or message text.
func isEnqueueCancelSentinel(err error) bool {
	var qe *QueueError
	if errors.As(err, &qe) {
		return qe.sentinel == enqueueCancelSentinel
	}
	return false
}

// newInvalidArgument constructs a KindInvalidArgument error for field.
func newInvalidArgument(field string) *QueueError {
	return &QueueError{Kind: KindInvalidArgument, Field: field}
}

// newEnqueueCancelled constructs the pre-admission cancellation error
// carrying the ENQUEUE_CANCEL sentinel tag.
func newEnqueueCancelled(requestID string) *QueueError {
	return &QueueError{Kind: KindEnqueueCancelled, RequestID: requestID, sentinel: enqueueCancelSentinel}
}

// newQueueFull constructs a KindQueueFull error.
func newQueueFull(requestID string) *QueueError {
	return &QueueError{Kind: KindQueueFull, RequestID: requestID}
}

// InitializationError is returned by InitializationManager when a required
// component fails to construct. It is always fatal: callers must not
// proceed with a partially constructed bundle.
type InitializationError struct {
	Component string
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("genqueue: initialization failed to return %s", e.Component)
}

// InvalidStateError marks an internal invariant violation, e.g. an illegal
// lifecycle transition. It is always a programming-level bug, not a
// caller-facing outcome.
type InvalidStateError struct {
	RequestID string
	From, To  TaskState
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("genqueue: invalid state transition for %s: %s -> %s", e.RequestID, e.From, e.To)
}

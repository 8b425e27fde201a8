package genqueue

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy decides whether a failed attempt is retried and how long to
// wait before the next one. Cancellation is never retried, regardless of
// MaxRetries: a cooperative cancel is a caller decision, not a transient
// failure.
type RetryPolicy struct {
	baseMs int64
	maxMs  int64
}

// NewRetryPolicy constructs a RetryPolicy using baseMs/maxMs as the
// bounded exponential-backoff interval.
func NewRetryPolicy(baseMs, maxMs int64) *RetryPolicy {
	return &RetryPolicy{baseMs: baseMs, maxMs: maxMs}
}

// ShouldRetry reports whether attempt (1-indexed, the attempt that just
// failed with err) should be retried given maxRetries, and if so the delay
// to wait before re-admission. Cancellation errors are never retried.
func (p *RetryPolicy) ShouldRetry(err error, attempt, maxRetries int) (delay time.Duration, retry bool) {
	if isCancellation(err) {
		return 0, false
	}
	if attempt > maxRetries {
		return 0, false
	}
	return p.delayForAttempt(attempt), true
}

// delayForAttempt returns the exponential-backoff delay for the given
// attempt number, built from backoff.ExponentialBackOff's curve but
// evaluated statelessly so concurrent tasks never share one
// ExponentialBackOff's internal counter.
func (p *RetryPolicy) delayForAttempt(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(p.baseMs) * time.Millisecond
	b.MaxInterval = time.Duration(p.maxMs) * time.Millisecond
	b.MaxElapsedTime = 0 // bounded by maxRetries, not elapsed wall time
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		next := b.NextBackOff()
		if next == backoff.Stop {
			return time.Duration(p.maxMs) * time.Millisecond
		}
		delay = next
	}
	// backoff caps the interval at MaxInterval but jitters around it, so the
	// randomised value is clamped to maxMs as well.
	maxDelay := time.Duration(p.maxMs) * time.Millisecond
	if delay == backoff.Stop || delay > maxDelay {
		return maxDelay
	}
	return delay
}

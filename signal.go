package genqueue

// RequestOptions is the caller-facing surface of AddToQueue: callers may
// set either Signal or AbortSignal, and may set the two EpochNow/MonotonicNow
// fields, which have no effect on scheduling or timestamps.
// All four of these are reconciled/stripped by normalizeOptions before
// the request reaches the Validator; PriorityQueueCore never observes a
// RequestOptions value, only the canonicalised Options (task.go).
type RequestOptions struct {
	RequestID  string
	UserID     string
	Priority   any
	TimeoutMs  int64
	MaxRetries int

	// Signal and AbortSignal are aliases for the same concept; see
	// normalizeOptions for the merge rule.
	Signal      AbortSignal
	AbortSignal AbortSignal

	// EpochNow and MonotonicNow are internal-only keys: normalizeOptions
	// strips them, and the canonicalised Options type has no field for
	// them, so they can never leak into PriorityQueueCore. They do not
	// override the manager's injected Clock, which every call uses.
	EpochNow     func() int64
	MonotonicNow func() int64
}

// normalizeOptions is the single writer of the canonical AbortSignal
// field. Post-condition: the returned Options carries exactly one signal
// (AbortSignal), and nothing resembling EpochNow/MonotonicNow.
//
// Merge rule: if both Signal and AbortSignal are set, AbortSignal wins
// and Signal is dropped; if only one is set, it becomes the canonical
// field.
func normalizeOptions(raw RequestOptions) Options {
	sig := raw.AbortSignal
	if sig == nil {
		sig = raw.Signal
	}

	return Options{
		RequestID:   raw.RequestID,
		UserID:      raw.UserID,
		Priority:    raw.Priority,
		TimeoutMs:   raw.TimeoutMs,
		MaxRetries:  raw.MaxRetries,
		AbortSignal: sig,
	}
}

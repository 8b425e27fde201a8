package genqueue

// FullPolicy selects what happens on admission when the queue is at
// capacity. RejectNew (the default) refuses admission outright and the
// caller observes QueueFull. DropOldest instead evicts room for the new
// arrival; it is never active unless explicitly configured, so the
// default admission-boundary behavior is unaffected by its existence.
type FullPolicy int

const (
	// RejectNew refuses admission and fails the caller with QueueFull.
	RejectNew FullPolicy = iota

	// DropOldest evicts the oldest task in the lowest non-empty priority
	// bucket to make room for the incoming admission, rather than
	// rejecting it.
	DropOldest
)

// Config is the injected configuration bundle governing admission
// bounds, timeouts, retries, and the ambient worker intervals.
type Config struct {
	Concurrency  int
	MaxQueueSize int

	DefaultTimeoutMs int64
	MaxTimeoutMs     int64

	DefaultMaxRetries int
	RetryBaseMs       int64
	RetryMaxMs        int64

	RateLimiterIdleTtlMs       int64
	RateLimiterSweepIntervalMs int64

	LifecycleTerminalGraceMs int64

	ShutdownDefaultDeadlineMs int64

	AnalyticsBufferCapacity int

	// PriorityTags maps caller-supplied priority tags to the normalised
	// integer scale. Defaults to {"high":10,"normal":0,"low":-10};
	// overridable per caller.
	PriorityTags map[string]int

	// OnFullPolicy selects admission behavior at capacity. Defaults to
	// RejectNew.
	OnFullPolicy FullPolicy
}

// DefaultConfig returns a Config with every field set to a sensible
// default. Callers typically start from this and override only what
// they need.
func DefaultConfig() Config {
	return Config{
		Concurrency:  4,
		MaxQueueSize: 1000,

		DefaultTimeoutMs: 30_000,
		MaxTimeoutMs:     300_000,

		DefaultMaxRetries: 2,
		RetryBaseMs:       250,
		RetryMaxMs:        30_000,

		RateLimiterIdleTtlMs:       5 * 60_000,
		RateLimiterSweepIntervalMs: 60_000,

		LifecycleTerminalGraceMs: 5 * 60_000,

		ShutdownDefaultDeadlineMs: 30_000,

		AnalyticsBufferCapacity: 1024,

		PriorityTags: map[string]int{
			"high":   10,
			"normal": 0,
			"low":    -10,
		},

		OnFullPolicy: RejectNew,
	}
}

// priorityTag looks up tag in cfg's PriorityTags, defaulting to the
// spec-documented mapping if the caller supplied no override at all.
func (c Config) priorityTag(tag string) int {
	if c.PriorityTags != nil {
		if n, ok := c.PriorityTags[tag]; ok {
			return n
		}
	}
	switch tag {
	case "high":
		return 10
	case "low":
		return -10
	default:
		return 0
	}
}

// validate performs the one-time sanity pass InitializationManager runs
// over the bundle's Config before constructing anything.
func (c Config) validate() error {
	if c.Concurrency < 1 {
		return newInvalidArgument("concurrency")
	}
	if c.MaxQueueSize < 1 {
		return newInvalidArgument("maxQueueSize")
	}
	if c.DefaultTimeoutMs <= 0 || c.MaxTimeoutMs <= 0 || c.DefaultTimeoutMs > c.MaxTimeoutMs {
		return newInvalidArgument("timeoutMs")
	}
	if c.DefaultMaxRetries < 0 {
		return newInvalidArgument("maxRetries")
	}
	return nil
}

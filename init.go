package genqueue

import "time"

// bundle is the fully-constructed set of components a QueueManager
// delegates to. InitializationManager is the only code that constructs
// one, in a fixed order: each component only ever depends on ones built
// before it.
type bundle struct {
	config    Config
	clock     Clock
	logger    *Logger
	analytics *boundedSink

	rateLimiter *RateLimiterCleanup
	lifecycle   *LifecycleRegistry
	validator   *Validator
	retry       *RetryPolicy
	executor    *TaskExecutor
	queue       *PriorityQueueCore
	shutdown    *ShutdownManager
}

// InitializationManager builds a bundle from resolved options, failing
// fast with cfg's validation *QueueError (KindInvalidArgument) if cfg
// itself is invalid, or with *InitializationError if any component comes
// back nil. Construction order is fixed: Clock,
// Analytics, RateLimiterCleanup, LifecycleRegistry, Validator,
// RetryPolicy, TaskExecutor, PriorityQueueCore, ShutdownManager, in that
// order.
type InitializationManager struct{}

// NewInitializationManager returns an InitializationManager. It carries
// no state; it exists as a named construction step rather than a bare
// function, so the build order above has a single, explicit owner.
func NewInitializationManager() *InitializationManager {
	return &InitializationManager{}
}

// Build runs the fixed construction order and returns the assembled
// bundle, or an *InitializationError naming the first component that
// failed to come up.
func (m *InitializationManager) Build(opts *managerOptions) (*bundle, error) {
	if err := opts.config.validate(); err != nil {
		return nil, err
	}

	clock := opts.clock
	if clock == nil {
		return nil, &InitializationError{Component: "Clock"}
	}

	logger := opts.logger
	if logger == nil {
		return nil, &InitializationError{Component: "Logger"}
	}

	downstream := opts.analytics
	if downstream == nil {
		return nil, &InitializationError{Component: "AnalyticsSink"}
	}
	analytics := NewBoundedAnalyticsSink(downstream, opts.config.AnalyticsBufferCapacity)
	if analytics == nil {
		return nil, &InitializationError{Component: "AnalyticsSink"}
	}

	rateLimiter := NewRateLimiterCleanup(
		clock,
		time.Duration(opts.config.RateLimiterIdleTtlMs)*time.Millisecond,
		time.Duration(opts.config.RateLimiterSweepIntervalMs)*time.Millisecond,
		analytics,
	)
	if rateLimiter == nil {
		return nil, &InitializationError{Component: "RateLimiterCleanup"}
	}

	lifecycle := NewLifecycleRegistry(clock, analytics)
	if lifecycle == nil {
		return nil, &InitializationError{Component: "LifecycleRegistry"}
	}

	validator := NewValidator(opts.config)
	if validator == nil {
		return nil, &InitializationError{Component: "Validator"}
	}

	retry := NewRetryPolicy(opts.config.RetryBaseMs, opts.config.RetryMaxMs)
	if retry == nil {
		return nil, &InitializationError{Component: "RetryPolicy"}
	}

	executor := NewTaskExecutor(lifecycle, analytics, clock, logger)
	if executor == nil {
		return nil, &InitializationError{Component: "TaskExecutor"}
	}

	queue := NewPriorityQueueCore(opts.config, clock, lifecycle, executor, retry, analytics, logger)
	if queue == nil {
		return nil, &InitializationError{Component: "PriorityQueueCore"}
	}

	shutdown := NewShutdownManager(queue, rateLimiter, analytics, clock, logger, time.Duration(opts.config.ShutdownDefaultDeadlineMs)*time.Millisecond)
	if shutdown == nil {
		return nil, &InitializationError{Component: "ShutdownManager"}
	}

	return &bundle{
		config:      opts.config,
		clock:       clock,
		logger:      logger,
		analytics:   analytics,
		rateLimiter: rateLimiter,
		lifecycle:   lifecycle,
		validator:   validator,
		retry:       retry,
		executor:    executor,
		queue:       queue,
		shutdown:    shutdown,
	}, nil
}

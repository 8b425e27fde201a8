package genqueue

// managerOptions holds the constructor-time overrides QueueManager
// accepts, resolved by resolveOptions before InitializationManager runs.
type managerOptions struct {
	config    Config
	clock     Clock
	logger    *Logger
	analytics AnalyticsSink
}

// Option configures a QueueManager at construction time.
type Option interface {
	apply(*managerOptions)
}

type optionFunc struct {
	fn func(*managerOptions)
}

func (o *optionFunc) apply(opts *managerOptions) { o.fn(opts) }

// WithConfig overrides the default Config. Unset fields on cfg are the
// caller's responsibility; DefaultConfig is not merged in.
func WithConfig(cfg Config) Option {
	return &optionFunc{func(opts *managerOptions) { opts.config = cfg }}
}

// WithClock overrides the Clock, primarily for deterministic tests.
func WithClock(clock Clock) Option {
	return &optionFunc{func(opts *managerOptions) { opts.clock = clock }}
}

// WithLogger overrides the structured Logger every component logs
// through.
func WithLogger(logger *Logger) Option {
	return &optionFunc{func(opts *managerOptions) { opts.logger = logger }}
}

// WithAnalyticsSink overrides the downstream AnalyticsSink wrapped by the
// bounded buffer. The sink supplied here receives events already
// de-duplicated of back-pressure drops; NewBoundedAnalyticsSink is
// applied around it automatically.
func WithAnalyticsSink(sink AnalyticsSink) Option {
	return &optionFunc{func(opts *managerOptions) { opts.analytics = sink }}
}

// resolveOptions applies opts over a managerOptions seeded with
// defaults, skipping any nil entries.
func resolveOptions(opts []Option) *managerOptions {
	resolved := &managerOptions{
		config: DefaultConfig(),
		clock:  NewSystemClock(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.apply(resolved)
	}
	if resolved.logger == nil {
		resolved.logger = NewDisabledLogger()
	}
	if resolved.analytics == nil {
		resolved.analytics = NewLoggingAnalyticsSink(resolved.logger)
	}
	return resolved
}

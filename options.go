package identity

import "time"

// Option configures the ambient dependencies shared by the core components.
type Option func(*options)

type options struct {
	logger   Logger
	provider LoggerProvider
	now      func() time.Time
	activity ActivitySink
	metrics  Metrics
	hasher   PasswordHasher
}

// WithLogger sets the fallback logger.
func WithLogger(logger Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLoggerProvider resolves a scoped logger per component.
func WithLoggerProvider(provider LoggerProvider) Option {
	return func(o *options) {
		if provider != nil {
			o.provider = provider
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithActivitySink sets the sink used to publish lifecycle events.
func WithActivitySink(sink ActivitySink) Option {
	return func(o *options) {
		o.activity = normalizeActivitySink(sink)
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithPasswordHasher overrides the bcrypt hasher.
func WithPasswordHasher(h PasswordHasher) Option {
	return func(o *options) {
		if h != nil {
			o.hasher = h
		}
	}
}

func buildOptions(name string, opts []Option) options {
	o := options{
		now:      time.Now,
		activity: noopActivitySink{},
		metrics:  noopMetrics{},
		hasher:   BcryptHasher{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	o.provider, o.logger = ResolveLogger(name, o.provider, o.logger)
	return o
}

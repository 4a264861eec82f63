package seqcache

import (
	"log/slog"

	"github.com/cenkalti/backoff/v4"
)

// DefaultBlockSize is the number of ids reserved per store round trip when
// the caller does not ask for a specific block size.
const DefaultBlockSize int64 = 10

// CreatePolicy decides what a refill does when the store has no counter for
// the requested sequence.
type CreatePolicy int

const (
	// AutoCreate creates the counter at 0, so the first id is 1.
	AutoCreate CreatePolicy = iota

	// FailIfMissing returns ErrUnknownSequence. Sequences must be created up
	// front with CreateSequence.
	FailIfMissing
)

func (p CreatePolicy) String() string {
	switch p {
	case AutoCreate:
		return "auto-create"
	case FailIfMissing:
		return "fail-if-missing"
	default:
		return "unknown"
	}
}

type options struct {
	defaultBlockSize int64
	createPolicy     CreatePolicy
	metricsCollector MetricsCollector
	logger           *Logger
	newBackOff       func() backoff.BackOff
	warmConcurrency  int
}

// Option configures a BlockCache.
type Option func(*options)

// WithDefaultBlockSize sets the block size used by NextID and by
// NextIDWithBlockSize when it is called with a size < 1.
//
// Values < 1 are ignored.
func WithDefaultBlockSize(size int64) Option {
	return func(o *options) {
		if size >= 1 {
			o.defaultBlockSize = size
		}
	}
}

// WithCreatePolicy configures how unknown sequence names are handled.
//
// The default, AutoCreate, silently creates a counter on first use. This
// keeps callers simple but can mask typos in sequence names; use
// FailIfMissing to surface them.
func WithCreatePolicy(p CreatePolicy) Option {
	return func(o *options) {
		o.createPolicy = p
	}
}

// WithMetricsCollector configures a metrics collector for refills.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &seqcache.BasicMetricsCollector{}
//	c, _ := seqcache.New(store, seqcache.WithMetricsCollector(metrics))
//	// ... use c ...
//	stats := metrics.GetStats()
//	fmt.Printf("Refills: %d, Conflicts: %d\n", stats.RefillCount, stats.Conflicts)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := seqcache.NewJSONLogger(slog.LevelDebug)
//	c, _ := seqcache.New(store, seqcache.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithConflictBackOff configures a pause between reservation attempts after a
// lost conditional advance. newBackOff is called once per refill, so
// stateful policies such as backoff.ExponentialBackOff are safe to use.
//
// By default a lost race is retried immediately. If the policy returns
// backoff.Stop the refill fails with ErrTooManyConflicts.
//
//	c, _ := seqcache.New(store, seqcache.WithConflictBackOff(func() backoff.BackOff {
//	    return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 50)
//	}))
func WithConflictBackOff(newBackOff func() backoff.BackOff) Option {
	return func(o *options) {
		o.newBackOff = newBackOff
	}
}

// WithWarmConcurrency bounds the number of concurrent reservations issued by
// Warm. Values < 1 are ignored.
func WithWarmConcurrency(n int) Option {
	return func(o *options) {
		if n >= 1 {
			o.warmConcurrency = n
		}
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		defaultBlockSize: DefaultBlockSize,
		createPolicy:     AutoCreate,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		warmConcurrency:  8,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

package seqcache

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with seqcache-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithSequence adds a sequence name field to the logger.
func (l *Logger) WithSequence(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("sequence", name),
	}
}

// LogRefill logs the outcome of a block reservation. Use it on a logger
// returned by WithSequence.
func (l *Logger) LogRefill(ctx context.Context, block *Block, attempts int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "block reservation failed",
			"attempts", attempts,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "block reserved",
		"start", block.Start(),
		"end", block.End(),
		"attempts", attempts,
	)
}

// LogConflict logs a lost compare-and-swap against the store.
func (l *Logger) LogConflict(ctx context.Context, expected int64) {
	l.DebugContext(ctx, "conditional advance lost race", "expected", expected)
}

// LogCreate logs the creation of a previously unknown sequence.
func (l *Logger) LogCreate(ctx context.Context) {
	l.InfoContext(ctx, "sequence created")
}

// LogCreatePending logs a re-read that still misses a counter the store
// reported as created.
func (l *Logger) LogCreatePending(ctx context.Context, reread int) {
	l.DebugContext(ctx, "created counter not visible yet", "reread", reread)
}

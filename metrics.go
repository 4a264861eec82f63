package seqcache

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; see
// metrics/prometheus for a Prometheus implementation.
//
// Only the refill path reports metrics. Dispensing an id from a cached block
// is a single atomic increment and is never instrumented.
type MetricsCollector interface {
	// RecordRefill is called after each block reservation attempt.
	// attempts counts store read/advance rounds, err is nil if a block was
	// published.
	RecordRefill(name string, blockSize int64, attempts int, duration time.Duration, err error)

	// RecordConflict is called each time a conditional advance loses a race.
	RecordConflict(name string)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordRefill(string, int64, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordConflict(string)                                 {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and tests without external dependencies.
type BasicMetricsCollector struct {
	RefillCount      atomic.Int64
	RefillErrors     atomic.Int64
	RefillTotalNanos atomic.Int64
	ReservedIDs      atomic.Int64
	Conflicts        atomic.Int64
}

// RecordRefill implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRefill(_ string, blockSize int64, _ int, duration time.Duration, err error) {
	b.RefillCount.Add(1)
	b.RefillTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.RefillErrors.Add(1)
		return
	}
	b.ReservedIDs.Add(blockSize)
}

// RecordConflict implements MetricsCollector.
func (b *BasicMetricsCollector) RecordConflict(string) {
	b.Conflicts.Add(1)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		RefillCount:    b.RefillCount.Load(),
		RefillErrors:   b.RefillErrors.Load(),
		RefillAvgNanos: b.getAvgRefillNanos(),
		ReservedIDs:    b.ReservedIDs.Load(),
		Conflicts:      b.Conflicts.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgRefillNanos() int64 {
	count := b.RefillCount.Load()
	if count == 0 {
		return 0
	}
	return b.RefillTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	RefillCount    int64
	RefillErrors   int64
	RefillAvgNanos int64
	ReservedIDs    int64
	Conflicts      int64
}

// Package prometheus exports seqcache refill metrics to Prometheus.
//
//	reg := prometheus.NewRegistry()
//	cache, _ := seqcache.New(store,
//	    seqcache.WithMetricsCollector(seqprom.NewCollector(reg, "myapp")))
//
// Every metric carries a "sequence" label. Deployments with an unbounded
// number of sequence names should use WithoutSequenceLabel.
package prometheus

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hupe1980/seqcache"
)

const allSequences = "_all"

// Collector implements seqcache.MetricsCollector on Prometheus metrics.
type Collector struct {
	refills       *prom.CounterVec
	refillLatency *prom.HistogramVec
	attempts      *prom.HistogramVec
	reservedIDs   *prom.CounterVec
	conflicts     *prom.CounterVec

	perSequence bool
}

// Option configures a Collector.
type Option func(*Collector)

// WithoutSequenceLabel reports every sequence under a single label value.
func WithoutSequenceLabel() Option {
	return func(c *Collector) { c.perSequence = false }
}

// NewCollector registers the seqcache metrics with reg. namespace prefixes
// every metric name and may be empty.
func NewCollector(reg prom.Registerer, namespace string, optFns ...Option) *Collector {
	factory := promauto.With(reg)

	c := &Collector{
		refills: factory.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Subsystem: "seqcache",
			Name:      "refills_total",
			Help:      "Total block reservations against the counter store",
		}, []string{"sequence", "status"}),
		refillLatency: factory.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Subsystem: "seqcache",
			Name:      "refill_duration_seconds",
			Help:      "Latency of block reservations including retries",
			Buckets:   prom.DefBuckets,
		}, []string{"sequence"}),
		attempts: factory.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Subsystem: "seqcache",
			Name:      "refill_attempts",
			Help:      "Store read/advance rounds needed per block reservation",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		}, []string{"sequence"}),
		reservedIDs: factory.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Subsystem: "seqcache",
			Name:      "reserved_ids_total",
			Help:      "Total ids reserved from the counter store",
		}, []string{"sequence"}),
		conflicts: factory.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Subsystem: "seqcache",
			Name:      "conflicts_total",
			Help:      "Conditional advances lost to another writer",
		}, []string{"sequence"}),
		perSequence: true,
	}

	for _, fn := range optFns {
		fn(c)
	}
	return c
}

func (c *Collector) label(name string) string {
	if c.perSequence {
		return name
	}
	return allSequences
}

// RecordRefill implements seqcache.MetricsCollector.
func (c *Collector) RecordRefill(name string, blockSize int64, attempts int, duration time.Duration, err error) {
	seq := c.label(name)

	status := "success"
	if err != nil {
		status = "error"
	}
	c.refills.WithLabelValues(seq, status).Inc()
	c.refillLatency.WithLabelValues(seq).Observe(duration.Seconds())
	c.attempts.WithLabelValues(seq).Observe(float64(attempts))

	if err == nil {
		c.reservedIDs.WithLabelValues(seq).Add(float64(blockSize))
	}
}

// RecordConflict implements seqcache.MetricsCollector.
func (c *Collector) RecordConflict(name string) {
	c.conflicts.WithLabelValues(c.label(name)).Inc()
}

var _ seqcache.MetricsCollector = (*Collector)(nil)

// Package bench drives a BlockCache with parallel workers and reports
// throughput, latency quantiles and an id uniqueness audit.
package bench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/bmizerany/perks/quantile"
	"golang.org/x/time/rate"

	"github.com/hupe1980/seqcache"
	"github.com/hupe1980/seqcache/internal/conv"
)

// Workload describes a benchmark run. The run stops after TotalIDs ids or
// after Duration, whichever comes first; at least one must be set.
type Workload struct {
	Sequences   []string
	Parallelism int
	TotalIDs    int64
	Duration    time.Duration

	// TargetRate caps ids per second across all workers. 0 is unlimited.
	TargetRate float64

	// BlockSize is passed to NextIDWithBlockSize. < 1 uses the cache default.
	BlockSize int64
}

func (w *Workload) validate() error {
	if len(w.Sequences) == 0 {
		return errors.New("bench: at least one sequence is required")
	}
	if w.Parallelism < 1 {
		return errors.New("bench: parallelism must be >= 1")
	}
	if w.TotalIDs <= 0 && w.Duration <= 0 {
		return errors.New("bench: total ids or duration is required")
	}
	if w.TargetRate < 0 {
		return errors.New("bench: target rate must not be negative")
	}
	return nil
}

// Result summarizes a run. Latencies are in milliseconds.
type Result struct {
	IDs        int64
	FailedOps  int64
	Duplicates int64
	Elapsed    time.Duration

	LatencyP50  float64
	LatencyP95  float64
	LatencyP99  float64
	LatencyP999 float64
	LatencyMax  float64

	// Distinct ids observed per sequence.
	Distinct map[string]uint64

	// FirstError is the first NextID failure, if any.
	FirstError error
}

// Rate returns the achieved ids per second.
func (r *Result) Rate() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.IDs) / r.Elapsed.Seconds()
}

// Print writes a human-readable summary.
func (r *Result) Print(w io.Writer) {
	_, _ = fmt.Fprintf(w, "ids: %d  failed: %d  duplicates: %d  elapsed: %s  rate: %.1f ids/s\n",
		r.IDs, r.FailedOps, r.Duplicates, r.Elapsed.Round(time.Millisecond), r.Rate())
	_, _ = fmt.Fprintf(w, "latency ms: 50%% %.3f - 95%% %.3f - 99%% %.3f - 99.9%% %.3f - max %.3f\n",
		r.LatencyP50, r.LatencyP95, r.LatencyP99, r.LatencyP999, r.LatencyMax)
	if r.FirstError != nil {
		_, _ = fmt.Fprintf(w, "first error: %v\n", r.FirstError)
	}
}

type sample struct {
	seq     int
	id      int64
	latency time.Duration
}

type runner struct {
	cache    *seqcache.BlockCache
	workload Workload
	limiter  *rate.Limiter

	issued    atomic.Int64
	failedOps atomic.Int64

	errOnce  sync.Once
	firstErr error

	sampleCh chan sample
}

// Run executes the workload against cache.
func Run(ctx context.Context, cache *seqcache.BlockCache, wl Workload) (*Result, error) {
	if err := wl.validate(); err != nil {
		return nil, err
	}

	r := &runner{
		cache:    cache,
		workload: wl,
		sampleCh: make(chan sample, 1000),
	}
	if wl.TargetRate > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(wl.TargetRate), max(1, int(wl.TargetRate)))
	}

	if wl.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wl.Duration)
		defer cancel()
	}

	start := time.Now()

	var wg sync.WaitGroup
	for i := range wl.Parallelism {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.generate(ctx, i)
		}()
	}

	go func() {
		wg.Wait()
		close(r.sampleCh)
	}()

	res := r.collect()
	res.Elapsed = time.Since(start)
	res.FailedOps = r.failedOps.Load()
	res.FirstError = r.firstErr

	return res, nil
}

func (r *runner) generate(ctx context.Context, worker int) {
	seqs := r.workload.Sequences
	next := worker % len(seqs)

	for {
		if r.workload.TotalIDs > 0 && r.issued.Add(1) > r.workload.TotalIDs {
			return
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return
			}
		} else if ctx.Err() != nil {
			return
		}

		start := time.Now()
		id, err := r.cache.NextIDWithBlockSize(ctx, seqs[next], r.workload.BlockSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.failedOps.Add(1)
			r.errOnce.Do(func() { r.firstErr = err })
		} else {
			r.sampleCh <- sample{seq: next, id: id, latency: time.Since(start)}
		}

		next = (next + 1) % len(seqs)
	}
}

// collect drains samples until every worker has stopped. Quantile streams
// and bitmaps are not safe for concurrent use, so only this goroutine
// touches them.
func (r *runner) collect() *Result {
	latency := quantile.NewTargeted(0.50, 0.95, 0.99, 0.999, 1.0)

	seen := make([]*roaring64.Bitmap, len(r.workload.Sequences))
	for i := range seen {
		seen[i] = roaring64.New()
	}

	res := &Result{}
	for s := range r.sampleCh {
		res.IDs++
		latency.Insert(float64(s.latency.Microseconds()) / 1000.0)
		id, err := conv.Int64ToUint64(s.id)
		if err != nil || !seen[s.seq].CheckedAdd(id) {
			res.Duplicates++
		}
	}

	if latency.Count() > 0 {
		res.LatencyP50 = latency.Query(0.50)
		res.LatencyP95 = latency.Query(0.95)
		res.LatencyP99 = latency.Query(0.99)
		res.LatencyP999 = latency.Query(0.999)
		res.LatencyMax = latency.Query(1.0)
	}

	res.Distinct = make(map[string]uint64, len(seen))
	for i, bm := range seen {
		res.Distinct[r.workload.Sequences[i]] += bm.GetCardinality()
	}
	return res
}

package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds limits for calls against a shared backing store.
type Config struct {
	// MaxConcurrentOps is the maximum number of store calls in flight.
	// If 0, concurrency is not limited.
	MaxConcurrentOps int64

	// OpsPerSecond is the sustained store call rate.
	// If 0, unlimited.
	OpsPerSecond float64

	// Burst is the number of calls allowed above OpsPerSecond.
	// If 0, defaults to max(1, OpsPerSecond).
	Burst int
}

// Controller bounds the load a process puts on a backing store.
//
// A nil *Controller is valid and imposes no limits.
type Controller struct {
	cfg Config

	// Concurrency
	opSem    *semaphore.Weighted // nil if unlimited
	inFlight atomic.Int64

	// Rate
	limiter *rate.Limiter // nil if unlimited
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	c := &Controller{
		cfg: cfg,
	}

	if cfg.MaxConcurrentOps > 0 {
		c.opSem = semaphore.NewWeighted(cfg.MaxConcurrentOps)
	}

	if cfg.OpsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = max(1, int(cfg.OpsPerSecond))
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.OpsPerSecond), burst)
	}

	return c
}

// Acquire reserves a slot for one store call.
// It blocks until the concurrency and rate limits allow the call or ctx is
// canceled. Every successful Acquire must be paired with Release.
func (c *Controller) Acquire(ctx context.Context) error {
	if c == nil {
		return nil
	}

	if c.opSem != nil {
		if err := c.opSem.Acquire(ctx, 1); err != nil {
			return err
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if c.opSem != nil {
				c.opSem.Release(1)
			}
			return err
		}
	}

	c.inFlight.Add(1)
	return nil
}

// Release frees a slot reserved by Acquire.
func (c *Controller) Release() {
	if c == nil {
		return
	}

	c.inFlight.Add(-1)
	if c.opSem != nil {
		c.opSem.Release(1)
	}
}

// InFlight returns the number of store calls currently holding a slot.
func (c *Controller) InFlight() int64 {
	if c == nil {
		return 0
	}
	return c.inFlight.Load()
}

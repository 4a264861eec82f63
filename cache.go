package seqcache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/seqcache/counterstore"
)

// BlockCache hands out unique ids per sequence name from blocks reserved in
// a shared counter store.
//
// The hot path loads the cached block for a name and performs one atomic
// increment. Only when that block is absent or exhausted does the caller
// take the name's lock and reserve a new block from the store. Locks are
// per name, so unrelated sequences never contend.
//
// A BlockCache is safe for concurrent use and should be created once and
// shared by every caller in the process.
type BlockCache struct {
	store counterstore.Store
	opts  options

	blocks sync.Map // string -> *Block
	locks  sync.Map // string -> *sync.Mutex
}

// New creates a BlockCache backed by store.
func New(store counterstore.Store, optFns ...Option) (*BlockCache, error) {
	if store == nil {
		return nil, errors.New("seqcache: counter store is required")
	}

	return &BlockCache{
		store: store,
		opts:  applyOptions(optFns),
	}, nil
}

// NextID returns the next id of the named sequence using the default block
// size. Ids are >= 1.
func (c *BlockCache) NextID(ctx context.Context, name string) (int64, error) {
	return c.NextIDWithBlockSize(ctx, name, c.opts.defaultBlockSize)
}

// NextIDWithBlockSize returns the next id of the named sequence, reserving
// blockSize ids per store round trip when a refill is needed. A blockSize
// < 1 is replaced by the default block size.
func (c *BlockCache) NextIDWithBlockSize(ctx context.Context, name string, blockSize int64) (int64, error) {
	if name == "" {
		return 0, ErrInvalidName
	}
	if blockSize < 1 {
		blockSize = c.opts.defaultBlockSize
	}

	for {
		b, err := c.block(ctx, name, blockSize)
		if err != nil {
			return 0, err
		}

		if id := b.NextID(); id != Exhausted {
			return id, nil
		}
		// Another caller drained the block between load and increment.
	}
}

// CreateSequence creates the counter of name in the store if it does not
// exist. It is required before first use when the cache runs with
// FailIfMissing and harmless otherwise.
func (c *BlockCache) CreateSequence(ctx context.Context, name string) error {
	if name == "" {
		return ErrInvalidName
	}
	if err := c.store.CreateIfAbsent(ctx, name); err != nil {
		return storeError("create", name, err)
	}
	return nil
}

// Warm reserves a block for every name that has no usable cached block,
// issuing reservations concurrently. The first error is returned; blocks
// reserved for other names stay cached.
func (c *BlockCache) Warm(ctx context.Context, names ...string) error {
	for _, name := range names {
		if name == "" {
			return ErrInvalidName
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.warmConcurrency)

	for _, name := range names {
		g.Go(func() error {
			_, err := c.block(ctx, name, c.opts.defaultBlockSize)
			return err
		})
	}

	return g.Wait()
}

// Invalidate drops the cached block of name. The ids left in it are
// abandoned; the next call reserves a fresh block.
func (c *BlockCache) Invalidate(name string) {
	c.blocks.Delete(name)
}

// Snapshot returns the cached block of every sequence.
func (c *BlockCache) Snapshot() map[string]BlockInfo {
	out := make(map[string]BlockInfo)
	c.blocks.Range(func(key, value any) bool {
		out[key.(string)] = value.(*Block).info()
		return true
	})
	return out
}

// Sequences returns the names with a cached block in ascending order.
func (c *BlockCache) Sequences() []string {
	var names []string
	c.blocks.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)
	return names
}

// block returns a usable block for name, refilling if necessary.
func (c *BlockCache) block(ctx context.Context, name string, blockSize int64) (*Block, error) {
	if b, ok := c.cached(name); ok {
		return b, nil
	}
	return c.refill(ctx, name, blockSize)
}

// cached returns the block of name if it exists and is not exhausted.
func (c *BlockCache) cached(name string) (*Block, bool) {
	v, ok := c.blocks.Load(name)
	if !ok {
		return nil, false
	}
	b := v.(*Block)
	if b.IsExhausted() {
		return nil, false
	}
	return b, true
}

func (c *BlockCache) lockFor(name string) *sync.Mutex {
	if mu, ok := c.locks.Load(name); ok {
		return mu.(*sync.Mutex)
	}
	mu, _ := c.locks.LoadOrStore(name, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// refill reserves and publishes a new block for name. At most one refill per
// name runs at a time; waiters reuse the block published by the winner.
func (c *BlockCache) refill(ctx context.Context, name string, blockSize int64) (*Block, error) {
	mu := c.lockFor(name)
	mu.Lock()
	defer mu.Unlock()

	if b, ok := c.cached(name); ok {
		return b, nil
	}

	log := c.opts.logger.WithSequence(name)

	start := time.Now()
	b, attempts, err := c.reserve(ctx, log, name, blockSize)
	c.opts.metricsCollector.RecordRefill(name, blockSize, attempts, time.Since(start), err)
	log.LogRefill(ctx, b, attempts, err)
	if err != nil {
		return nil, err
	}

	c.blocks.Store(name, b)
	return b, nil
}

// Stores may acknowledge a create before the counter is readable, e.g. when
// an object store reports a conflicting conditional write still in flight.
// After a create, reserve re-reads up to maxCreateRereads times.
const (
	maxCreateRereads     = 5
	createRereadInterval = 10 * time.Millisecond
)

func newCreateBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = createRereadInterval
	eb.MaxInterval = 20 * createRereadInterval
	return backoff.WithMaxRetries(eb, maxCreateRereads)
}

// reserve claims blockSize ids from the store with a read followed by a
// conditional advance, retrying until the advance wins.
func (c *BlockCache) reserve(ctx context.Context, log *Logger, name string, blockSize int64) (*Block, int, error) {
	var bo backoff.BackOff
	if c.opts.newBackOff != nil {
		bo = backoff.WithContext(c.opts.newBackOff(), ctx)
		bo.Reset()
	}

	var (
		attempts int
		rereads  int
		createBo backoff.BackOff // non-nil once the counter was created
	)
	for {
		attempts++

		v, found, err := c.store.ReadCurrentValue(ctx, name)
		if err != nil {
			return nil, attempts, storeError("read", name, err)
		}

		if !found {
			if createBo != nil {
				// The create was acknowledged but is not visible yet.
				rereads++
				log.LogCreatePending(ctx, rereads)
				if err := waitBackOff(ctx, createBo); err != nil {
					if errors.Is(err, ErrTooManyConflicts) {
						err = fmt.Errorf("counter missing after create and %d re-reads", rereads)
					}
					return nil, attempts, storeError("read", name, err)
				}
				continue
			}
			if c.opts.createPolicy == FailIfMissing {
				return nil, attempts, fmt.Errorf("%w: %q", ErrUnknownSequence, name)
			}
			if err := c.store.CreateIfAbsent(ctx, name); err != nil {
				return nil, attempts, storeError("create", name, err)
			}
			log.LogCreate(ctx)
			createBo = backoff.WithContext(newCreateBackOff(), ctx)
			createBo.Reset()
			continue
		}

		if v < 0 {
			return nil, attempts, &CorruptCounterError{Sequence: name, Value: v}
		}
		if v >= math.MaxInt64-blockSize {
			return nil, attempts, fmt.Errorf("%w: %q at %d", ErrCounterOverflow, name, v)
		}

		next := v + blockSize
		ok, err := c.store.ConditionalAdvance(ctx, name, v, next)
		if err != nil {
			return nil, attempts, storeError("advance", name, err)
		}

		if ok {
			b, err := NewBlock(v+1, next+1)
			return b, attempts, err
		}

		c.opts.metricsCollector.RecordConflict(name)
		log.LogConflict(ctx, v)

		if bo != nil {
			if err := waitBackOff(ctx, bo); err != nil {
				return nil, attempts, err
			}
		}
	}
}

func waitBackOff(ctx context.Context, bo backoff.BackOff) error {
	d := bo.NextBackOff()
	if d == backoff.Stop {
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrTooManyConflicts
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

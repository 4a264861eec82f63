package seqcache_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/seqcache"
	"github.com/hupe1980/seqcache/counterstore"
	"github.com/hupe1980/seqcache/testutil"
)

func newCache(t *testing.T, store counterstore.Store, opts ...seqcache.Option) *seqcache.BlockCache {
	t.Helper()
	c, err := seqcache.New(store, opts...)
	require.NoError(t, err)
	return c
}

func TestNew_RequiresStore(t *testing.T) {
	c, err := seqcache.New(nil)
	require.Error(t, err)
	assert.Nil(t, c)
}

func TestBlockCache_Orders(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewCountingStore(counterstore.NewMemoryStore())
	c := newCache(t, store)

	for want := int64(1); want <= 10; want++ {
		id, err := c.NextID(ctx, "orders")
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}

	// First reservation: read (missing), create, read, advance.
	assert.Equal(t, int64(2), store.Reads())
	assert.Equal(t, int64(1), store.Creates())
	assert.Equal(t, int64(1), store.Advances())

	id, err := c.NextID(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(11), id)

	// The 11th id costs exactly one more read and one more advance.
	assert.Equal(t, int64(3), store.Reads())
	assert.Equal(t, int64(1), store.Creates())
	assert.Equal(t, int64(2), store.Advances())
	assert.Equal(t, int64(2), store.Reservations())
}

func TestBlockCache_FirstIDIsOne(t *testing.T) {
	c := newCache(t, counterstore.NewMemoryStore())

	id, err := c.NextIDWithBlockSize(context.Background(), "fresh", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}

func TestBlockCache_BlockSizeAmortizesRoundTrips(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewCountingStore(counterstore.NewMemoryStore())
	c := newCache(t, store)

	for want := int64(1); want <= 23; want++ {
		id, err := c.NextIDWithBlockSize(ctx, "invoices", 5)
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}

	assert.Equal(t, int64(5), store.Reservations())
}

func TestBlockCache_NonPositiveBlockSizeUsesDefault(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, counterstore.NewMemoryStore(), seqcache.WithDefaultBlockSize(25))

	_, err := c.NextIDWithBlockSize(ctx, "a", 0)
	require.NoError(t, err)
	_, err = c.NextIDWithBlockSize(ctx, "b", -3)
	require.NoError(t, err)

	snap := c.Snapshot()
	assert.Equal(t, int64(26), snap["a"].End)
	assert.Equal(t, int64(26), snap["b"].End)
}

func TestBlockCache_SequencesAreIndependent(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, counterstore.NewMemoryStore())

	a1, err := c.NextID(ctx, "a")
	require.NoError(t, err)
	b1, err := c.NextID(ctx, "b")
	require.NoError(t, err)
	a2, err := c.NextID(ctx, "a")
	require.NoError(t, err)

	assert.Equal(t, int64(1), a1)
	assert.Equal(t, int64(1), b1)
	assert.Equal(t, int64(2), a2)
	assert.Equal(t, []string{"a", "b"}, c.Sequences())
}

func TestBlockCache_SingleRefillUnderContention(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewCountingStore(counterstore.NewMemoryStore())
	c := newCache(t, store, seqcache.WithDefaultBlockSize(1000))

	const workers = 64
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.NextID(ctx, "hot")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), store.Reservations())
	assert.Equal(t, int64(1), store.Advances())
}

func TestBlockCache_ConcurrentUniqueness(t *testing.T) {
	ctx := context.Background()
	store := counterstore.NewMemoryStore()

	// Two caches on one store stand in for two processes.
	caches := []*seqcache.BlockCache{
		newCache(t, store, seqcache.WithDefaultBlockSize(7)),
		newCache(t, store, seqcache.WithDefaultBlockSize(13)),
	}

	const (
		workers = 16
		perWork = 500
	)

	results := make([][]int64, workers)
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := caches[w%len(caches)]
			for range perWork {
				id, err := c.NextID(ctx, "orders")
				if !assert.NoError(t, err) {
					return
				}
				results[w] = append(results[w], id)
			}
		}()
	}
	wg.Wait()

	seen := make(map[int64]struct{}, workers*perWork)
	for _, ids := range results {
		require.Len(t, ids, perWork)
		for i, id := range ids {
			assert.GreaterOrEqual(t, id, int64(1))
			if i > 0 {
				assert.Greater(t, id, ids[i-1])
			}
			_, dup := seen[id]
			require.False(t, dup, "duplicate id %d", id)
			seen[id] = struct{}{}
		}
	}
}

func TestBlockCache_LostRacesAreRetried(t *testing.T) {
	ctx := context.Background()
	conflicting := testutil.NewConflictingStore(counterstore.NewMemoryStore(), 3)
	metrics := &seqcache.BasicMetricsCollector{}
	c := newCache(t, conflicting, seqcache.WithMetricsCollector(metrics))

	id, err := c.NextID(ctx, "orders")
	require.NoError(t, err)

	// Each lost race moved the counter by one peer step.
	assert.Equal(t, int64(4), id)
	assert.Equal(t, 3, conflicting.Lost())

	stats := metrics.GetStats()
	assert.Equal(t, int64(3), stats.Conflicts)
	assert.Equal(t, int64(1), stats.RefillCount)
	assert.Equal(t, int64(0), stats.RefillErrors)
	assert.Equal(t, int64(seqcache.DefaultBlockSize), stats.ReservedIDs)
}

func TestBlockCache_LostRacesWithoutPeerProgress(t *testing.T) {
	ctx := context.Background()
	conflicting := testutil.NewConflictingStore(counterstore.NewMemoryStore(), 5).WithPeerStep(0)
	c := newCache(t, conflicting)

	id, err := c.NextID(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.Equal(t, 5, conflicting.Lost())
}

func TestBlockCache_ConflictBackOffGivesUp(t *testing.T) {
	ctx := context.Background()
	conflicting := testutil.NewConflictingStore(counterstore.NewMemoryStore(), 100)
	c := newCache(t, conflicting, seqcache.WithConflictBackOff(func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
	}))

	_, err := c.NextID(ctx, "orders")
	require.ErrorIs(t, err, seqcache.ErrTooManyConflicts)
	assert.Equal(t, 3, conflicting.Lost())
	assert.Empty(t, c.Snapshot())
}

func TestBlockCache_ConflictBackOffRecovers(t *testing.T) {
	ctx := context.Background()
	conflicting := testutil.NewConflictingStore(counterstore.NewMemoryStore(), 2)
	c := newCache(t, conflicting, seqcache.WithConflictBackOff(func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 5)
	}))

	id, err := c.NextID(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
}

func TestBlockCache_CorruptCounterIsFatal(t *testing.T) {
	ctx := context.Background()
	mem := counterstore.NewMemoryStore()
	mem.Set("orders", -5)
	store := testutil.NewCountingStore(mem)
	c := newCache(t, store)

	_, err := c.NextID(ctx, "orders")
	require.ErrorIs(t, err, seqcache.ErrCorruptCounter)

	var corrupt *seqcache.CorruptCounterError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, "orders", corrupt.Sequence)
	assert.Equal(t, int64(-5), corrupt.Value)

	assert.Equal(t, int64(1), store.Reads())
	assert.Equal(t, int64(0), store.Advances())
	assert.Empty(t, c.Snapshot())
}

func TestBlockCache_StoreErrors(t *testing.T) {
	boom := errors.New("connection reset")

	tests := []struct {
		name   string
		inject func(*testutil.FailingStore)
		op     string
	}{
		{"Read", func(s *testutil.FailingStore) { s.FailReads(boom) }, "read"},
		{"Create", func(s *testutil.FailingStore) { s.FailCreates(boom) }, "create"},
		{"Advance", func(s *testutil.FailingStore) { s.FailAdvances(boom) }, "advance"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failing := testutil.NewFailingStore(counterstore.NewMemoryStore())
			tt.inject(failing)
			c := newCache(t, failing)

			_, err := c.NextID(context.Background(), "orders")
			require.ErrorIs(t, err, seqcache.ErrStore)
			require.ErrorIs(t, err, boom)

			var storeErr *seqcache.StoreError
			require.ErrorAs(t, err, &storeErr)
			assert.Equal(t, tt.op, storeErr.Op)
			assert.Equal(t, "orders", storeErr.Sequence)
		})
	}
}

func TestBlockCache_RecoversAfterStoreError(t *testing.T) {
	ctx := context.Background()
	failing := testutil.NewFailingStore(counterstore.NewMemoryStore())
	c := newCache(t, failing)

	failing.FailAdvances(errors.New("throttled"))
	_, err := c.NextID(ctx, "orders")
	require.Error(t, err)

	failing.FailAdvances(nil)
	id, err := c.NextID(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}

func TestBlockCache_CreatedCounterBecomesVisibleLater(t *testing.T) {
	ctx := context.Background()
	counting := testutil.NewCountingStore(testutil.NewLaggingStore(counterstore.NewMemoryStore(), 1))
	c := newCache(t, counting, seqcache.WithDefaultBlockSize(5))

	id, err := c.NextID(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	// miss, create, hidden re-read, visible re-read
	assert.Equal(t, int64(3), counting.Reads())
	assert.Equal(t, int64(1), counting.Creates())
	assert.Equal(t, int64(1), counting.Reservations())
}

func TestBlockCache_CreatedCounterNeverVisible(t *testing.T) {
	lagging := testutil.NewLaggingStore(counterstore.NewMemoryStore(), math.MaxInt32)
	c := newCache(t, lagging)

	_, err := c.NextID(context.Background(), "orders")
	require.ErrorIs(t, err, seqcache.ErrStore)

	var storeErr *seqcache.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "read", storeErr.Op)
	assert.Equal(t, "orders", storeErr.Sequence)
	assert.Empty(t, c.Snapshot())
}

func TestBlockCache_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newCache(t, counterstore.NewMemoryStore())
	_, err := c.NextID(ctx, "orders")
	require.ErrorIs(t, err, seqcache.ErrStore)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBlockCache_CachedIDsIgnoreContext(t *testing.T) {
	c := newCache(t, counterstore.NewMemoryStore())
	_, err := c.NextID(context.Background(), "orders")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	id, err := c.NextID(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)
}

func TestBlockCache_FailIfMissing(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewCountingStore(counterstore.NewMemoryStore())
	c := newCache(t, store, seqcache.WithCreatePolicy(seqcache.FailIfMissing))

	_, err := c.NextID(ctx, "typo")
	require.ErrorIs(t, err, seqcache.ErrUnknownSequence)
	assert.Equal(t, int64(0), store.Creates())

	require.NoError(t, c.CreateSequence(ctx, "orders"))
	id, err := c.NextID(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}

func TestBlockCache_CreateSequenceKeepsExistingCounter(t *testing.T) {
	ctx := context.Background()
	mem := counterstore.NewMemoryStore()
	mem.Set("orders", 41)
	c := newCache(t, mem)

	require.NoError(t, c.CreateSequence(ctx, "orders"))
	id, err := c.NextID(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestBlockCache_InvalidName(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, counterstore.NewMemoryStore())

	_, err := c.NextID(ctx, "")
	require.ErrorIs(t, err, seqcache.ErrInvalidName)
	require.ErrorIs(t, c.CreateSequence(ctx, ""), seqcache.ErrInvalidName)
	require.ErrorIs(t, c.Warm(ctx, "ok", ""), seqcache.ErrInvalidName)
}

func TestBlockCache_Overflow(t *testing.T) {
	ctx := context.Background()

	t.Run("Rejected", func(t *testing.T) {
		mem := counterstore.NewMemoryStore()
		mem.Set("big", math.MaxInt64-5)
		c := newCache(t, mem)

		_, err := c.NextID(ctx, "big")
		require.ErrorIs(t, err, seqcache.ErrCounterOverflow)

		v, _, err := mem.ReadCurrentValue(ctx, "big")
		require.NoError(t, err)
		assert.Equal(t, int64(math.MaxInt64-5), v)
	})

	t.Run("LastFullBlock", func(t *testing.T) {
		mem := counterstore.NewMemoryStore()
		mem.Set("big", math.MaxInt64-11)
		c := newCache(t, mem)

		id, err := c.NextID(ctx, "big")
		require.NoError(t, err)
		assert.Equal(t, int64(math.MaxInt64-10), id)
		assert.Equal(t, int64(math.MaxInt64), c.Snapshot()["big"].End)
	})
}

func TestBlockCache_Warm(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewCountingStore(counterstore.NewMemoryStore())
	c := newCache(t, store, seqcache.WithWarmConcurrency(2))

	require.NoError(t, c.Warm(ctx, "a", "b", "c"))
	assert.Equal(t, int64(3), store.Reservations())

	snap := c.Snapshot()
	require.Len(t, snap, 3)
	for _, name := range []string{"a", "b", "c"} {
		assert.Equal(t, seqcache.BlockInfo{Start: 1, End: 11, Remaining: 10}, snap[name])
	}

	// Warm blocks are reused; warming again is free.
	id, err := c.NextID(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	require.NoError(t, c.Warm(ctx, "a", "b", "c"))
	assert.Equal(t, int64(3), store.Reservations())
}

func TestBlockCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, counterstore.NewMemoryStore())

	id, err := c.NextID(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	c.Invalidate("orders")
	assert.Empty(t, c.Sequences())

	// The rest of the first block is abandoned, never reissued.
	id, err = c.NextID(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(11), id)
}

func TestBlockCache_Snapshot(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, counterstore.NewMemoryStore())

	for range 3 {
		_, err := c.NextIDWithBlockSize(ctx, "orders", 5)
		require.NoError(t, err)
	}

	assert.Equal(t, map[string]seqcache.BlockInfo{
		"orders": {Start: 1, End: 6, Remaining: 2},
	}, c.Snapshot())
}

func TestBlockCache_Logging(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := seqcache.NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	conflicting := testutil.NewConflictingStore(counterstore.NewMemoryStore(), 1)
	c := newCache(t, conflicting, seqcache.WithLogger(logger))

	_, err := c.NextID(ctx, "orders")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"msg":"sequence created"`)
	assert.Contains(t, out, `"msg":"conditional advance lost race"`)
	assert.Contains(t, out, `"msg":"block reserved"`)
	assert.Contains(t, out, `"sequence":"orders"`)
}

func TestBlockCache_LoggingPendingCreate(t *testing.T) {
	var buf bytes.Buffer
	logger := seqcache.NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	lagging := testutil.NewLaggingStore(counterstore.NewMemoryStore(), 1)
	c := newCache(t, lagging, seqcache.WithLogger(logger))

	_, err := c.NextID(context.Background(), "invoices")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"msg":"created counter not visible yet"`)
	assert.Contains(t, out, `"reread":1`)
	assert.Contains(t, out, `"sequence":"invoices"`)
}

func TestBlockCache_MetricsOnFailure(t *testing.T) {
	failing := testutil.NewFailingStore(counterstore.NewMemoryStore())
	failing.FailReads(errors.New("down"))
	metrics := &seqcache.BasicMetricsCollector{}
	c := newCache(t, failing, seqcache.WithMetricsCollector(metrics), seqcache.WithLogger(nil))

	_, err := c.NextID(context.Background(), "orders")
	require.Error(t, err)

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.RefillCount)
	assert.Equal(t, int64(1), stats.RefillErrors)
	assert.Equal(t, int64(0), stats.ReservedIDs)
}

func TestCreatePolicy_String(t *testing.T) {
	assert.Equal(t, "auto-create", seqcache.AutoCreate.String())
	assert.Equal(t, "fail-if-missing", seqcache.FailIfMissing.String())
	assert.Equal(t, "unknown", seqcache.CreatePolicy(9).String())
}

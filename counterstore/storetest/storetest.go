// Package storetest provides a conformance suite for counterstore.Store
// implementations.
//
//	func TestSQLiteStore(t *testing.T) {
//	    storetest.Run(t, func(t *testing.T) counterstore.Store {
//	        return newTestStore(t)
//	    })
//	}
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/seqcache/counterstore"
)

// Factory returns a fresh, empty store. Cleanup should be registered on t.
type Factory func(t *testing.T) counterstore.Store

// Run exercises the counterstore.Store contract against stores produced by
// newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("ReadMissing", func(t *testing.T) {
		s := newStore(t)
		_, found, err := s.ReadCurrentValue(context.Background(), "missing")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("CreateStartsAtZero", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		require.NoError(t, s.CreateIfAbsent(ctx, "orders"))

		v, found, err := s.ReadCurrentValue(ctx, "orders")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, int64(0), v)
	})

	t.Run("CreateIsIdempotent", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		require.NoError(t, s.CreateIfAbsent(ctx, "orders"))
		ok, err := s.ConditionalAdvance(ctx, "orders", 0, 10)
		require.NoError(t, err)
		require.True(t, ok)

		// A second create must not reset the counter.
		require.NoError(t, s.CreateIfAbsent(ctx, "orders"))

		v, _, err := s.ReadCurrentValue(ctx, "orders")
		require.NoError(t, err)
		assert.Equal(t, int64(10), v)
	})

	t.Run("ConditionalAdvance", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.CreateIfAbsent(ctx, "orders"))

		ok, err := s.ConditionalAdvance(ctx, "orders", 0, 10)
		require.NoError(t, err)
		assert.True(t, ok)

		// Stale expectation loses.
		ok, err = s.ConditionalAdvance(ctx, "orders", 0, 20)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.ConditionalAdvance(ctx, "orders", 10, 20)
		require.NoError(t, err)
		assert.True(t, ok)

		v, _, err := s.ReadCurrentValue(ctx, "orders")
		require.NoError(t, err)
		assert.Equal(t, int64(20), v)
	})

	t.Run("ConditionalAdvanceMissing", func(t *testing.T) {
		s := newStore(t)
		ok, err := s.ConditionalAdvance(context.Background(), "missing", 0, 10)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("SequencesAreIndependent", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.CreateIfAbsent(ctx, "a"))
		require.NoError(t, s.CreateIfAbsent(ctx, "b"))

		ok, err := s.ConditionalAdvance(ctx, "a", 0, 5)
		require.NoError(t, err)
		require.True(t, ok)

		v, _, err := s.ReadCurrentValue(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, int64(0), v)
	})

	t.Run("DistinctNamesDoNotAlias", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.CreateIfAbsent(ctx, "a/b"))
		ok, err := s.ConditionalAdvance(ctx, "a/b", 0, 10)
		require.NoError(t, err)
		require.True(t, ok)

		for _, name := range []string{"a//b/", "x/../a/b", "./a/b", "a/b/"} {
			_, found, err := s.ReadCurrentValue(ctx, name)
			require.NoError(t, err)
			assert.False(t, found, name)
		}

		require.NoError(t, s.CreateIfAbsent(ctx, "a//b/"))
		v, found, err := s.ReadCurrentValue(ctx, "a//b/")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, int64(0), v)

		v, _, err = s.ReadCurrentValue(ctx, "a/b")
		require.NoError(t, err)
		assert.Equal(t, int64(10), v)

		if lister, ok := s.(counterstore.Lister); ok {
			names, err := lister.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"a//b/", "a/b"}, names)
		}
	})

	t.Run("ConcurrentAdvanceHasSingleWinner", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.CreateIfAbsent(ctx, "orders"))

		const workers = 8
		var wins atomic.Int64
		var wg sync.WaitGroup
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.ConditionalAdvance(ctx, "orders", 0, 100)
				assert.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(1), wins.Load())
	})

	t.Run("ConcurrentCreate", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, s.CreateIfAbsent(ctx, "orders"))
			}()
		}
		wg.Wait()

		v, found, err := s.ReadCurrentValue(ctx, "orders")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, int64(0), v)
	})

	t.Run("List", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		lister, ok := s.(counterstore.Lister)
		if !ok {
			t.Skip("store does not implement Lister")
		}

		for i := 3; i > 0; i-- {
			require.NoError(t, s.CreateIfAbsent(ctx, fmt.Sprintf("seq-%d", i)))
		}

		names, err := lister.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"seq-1", "seq-2", "seq-3"}, names)
	})
}

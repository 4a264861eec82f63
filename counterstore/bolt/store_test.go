package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/hupe1980/seqcache/counterstore"
	"github.com/hupe1980/seqcache/counterstore/storetest"
)

func newTestStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := New(Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) counterstore.Store {
		return newTestStore(t, filepath.Join(t.TempDir(), "seq.db"))
	})
}

func TestStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "seq.db")

	s, err := New(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.CreateIfAbsent(ctx, "orders"))
	ok, err := s.ConditionalAdvance(ctx, "orders", 0, 30)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.Close())

	s = newTestStore(t, path)
	v, found, err := s.ReadCurrentValue(ctx, "orders")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(30), v)
}

func TestStore_NegativeValueRoundTrips(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, filepath.Join(t.TempDir(), "seq.db"))

	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte("orders"), encode(-3))
	})
	require.NoError(t, err)

	v, found, err := s.ReadCurrentValue(ctx, "orders")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(-3), v)
}

func TestStore_MalformedValue(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, filepath.Join(t.TempDir(), "seq.db"))

	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte("orders"), []byte("x"))
	})
	require.NoError(t, err)

	_, _, err = s.ReadCurrentValue(ctx, "orders")
	assert.ErrorIs(t, err, counterstore.ErrMalformedValue)

	_, err = s.ConditionalAdvance(ctx, "orders", 0, 1)
	assert.ErrorIs(t, err, counterstore.ErrMalformedValue)
}

func TestNew_RequiresPath(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

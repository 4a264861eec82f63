package counterstore

import (
	"context"

	"github.com/hupe1980/seqcache/resource"
)

// LimitedStore wraps a Store and admits every call through a
// resource.Controller, bounding concurrency and call rate against the
// backing store.
type LimitedStore struct {
	inner Store
	rc    *resource.Controller
}

// NewLimitedStore creates a new LimitedStore.
func NewLimitedStore(inner Store, rc *resource.Controller) *LimitedStore {
	return &LimitedStore{
		inner: inner,
		rc:    rc,
	}
}

// ReadCurrentValue implements Store.
func (s *LimitedStore) ReadCurrentValue(ctx context.Context, name string) (int64, bool, error) {
	if err := s.rc.Acquire(ctx); err != nil {
		return 0, false, err
	}
	defer s.rc.Release()

	return s.inner.ReadCurrentValue(ctx, name)
}

// CreateIfAbsent implements Store.
func (s *LimitedStore) CreateIfAbsent(ctx context.Context, name string) error {
	if err := s.rc.Acquire(ctx); err != nil {
		return err
	}
	defer s.rc.Release()

	return s.inner.CreateIfAbsent(ctx, name)
}

// ConditionalAdvance implements Store.
func (s *LimitedStore) ConditionalAdvance(ctx context.Context, name string, expected, next int64) (bool, error) {
	if err := s.rc.Acquire(ctx); err != nil {
		return false, err
	}
	defer s.rc.Release()

	return s.inner.ConditionalAdvance(ctx, name, expected, next)
}

// List implements Lister if the wrapped store does.
func (s *LimitedStore) List(ctx context.Context) ([]string, error) {
	lister, ok := s.inner.(Lister)
	if !ok {
		return nil, ErrNotListable
	}

	if err := s.rc.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.rc.Release()

	return lister.List(ctx)
}

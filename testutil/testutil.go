package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/seqcache/counterstore"
)

// CountingStore wraps a counterstore.Store and counts calls per operation.
// It is safe for concurrent use.
type CountingStore struct {
	inner counterstore.Store

	reads    atomic.Int64
	creates  atomic.Int64
	advances atomic.Int64
	wins     atomic.Int64
}

// NewCountingStore creates a new CountingStore.
func NewCountingStore(inner counterstore.Store) *CountingStore {
	return &CountingStore{inner: inner}
}

// ReadCurrentValue implements counterstore.Store.
func (s *CountingStore) ReadCurrentValue(ctx context.Context, name string) (int64, bool, error) {
	s.reads.Add(1)
	return s.inner.ReadCurrentValue(ctx, name)
}

// CreateIfAbsent implements counterstore.Store.
func (s *CountingStore) CreateIfAbsent(ctx context.Context, name string) error {
	s.creates.Add(1)
	return s.inner.CreateIfAbsent(ctx, name)
}

// ConditionalAdvance implements counterstore.Store.
func (s *CountingStore) ConditionalAdvance(ctx context.Context, name string, expected, next int64) (bool, error) {
	s.advances.Add(1)
	ok, err := s.inner.ConditionalAdvance(ctx, name, expected, next)
	if ok {
		s.wins.Add(1)
	}
	return ok, err
}

// Reads returns the number of ReadCurrentValue calls.
func (s *CountingStore) Reads() int64 { return s.reads.Load() }

// Creates returns the number of CreateIfAbsent calls.
func (s *CountingStore) Creates() int64 { return s.creates.Load() }

// Advances returns the number of ConditionalAdvance calls.
func (s *CountingStore) Advances() int64 { return s.advances.Load() }

// Reservations returns the number of ConditionalAdvance calls that won.
func (s *CountingStore) Reservations() int64 { return s.wins.Load() }

// RoundTrips returns the total number of store calls.
func (s *CountingStore) RoundTrips() int64 {
	return s.reads.Load() + s.creates.Load() + s.advances.Load()
}

// ConflictingStore wraps a counterstore.Store and makes the next N
// ConditionalAdvance calls report a lost race. Before reporting the loss it
// advances the real counter by Step, simulating a peer process that
// reserved a block in between.
type ConflictingStore struct {
	inner counterstore.Store

	mu        sync.Mutex
	remaining int
	step      int64
	lost      int
}

// NewConflictingStore creates a store that loses the next n advances.
// Each simulated peer reservation advances the counter by 1.
func NewConflictingStore(inner counterstore.Store, n int) *ConflictingStore {
	return &ConflictingStore{
		inner:     inner,
		remaining: n,
		step:      1,
	}
}

// WithPeerStep sets how far each simulated peer reservation advances the
// counter. A step of 0 reports lost races without moving the counter.
func (s *ConflictingStore) WithPeerStep(step int64) *ConflictingStore {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.step = step
	return s
}

// Lose makes the next n advances report a lost race.
func (s *ConflictingStore) Lose(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.remaining = n
}

// Lost returns the number of races reported lost so far.
func (s *ConflictingStore) Lost() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lost
}

// ReadCurrentValue implements counterstore.Store.
func (s *ConflictingStore) ReadCurrentValue(ctx context.Context, name string) (int64, bool, error) {
	return s.inner.ReadCurrentValue(ctx, name)
}

// CreateIfAbsent implements counterstore.Store.
func (s *ConflictingStore) CreateIfAbsent(ctx context.Context, name string) error {
	return s.inner.CreateIfAbsent(ctx, name)
}

// ConditionalAdvance implements counterstore.Store.
func (s *ConflictingStore) ConditionalAdvance(ctx context.Context, name string, expected, next int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.remaining > 0 {
		s.remaining--
		s.lost++
		if s.step > 0 {
			if _, err := s.inner.ConditionalAdvance(ctx, name, expected, expected+s.step); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	return s.inner.ConditionalAdvance(ctx, name, expected, next)
}

// FailingStore wraps a counterstore.Store and returns injected errors.
// A nil error disables injection for that operation.
type FailingStore struct {
	inner counterstore.Store

	mu         sync.Mutex
	readErr    error
	createErr  error
	advanceErr error
}

// NewFailingStore creates a new FailingStore with no failures injected.
func NewFailingStore(inner counterstore.Store) *FailingStore {
	return &FailingStore{inner: inner}
}

// FailReads makes ReadCurrentValue return err.
func (s *FailingStore) FailReads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

// FailCreates makes CreateIfAbsent return err.
func (s *FailingStore) FailCreates(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createErr = err
}

// FailAdvances makes ConditionalAdvance return err.
func (s *FailingStore) FailAdvances(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceErr = err
}

// ReadCurrentValue implements counterstore.Store.
func (s *FailingStore) ReadCurrentValue(ctx context.Context, name string) (int64, bool, error) {
	s.mu.Lock()
	err := s.readErr
	s.mu.Unlock()
	if err != nil {
		return 0, false, err
	}
	return s.inner.ReadCurrentValue(ctx, name)
}

// CreateIfAbsent implements counterstore.Store.
func (s *FailingStore) CreateIfAbsent(ctx context.Context, name string) error {
	s.mu.Lock()
	err := s.createErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.inner.CreateIfAbsent(ctx, name)
}

// ConditionalAdvance implements counterstore.Store.
func (s *FailingStore) ConditionalAdvance(ctx context.Context, name string, expected, next int64) (bool, error) {
	s.mu.Lock()
	err := s.advanceErr
	s.mu.Unlock()
	if err != nil {
		return false, err
	}
	return s.inner.ConditionalAdvance(ctx, name, expected, next)
}

// LaggingStore wraps a counterstore.Store whose creates take a while to
// become readable. After each successful CreateIfAbsent the created counter
// reads as absent for the next Hidden reads of that name.
type LaggingStore struct {
	inner  counterstore.Store
	hidden int

	mu      sync.Mutex
	pending map[string]int
}

// NewLaggingStore creates a store that hides created counters for the next
// hidden reads.
func NewLaggingStore(inner counterstore.Store, hidden int) *LaggingStore {
	return &LaggingStore{
		inner:   inner,
		hidden:  hidden,
		pending: make(map[string]int),
	}
}

// ReadCurrentValue implements counterstore.Store.
func (s *LaggingStore) ReadCurrentValue(ctx context.Context, name string) (int64, bool, error) {
	s.mu.Lock()
	if n := s.pending[name]; n > 0 {
		s.pending[name] = n - 1
		s.mu.Unlock()
		return 0, false, nil
	}
	s.mu.Unlock()

	return s.inner.ReadCurrentValue(ctx, name)
}

// CreateIfAbsent implements counterstore.Store.
func (s *LaggingStore) CreateIfAbsent(ctx context.Context, name string) error {
	if err := s.inner.CreateIfAbsent(ctx, name); err != nil {
		return err
	}

	s.mu.Lock()
	s.pending[name] = s.hidden
	s.mu.Unlock()
	return nil
}

// ConditionalAdvance implements counterstore.Store.
func (s *LaggingStore) ConditionalAdvance(ctx context.Context, name string, expected, next int64) (bool, error) {
	return s.inner.ConditionalAdvance(ctx, name, expected, next)
}

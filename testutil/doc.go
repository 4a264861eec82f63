// Package testutil provides testing utilities for seqcache.
//
// This package is intended for use in tests and benchmarks only.
// It provides counter store doubles that count calls, lose conditional
// advances on demand, fail with injected errors, or hide freshly created
// counters for a number of reads.
//
// # Call Counting
//
//	store := testutil.NewCountingStore(counterstore.NewMemoryStore())
//	cache, _ := seqcache.New(store)
//	// ...
//	store.Advances() // number of ConditionalAdvance calls
//
// # Lost Races
//
//	store := testutil.NewConflictingStore(counterstore.NewMemoryStore(), 3)
//	// the next 3 ConditionalAdvance calls report a lost race
//
// # Error Injection
//
//	store := testutil.NewFailingStore(counterstore.NewMemoryStore())
//	store.FailReads(errors.New("connection reset"))
//
// # Delayed Visibility
//
//	store := testutil.NewLaggingStore(counterstore.NewMemoryStore(), 2)
//	// a created counter reads as absent for the next 2 reads
package testutil

// Package seqcache hands out globally unique, monotonically increasing int64
// ids per named sequence while keeping round trips to a shared counter store
// rare.
//
// A BlockCache reserves a contiguous block of ids from the store with one
// read and one conditional advance, then dispenses them from memory with a
// single atomic increment per id. Many processes can share one store: the
// conditional advance guarantees that the blocks they reserve never overlap.
//
// # Quick Start
//
//	store := counterstore.NewMemoryStore()
//	cache, _ := seqcache.New(store)
//
//	id, err := cache.NextID(ctx, "orders") // 1, 2, 3, ...
//
// Durable stores:
//
//	sqliteStore, _ := sqlite.New(sqlite.Config{DSN: "file:seq.db"})
//	boltStore, _ := bolt.New(bolt.Config{Path: "seq.bolt"})
//	ddbStore, _ := dynamodb.New(ctx, "sequences")
//	s3Store, _ := s3.New(ctx, "my-bucket", s3.WithPrefix("sequences/"))
//
// # Block Sizes
//
// The block size trades store load for the size of gaps left behind when a
// process exits with unused ids. NextID uses the default (10, or the value
// given to WithDefaultBlockSize); NextIDWithBlockSize picks one per call:
//
//	id, err := cache.NextIDWithBlockSize(ctx, "events", 1000)
//
// Ids are unique and increase within one process. Across processes they are
// unique but not ordered, and ids abandoned in a cached block are never
// reissued.
//
// # Unknown Sequences
//
// By default a sequence is created at 0 on first use. With
// WithCreatePolicy(FailIfMissing) unknown names fail with ErrUnknownSequence
// and must be created up front with CreateSequence.
//
// # Errors
//
// Failures surface as typed errors matching sentinels via errors.Is:
// ErrStore for store I/O, ErrCorruptCounter for a negative stored counter,
// ErrCounterOverflow when int64 space runs out. Lost races against other
// writers are retried internally and never surface, unless a bounded
// WithConflictBackOff policy gives up (ErrTooManyConflicts).
//
// # Observability
//
// Refills are reported to a MetricsCollector (see metrics/prometheus) and
// logged through a slog-based Logger. Dispensing from a cached block is never
// instrumented.
package seqcache

// Package counterstore provides the backing counter store abstraction used
// by seqcache to reserve id blocks.
//
// A Store maps a sequence name to its high-water mark and exposes three
// primitives: read the current value, create the counter if absent, and a
// single-row compare-and-swap (ConditionalAdvance). Implementations must be
// safe for concurrent use by many processes.
//
// # Built-in Implementations
//
//   - MemoryStore: in-process map, for tests and single-process use
//   - sqlite.Store: SQLite table via modernc.org/sqlite
//   - bolt.Store: local bbolt file
//   - dynamodb.Store: DynamoDB conditional writes
//   - s3.Store: one S3 object per sequence, ETag conditional writes
//   - minio.Store: the same scheme on MinIO and S3-compatible storage
//
// # Custom Implementations
//
//	type Store interface {
//	    ReadCurrentValue(ctx, name) (value int64, found bool, err error)
//	    CreateIfAbsent(ctx, name) error
//	    ConditionalAdvance(ctx, name, expected, next int64) (bool, error)
//	}
//
// Run storetest.Run against a custom store to check the contract.
package counterstore

// Package bolt provides a bbolt implementation of counterstore.Store.
//
// Counters are stored in one bucket as 8-byte big-endian values keyed by
// sequence name. bbolt serializes writers inside the file, so every
// primitive is a single transaction. The file is locked by one process at a
// time; use it for single-host deployments that still need ids to survive
// restarts.
package bolt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hupe1980/seqcache/counterstore"
)

const defaultBucket = "sequences"

// Config configures the bbolt counter store.
type Config struct {
	// Path is the database file path.
	Path string

	// Bucket is the bucket holding the counters (default "sequences").
	Bucket string

	// OpenTimeout bounds the wait for the file lock (default 1s).
	OpenTimeout time.Duration
}

// Store persists sequence counters in a bbolt file.
type Store struct {
	db     *bolt.DB
	bucket []byte
}

// New opens (or creates) a bbolt counter store.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("bolt: path is required")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = defaultBucket
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = time.Second
	}

	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: cfg.OpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %q: %w", cfg.Path, err)
	}

	bucket := []byte(cfg.Bucket)
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt: create bucket: %w", err)
	}

	return &Store{db: db, bucket: bucket}, nil
}

// ReadCurrentValue implements counterstore.Store.
func (s *Store) ReadCurrentValue(ctx context.Context, name string) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	var (
		v     int64
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(s.bucket).Get([]byte(name))
		if raw == nil {
			return nil
		}
		var err error
		v, err = decode(raw)
		found = err == nil
		return err
	})
	if err != nil {
		return 0, false, fmt.Errorf("bolt: read %q: %w", name, err)
	}
	return v, found, nil
}

// CreateIfAbsent implements counterstore.Store.
func (s *Store) CreateIfAbsent(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b.Get([]byte(name)) != nil {
			return nil
		}
		return b.Put([]byte(name), encode(0))
	})
	if err != nil {
		return fmt.Errorf("bolt: create %q: %w", name, err)
	}
	return nil
}

// ConditionalAdvance implements counterstore.Store.
func (s *Store) ConditionalAdvance(ctx context.Context, name string, expected, next int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var applied bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		raw := b.Get([]byte(name))
		if raw == nil {
			return nil
		}
		cur, err := decode(raw)
		if err != nil {
			return err
		}
		if cur != expected {
			return nil
		}
		if err := b.Put([]byte(name), encode(next)); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("bolt: advance %q: %w", name, err)
	}
	return applied, nil
}

// List implements counterstore.Lister. bbolt keeps keys sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("bolt: list: %w", err)
	}
	return names, nil
}

// Close closes the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func encode(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func decode(raw []byte) (int64, error) {
	if len(raw) != 8 {
		return 0, fmt.Errorf("%w: %d bytes", counterstore.ErrMalformedValue, len(raw))
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}

// Compile-time interface checks.
var (
	_ counterstore.Store  = (*Store)(nil)
	_ counterstore.Lister = (*Store)(nil)
)

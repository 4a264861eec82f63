// Package sqlite provides a SQLite implementation of counterstore.Store.
//
// Counters live in a single table, one row per sequence:
//
//	CREATE TABLE sequences (name TEXT PRIMARY KEY, value INTEGER NOT NULL, updated_at TEXT NOT NULL)
//
// The three store primitives map onto SELECT, INSERT OR IGNORE and
// UPDATE ... WHERE value = ?, so several processes may share one database
// file.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/seqcache/counterstore"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// Config configures the SQLite counter store.
type Config struct {
	// DSN is the database connection string, e.g. "file:ids.db".
	DSN string

	// BusyTimeout is how long a writer waits on a locked database
	// (default 5s).
	BusyTimeout time.Duration

	// MaxOpenConns limits the connection pool (default 1).
	MaxOpenConns int
}

// Store persists sequence counters in SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite counter store.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("sqlite: dsn is required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 1
	}

	db, err := sql.Open("sqlite", withBusyTimeout(cfg.DSN, cfg.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	// Enable WAL mode for concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// NewFromDB wraps an already opened database. The caller keeps ownership of
// db; the schema is created if missing.
func NewFromDB(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// ReadCurrentValue implements counterstore.Store.
func (s *Store) ReadCurrentValue(ctx context.Context, name string) (int64, bool, error) {
	var v int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM sequences WHERE name = ?`, name,
	).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("sqlite: read %q: %w", name, err)
	}
	return v, true, nil
}

// CreateIfAbsent implements counterstore.Store.
func (s *Store) CreateIfAbsent(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sequences (name, value, updated_at) VALUES (?, 0, ?)`,
		name, now(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create %q: %w", name, err)
	}
	return nil
}

// ConditionalAdvance implements counterstore.Store.
func (s *Store) ConditionalAdvance(ctx context.Context, name string, expected, next int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sequences SET value = ?, updated_at = ? WHERE name = ? AND value = ?`,
		next, now(), name, expected,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: advance %q: %w", name, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: advance %q rows affected: %w", name, err)
	}
	return n == 1, nil
}

// List implements counterstore.Lister.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sequences ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("sqlite: scan name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// withBusyTimeout adds a busy_timeout pragma to the DSN so it applies to
// every pooled connection.
func withBusyTimeout(dsn string, d time.Duration) string {
	if strings.Contains(dsn, "busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)", dsn, sep, d.Milliseconds())
}

// Compile-time interface checks.
var (
	_ counterstore.Store  = (*Store)(nil)
	_ counterstore.Lister = (*Store)(nil)
)

// Package config loads the seqctl configuration file.
//
// A minimal file selects a backend:
//
//	backend:
//	  type: sqlite
//	  sqlite:
//	    dsn: file:ids.db
//
// String values are expanded against the environment, so credentials can be
// written as ${MINIO_SECRET_KEY}.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/seqcache"
)

// Backend types.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendBolt     = "bolt"
	BackendDynamoDB = "dynamodb"
	BackendS3       = "s3"
	BackendMinIO    = "minio"
)

// File is the top-level configuration file shape.
type File struct {
	Backend Backend `yaml:"backend"`
	Cache   Cache   `yaml:"cache,omitempty"`
	Limits  Limits  `yaml:"limits,omitempty"`
	Log     Log     `yaml:"log,omitempty"`
}

// Backend selects and configures the counter store.
type Backend struct {
	Type     string          `yaml:"type"`
	SQLite   *SQLiteConfig   `yaml:"sqlite,omitempty"`
	Bolt     *BoltConfig     `yaml:"bolt,omitempty"`
	DynamoDB *DynamoDBConfig `yaml:"dynamodb,omitempty"`
	S3       *S3Config       `yaml:"s3,omitempty"`
	MinIO    *MinIOConfig    `yaml:"minio,omitempty"`
}

type SQLiteConfig struct {
	DSN          string        `yaml:"dsn"`
	BusyTimeout  time.Duration `yaml:"busy_timeout,omitempty"`
	MaxOpenConns int           `yaml:"max_open_conns,omitempty"`
}

type BoltConfig struct {
	Path        string        `yaml:"path"`
	Bucket      string        `yaml:"bucket,omitempty"`
	OpenTimeout time.Duration `yaml:"open_timeout,omitempty"`
}

type DynamoDBConfig struct {
	Table  string `yaml:"table"`
	Region string `yaml:"region,omitempty"`
}

type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix,omitempty"`
	Region   string `yaml:"region,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure,omitempty"`
	Region    string `yaml:"region,omitempty"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix,omitempty"`
}

// Cache configures the BlockCache.
type Cache struct {
	BlockSize    int64  `yaml:"block_size,omitempty"`
	CreatePolicy string `yaml:"create_policy,omitempty"`
}

// Limits bounds the load put on the backend. Zero means unlimited.
type Limits struct {
	MaxConcurrentOps int64   `yaml:"max_concurrent_ops,omitempty"`
	OpsPerSecond     float64 `yaml:"ops_per_second,omitempty"`
	Burst            int     `yaml:"burst,omitempty"`
}

// Log configures diagnostics written to stderr.
type Log struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// Default returns the configuration used when no file is given: an in-memory
// backend with the library defaults.
func Default() *File {
	return &File{
		Backend: Backend{Type: BackendMemory},
		Cache: Cache{
			BlockSize:    seqcache.DefaultBlockSize,
			CreatePolicy: seqcache.AutoCreate.String(),
		},
		Log: Log{Level: "warn", Format: "text"},
	}
}

// Load reads and validates the configuration file at path.
func Load(path string) (*File, error) {
	// #nosec G304 -- path comes from the command line.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a configuration document. Unset fields keep
// the values of Default.
func Parse(data []byte) (*File, error) {
	cfg := Default()

	expanded := os.ExpandEnv(string(data))
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the selected backend has the settings it needs.
func (f *File) Validate() error {
	var errs []error

	b := f.Backend
	switch b.Type {
	case BackendMemory:
	case BackendSQLite:
		if b.SQLite == nil || b.SQLite.DSN == "" {
			errs = append(errs, errors.New("backend.sqlite.dsn is required"))
		}
	case BackendBolt:
		if b.Bolt == nil || b.Bolt.Path == "" {
			errs = append(errs, errors.New("backend.bolt.path is required"))
		}
	case BackendDynamoDB:
		if b.DynamoDB == nil || b.DynamoDB.Table == "" {
			errs = append(errs, errors.New("backend.dynamodb.table is required"))
		}
	case BackendS3:
		if b.S3 == nil || b.S3.Bucket == "" {
			errs = append(errs, errors.New("backend.s3.bucket is required"))
		}
	case BackendMinIO:
		if b.MinIO == nil || b.MinIO.Endpoint == "" || b.MinIO.Bucket == "" {
			errs = append(errs, errors.New("backend.minio.endpoint and backend.minio.bucket are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend type %q", b.Type))
	}

	if f.Cache.BlockSize < 1 {
		errs = append(errs, fmt.Errorf("cache.block_size must be >= 1, got %d", f.Cache.BlockSize))
	}
	if _, err := ParseCreatePolicy(f.Cache.CreatePolicy); err != nil {
		errs = append(errs, err)
	}

	if f.Limits.MaxConcurrentOps < 0 || f.Limits.OpsPerSecond < 0 || f.Limits.Burst < 0 {
		errs = append(errs, errors.New("limits must not be negative"))
	}

	if _, err := ParseLevel(f.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch f.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", f.Log.Format))
	}

	return errors.Join(errs...)
}

// ParseCreatePolicy maps the names printed by seqcache.CreatePolicy.String
// back to the policy.
func ParseCreatePolicy(s string) (seqcache.CreatePolicy, error) {
	switch s {
	case seqcache.AutoCreate.String():
		return seqcache.AutoCreate, nil
	case seqcache.FailIfMissing.String():
		return seqcache.FailIfMissing, nil
	default:
		return 0, fmt.Errorf("unknown create policy %q", s)
	}
}

// ParseLevel parses a slog level name such as "debug" or "warn".
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

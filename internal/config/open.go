package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/hupe1980/seqcache"
	"github.com/hupe1980/seqcache/counterstore"
	"github.com/hupe1980/seqcache/counterstore/bolt"
	"github.com/hupe1980/seqcache/counterstore/dynamodb"
	"github.com/hupe1980/seqcache/counterstore/minio"
	"github.com/hupe1980/seqcache/counterstore/s3"
	"github.com/hupe1980/seqcache/counterstore/sqlite"
	"github.com/hupe1980/seqcache/resource"
)

// OpenStore connects to the configured backend. The returned close function
// releases file handles and is safe to call for backends without any.
// When limits are configured the store is wrapped in a
// counterstore.LimitedStore.
func (f *File) OpenStore(ctx context.Context) (counterstore.Store, func() error, error) {
	store, closeFn, err := openBackend(ctx, f.Backend)
	if err != nil {
		return nil, nil, err
	}

	if f.Limits != (Limits{}) {
		rc := resource.NewController(resource.Config{
			MaxConcurrentOps: f.Limits.MaxConcurrentOps,
			OpsPerSecond:     f.Limits.OpsPerSecond,
			Burst:            f.Limits.Burst,
		})
		store = counterstore.NewLimitedStore(store, rc)
	}

	return store, closeFn, nil
}

func noopClose() error { return nil }

func openBackend(ctx context.Context, b Backend) (counterstore.Store, func() error, error) {
	switch b.Type {
	case BackendMemory:
		return counterstore.NewMemoryStore(), noopClose, nil

	case BackendSQLite:
		s, err := sqlite.New(sqlite.Config{
			DSN:          b.SQLite.DSN,
			BusyTimeout:  b.SQLite.BusyTimeout,
			MaxOpenConns: b.SQLite.MaxOpenConns,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case BackendBolt:
		s, err := bolt.New(bolt.Config{
			Path:        b.Bolt.Path,
			Bucket:      b.Bolt.Bucket,
			OpenTimeout: b.Bolt.OpenTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case BackendDynamoDB:
		var loadOpts []func(*awsconfig.LoadOptions) error
		if b.DynamoDB.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(b.DynamoDB.Region))
		}
		s, err := dynamodb.New(ctx, b.DynamoDB.Table, loadOpts...)
		if err != nil {
			return nil, nil, err
		}
		return s, noopClose, nil

	case BackendS3:
		opts := []s3.Option{s3.WithPrefix(b.S3.Prefix)}
		if b.S3.Region != "" {
			opts = append(opts, s3.WithRegion(b.S3.Region))
		}
		if b.S3.Endpoint != "" {
			opts = append(opts, s3.WithEndpoint(b.S3.Endpoint))
		}
		s, err := s3.New(ctx, b.S3.Bucket, opts...)
		if err != nil {
			return nil, nil, err
		}
		return s, noopClose, nil

	case BackendMinIO:
		s, err := minio.New(minio.Config{
			Endpoint:  b.MinIO.Endpoint,
			AccessKey: b.MinIO.AccessKey,
			SecretKey: b.MinIO.SecretKey,
			Secure:    b.MinIO.Secure,
			Region:    b.MinIO.Region,
			Bucket:    b.MinIO.Bucket,
			Prefix:    b.MinIO.Prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, noopClose, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend type %q", b.Type)
	}
}

// Logger builds the diagnostics logger described by the Log section.
func (f *File) Logger() *seqcache.Logger {
	level, err := ParseLevel(f.Log.Level)
	if err != nil {
		level = slog.LevelWarn
	}

	opts := &slog.HandlerOptions{Level: level}
	if f.Log.Format == "json" {
		return seqcache.NewLogger(slog.NewJSONHandler(os.Stderr, opts))
	}
	return seqcache.NewLogger(slog.NewTextHandler(os.Stderr, opts))
}

// CacheOptions translates the Cache section into BlockCache options.
func (f *File) CacheOptions() []seqcache.Option {
	policy, err := ParseCreatePolicy(f.Cache.CreatePolicy)
	if err != nil {
		policy = seqcache.AutoCreate
	}

	return []seqcache.Option{
		seqcache.WithDefaultBlockSize(f.Cache.BlockSize),
		seqcache.WithCreatePolicy(policy),
		seqcache.WithLogger(f.Logger()),
	}
}

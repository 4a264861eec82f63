package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/seqcache/counterstore"
)

// Config describes a MinIO connection for New.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
	Region    string
	Bucket    string
	Prefix    string
}

// PutCondition guards a conditional write. The zero value writes
// unconditionally.
type PutCondition struct {
	// IfMatch is the ETag the object must currently carry.
	IfMatch string
	// IfNoneMatch requires that no object exists under the key.
	IfNoneMatch bool
}

// Client is the object storage surface the store needs. Errors should be
// minio.ErrorResponse values (or wrap one) so that missing objects and
// failed conditions can be told apart.
type Client interface {
	Get(ctx context.Context, bucket, key string) (data []byte, etag string, err error)
	Put(ctx context.Context, bucket, key string, data []byte, cond PutCondition) error
	List(ctx context.Context, bucket, prefix string) ([]string, error)
}

// Store implements counterstore.Store for MinIO and S3-compatible storage.
type Store struct {
	client Client
	bucket string
	prefix string
}

// New creates a MinIO client from cfg and wraps it in a Store.
func New(cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("minio: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("minio: bucket is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio: new client: %w", err)
	}

	return NewStore(client, cfg.Bucket, cfg.Prefix), nil
}

// NewStore creates a new MinIO counter store.
// bucket is the MinIO bucket name.
// rootPrefix is prepended to all keys (e.g. "sequences/").
func NewStore(client *minio.Client, bucket, rootPrefix string) *Store {
	return NewStoreWithClient(&sdkClient{client: client}, bucket, rootPrefix)
}

// NewStoreWithClient creates a counter store on top of any Client.
func NewStoreWithClient(client Client, bucket, rootPrefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: rootPrefix,
	}
}

// key maps a sequence name to its object key. Names are not cleaned, so
// "a//b" and "a/b" are different counters.
func (s *Store) key(name string) string {
	return s.listPrefix() + name
}

func (s *Store) listPrefix() string {
	if s.prefix == "" || strings.HasSuffix(s.prefix, "/") {
		return s.prefix
	}
	return s.prefix + "/"
}

// ReadCurrentValue implements counterstore.Store.
func (s *Store) ReadCurrentValue(ctx context.Context, name string) (int64, bool, error) {
	v, _, found, err := s.get(ctx, name)
	return v, found, err
}

// CreateIfAbsent implements counterstore.Store.
func (s *Store) CreateIfAbsent(ctx context.Context, name string) error {
	err := s.client.Put(ctx, s.bucket, s.key(name), counterstore.EncodeValue(0), PutCondition{IfNoneMatch: true})
	if err != nil {
		if isPreconditionFailed(err) {
			return nil
		}
		return fmt.Errorf("minio: create %q: %w", name, err)
	}
	return nil
}

// ConditionalAdvance implements counterstore.Store.
func (s *Store) ConditionalAdvance(ctx context.Context, name string, expected, next int64) (bool, error) {
	cur, etag, found, err := s.get(ctx, name)
	if err != nil {
		return false, err
	}
	if !found || cur != expected {
		return false, nil
	}

	err = s.client.Put(ctx, s.bucket, s.key(name), counterstore.EncodeValue(next), PutCondition{IfMatch: etag})
	if err != nil {
		if isPreconditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("minio: advance %q: %w", name, err)
	}
	return true, nil
}

// List implements counterstore.Lister.
func (s *Store) List(ctx context.Context) ([]string, error) {
	fullPrefix := s.listPrefix()

	keys, err := s.client.List(ctx, s.bucket, fullPrefix)
	if err != nil {
		return nil, fmt.Errorf("minio: list: %w", err)
	}

	var names []string
	for _, key := range keys {
		if name := strings.TrimPrefix(key, fullPrefix); name != "" {
			names = append(names, name)
		}
	}

	sort.Strings(names)
	return names, nil
}

// get returns the counter together with the ETag of the object it was read
// from. Value and ETag come from the same response.
func (s *Store) get(ctx context.Context, name string) (int64, string, bool, error) {
	data, etag, err := s.client.Get(ctx, s.bucket, s.key(name))
	if err != nil {
		if isNotFound(err) {
			return 0, "", false, nil
		}
		return 0, "", false, fmt.Errorf("minio: get %q: %w", name, err)
	}

	v, err := counterstore.DecodeValue(data)
	if err != nil {
		return 0, "", false, fmt.Errorf("minio: %q: %w", name, err)
	}
	return v, etag, true, nil
}

// sdkClient adapts *minio.Client to Client.
type sdkClient struct {
	client *minio.Client
}

func (c *sdkClient) Get(ctx context.Context, bucket, key string) ([]byte, string, error) {
	obj, err := c.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = obj.Close() }()

	// GetObject is lazy; Stat surfaces NoSuchKey.
	info, err := obj.Stat()
	if err != nil {
		return nil, "", err
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", err
	}
	return data, info.ETag, nil
}

func (c *sdkClient) Put(ctx context.Context, bucket, key string, data []byte, cond PutCondition) error {
	opts := minio.PutObjectOptions{ContentType: "text/plain"}
	if cond.IfNoneMatch {
		opts.SetMatchETagExcept("*")
	}
	if cond.IfMatch != "" {
		opts.SetMatchETag(cond.IfMatch)
	}

	_, err := c.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), opts)
	return err
}

func (c *sdkClient) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	for obj := range c.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	default:
		return false
	}
}

func isPreconditionFailed(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	default:
		return false
	}
}

// Compile-time interface checks.
var (
	_ counterstore.Store  = (*Store)(nil)
	_ counterstore.Lister = (*Store)(nil)
	_ Client              = (*sdkClient)(nil)
)

// Package s3 provides an Amazon S3 implementation of counterstore.Store.
//
// Each sequence is a small object holding the decimal high-water mark.
// S3 conditional writes provide the compare-and-swap:
//   - CreateIfAbsent: PutObject with If-None-Match: *
//   - ConditionalAdvance: GetObject, compare, then PutObject with If-Match
//     set to the ETag that was read
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket", s3.WithPrefix("sequences/"))
//	cache, err := seqcache.New(store)
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/hupe1980/seqcache/counterstore"
)

// Client is the subset of the S3 API used by Store.
type Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Store persists sequence counters as S3 objects.
type Store struct {
	client Client
	bucket string
	prefix string
}

// Option configures New.
type Option func(*newOptions)

type newOptions struct {
	prefix     string
	loadOpts   []func(*config.LoadOptions) error
	clientOpts []func(*s3.Options)
}

// WithPrefix sets the key prefix for counter objects (e.g. "sequences/").
func WithPrefix(prefix string) Option {
	return func(o *newOptions) { o.prefix = prefix }
}

// WithRegion sets the AWS region.
func WithRegion(region string) Option {
	return func(o *newOptions) {
		o.loadOpts = append(o.loadOpts, config.WithRegion(region))
	}
}

// WithEndpoint points the client at an S3-compatible endpoint and enables
// path-style addressing.
func WithEndpoint(endpoint string) Option {
	return func(o *newOptions) {
		o.clientOpts = append(o.clientOpts, func(so *s3.Options) {
			so.BaseEndpoint = aws.String(endpoint)
			so.UsePathStyle = true
		})
	}
}

// New creates an S3 counter store using the default AWS configuration chain.
func New(ctx context.Context, bucket string, optFns ...Option) (*Store, error) {
	var o newOptions
	for _, fn := range optFns {
		fn(&o)
	}

	cfg, err := config.LoadDefaultConfig(ctx, o.loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	return NewStore(s3.NewFromConfig(cfg, o.clientOpts...), bucket, o.prefix), nil
}

// NewStore creates a new S3 counter store.
// rootPrefix is prepended to all keys (e.g. "sequences/").
func NewStore(client Client, bucket, rootPrefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: rootPrefix,
	}
}

// root returns the key prefix shared by all counters, ending in "/" unless
// it is empty.
func (s *Store) root() string {
	if s.prefix == "" || strings.HasSuffix(s.prefix, "/") {
		return s.prefix
	}
	return s.prefix + "/"
}

// key maps a sequence name to its object key. Names are used verbatim so
// that distinct names never share an object.
func (s *Store) key(name string) string {
	return s.root() + name
}

// ReadCurrentValue implements counterstore.Store.
func (s *Store) ReadCurrentValue(ctx context.Context, name string) (int64, bool, error) {
	v, _, found, err := s.get(ctx, name)
	return v, found, err
}

// CreateIfAbsent implements counterstore.Store.
func (s *Store) CreateIfAbsent(ctx context.Context, name string) error {
	body := counterstore.EncodeValue(0)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(name)),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		IfNoneMatch:   aws.String("*"),
	})
	if err != nil {
		if isPreconditionFailed(err) {
			return nil
		}
		return fmt.Errorf("s3: create %q: %w", name, err)
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

	body := counterstore.EncodeValue(next)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(name)),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		IfMatch:       aws.String(etag),
	})
	if err != nil {
		if isPreconditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3: advance %q: %w", name, err)
	}
	return true, nil
}

// List implements counterstore.Lister.
func (s *Store) List(ctx context.Context) ([]string, error) {
	fullPrefix := s.root()

	var names []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(fullPrefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3: list: %w", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), fullPrefix)
			if name != "" {
				names = append(names, name)
			}
		}
	}

	sort.Strings(names)
	return names, nil
}

func (s *Store) get(ctx context.Context, name string) (int64, string, bool, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, "", false, nil
		}
		return 0, "", false, fmt.Errorf("s3: get %q: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", false, fmt.Errorf("s3: read %q: %w", name, err)
	}

	v, err := counterstore.DecodeValue(data)
	if err != nil {
		return 0, "", false, fmt.Errorf("s3: %q: %w", name, err)
	}
	return v, aws.ToString(resp.ETag), true, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	return errors.As(err, &nf)
}

// isPreconditionFailed reports whether a conditional write lost. S3 answers
// 412 when the condition does not hold and 409 when a concurrent
// conditional write to the same key is in progress.
func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
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
)

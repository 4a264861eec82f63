package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/seqcache/counterstore"
	"github.com/hupe1980/seqcache/counterstore/storetest"
)

type mockObject struct {
	data []byte
	etag string
}

// mockS3Client is an in-memory S3 mock honoring If-Match / If-None-Match.
type mockS3Client struct {
	mu      sync.Mutex
	objects map[string]mockObject
	version int
	getErr  error
}

func newMockS3Client() *mockS3Client {
	return &mockS3Client{objects: make(map[string]mockObject)}
}

func preconditionFailed() error {
	return &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}
}

func (m *mockS3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}

	obj, ok := m.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("not found")}
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(obj.data)),
		ETag: aws.String(obj.etag),
	}, nil
}

func (m *mockS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := aws.ToString(params.Key)
	cur, exists := m.objects[key]

	if aws.ToString(params.IfNoneMatch) == "*" && exists {
		return nil, preconditionFailed()
	}
	if params.IfMatch != nil && (!exists || cur.etag != *params.IfMatch) {
		return nil, preconditionFailed()
	}

	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	m.version++
	etag := fmt.Sprintf("%q", fmt.Sprintf("etag-%d", m.version))
	m.objects[key] = mockObject{data: data, etag: etag}
	return &s3.PutObjectOutput{ETag: aws.String(etag)}, nil
}

func (m *mockS3Client) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for key := range m.objects {
		if strings.HasPrefix(key, aws.ToString(params.Prefix)) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{}
	for _, key := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
	}
	return out, nil
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) counterstore.Store {
		return NewStore(newMockS3Client(), "test-bucket", "sequences/")
	})
}

func TestStore_Keys(t *testing.T) {
	tests := []struct {
		prefix string
		name   string
		want   string
	}{
		{"sequences/", "orders", "sequences/orders"},
		{"sequences", "orders", "sequences/orders"},
		{"", "orders", "orders"},
		{"seq", "a//b/", "seq/a//b/"},
		{"seq", "x/../a/b", "seq/x/../a/b"},
	}

	for _, tt := range tests {
		t.Run(tt.prefix+"|"+tt.name, func(t *testing.T) {
			client := newMockS3Client()
			store := NewStore(client, "test-bucket", tt.prefix)

			require.NoError(t, store.CreateIfAbsent(context.Background(), tt.name))

			obj, ok := client.objects[tt.want]
			require.True(t, ok)
			assert.Equal(t, "0", string(obj.data))
		})
	}
}

func TestStore_UncleanNamesAreDistinct(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newMockS3Client(), "b", "seq")

	require.NoError(t, store.CreateIfAbsent(ctx, "a/b"))
	ok, err := store.ConditionalAdvance(ctx, "a/b", 0, 10)
	require.NoError(t, err)
	require.True(t, ok)

	for _, name := range []string{"a//b/", "x/../a/b"} {
		_, found, err := store.ReadCurrentValue(ctx, name)
		require.NoError(t, err)
		assert.False(t, found, name)
	}

	names, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b"}, names)
}

func TestStore_AdvanceLosesToConcurrentWriter(t *testing.T) {
	ctx := context.Background()
	client := newMockS3Client()
	store := NewStore(client, "test-bucket", "")
	require.NoError(t, store.CreateIfAbsent(ctx, "orders"))

	// Another writer rewrites the object with the same value; the ETag moves.
	_, etag, _, err := store.get(ctx, "orders")
	require.NoError(t, err)
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Key:     aws.String("orders"),
		Body:    bytes.NewReader([]byte("0")),
		IfMatch: aws.String(etag),
	})
	require.NoError(t, err)

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Key:     aws.String("orders"),
		Body:    bytes.NewReader([]byte("1")),
		IfMatch: aws.String(etag),
	})
	assert.True(t, isPreconditionFailed(err))

	ok, err := store.ConditionalAdvance(ctx, "orders", 0, 10)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_MalformedObject(t *testing.T) {
	ctx := context.Background()
	client := newMockS3Client()
	client.objects["orders"] = mockObject{data: []byte("ten"), etag: `"x"`}

	_, _, err := NewStore(client, "test-bucket", "").ReadCurrentValue(ctx, "orders")
	assert.ErrorIs(t, err, counterstore.ErrMalformedValue)
}

func TestStore_PropagatesErrors(t *testing.T) {
	ctx := context.Background()
	client := newMockS3Client()
	boom := errors.New("connection reset")
	client.getErr = boom

	_, _, err := NewStore(client, "test-bucket", "").ReadCurrentValue(ctx, "orders")
	assert.ErrorIs(t, err, boom)
}

func TestIsPreconditionFailed(t *testing.T) {
	assert.True(t, isPreconditionFailed(preconditionFailed()))
	assert.True(t, isPreconditionFailed(&smithy.GenericAPIError{Code: "ConditionalRequestConflict"}))
	assert.False(t, isPreconditionFailed(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, isPreconditionFailed(errors.New("plain")))
}

func TestIntegration_S3Store(t *testing.T) {
	bucket := os.Getenv("S3_BUCKET")
	if bucket == "" {
		t.Skip("Skipping S3 integration test: S3_BUCKET not set")
	}

	ctx := context.Background()
	prefix := fmt.Sprintf("test-seqcache-%d/", time.Now().UnixNano())
	store, err := New(ctx, bucket, WithPrefix(prefix))
	require.NoError(t, err)

	require.NoError(t, store.CreateIfAbsent(ctx, "orders"))
	require.NoError(t, store.CreateIfAbsent(ctx, "orders"))

	ok, err := store.ConditionalAdvance(ctx, "orders", 0, 10)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ConditionalAdvance(ctx, "orders", 0, 10)
	require.NoError(t, err)
	assert.False(t, ok)

	names, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders"}, names)
}

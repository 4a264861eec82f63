// Package minio provides a counterstore.Store implementation using the MinIO
// client.
//
// It works against MinIO and other S3-compatible systems that honor
// conditional writes (If-Match / If-None-Match on PUT). Each sequence is a
// small object holding the decimal high-water mark, the same layout the s3
// package uses, so both packages can share a bucket.
//
// # Basic Usage
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := miniostore.NewStore(client, "my-bucket", "sequences/")
//	cache, err := seqcache.New(store)
//
// Or let the package build the client:
//
//	store, err := miniostore.New(miniostore.Config{
//	    Endpoint:  "localhost:9000",
//	    AccessKey: "minioadmin",
//	    SecretKey: "minioadmin",
//	    Bucket:    "my-bucket",
//	})
//
// NewStoreWithClient accepts any Client, which is how tests run the store
// against an in-memory object store.
package minio

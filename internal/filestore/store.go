// Package filestore defines the interface bucketdesk uses to talk to its
// object-storage provider.
//
// All providers (MinIO, AWS S3, in-memory) implement the Store interface.
// Callers depend only on this package, never on a specific provider package.
//
// Usage:
//
//	cfg := filestore.DefaultConfig("localhost:9000", "minioadmin", "minioadmin")
//	cfg.Bucket = "documents"
//	store, err := minio.New(ctx, cfg)
//	if err != nil { ... }
//	defer store.Close()
//
//	objects, err := store.ListObjects(ctx, cfg.Bucket, filestore.ListOptions{})
package filestore

import (
	"context"
	"io"
	"time"
)

// Store is the single interface all file storage providers must implement.
type Store interface {
	// Ping verifies the bucket exists and is accessible with the configured
	// credentials.
	Ping(ctx context.Context, bucket string) error

	// Close releases any held resources (connections, goroutines, etc.).
	Close() error

	// ListObjects returns every object in bucket that matches opts, recursively.
	ListObjects(ctx context.Context, bucket string, opts ListOptions) ([]ObjectInfo, error)

	// PutObject stores size bytes read from r at key inside bucket.
	// size may be -1 when unknown.
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts PutOptions) error

	// DeleteObject removes the object at key inside bucket.
	DeleteObject(ctx context.Context, bucket, key string) error

	// PresignGetURL returns a time-limited URL that allows anyone to download
	// the object at key inside bucket without credentials.
	PresignGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

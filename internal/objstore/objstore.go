// Package objstore wraps an S3-compatible object store behind the blob
// operations the archive service needs. Transport error types never
// escape this package: a missing object is ErrNotFound, everything else
// comes back wrapped.
package objstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested object or bucket does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes one stored object in listings.
type ObjectInfo struct {
	Key      string
	Size     int64
	ETag     string
	Modified time.Time
}

// Health is the result of a health probe against the store.
type Health struct {
	Healthy bool     `json:"healthy"`
	Latency string   `json:"latency"`
	Buckets []string `json:"buckets,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Store is the blob interface consumed by the archive engine.
type Store interface {
	Upload(ctx context.Context, bucket, key string, data []byte, metadata map[string]string) error
	Download(ctx context.Context, bucket, key string) ([]byte, error)
	List(ctx context.Context, bucket, prefix string, limit int) ([]ObjectInfo, error)
	Delete(ctx context.Context, bucket, key string) error
	Exists(ctx context.Context, bucket, key string) (bool, error)
}

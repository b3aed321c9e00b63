package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when a key is absent or expired.
var ErrNotFound = errors.New("storage: not found")

// KV defines the interface for key-value storage backends.
// Implementations: memory (testing), badger (production)
type KV interface {
	// Get returns the value stored under key, or ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A zero ttl never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Scan calls fn for every key with the given prefix in ascending key
	// order, stopping after limit keys (0 = no limit) or when fn fails.
	Scan(ctx context.Context, prefix string, limit int, fn func(key string, value []byte) error) error

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)

	// Close cleanly shuts down the storage
	Close() error
}

// Stats provides storage health and usage info
type Stats struct {
	// Live keys
	Keys uint64

	// Storage size in bytes
	SizeBytes uint64
}

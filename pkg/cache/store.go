package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrNotTaggable is returned when tag invalidation is requested from a
	// pool whose store does not support tags.
	ErrNotTaggable = errors.New("cache store does not support tags")
)

// Store is a key-value store for encoded cache items. A TTL of 0 keeps the
// item until it is deleted.
type Store interface {
	// Get returns the stored bytes or ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	Has(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Clear(ctx context.Context) error

	// Layer names the backend in metrics and logs.
	Layer() string
}

// TaggableStore is a Store that can attach tags to items and delete every
// item carrying a tag.
type TaggableStore interface {
	Store

	SetTagged(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error
	InvalidateTags(ctx context.Context, tags ...string) error
}

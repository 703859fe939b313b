package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Pool encodes values into a Store. A pool is either basic or taggable,
// fixed at construction; callers branch on Taggable.
type Pool struct {
	store  Store
	tagged TaggableStore
}

// NewBasicPool creates a pool over a store without tag support.
func NewBasicPool(store Store) *Pool {
	if store == nil {
		panic("cache store cannot be nil")
	}
	return &Pool{store: store}
}

// NewTaggablePool creates a pool over a store with tag support.
func NewTaggablePool(store TaggableStore) *Pool {
	if store == nil {
		panic("cache store cannot be nil")
	}
	return &Pool{store: store, tagged: store}
}

// Taggable reports whether items can be tagged and invalidated by tag.
func (p *Pool) Taggable() bool {
	return p.tagged != nil
}

// Layer returns the name of the underlying store.
func (p *Pool) Layer() string {
	return p.store.Layer()
}

// Get decodes the item stored under key into out.
// Returns ErrCacheMiss if the key doesn't exist or the item expired.
func (p *Pool) Get(ctx context.Context, key string, out any) error {
	data, err := p.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return fmt.Errorf("%s get: %w", p.store.Layer(), err)
	}

	if err := decode(data, out); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return err
	}
	return nil
}

// Has reports whether an item exists under key.
func (p *Pool) Has(ctx context.Context, key string) (bool, error) {
	ok, err := p.store.Has(ctx, key)
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return false, fmt.Errorf("%s has: %w", p.store.Layer(), err)
	}
	return ok, nil
}

// Save encodes value and stores it with the given TTL. Tags are attached on a
// taggable pool and ignored otherwise.
func (p *Pool) Save(ctx context.Context, key string, value any, ttl time.Duration, tags []string) error {
	if ttl < 0 {
		return fmt.Errorf("negative ttl %s for %s", ttl, key)
	}

	data, err := encode(value)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return err
	}

	if p.tagged != nil && len(tags) > 0 {
		err = p.tagged.SetTagged(ctx, key, data, ttl, tags)
	} else {
		err = p.store.Set(ctx, key, data, ttl)
	}
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("%s set: %w", p.store.Layer(), err)
	}

	CacheWrittenBytes.WithLabelValues(p.store.Layer()).Add(float64(len(data)))
	return nil
}

// Delete removes the items stored under keys.
func (p *Pool) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := p.store.Delete(ctx, keys...); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("%s delete: %w", p.store.Layer(), err)
	}
	CacheInvalidations.WithLabelValues("delete").Add(float64(len(keys)))
	return nil
}

// Clear removes every item.
func (p *Pool) Clear(ctx context.Context) error {
	if err := p.store.Clear(ctx); err != nil {
		CacheErrors.WithLabelValues("clear").Inc()
		return fmt.Errorf("%s clear: %w", p.store.Layer(), err)
	}
	CacheInvalidations.WithLabelValues("clear").Inc()
	return nil
}

// InvalidateTags removes every item carrying one of the tags. Returns
// ErrNotTaggable on a basic pool.
func (p *Pool) InvalidateTags(ctx context.Context, tags ...string) error {
	if p.tagged == nil {
		return ErrNotTaggable
	}
	if len(tags) == 0 {
		return nil
	}
	if err := p.tagged.InvalidateTags(ctx, tags...); err != nil {
		CacheErrors.WithLabelValues("invalidate").Inc()
		return fmt.Errorf("%s invalidate: %w", p.store.Layer(), err)
	}
	CacheInvalidations.WithLabelValues("tags").Add(float64(len(tags)))
	return nil
}

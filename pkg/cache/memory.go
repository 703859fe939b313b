package cache

import (
	"context"
	"sync"
	"time"
)

// memorySweepInterval bounds how often writes scan for expired items.
const memorySweepInterval = time.Minute

type memoryItem struct {
	value   []byte
	expires time.Time
	tags    []string
}

// MemoryStore is an in-process TaggableStore. Tag sets only hold keys of
// items still present; expired items are swept on writes and on Len.
type MemoryStore struct {
	mu        sync.Mutex
	items     map[string]memoryItem
	tags      map[string]map[string]struct{}
	now       func() time.Time
	nextSweep time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]memoryItem),
		tags:  make(map[string]map[string]struct{}),
		now:   time.Now,
	}
}

// SetClock replaces the time source (for testing).
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	s.nextSweep = time.Time{}
}

// Layer implements Store.
func (s *MemoryStore) Layer() string {
	return "memory"
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.live(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), item.value...), nil
}

// Has implements Store.
func (s *MemoryStore) Has(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.live(key)
	return ok, nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.set(key, value, ttl, nil)
	return nil
}

// SetTagged implements TaggableStore. Tags of a previous item under key are
// replaced.
func (s *MemoryStore) SetTagged(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.set(key, value, ttl, tags)
	for _, tag := range tags {
		keys, ok := s.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			s.tags[tag] = keys
		}
		keys[key] = struct{}{}
	}
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		s.remove(key)
	}
	return nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]memoryItem)
	s.tags = make(map[string]map[string]struct{})
	return nil
}

// InvalidateTags implements TaggableStore.
func (s *MemoryStore) InvalidateTags(ctx context.Context, tags ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tag := range tags {
		for key := range s.tags[tag] {
			s.remove(key)
		}
		delete(s.tags, tag)
	}
	return nil
}

// Len returns the number of live items, dropping expired ones.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweep()
	return len(s.items)
}

// tagCount returns the number of non-empty tag sets and their total size.
func (s *MemoryStore) tagCount() (sets, members int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, keys := range s.tags {
		sets++
		members += len(keys)
	}
	return sets, members
}

// set stores an item, unlinking the tags of any item it replaces. Caller
// holds mu.
func (s *MemoryStore) set(key string, value []byte, ttl time.Duration, tags []string) {
	now := s.now()
	if !now.Before(s.nextSweep) {
		s.sweep()
		s.nextSweep = now.Add(memorySweepInterval)
	}

	s.remove(key)
	item := memoryItem{
		value: append([]byte(nil), value...),
		tags:  append([]string(nil), tags...),
	}
	if ttl > 0 {
		item.expires = now.Add(ttl)
	}
	s.items[key] = item
}

// remove drops key and its tag memberships. Caller holds mu.
func (s *MemoryStore) remove(key string) {
	item, ok := s.items[key]
	if !ok {
		return
	}
	delete(s.items, key)
	for _, tag := range item.tags {
		keys := s.tags[tag]
		delete(keys, key)
		if len(keys) == 0 {
			delete(s.tags, tag)
		}
	}
}

// sweep drops every expired item. Caller holds mu.
func (s *MemoryStore) sweep() {
	now := s.now()
	for key, item := range s.items {
		if !item.expires.IsZero() && !now.Before(item.expires) {
			s.remove(key)
		}
	}
}

// live returns the item under key, dropping it if expired. Caller holds mu.
func (s *MemoryStore) live(key string) (memoryItem, bool) {
	item, ok := s.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if !item.expires.IsZero() && !s.now().Before(item.expires) {
		s.remove(key)
		return memoryItem{}, false
	}
	return item, true
}

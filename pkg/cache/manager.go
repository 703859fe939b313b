package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/contentful-cache/pkg/delivery"
	"github.com/Sternrassler/contentful-cache/pkg/parser"
	"github.com/Sternrassler/contentful-cache/pkg/tags"
)

// Item describes a written cache item.
type Item struct {
	Key   string
	Value parser.Parsed
	Tags  []string
	TTL   time.Duration
}

// Manager maintains the two cache levels: id lists per query and parsed
// entries per parser identity and entry id. It never calls upstream.
type Manager struct {
	pool          *Pool
	extractor     *tags.Extractor
	defaultParser parser.Parser
	ttl           time.Duration
	logger        zerolog.Logger

	mu      sync.RWMutex
	parsers map[string][]parser.Parser
}

// NewManager creates a cache manager. ttl applies to id lists and entries;
// 0 keeps them until invalidated.
func NewManager(pool *Pool, extractor *tags.Extractor, defaultParser parser.Parser, ttl time.Duration, logger zerolog.Logger) *Manager {
	if pool == nil {
		panic("cache pool cannot be nil")
	}
	if defaultParser == nil {
		panic("default parser cannot be nil")
	}
	return &Manager{
		pool:          pool,
		extractor:     extractor,
		defaultParser: defaultParser,
		ttl:           ttl,
		logger:        logger,
		parsers:       make(map[string][]parser.Parser),
	}
}

// Pool returns the underlying pool.
func (m *Manager) Pool() *Pool {
	return m.pool
}

// DefaultParser returns the parser used when callers pass none.
func (m *Manager) DefaultParser() parser.Parser {
	return m.defaultParser
}

// AddParser registers an additional parser for entries of a content type.
// Saved entries of that type are written once per registered parser.
func (m *Manager) AddParser(p parser.Parser, contentTypeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parsers[contentTypeID] = append(m.parsers[contentTypeID], p)
}

// GetQueryIDList returns the cached id list of a query.
func (m *Manager) GetQueryIDList(ctx context.Context, q *delivery.Query, cacheID string) ([]string, bool) {
	key := IDListKey(q, cacheID)

	var ids []string
	if err := m.pool.Get(ctx, key, &ids); err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			m.logger.Warn().Err(err).Str("key", key).Msg("Id list cache read failed")
		}
		CacheMisses.WithLabelValues(KindIDList).Inc()
		m.logger.Debug().Str("key", key).Msg("Id list cache miss")
		return nil, false
	}

	CacheHits.WithLabelValues(KindIDList).Inc()
	m.logger.Debug().Str("key", key).Int("ids", len(ids)).Msg("Id list cache hit")
	if ids == nil {
		ids = []string{}
	}
	return ids, true
}

// SaveQueryIDList stores the id list of a query.
func (m *Manager) SaveQueryIDList(ctx context.Context, ids []string, q *delivery.Query, cacheID string) error {
	if ids == nil {
		ids = []string{}
	}
	key := IDListKey(q, cacheID)
	if err := m.pool.Save(ctx, key, ids, m.ttl, nil); err != nil {
		return fmt.Errorf("save id list %s: %w", key, err)
	}
	m.logger.Debug().Str("key", key).Int("ids", len(ids)).Dur("ttl", m.ttl).Msg("Id list cached")
	return nil
}

// SaveEntry parses the entry with the default parser, every parser registered
// for its content type and the optional custom parser, and stores each
// projection tagged with the entry's tag set. Parsers are deduplicated by
// identity. The returned item is the last one written and is never nil.
func (m *Manager) SaveEntry(ctx context.Context, e *delivery.Entry, custom parser.Parser) (*Item, error) {
	var entryTags []string
	if m.extractor != nil {
		entryTags = m.extractor.ForEntry(e)
	}

	var (
		item *Item
		errs []error
	)
	for _, p := range m.parsersFor(e.ContentTypeID(), custom) {
		item = &Item{
			Key:   EntryKey(p.Identity(), e.ID()),
			Value: p.ParseEntry(e),
			Tags:  entryTags,
			TTL:   m.ttl,
		}
		if err := m.pool.Save(ctx, item.Key, item.Value, m.ttl, entryTags); err != nil {
			errs = append(errs, fmt.Errorf("save entry %s: %w", e.ID(), err))
			continue
		}
		m.logger.Debug().
			Str("entry_id", e.ID()).
			Str("parser", p.Identity()).
			Str("key", item.Key).
			Int("tags", len(entryTags)).
			Msg("Entry cached")
	}
	return item, errors.Join(errs...)
}

// GetEntries returns the cached projections of ids produced by p. Misses are
// left out of the result. A nil parser selects the default parser.
func (m *Manager) GetEntries(ctx context.Context, ids []string, p parser.Parser) map[string]parser.Parsed {
	if p == nil {
		p = m.defaultParser
	}

	out := make(map[string]parser.Parsed, len(ids))
	for _, id := range ids {
		key := EntryKey(p.Identity(), id)

		var parsed parser.Parsed
		if err := m.pool.Get(ctx, key, &parsed); err != nil {
			if !errors.Is(err, ErrCacheMiss) {
				m.logger.Warn().Err(err).Str("key", key).Msg("Entry cache read failed")
			}
			CacheMisses.WithLabelValues(KindEntry).Inc()
			continue
		}
		CacheHits.WithLabelValues(KindEntry).Inc()
		out[id] = parsed
	}
	return out
}

// parsersFor returns the parsers an entry of the content type is written
// with, default first, deduplicated by identity.
func (m *Manager) parsersFor(contentTypeID string, custom parser.Parser) []parser.Parser {
	m.mu.RLock()
	registered := m.parsers[contentTypeID]
	m.mu.RUnlock()

	candidates := make([]parser.Parser, 0, len(registered)+2)
	candidates = append(candidates, m.defaultParser)
	candidates = append(candidates, registered...)
	if custom != nil {
		candidates = append(candidates, custom)
	}

	seen := make(map[string]bool, len(candidates))
	out := candidates[:0]
	for _, p := range candidates {
		if seen[p.Identity()] {
			continue
		}
		seen[p.Identity()] = true
		out = append(out, p)
	}
	return out
}

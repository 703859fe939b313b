// Package client provides the cached Contentful client: a decorator around
// the Content Delivery API that resolves queries through the id list and
// entry caches and only fetches what is missing.
package client

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/contentful-cache/pkg/cache"
	"github.com/Sternrassler/contentful-cache/pkg/delivery"
	"github.com/Sternrassler/contentful-cache/pkg/events"
	"github.com/Sternrassler/contentful-cache/pkg/parser"
)

// maxBatch is the largest page the Content Delivery API returns.
const maxBatch = 1000

// Prometheus metrics for upstream fetches made by the decorator.
var (
	upstreamFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contentful_upstream_fetches_total",
		Help: "Upstream fetches made on cache misses by kind and result",
	}, []string{"kind", "result"}) // kind: "ids", "entries", "fresh"

	fetchedEntries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contentful_upstream_entries_total",
		Help: "Entries materialized from upstream responses",
	})
)

// Upstream executes entry queries against the Content Delivery API.
type Upstream interface {
	GetEntries(ctx context.Context, q *delivery.Query) (*delivery.EntryCollection, error)
}

// QueryRecorder remembers resolved queries so they can be replayed later.
type QueryRecorder interface {
	SaveQuery(ctx context.Context, cacheID string, q *delivery.Query) error
}

// QueryBuilder configures a fresh query.
type QueryBuilder func(q *delivery.Query)

// Config holds the decorator configuration.
type Config struct {
	// Upstream is the Content Delivery API client (REQUIRED).
	Upstream Upstream

	// Cache is the entry cache manager (REQUIRED).
	Cache *cache.Manager

	// Events receives load events. Optional.
	Events *events.Dispatcher

	// Queries records every id list resolved upstream. Optional.
	Queries QueryRecorder

	// IncludeLevel is the link depth of base queries (0 leaves it unset).
	IncludeLevel int
}

// Client is the caching decorator.
type Client struct {
	upstream     Upstream
	cache        *cache.Manager
	events       *events.Dispatcher
	queries      QueryRecorder
	includeLevel int
	logger       zerolog.Logger
}

// New creates a caching client.
func New(cfg Config) (*Client, error) {
	if cfg.Upstream == nil {
		return nil, fmt.Errorf("upstream client is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache manager is required")
	}
	if cfg.IncludeLevel < 0 {
		return nil, fmt.Errorf("include level must be >= 0 (got %d)", cfg.IncludeLevel)
	}

	return &Client{
		upstream:     cfg.Upstream,
		cache:        cfg.Cache,
		events:       cfg.Events,
		queries:      cfg.Queries,
		includeLevel: cfg.IncludeLevel,
		logger:       log.With().Str("component", "contentful-client").Logger(),
	}, nil
}

// SetLogger replaces the component logger (for testing).
func (c *Client) SetLogger(logger zerolog.Logger) {
	c.logger = logger
}

// Cache returns the cache manager.
func (c *Client) Cache() *cache.Manager {
	return c.cache
}

// Query returns a fresh base query.
func (c *Client) Query() *delivery.Query {
	q := delivery.NewQuery()
	if c.includeLevel > 0 {
		q.SetInclude(c.includeLevel)
	}
	return q
}

// GetEntries returns the parsed entries matching the query built by build.
// Upstream failures are logged and yield the entries resolved so far; the
// result is never nil. cacheID overrides the id list key; p defaults to the
// cache manager's default parser.
func (c *Client) GetEntries(ctx context.Context, build QueryBuilder, cacheID string, p parser.Parser) []parser.Parsed {
	q := c.build(build)
	result, err := c.fetch(ctx, q, cacheID, p)
	if err != nil {
		c.logger.Error().
			Err(err).
			Str("query", q.QueryString()).
			Str("cache_id", cacheID).
			Msg("Contentful query failed")
	}
	return result
}

// FetchEntries is GetEntries reporting upstream failures to the caller.
func (c *Client) FetchEntries(ctx context.Context, build QueryBuilder, cacheID string, p parser.Parser) ([]parser.Parsed, error) {
	return c.fetch(ctx, c.build(build), cacheID, p)
}

// GetEntry returns the parsed entry with the given id, or an empty Parsed
// if it does not exist or could not be fetched.
func (c *Client) GetEntry(ctx context.Context, id string, p parser.Parser) parser.Parsed {
	result, err := c.entriesByIDs(ctx, []string{id}, c.Query(), p)
	if err != nil {
		c.logger.Error().Err(err).Str("entry_id", id).Msg("Contentful entry fetch failed")
	}
	if len(result) == 0 {
		return parser.Parsed{}
	}
	return result[0]
}

// GetAllEntryIDs resolves the id list of q upstream, bypassing and then
// refreshing the id list cache.
func (c *Client) GetAllEntryIDs(ctx context.Context, q *delivery.Query, cacheID string) ([]string, error) {
	return c.fetchIDs(ctx, q, cacheID)
}

// FetchFresh executes the query built by build upstream without consulting
// any cache. Returned entries are dispatched and written to the entry cache
// like any other upstream entry.
func (c *Client) FetchFresh(ctx context.Context, build QueryBuilder, p parser.Parser) ([]parser.Parsed, error) {
	q := c.build(build)
	collection, err := c.upstream.GetEntries(ctx, q)
	if err != nil {
		upstreamFetches.WithLabelValues("fresh", "error").Inc()
		return []parser.Parsed{}, fmt.Errorf("query %s: %w", q.QueryString(), err)
	}
	upstreamFetches.WithLabelValues("fresh", "ok").Inc()
	return c.materialize(ctx, collection.Items, p), nil
}

func (c *Client) build(build QueryBuilder) *delivery.Query {
	q := c.Query()
	if build != nil {
		build(q)
	}
	return q
}

func (c *Client) fetch(ctx context.Context, q *delivery.Query, cacheID string, p parser.Parser) ([]parser.Parsed, error) {
	ids, ok := c.cache.GetQueryIDList(ctx, q, cacheID)
	if !ok {
		var err error
		ids, err = c.fetchIDs(ctx, q, cacheID)
		if err != nil {
			return []parser.Parsed{}, err
		}
	}
	return c.entriesByIDs(ctx, ids, q, p)
}

// fetchIDs resolves the ids of q upstream, transferring only sys, and
// stores them under the key of the unrestricted query.
func (c *Client) fetchIDs(ctx context.Context, q *delivery.Query, cacheID string) ([]string, error) {
	idQuery := q.Clone().Select("sys")
	collection, err := c.upstream.GetEntries(ctx, idQuery)
	if err != nil {
		upstreamFetches.WithLabelValues("ids", "error").Inc()
		return nil, fmt.Errorf("resolve ids: %w", err)
	}
	upstreamFetches.WithLabelValues("ids", "ok").Inc()

	ids := collection.IDs()
	if err := c.cache.SaveQueryIDList(ctx, ids, q, cacheID); err != nil {
		c.logger.Warn().Err(err).Str("query", q.QueryString()).Msg("Failed to cache id list")
	}
	if c.queries != nil {
		if err := c.queries.SaveQuery(ctx, cacheID, q); err != nil {
			c.logger.Warn().Err(err).Str("query", q.QueryString()).Msg("Failed to record query")
		}
	}

	c.logger.Debug().
		Str("query", q.QueryString()).
		Int("ids", len(ids)).
		Msg("Resolved id list upstream")
	return ids, nil
}

// entriesByIDs returns cache hits first, then the missing entries fetched in
// one upstream request. On an upstream failure the hits are returned with
// the error.
func (c *Client) entriesByIDs(ctx context.Context, ids []string, q *delivery.Query, p parser.Parser) ([]parser.Parsed, error) {
	if p == nil {
		p = c.cache.DefaultParser()
	}

	result := make([]parser.Parsed, 0, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	hits := c.cache.GetEntries(ctx, ids, p)
	var missing []string
	for _, id := range ids {
		if parsed, ok := hits[id]; ok {
			result = append(result, parsed)
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return result, nil
	}

	fq := delivery.NewQuery().WhereIn("sys.id", missing).SetLimit(min(len(missing), maxBatch))
	if n := q.Include(); n > 0 {
		fq.SetInclude(n)
	}
	if locale := q.Locale(); locale != "" {
		fq.SetLocale(locale)
	}

	collection, err := c.upstream.GetEntries(ctx, fq)
	if err != nil {
		upstreamFetches.WithLabelValues("entries", "error").Inc()
		return result, fmt.Errorf("fetch %d entries: %w", len(missing), err)
	}
	upstreamFetches.WithLabelValues("entries", "ok").Inc()

	c.logger.Debug().
		Int("requested", len(ids)).
		Int("cached", len(hits)).
		Int("fetched", len(collection.Items)).
		Msg("Resolved entries")

	return append(result, c.materialize(ctx, collection.Items, p)...), nil
}

// materialize dispatches the load events for upstream entries, writes them
// to the entry cache and returns their projections by p.
func (c *Client) materialize(ctx context.Context, entries []*delivery.Entry, p parser.Parser) []parser.Parsed {
	if p == nil {
		p = c.cache.DefaultParser()
	}

	out := make([]parser.Parsed, 0, len(entries))
	if len(entries) == 0 {
		return out
	}
	fetchedEntries.Add(float64(len(entries)))

	c.events.Dispatch(ctx, events.Event{Name: events.EntriesLoaded, Entries: entries})
	for _, e := range entries {
		c.events.Dispatch(ctx, events.Event{Name: events.EntryLoaded, Entry: e})

		item, err := c.cache.SaveEntry(ctx, e, p)
		if err != nil {
			c.logger.Warn().Err(err).Str("entry_id", e.ID()).Msg("Failed to cache entry")
		}
		if item != nil && item.Key == cache.EntryKey(p.Identity(), e.ID()) {
			out = append(out, item.Value)
			continue
		}
		out = append(out, p.ParseEntry(e))
	}
	return out
}

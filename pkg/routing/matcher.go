// Package routing resolves request paths to Contentful entries of routable
// content types and maintains the route collection.
package routing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/contentful-cache/pkg/cache"
	"github.com/Sternrassler/contentful-cache/pkg/client"
	"github.com/Sternrassler/contentful-cache/pkg/config"
	"github.com/Sternrassler/contentful-cache/pkg/delivery"
	"github.com/Sternrassler/contentful-cache/pkg/parser"
	"github.com/Sternrassler/contentful-cache/pkg/tags"
)

// collectionBatch is the number of entries loaded per routable type when
// building the route collection.
const collectionBatch = 1000

var (
	// ErrResourceNotFound is returned when no routable entry matches a path.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrMissingController is returned when the matched entry has no
	// controller value.
	ErrMissingController = errors.New("entry has no controller")

	// ErrRouteNotFound is returned when generating a path for an unknown route.
	ErrRouteNotFound = errors.New("route not found")
)

// Prometheus metrics for request matching.
var (
	routeMatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contentful_route_matches_total",
		Help: "Route match attempts by result",
	}, []string{"result"}) // "cached", "matched", "not_found", "missing_controller"

	routeCollectionSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "contentful_route_collection_size",
		Help: "Number of routes in the loaded route collection",
	})
)

// Fetcher executes queries upstream, bypassing the query caches.
type Fetcher interface {
	FetchFresh(ctx context.Context, build client.QueryBuilder, p parser.Parser) ([]parser.Parsed, error)
}

// Config holds the matcher configuration.
type Config struct {
	Routing config.Routing

	// IncludeLevel is the link depth of match queries.
	IncludeLevel int

	// CacheTime is the TTL of per-path match results. 0 keeps them forever.
	CacheTime time.Duration

	// BypassParameter is the query parameter that skips the routing cache.
	BypassParameter string
}

// Match is a resolved request.
type Match struct {
	Controller string        `json:"_controller"`
	Route      string        `json:"_route"`
	Data       parser.Parsed `json:"data"`
}

// Matcher resolves paths against the routable content types.
type Matcher struct {
	fetcher     Fetcher
	pool        *cache.Pool
	extractor   *tags.Extractor
	routeParser parser.Parser
	config      Config
	logger      zerolog.Logger

	mu         sync.Mutex
	collection *RouteCollection
}

// NewMatcher creates a matcher.
func NewMatcher(fetcher Fetcher, pool *cache.Pool, extractor *tags.Extractor, cfg Config, logger zerolog.Logger) *Matcher {
	if fetcher == nil || pool == nil || extractor == nil {
		panic("routing: fetcher, pool and extractor are required")
	}
	if cfg.BypassParameter == "" {
		cfg.BypassParameter = config.DefaultBypassParameter
	}
	return &Matcher{
		fetcher:     fetcher,
		pool:        pool,
		extractor:   extractor,
		routeParser: parser.NewRouteCollection(cfg.Routing.SlugField),
		config:      cfg,
		logger:      logger,
	}
}

// MatchRequest matches the request path. The routing cache is bypassed
// when the bypass parameter is present with a truthy value.
func (m *Matcher) MatchRequest(ctx context.Context, r *http.Request) (*Match, error) {
	return m.Match(ctx, r.URL.Path, m.bypassRequested(r))
}

func (m *Matcher) bypassRequested(r *http.Request) bool {
	v := r.URL.Query().Get(m.config.BypassParameter)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err != nil || b
}

// Match resolves a path. Routable types are tried in configured order and
// the first match wins. Results are cached per path unless bypass is set;
// misses are not cached.
func (m *Matcher) Match(ctx context.Context, path string, bypass bool) (*Match, error) {
	path = normalizePath(path)
	if path == "/" {
		routeMatches.WithLabelValues("not_found").Inc()
		return nil, ErrResourceNotFound
	}

	key := tags.RoutingTag(path)
	var data parser.Parsed
	cached := false

	if !bypass {
		if err := m.pool.Get(ctx, key, &data); err == nil {
			cached = true
			cache.CacheHits.WithLabelValues(cache.KindRouting).Inc()
		} else {
			if !errors.Is(err, cache.ErrCacheMiss) {
				m.logger.Warn().Err(err).Str("path", path).Msg("Routing cache read failed")
			}
			cache.CacheMisses.WithLabelValues(cache.KindRouting).Inc()
		}
	}

	if !cached {
		var ok bool
		data, ok = m.find(ctx, path)
		if !ok {
			routeMatches.WithLabelValues("not_found").Inc()
			return nil, ErrResourceNotFound
		}
		if !bypass {
			if err := m.pool.Save(ctx, key, data, m.config.CacheTime, m.extractor.FromParsed(data)); err != nil {
				m.logger.Warn().Err(err).Str("path", path).Msg("Failed to cache route match")
			}
		}
	}

	id, _ := data[parser.KeyID].(string)
	contentType, _ := data[parser.KeyContentType].(string)
	controller, _ := data[m.config.Routing.ControllerField].(string)
	if controller == "" {
		routeMatches.WithLabelValues("missing_controller").Inc()
		return nil, fmt.Errorf("%w: %s entry %s at %s", ErrMissingController, contentType, id, path)
	}

	if cached {
		routeMatches.WithLabelValues("cached").Inc()
	} else {
		routeMatches.WithLabelValues("matched").Inc()
	}
	m.logger.Debug().
		Str("path", path).
		Str("entry_id", id).
		Bool("cached", cached).
		Bool("bypass", bypass).
		Msg("Route matched")

	return &Match{
		Controller: controller,
		Route:      RouteName(contentType, id),
		Data:       data,
	}, nil
}

// find queries each routable type for an entry whose slug equals the path,
// with or without the leading slash.
func (m *Matcher) find(ctx context.Context, path string) (parser.Parsed, bool) {
	slugs := []string{path, strings.TrimPrefix(path, "/")}
	slugField := "fields." + m.config.Routing.SlugField

	for _, contentType := range m.config.Routing.RoutableTypes {
		results, err := m.fetcher.FetchFresh(ctx, func(q *delivery.Query) {
			q.SetContentType(contentType).WhereIn(slugField, slugs).SetLimit(1)
			if m.config.IncludeLevel > 0 {
				q.SetInclude(m.config.IncludeLevel)
			}
		}, nil)
		if err != nil {
			m.logger.Warn().
				Err(err).
				Str("content_type", contentType).
				Str("path", path).
				Msg("Routable type query failed")
			continue
		}
		if len(results) > 0 {
			return results[0], true
		}
	}
	return nil, false
}

// RouteCollection returns the route collection. It is loaded on first use
// from the cache or built from all routable types, and then kept in memory
// for the lifetime of the matcher.
func (m *Matcher) RouteCollection(ctx context.Context) (*RouteCollection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.collection != nil {
		return m.collection, nil
	}

	var rc RouteCollection
	err := m.pool.Get(ctx, tags.CollectionTag, &rc)
	switch {
	case err == nil:
		cache.CacheHits.WithLabelValues(cache.KindRouteCollection).Inc()
		m.logger.Debug().Int("routes", rc.Len()).Msg("Route collection restored from cache")
	case errors.Is(err, cache.ErrCacheMiss):
		cache.CacheMisses.WithLabelValues(cache.KindRouteCollection).Inc()
		rc = m.buildCollection(ctx)
	default:
		m.logger.Warn().Err(err).Msg("Route collection cache read failed")
		rc = m.buildCollection(ctx)
	}

	routeCollectionSize.Set(float64(rc.Len()))
	m.collection = &rc
	return m.collection, nil
}

func (m *Matcher) buildCollection(ctx context.Context) RouteCollection {
	var rc RouteCollection
	slugField := m.config.Routing.SlugField

	for _, contentType := range m.config.Routing.RoutableTypes {
		results, err := m.fetcher.FetchFresh(ctx, func(q *delivery.Query) {
			q.SetContentType(contentType).SetLimit(collectionBatch)
		}, m.routeParser)
		if err != nil {
			m.logger.Warn().
				Err(err).
				Str("content_type", contentType).
				Msg("Skipping routable type in route collection")
			continue
		}

		for _, parsed := range results {
			slug, _ := parsed[slugField].(string)
			if slug == "" {
				continue
			}
			id, _ := parsed[parser.KeyID].(string)
			rc.Add(RouteName(contentType, id), normalizePath(slug))
		}
	}

	if err := m.pool.Save(ctx, tags.CollectionTag, rc, m.config.CacheTime, []string{tags.CollectionTag}); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to cache route collection")
	}
	m.logger.Info().Int("routes", rc.Len()).Msg("Route collection built")
	return rc
}

// Generate returns the path of a named route.
func (m *Matcher) Generate(ctx context.Context, name string) (string, error) {
	rc, err := m.RouteCollection(ctx)
	if err != nil {
		return "", err
	}
	route, ok := rc.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrRouteNotFound, name)
	}
	return route.Path, nil
}

// normalizePath strips the query string and ensures a leading slash.
func normalizePath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/contentful-cache/pkg/cache"
	"github.com/Sternrassler/contentful-cache/pkg/client"
	"github.com/Sternrassler/contentful-cache/pkg/config"
	"github.com/Sternrassler/contentful-cache/pkg/events"
	"github.com/Sternrassler/contentful-cache/pkg/logging"
	"github.com/Sternrassler/contentful-cache/pkg/metrics"
	"github.com/Sternrassler/contentful-cache/pkg/parser"
	"github.com/Sternrassler/contentful-cache/pkg/reset"
	"github.com/Sternrassler/contentful-cache/pkg/routing"
	"github.com/Sternrassler/contentful-cache/pkg/tags"
	"github.com/Sternrassler/contentful-cache/pkg/webhook"
)

// readyProbeKey is looked up to check that the store answers.
const readyProbeKey = "contentful-cache:ready"

// app holds the wired components of the server.
type app struct {
	pool     *cache.Pool
	manager  *cache.Manager
	client   *client.Client
	matcher  *routing.Matcher
	resetter *reset.Service
	decoder  webhook.EntryDecoder
}

func newApp(cfg *config.Config, pool *cache.Pool, upstream client.Upstream, decoder webhook.EntryDecoder, recorder client.QueryRecorder) (*app, error) {
	extractor := tags.NewExtractor(cfg.Routing, logging.NewLogger("tags"))
	manager := cache.NewManager(
		pool,
		extractor,
		parser.NewSimple(logging.NewLogger("parser")),
		cfg.Caching.Content.CacheTime,
		logging.NewLogger("cache"),
	)

	dispatcher := events.NewDispatcher()
	eventLogger := logging.NewLogger("events")
	dispatcher.Subscribe(events.EntriesLoaded, func(ctx context.Context, ev events.Event) {
		eventLogger.Debug().Int("entries", len(ev.Entries)).Msg("Entries loaded from upstream")
	})

	c, err := client.New(client.Config{
		Upstream:     upstream,
		Cache:        manager,
		Events:       dispatcher,
		Queries:      recorder,
		IncludeLevel: cfg.IncludeLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("create caching client: %w", err)
	}

	matcher := routing.NewMatcher(c, pool, extractor, routing.Config{
		Routing:         cfg.Routing,
		IncludeLevel:    cfg.IncludeLevel,
		CacheTime:       cfg.Caching.Routing.CacheTime,
		BypassParameter: cfg.Caching.Routing.BypassParameter,
	}, logging.NewLogger("routing"))

	resetter := reset.NewService(
		pool,
		cfg.Routing,
		cfg.Caching.CollectionConsumer,
		cfg.Caching.CompleteClearOnWebhook,
		logging.NewLogger("reset"),
	)

	return &app{
		pool:     pool,
		manager:  manager,
		client:   c,
		matcher:  matcher,
		resetter: resetter,
		decoder:  decoder,
	}, nil
}

func (a *app) routes() http.Handler {
	webhookLogger := logging.NewLogger("webhook")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", readyHandler(a.pool))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("POST /_contentful/fill", webhook.NewFillHandler(a.decoder, a.manager, webhookLogger))
	mux.Handle("POST /_contentful/reset", webhook.NewResetHandler(a.resetter, webhookLogger))
	mux.HandleFunc("GET /_contentful/routes", routesHandler(a.matcher, logging.NewLogger("routing")))
	mux.Handle("GET /", a.matcher.Handler())
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler checks that the cache store answers a lookup.
func readyHandler(pool *cache.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if _, err := pool.Has(ctx, readyProbeKey); err != nil {
			http.Error(w, fmt.Sprintf("cache store not ready: %v", err), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

// routesHandler lists the route collection.
func routesHandler(matcher *routing.Matcher, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc, err := matcher.RouteCollection(r.Context())
		if err != nil {
			logger.Error().Err(err).Msg("Failed to load route collection")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rc)
	}
}

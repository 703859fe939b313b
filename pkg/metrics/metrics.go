// Package metrics exposes the Prometheus registry of the Contentful cache.
// All metrics are defined in their respective packages (delivery, cache,
// client, routing, reset, webhook, ratelimit) via promauto and collected here.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all packages register their metrics with.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects the registered metrics for exposition.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the HTTP handler serving the metrics in the Prometheus
// text format.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(
		Registry,
		promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}),
	)
}

// Metrics Documentation
//
// Request Metrics (pkg/delivery):
//   - contentful_requests_total{endpoint, status} (Counter): Upstream requests by endpoint and HTTP status
//   - contentful_request_duration_seconds{endpoint} (Histogram): Upstream request duration
//   - contentful_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Rate Limit Metrics (pkg/ratelimit):
//   - contentful_rate_limit_remaining (Gauge): Requests left in the current second
//   - contentful_rate_limited_responses_total (Counter): 429 responses received
//   - contentful_rate_limit_blocks_total (Counter): Requests blocked locally while rate limited
//
// Cache Metrics (pkg/cache):
//   - contentful_cache_hits_total{cache} (Counter): Hits by cache (entry, id_list)
//   - contentful_cache_misses_total{cache} (Counter): Misses by cache
//   - contentful_cache_written_bytes_total{layer} (Counter): Encoded bytes written per store
//   - contentful_cache_errors_total{operation} (Counter): Store operation errors
//   - contentful_cache_invalidations_total{kind} (Counter): Deletes, clears and tag invalidations
//
// Client Metrics (pkg/client):
//   - contentful_upstream_fetches_total{kind, result} (Counter): Upstream fetches by kind
//   - contentful_upstream_entries_total (Counter): Entries materialized from upstream
//
// Routing Metrics (pkg/routing):
//   - contentful_route_matches_total{result} (Counter): cached, matched, not_found, missing_controller
//   - contentful_route_collection_size (Gauge): Routes in the last built collection
//
// Webhook Metrics (pkg/webhook, pkg/reset):
//   - contentful_webhooks_total{hook, result} (Counter): Webhook requests by hook and outcome
//   - contentful_cache_resets_total{mode} (Counter): complete, selective, rejected
//
// Example Prometheus Queries:
//
//   # Entry Cache Hit Rate
//   sum(rate(contentful_cache_hits_total{cache="entry"}[5m])) /
//   (sum(rate(contentful_cache_hits_total{cache="entry"}[5m])) + sum(rate(contentful_cache_misses_total{cache="entry"}[5m])))
//
//   # Unmatched Paths
//   rate(contentful_route_matches_total{result="not_found"}[5m])
//
//   # P95 Upstream Latency
//   histogram_quantile(0.95, rate(contentful_request_duration_seconds_bucket[5m]))

package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache kinds used as the "cache" label.
const (
	KindEntry           = "entry"
	KindIDList          = "id_list"
	KindRouting         = "routing"
	KindRouteCollection = "route_collection"
)

var (
	// CacheHits tracks cache hits by cache kind
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentful_cache_hits_total",
			Help: "Total number of Contentful cache hits",
		},
		[]string{"cache"}, // "entry", "id_list", "routing", "route_collection"
	)

	// CacheMisses tracks cache misses by cache kind
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentful_cache_misses_total",
			Help: "Total number of Contentful cache misses",
		},
		[]string{"cache"},
	)

	// CacheWrittenBytes tracks encoded bytes written by store layer
	CacheWrittenBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentful_cache_written_bytes_total",
			Help: "Total encoded bytes written to the cache store",
		},
		[]string{"layer"}, // "redis", "leveldb", "memory"
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentful_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "clear", "invalidate"
	)

	// CacheInvalidations tracks invalidations by kind
	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentful_cache_invalidations_total",
			Help: "Total number of cache invalidations",
		},
		[]string{"kind"}, // "delete", "tags", "clear"
	)
)

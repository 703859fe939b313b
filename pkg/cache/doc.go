// Package cache provides the Contentful entry cache.
//
// The cache has two levels:
//
// - Id lists: the ordered entry ids a query resolved to, keyed by
// md5(queryString) + "_Ids" or an explicit cache id
// - Entries: the parsed projection of an entry, keyed by
// "Parser_" + md5(parserIdentity) + "Entry_" + entryID
//
// Values are msgpack encoded into a Store. Stores come in two variants: a
// basic Store (LevelDBStore) and a TaggableStore (RedisStore, MemoryStore)
// that can attach tags to items and delete them by tag. A Pool is built for
// one of the two variants and reports it through Taggable.
//
// # Basic Usage
//
//	// Create Redis client
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	// Create a taggable pool and the manager
//	pool := cache.NewTaggablePool(cache.NewRedisStore(redisClient))
//	extractor := tags.NewExtractor(cfg.Routing, logger)
//	manager := cache.NewManager(pool, extractor, parser.NewSimple(logger), time.Hour, logger)
//
//	// Store an entry under every parser registered for its content type
//	item, err := manager.SaveEntry(ctx, entry, nil)
//
//	// Read entries back; misses are omitted
//	parsed := manager.GetEntries(ctx, []string{"5KsDBWseXY6QegucYAoacS"}, nil)
//
// # Invalidation
//
//	if pool.Taggable() {
//		err := pool.InvalidateTags(ctx, tags.CollectionTag, entryID)
//	}
//
// # Metrics
//
// The cache exports Prometheus metrics:
//
//   - contentful_cache_hits_total{cache} - Cache hits by kind (entry, id_list, routing, route_collection)
//   - contentful_cache_misses_total{cache} - Cache misses by kind
//   - contentful_cache_written_bytes_total{layer} - Encoded bytes written per store
//   - contentful_cache_errors_total{operation} - Store errors
//   - contentful_cache_invalidations_total{kind} - Deletes, tag invalidations and clears
package cache

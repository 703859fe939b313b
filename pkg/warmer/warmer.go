// Package warmer pre-fills the cache: it replays every query the caching
// client resolved before and writes every entry from the sync API into the
// entry cache.
package warmer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/contentful-cache/pkg/cache"
	"github.com/Sternrassler/contentful-cache/pkg/delivery"
	"github.com/Sternrassler/contentful-cache/pkg/parser"
)

// QueryStorage lists recorded queries.
type QueryStorage interface {
	Queries(ctx context.Context) ([]StoredQuery, error)
}

// IDResolver refreshes the id list of a query.
type IDResolver interface {
	GetAllEntryIDs(ctx context.Context, q *delivery.Query, cacheID string) ([]string, error)
}

// EntrySaver writes entries to the entry cache.
type EntrySaver interface {
	SaveEntry(ctx context.Context, e *delivery.Entry, custom parser.Parser) (*cache.Item, error)
}

// EntrySource starts a pass over all entries.
type EntrySource interface {
	SyncEntries() delivery.EntryIterator
}

// Stats summarizes a warm-up run.
type Stats struct {
	Queries     int
	QueryErrors int
	Entries     int
	EntryErrors int
	Duration    time.Duration
}

// Config holds warmer configuration.
type Config struct {
	// Concurrency is the number of workers replaying queries.
	Concurrency int
	// QueryTimeout bounds a single query replay.
	QueryTimeout time.Duration
}

// DefaultConfig returns the default warmer configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:  4,
		QueryTimeout: 15 * time.Second,
	}
}

// queryResult is the outcome of replaying one stored query.
type queryResult struct {
	query StoredQuery
	err   error
}

// Warmer fills the id list and entry caches.
type Warmer struct {
	config  Config
	queries QueryStorage
	ids     IDResolver
	saver   EntrySaver
	source  EntrySource
	logger  zerolog.Logger
}

// New creates a warmer.
func New(cfg Config, queries QueryStorage, ids IDResolver, saver EntrySaver, source EntrySource, logger zerolog.Logger) *Warmer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 15 * time.Second
	}

	return &Warmer{
		config:  cfg,
		queries: queries,
		ids:     ids,
		saver:   saver,
		source:  source,
		logger:  logger,
	}
}

// WarmUp replays all stored queries and then saves every synced entry.
// Failing queries and entries are logged and counted; a failure of the
// query storage or the sync iterator aborts the run.
func (w *Warmer) WarmUp(ctx context.Context) (Stats, error) {
	start := time.Now()
	var stats Stats

	stored, err := w.queries.Queries(ctx)
	if err != nil {
		return stats, fmt.Errorf("list stored queries: %w", err)
	}

	stats.Queries, stats.QueryErrors = w.replayQueries(ctx, stored)
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	it := w.source.SyncEntries()
	for it.Next(ctx) {
		e := it.Entry()
		stats.Entries++
		if _, err := w.saver.SaveEntry(ctx, e, nil); err != nil {
			stats.EntryErrors++
			w.logger.Warn().Err(err).Str("entry_id", e.ID()).Msg("Failed to warm entry")
		}
	}
	stats.Duration = time.Since(start)

	if err := it.Err(); err != nil {
		return stats, fmt.Errorf("sync entries: %w", err)
	}

	w.logger.Info().
		Int("queries", stats.Queries).
		Int("query_errors", stats.QueryErrors).
		Int("entries", stats.Entries).
		Int("entry_errors", stats.EntryErrors).
		Dur("duration", stats.Duration).
		Msg("Cache warmed")
	return stats, nil
}

// replayQueries refreshes the id lists of all stored queries using a worker
// pool and returns the number of processed and failed queries.
func (w *Warmer) replayQueries(ctx context.Context, stored []StoredQuery) (int, int) {
	queue := make(chan StoredQuery, len(stored))
	for _, sq := range stored {
		queue <- sq
	}
	close(queue)

	results := make(chan queryResult, len(stored))

	var wg sync.WaitGroup
	for i := 0; i < w.config.Concurrency; i++ {
		wg.Add(1)
		go w.worker(ctx, queue, results, &wg, i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	processed, failed := 0, 0
	for result := range results {
		processed++
		if result.err != nil {
			failed++
			w.logger.Warn().
				Err(result.err).
				Str("query", result.query.Query).
				Str("cache_id", result.query.CacheID).
				Msg("Failed to warm query")
		}
	}
	return processed, failed
}

// worker replays queries from the queue until it is drained or ctx ends.
func (w *Warmer) worker(ctx context.Context, queue <-chan StoredQuery, results chan<- queryResult, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	processed := 0

	for sq := range queue {
		select {
		case <-ctx.Done():
			w.logger.Debug().
				Int("worker_id", workerID).
				Int("queries_processed", processed).
				Msg("Worker stopping (context cancelled)")
			return
		default:
		}

		q, err := delivery.ParseQuery(sq.Query)
		if err == nil {
			queryCtx, cancel := context.WithTimeout(ctx, w.config.QueryTimeout)
			_, err = w.ids.GetAllEntryIDs(queryCtx, q, sq.CacheID)
			cancel()
		}
		results <- queryResult{query: sq, err: err}
		processed++
	}
}

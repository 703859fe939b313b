package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/Sternrassler/contentful-cache/pkg/cache"
	"github.com/Sternrassler/contentful-cache/pkg/client"
	"github.com/Sternrassler/contentful-cache/pkg/config"
	"github.com/Sternrassler/contentful-cache/pkg/delivery"
	"github.com/Sternrassler/contentful-cache/pkg/logging"
	"github.com/Sternrassler/contentful-cache/pkg/ratelimit"
	"github.com/Sternrassler/contentful-cache/pkg/warmer"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to the YAML configuration")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func run(configPath string) error {
	cfg, err := config.Load(afero.NewOsFs(), configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.Setup(logging.Config{
		Level:   logging.LogLevel(cfg.Log.Level),
		Pretty:  cfg.Log.Pretty,
		Output:  os.Stderr,
		Service: "contentful-cache",
	})
	logger := logging.NewLogger("server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg.Caching)
	if err != nil {
		return err
	}
	defer b.Close()
	pool := b.pool
	logger.Info().Str("store", pool.Layer()).Bool("taggable", pool.Taggable()).Msg("Cache store ready")

	upstream, err := delivery.New(delivery.Config{
		SpaceID:     cfg.Contentful.SpaceID,
		AccessToken: cfg.Contentful.AccessToken,
		Environment: cfg.Contentful.Environment,
		BaseURL:     cfg.Contentful.BaseURL,
		UserAgent:   cfg.Contentful.UserAgent,
		Locale:      cfg.DefaultLocale,
		Preview:     cfg.Preview,
	})
	if err != nil {
		return fmt.Errorf("create delivery client: %w", err)
	}
	upstream.SetRateLimiter(ratelimit.NewTracker(b.redis, logging.NewLogger("ratelimit")))

	var storage *warmer.BoltQueryStorage
	var recorder client.QueryRecorder
	if cfg.Warmer.Enabled {
		storage, err = warmer.OpenBoltQueryStorage(cfg.Warmer.QueryStoragePath)
		if err != nil {
			return err
		}
		defer storage.Close()
		recorder = storage
	}

	a, err := newApp(&cfg, pool, upstream, upstream, recorder)
	if err != nil {
		return err
	}

	if storage != nil {
		wcfg := warmer.DefaultConfig()
		wcfg.Concurrency = cfg.Warmer.Concurrency
		w := warmer.New(wcfg, storage, a.client, a.manager, upstream, logging.NewLogger("warmer"))
		// The warm-up writes to storage; it must end before storage closes.
		stopWarmUp := runInBackground(ctx, func(ctx context.Context) {
			if _, err := w.WarmUp(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("Cache warm-up failed")
			}
		})
		defer stopWarmUp()
	}

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("space", cfg.Contentful.SpaceID).
			Strs("routable_types", cfg.RoutableTypes).
			Msg("Starting contentful cache server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runInBackground runs fn in a goroutine. The returned function cancels fn's
// context and blocks until fn has returned.
func runInBackground(ctx context.Context, fn func(context.Context)) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

// backend is the opened cache store. redis is set only for the Redis store
// and is shared with the rate limit tracker.
type backend struct {
	pool  *cache.Pool
	redis *redis.Client
	close func() error
}

// Close releases the store.
func (b *backend) Close() error {
	return b.close()
}

// openBackend creates the configured cache store. Redis and the in-memory
// store support tags; LevelDB does not.
func openBackend(ctx context.Context, cfg config.Caching) (*backend, error) {
	switch cfg.Store {
	case config.StoreRedis:
		opts, err := redisOptions(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		redisClient := redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			_ = redisClient.Close()
			return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
		}
		return &backend{
			pool:  cache.NewTaggablePool(cache.NewRedisStore(redisClient)),
			redis: redisClient,
			close: redisClient.Close,
		}, nil
	case config.StoreLevelDB:
		store, err := cache.OpenLevelDBStore(cfg.LevelDBPath)
		if err != nil {
			return nil, err
		}
		return &backend{pool: cache.NewBasicPool(store), close: store.Close}, nil
	case config.StoreMemory:
		return &backend{
			pool:  cache.NewTaggablePool(cache.NewMemoryStore()),
			close: func() error { return nil },
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownStore, cfg.Store)
	}
}

// redisOptions accepts a redis:// or rediss:// URL, or a bare host:port.
func redisOptions(raw string) (*redis.Options, error) {
	if !strings.Contains(raw, "://") {
		return &redis.Options{Addr: raw}, nil
	}
	opts, err := redis.ParseURL(raw)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return opts, nil
}

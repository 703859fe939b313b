package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	requestsRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "contentful_rate_limit_remaining",
		Help: "Requests remaining in the current Contentful rate limit second",
	})

	rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contentful_rate_limited_responses_total",
		Help: "Total number of 429 responses received from Contentful",
	})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contentful_rate_limit_blocks_total",
		Help: "Total number of requests blocked while rate limited",
	})
)

// Tracker monitors Contentful rate limits and gates requests. With a Redis
// client the block deadline is shared by every process using the same Redis.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
	now    func() time.Time

	mu    sync.Mutex
	state RateLimitState
}

// NewTracker creates a new rate limit tracker. redisClient may be nil.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
		now:    time.Now,
		state:  RateLimitState{Remaining: -1},
	}
}

// SetClock replaces the time source (for testing).
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// GetState returns the current state, merging the shared deadline from
// Redis when configured.
func (t *Tracker) GetState(ctx context.Context) (RateLimitState, error) {
	t.mu.Lock()
	state := t.state
	t.mu.Unlock()

	if t.redis == nil {
		return state, nil
	}

	ms, err := t.redis.Get(ctx, RedisKeyBlockedUntil).Int64()
	if errors.Is(err, redis.Nil) {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("get blocked until: %w", err)
	}
	if shared := time.UnixMilli(ms); shared.After(state.BlockedUntil) {
		state.BlockedUntil = shared
	}
	return state, nil
}

// UpdateFromResponse records the rate limit headers of a response. A 429
// response blocks requests for the duration in X-Contentful-RateLimit-Reset.
func (t *Tracker) UpdateFromResponse(ctx context.Context, status int, headers http.Header) error {
	now := t.clock()

	if v := headers.Get(HeaderSecondRemaining); v != "" {
		remaining, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderSecondRemaining, err)
		}
		t.mu.Lock()
		t.state.Remaining = remaining
		t.state.LastUpdate = now
		t.mu.Unlock()
		requestsRemaining.Set(float64(remaining))
	}

	if status != http.StatusTooManyRequests {
		return nil
	}

	block := DefaultBlock
	if v := headers.Get(HeaderReset); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderReset, err)
		}
		if seconds > 0 {
			block = time.Duration(seconds) * time.Second
		}
	}
	until := now.Add(block)

	t.mu.Lock()
	if until.After(t.state.BlockedUntil) {
		t.state.BlockedUntil = until
	}
	t.state.LastUpdate = now
	t.mu.Unlock()
	rateLimitedTotal.Inc()

	t.logger.Warn().
		Dur("block", block).
		Time("blocked_until", until).
		Msg("Contentful rate limit reached - requests will be blocked")

	if t.redis != nil {
		if err := t.redis.Set(ctx, RedisKeyBlockedUntil, until.UnixMilli(), block).Err(); err != nil {
			return fmt.Errorf("store rate limit state in redis: %w", err)
		}
	}
	return nil
}

// ShouldAllowRequest reports whether a request may be sent now. While
// blocked it returns false and the time left until the reset.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, time.Duration, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, 0, fmt.Errorf("get rate limit state: %w", err)
	}

	now := t.clock()
	if state.Blocked(now) {
		wait := state.TimeUntilReset(now)
		t.logger.Debug().
			Dur("wait_duration", wait).
			Msg("Contentful rate limited - blocking request")
		rateLimitBlocksTotal.Inc()
		return false, wait, nil
	}
	return true, 0, nil
}

func (t *Tracker) clock() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now()
}

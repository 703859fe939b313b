// Package ratelimit implements Contentful rate limit tracking and request gating.
// It watches 429 responses and their X-Contentful-RateLimit-Reset header and
// stops requests from leaving the process until the limit window resets.
package ratelimit

import (
	"time"
)

// Response headers carrying rate limit information.
const (
	HeaderReset           = "X-Contentful-RateLimit-Reset"
	HeaderSecondRemaining = "X-Contentful-RateLimit-Second-Remaining"
)

// RedisKeyBlockedUntil stores the shared block deadline in unix milliseconds.
const RedisKeyBlockedUntil = "cc:rate_limit:blocked_until"

// DefaultBlock is used when a 429 response carries no reset header.
const DefaultBlock = time.Second

// RateLimitState represents the current Contentful rate limit state.
type RateLimitState struct {
	// Remaining is the number of requests left in the current second, or -1
	// when the API did not report it.
	Remaining int `json:"remaining"`

	// BlockedUntil is the end of the window after a 429 response.
	BlockedUntil time.Time `json:"blocked_until"`

	// LastUpdate is when the state last changed.
	LastUpdate time.Time `json:"last_update"`
}

// Blocked reports whether requests must wait at now.
func (s *RateLimitState) Blocked(now time.Time) bool {
	return now.Before(s.BlockedUntil)
}

// TimeUntilReset returns the remaining block duration at now.
// Returns 0 if the block has already passed.
func (s *RateLimitState) TimeUntilReset(now time.Time) time.Duration {
	d := s.BlockedUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// IsStale returns true if the state is older than maxAge at now.
func (s *RateLimitState) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.LastUpdate) > maxAge
}

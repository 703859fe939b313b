package ratelimit

import (
	"testing"
	"time"
)

func TestRateLimitState_Blocked(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		state     RateLimitState
		blocked   bool
		untilDone time.Duration
	}{
		{
			name:      "never limited",
			state:     RateLimitState{Remaining: -1},
			blocked:   false,
			untilDone: 0,
		},
		{
			name:      "block in the future",
			state:     RateLimitState{BlockedUntil: now.Add(3 * time.Second)},
			blocked:   true,
			untilDone: 3 * time.Second,
		},
		{
			name:      "block just ended",
			state:     RateLimitState{BlockedUntil: now},
			blocked:   false,
			untilDone: 0,
		},
		{
			name:      "block in the past",
			state:     RateLimitState{BlockedUntil: now.Add(-time.Minute)},
			blocked:   false,
			untilDone: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Blocked(now); got != tt.blocked {
				t.Errorf("Blocked() = %v, want %v", got, tt.blocked)
			}
			if got := tt.state.TimeUntilReset(now); got != tt.untilDone {
				t.Errorf("TimeUntilReset() = %v, want %v", got, tt.untilDone)
			}
		})
	}
}

func TestRateLimitState_IsStale(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		state    RateLimitState
		maxAge   time.Duration
		expected bool
	}{
		{
			name:     "fresh state",
			state:    RateLimitState{LastUpdate: now},
			maxAge:   5 * time.Minute,
			expected: false,
		},
		{
			name:     "stale state",
			state:    RateLimitState{LastUpdate: now.Add(-10 * time.Minute)},
			maxAge:   5 * time.Minute,
			expected: true,
		},
		{
			name:     "just under max age",
			state:    RateLimitState{LastUpdate: now.Add(-4 * time.Minute)},
			maxAge:   5 * time.Minute,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsStale(now, tt.maxAge); got != tt.expected {
				t.Errorf("IsStale() = %v, want %v", got, tt.expected)
			}
		})
	}
}

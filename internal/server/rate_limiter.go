// Package server applies an optional per-connection token bucket before
// frames reach the chat session.
package server

import (
	"time"

	"golang.org/x/time/rate"
)

// newRateLimiter returns nil when cfg.Burst is zero, meaning frames are not
// limited. The bucket holds Burst tokens and refills Burst of them every
// RefillInterval.
func newRateLimiter(cfg RateLimitConfig) *rate.Limiter {
	if cfg.Burst <= 0 {
		return nil
	}
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = defaultRefillInterval
	}
	return rate.NewLimiter(rate.Every(interval/time.Duration(cfg.Burst)), cfg.Burst)
}

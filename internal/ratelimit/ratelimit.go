// Package ratelimit throttles API callers with a per-key token bucket.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool
	// Remaining is the whole number of tokens left after this request.
	Remaining int
	// RetryAfter is how long until the next token is available. Zero when
	// Allowed is true.
	RetryAfter time.Duration
}

// Limiter decides whether a request identified by key should proceed.
// Implementations must be safe for concurrent use. An error signals a limiter
// malfunction; callers fail open.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always permits.
func (NoopLimiter) Allow(context.Context, string) (Decision, error) {
	return Decision{Allowed: true}, nil
}

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }

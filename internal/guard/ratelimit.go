package guard

import (
	"context"
	"time"
)

// Config describes one protected operation class.
type Config struct {
	Window               time.Duration
	MaxRequests          int
	MaxTrackedIdentities int
}

// Decision is the outcome of a quota check. RetryAfter is the remaining
// window time when the request was limited.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// QuotaStore counts requests per identity in fixed windows. Implementations
// must be safe for concurrent use.
type QuotaStore interface {
	Incr(ctx context.Context, identity string, cfg Config) (Decision, error)
	Close() error
}

// RateLimiter admits requests for one operation class. Each class gets its
// own limiter with its own store, so exhausting one class never affects
// another.
type RateLimiter struct {
	store QuotaStore
	cfg   Config
}

// NewRateLimiter constructs a limiter for one operation class.
func NewRateLimiter(store QuotaStore, cfg Config) *RateLimiter {
	return &RateLimiter{store: store, cfg: cfg}
}

// Check counts the request against the identity's current window.
func (l *RateLimiter) Check(ctx context.Context, identity string) (Decision, error) {
	if l.cfg.MaxRequests <= 0 {
		return Decision{Allowed: true}, nil
	}
	return l.store.Incr(ctx, identity, l.cfg)
}

// Close releases the underlying store.
func (l *RateLimiter) Close() error {
	return l.store.Close()
}

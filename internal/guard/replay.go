package guard

import (
	"context"
	"time"
)

const (
	// DefaultNonceTTL is how long an admitted nonce blocks replays.
	DefaultNonceTTL = 5 * time.Minute
	// DefaultSweepInterval is how often the in-memory store drops expired
	// nonces. Kept longer than the TTL so a sweep never races admission.
	DefaultSweepInterval = 10 * time.Minute
)

// NonceStore records single-use nonces per identity. Implementations must be
// safe for concurrent use.
type NonceStore interface {
	// Add records (identity, nonce) with the given TTL. It returns false when
	// the nonce was already recorded and has not expired.
	Add(ctx context.Context, identity string, nonce string, ttl time.Duration) (bool, error)
	Close() error
}

// ReplayGuard suppresses replayed submissions over a short horizon. State is
// not durable; a restart clears it, which is acceptable because the guard is
// not an audit trail.
type ReplayGuard struct {
	store NonceStore
	ttl   time.Duration
}

// NewReplayGuard constructs a ReplayGuard over a store.
func NewReplayGuard(store NonceStore, ttl time.Duration) *ReplayGuard {
	if ttl <= 0 {
		ttl = DefaultNonceTTL
	}
	return &ReplayGuard{store: store, ttl: ttl}
}

// Admit records the nonce for the identity. It returns false when the same
// nonce was seen within the TTL window.
func (g *ReplayGuard) Admit(ctx context.Context, identity string, nonce string) (bool, error) {
	return g.store.Add(ctx, identity, nonce, g.ttl)
}

// Close releases the underlying store.
func (g *ReplayGuard) Close() error {
	return g.store.Close()
}

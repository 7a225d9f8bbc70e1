package guard

import (
	"context"
	"sync"
	"time"
)

// MemoryNonceStore keeps nonces in a per-identity map and sweeps expired
// entries periodically. Identities whose nonce set drains are dropped so
// memory stays bounded.
type MemoryNonceStore struct {
	mu     sync.Mutex
	nonces map[string]map[string]time.Time
	now    func() time.Time
	done   chan struct{}
	once   sync.Once
}

// NewMemoryNonceStore constructs the store and starts its sweep loop.
func NewMemoryNonceStore(sweepInterval time.Duration) *MemoryNonceStore {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	s := &MemoryNonceStore{
		nonces: make(map[string]map[string]time.Time),
		now:    time.Now,
		done:   make(chan struct{}),
	}
	go s.sweepLoop(sweepInterval)
	return s
}

// Add implements NonceStore.
func (s *MemoryNonceStore) Add(_ context.Context, identity string, nonce string, ttl time.Duration) (bool, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.nonces[identity]
	if !ok {
		set = make(map[string]time.Time)
		s.nonces[identity] = set
	}
	if expiry, seen := set[nonce]; seen && now.Before(expiry) {
		return false, nil
	}
	set[nonce] = now.Add(ttl)
	return true, nil
}

// Close stops the sweep loop.
func (s *MemoryNonceStore) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *MemoryNonceStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.done:
			return
		}
	}
}

func (s *MemoryNonceStore) sweep() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for identity, set := range s.nonces {
		for nonce, expiry := range set {
			if !now.Before(expiry) {
				delete(set, nonce)
			}
		}
		if len(set) == 0 {
			delete(s.nonces, identity)
		}
	}
}

type rateBucket struct {
	count       int
	windowStart time.Time
}

// MemoryQuotaStore counts requests in fixed windows per identity. At
// capacity the identity with the oldest window is evicted.
type MemoryQuotaStore struct {
	mu      sync.Mutex
	buckets map[string]*rateBucket
	now     func() time.Time
	// OnEvict, when set, is called once per evicted identity.
	OnEvict func()
}

// NewMemoryQuotaStore constructs an empty store.
func NewMemoryQuotaStore() *MemoryQuotaStore {
	return &MemoryQuotaStore{
		buckets: make(map[string]*rateBucket),
		now:     time.Now,
	}
}

// Incr implements QuotaStore.
func (s *MemoryQuotaStore) Incr(_ context.Context, identity string, cfg Config) (Decision, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[identity]
	if !ok || now.Sub(b.windowStart) >= cfg.Window {
		if !ok && cfg.MaxTrackedIdentities > 0 && len(s.buckets) >= cfg.MaxTrackedIdentities {
			s.evictOldest()
		}
		s.buckets[identity] = &rateBucket{count: 1, windowStart: now}
		return Decision{Allowed: true}, nil
	}

	if b.count >= cfg.MaxRequests {
		return Decision{RetryAfter: cfg.Window - now.Sub(b.windowStart)}, nil
	}
	b.count++
	return Decision{Allowed: true}, nil
}

// Close implements QuotaStore.
func (s *MemoryQuotaStore) Close() error { return nil }

func (s *MemoryQuotaStore) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, b := range s.buckets {
		if oldestKey == "" || b.windowStart.Before(oldest) {
			oldestKey = key
			oldest = b.windowStart
		}
	}
	if oldestKey != "" {
		delete(s.buckets, oldestKey)
		if s.OnEvict != nil {
			s.OnEvict()
		}
	}
}

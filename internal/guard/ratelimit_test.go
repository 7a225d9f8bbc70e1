package guard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig(max int) Config {
	return Config{Window: time.Minute, MaxRequests: max, MaxTrackedIdentities: 100}
}

func TestRateLimiterEnforcesQuota(t *testing.T) {
	l := NewRateLimiter(NewMemoryQuotaStore(), testConfig(3))

	for i := 0; i < 3; i++ {
		d, err := l.Check(context.Background(), "user-1")
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d should be admitted", i+1)
	}

	d, err := l.Check(context.Background(), "user-1")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Greater(t, d.RetryAfter, time.Duration(0))
	require.LessOrEqual(t, d.RetryAfter, time.Minute)

	// another identity has its own window
	d, _ = l.Check(context.Background(), "user-2")
	require.True(t, d.Allowed)
}

func TestRateLimiterWindowResets(t *testing.T) {
	store := NewMemoryQuotaStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	l := NewRateLimiter(store, testConfig(1))

	d, _ := l.Check(context.Background(), "user-1")
	require.True(t, d.Allowed)
	d, _ = l.Check(context.Background(), "user-1")
	require.False(t, d.Allowed)

	now = now.Add(time.Minute)
	d, _ = l.Check(context.Background(), "user-1")
	require.True(t, d.Allowed)
}

func TestRateLimiterClassesAreIndependent(t *testing.T) {
	sends := NewRateLimiter(NewMemoryQuotaStore(), testConfig(1))
	fetches := NewRateLimiter(NewMemoryQuotaStore(), testConfig(1))

	d, _ := sends.Check(context.Background(), "user-1")
	require.True(t, d.Allowed)
	d, _ = sends.Check(context.Background(), "user-1")
	require.False(t, d.Allowed)

	// exhausting the send class leaves the fetch class untouched
	d, _ = fetches.Check(context.Background(), "user-1")
	require.True(t, d.Allowed)
}

func TestMemoryQuotaStoreEvictsOldestAtCapacity(t *testing.T) {
	store := NewMemoryQuotaStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	evictions := 0
	store.OnEvict = func() { evictions++ }

	cfg := Config{Window: time.Minute, MaxRequests: 10, MaxTrackedIdentities: 2}

	_, err := store.Incr(context.Background(), "user-1", cfg)
	require.NoError(t, err)
	now = now.Add(time.Second)
	_, err = store.Incr(context.Background(), "user-2", cfg)
	require.NoError(t, err)
	now = now.Add(time.Second)
	_, err = store.Incr(context.Background(), "user-3", cfg)
	require.NoError(t, err)

	require.Equal(t, 1, evictions)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.NotContains(t, store.buckets, "user-1")
	require.Contains(t, store.buckets, "user-2")
	require.Contains(t, store.buckets, "user-3")
}

func TestRateLimiterZeroMaxIsUnlimited(t *testing.T) {
	l := NewRateLimiter(NewMemoryQuotaStore(), Config{Window: time.Minute})

	for i := 0; i < 50; i++ {
		d, err := l.Check(context.Background(), "user-1")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
}

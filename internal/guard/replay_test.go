package guard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReplayGuardRejectsDuplicateWithinTTL(t *testing.T) {
	store := NewMemoryNonceStore(DefaultSweepInterval)
	defer store.Close()
	g := NewReplayGuard(store, 5*time.Minute)

	ok, err := g.Admit(context.Background(), "user-1", "n-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = g.Admit(context.Background(), "user-1", "n-1")
	require.NoError(t, err)
	require.False(t, ok)

	// a different nonce and a different identity are unaffected
	ok, _ = g.Admit(context.Background(), "user-1", "n-2")
	require.True(t, ok)
	ok, _ = g.Admit(context.Background(), "user-2", "n-1")
	require.True(t, ok)
}

func TestReplayGuardReadmitsAfterTTL(t *testing.T) {
	store := NewMemoryNonceStore(DefaultSweepInterval)
	defer store.Close()

	now := time.Now()
	store.now = func() time.Time { return now }
	g := NewReplayGuard(store, 5*time.Minute)

	ok, _ := g.Admit(context.Background(), "user-1", "n-1")
	require.True(t, ok)

	now = now.Add(4 * time.Minute)
	ok, _ = g.Admit(context.Background(), "user-1", "n-1")
	require.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = g.Admit(context.Background(), "user-1", "n-1")
	require.True(t, ok)
}

func TestMemoryNonceStoreSweepDropsEmptyIdentities(t *testing.T) {
	store := NewMemoryNonceStore(DefaultSweepInterval)
	defer store.Close()

	now := time.Now()
	store.now = func() time.Time { return now }

	_, err := store.Add(context.Background(), "user-1", "n-1", time.Minute)
	require.NoError(t, err)
	_, err = store.Add(context.Background(), "user-2", "n-1", 10*time.Minute)
	require.NoError(t, err)

	now = now.Add(5 * time.Minute)
	store.sweep()

	store.mu.Lock()
	defer store.mu.Unlock()
	require.NotContains(t, store.nonces, "user-1")
	require.Contains(t, store.nonces, "user-2")
}

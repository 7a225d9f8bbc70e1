package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisNonceStore backs the replay guard with a shared cache so a clustered
// deployment rejects replays across instances. Expiry is left to Redis TTLs.
type RedisNonceStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisNonceStore constructs the store.
func NewRedisNonceStore(rdb *redis.Client, prefix string) *RedisNonceStore {
	if prefix == "" {
		prefix = "nonce"
	}
	return &RedisNonceStore{rdb: rdb, prefix: prefix}
}

// Add implements NonceStore via SET NX with TTL.
func (s *RedisNonceStore) Add(ctx context.Context, identity string, nonce string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("%s:%s:%s", s.prefix, identity, nonce)
	ok, err := s.rdb.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("nonce store: %w", err)
	}
	return ok, nil
}

// Close implements NonceStore. The client is shared; nothing to release.
func (s *RedisNonceStore) Close() error { return nil }

// RedisQuotaStore counts fixed windows in Redis, keyed per class so each
// limiter keeps an independent identity space.
type RedisQuotaStore struct {
	rdb   *redis.Client
	class string
}

// NewRedisQuotaStore constructs a store for one operation class.
func NewRedisQuotaStore(rdb *redis.Client, class string) *RedisQuotaStore {
	return &RedisQuotaStore{rdb: rdb, class: class}
}

// Incr implements QuotaStore. The first hit in a window sets the expiry; the
// key's remaining TTL is the Retry-After hint.
func (s *RedisQuotaStore) Incr(ctx context.Context, identity string, cfg Config) (Decision, error) {
	key := fmt.Sprintf("rate:%s:%s", s.class, identity)

	count, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("quota store: %w", err)
	}
	if count == 1 {
		if err := s.rdb.PExpire(ctx, key, cfg.Window).Err(); err != nil {
			return Decision{}, fmt.Errorf("quota store: %w", err)
		}
	}
	if count > int64(cfg.MaxRequests) {
		ttl, err := s.rdb.PTTL(ctx, key).Result()
		if err != nil || ttl < 0 {
			ttl = cfg.Window
		}
		return Decision{RetryAfter: ttl}, nil
	}
	return Decision{Allowed: true}, nil
}

// Close implements QuotaStore.
func (s *RedisQuotaStore) Close() error { return nil }

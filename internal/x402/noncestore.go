package x402

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yuchenfeng/TrustGate/internal/logging"
)

// NonceStore tracks used payment nonces. Claim returns true exactly once
// per nonce within the retention window.
type NonceStore interface {
	Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// RedisNonceStore backs the used-nonce set with Redis SETNX. The TTL
// matches the challenge deadline window, after which a replayed nonce is
// rejected by the deadline check instead.
type RedisNonceStore struct {
	client *redis.Client
}

// NewRedisNonceStore creates a Redis-backed nonce store
func NewRedisNonceStore(client *redis.Client) *RedisNonceStore {
	return &RedisNonceStore{client: client}
}

func (s *RedisNonceStore) Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, "x402:nonce:"+nonce, "1", ttl).Result()
	if err != nil {
		// Fail open: an unavailable nonce store must not take payments
		// down with it. Replay protection degrades to deadline-only.
		logging.LogError(err, "", "x402", "nonce_claim")
		return true, nil
	}
	return ok, nil
}

// MemoryNonceStore is an in-process store for tests and single-node
// deployments without Redis.
type MemoryNonceStore struct {
	mu   sync.Mutex
	used map[string]time.Time
}

// NewMemoryNonceStore creates an in-memory nonce store
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{used: make(map[string]time.Time)}
}

func (s *MemoryNonceStore) Claim(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for n, expiry := range s.used {
		if now.After(expiry) {
			delete(s.used, n)
		}
	}
	if _, taken := s.used[nonce]; taken {
		return false, nil
	}
	s.used[nonce] = now.Add(ttl)
	return true, nil
}

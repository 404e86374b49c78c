package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper suppresses repeat alerts for the same anomaly signature
// within a cooldown window. Claim returns true when the caller owns the
// key and should send the alert; false means a recent alert already
// claimed it.
type Deduper interface {
	Claim(ctx context.Context, key string, window time.Duration) (bool, error)
}

// DedupKey builds the suppression key for an alert: one alert per
// tenant, event type and entity per window.
func DedupKey(tenantID, eventType, entityKey string) string {
	return fmt.Sprintf("alert:dedup:%s:%s:%s", tenantID, eventType, entityKey)
}

// RedisDeduper implements Deduper on Redis using SET NX with a TTL, so
// suppression state is shared across instances and expires on its own.
type RedisDeduper struct {
	client *redis.Client
}

func NewRedisDeduper(client *redis.Client) *RedisDeduper {
	return &RedisDeduper{client: client}
}

func (r *RedisDeduper) Claim(ctx context.Context, key string, window time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, "1", window).Result()
	if err != nil {
		return false, fmt.Errorf("dedup claim: %w", err)
	}
	return ok, nil
}

// InMemoryDeduper is a process-local Deduper for tests and single
// instance deployments.
type InMemoryDeduper struct {
	mu      sync.Mutex
	claimed map[string]time.Time
	now     func() time.Time
}

func NewInMemoryDeduper() *InMemoryDeduper {
	return &InMemoryDeduper{
		claimed: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *InMemoryDeduper) Claim(_ context.Context, key string, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if expiry, ok := m.claimed[key]; ok && now.Before(expiry) {
		return false, nil
	}
	m.claimed[key] = now.Add(window)

	// Opportunistically drop expired entries.
	for k, expiry := range m.claimed {
		if now.After(expiry) {
			delete(m.claimed, k)
		}
	}
	return true, nil
}

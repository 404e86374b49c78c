package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oversight-labs/auditpipe/internal/audit"
)

// Default cache parameters.
const (
	DefaultTTL        = time.Hour
	DefaultWindowDays = 30
)

// CacheConfig configures the historical stats cache.
type CacheConfig struct {
	// TTL is how long a snapshot may be served before recomputation.
	TTL time.Duration
	// WindowDays is the trailing window the snapshot is computed over.
	WindowDays int
	// Logger for refresh activity.
	Logger *slog.Logger
	// Now overrides the clock, for testing.
	Now func() time.Time
}

// Cache serves the current historical stats snapshot, recomputing it from
// the event store when it is older than the TTL. The snapshot is swapped
// atomically under a write lock; readers never observe a partial refresh.
//
// Failure policy: if the event store query fails, the last good snapshot
// keeps being served (stale-but-available) and the failure is logged.
type Cache struct {
	store  audit.EventStore
	config CacheConfig

	mu   sync.RWMutex
	snap *Snapshot
}

// NewCache creates a stats cache over the given event store.
func NewCache(store audit.EventStore, config CacheConfig) *Cache {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.WindowDays <= 0 {
		config.WindowDays = DefaultWindowDays
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Cache{store: store, config: config}
}

// GetOrRefresh returns the current snapshot, recomputing it first when no
// snapshot exists or the existing one has exceeded the TTL.
//
// The only error case is a failed refresh with no previous snapshot to
// fall back to; a stale snapshot is returned without error.
func (c *Cache) GetOrRefresh(ctx context.Context) (*Snapshot, error) {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()

	now := c.config.Now()
	if snap != nil && now.Sub(snap.ComputedAt) <= c.config.TTL {
		return snap, nil
	}

	return c.Refresh(ctx)
}

// Refresh unconditionally recomputes the snapshot from the trailing window.
// On store failure the previous snapshot (if any) is returned.
func (c *Cache) Refresh(ctx context.Context) (*Snapshot, error) {
	now := c.config.Now()
	from := now.AddDate(0, 0, -c.config.WindowDays)

	events, err := c.store.QueryWindow(ctx, from, now)
	if err != nil {
		c.mu.RLock()
		stale := c.snap
		c.mu.RUnlock()

		if stale != nil {
			c.config.Logger.Warn("stats refresh failed, serving stale snapshot",
				"error", err,
				"snapshot_age", now.Sub(stale.ComputedAt).String())
			return stale, nil
		}
		c.config.Logger.Error("stats refresh failed with no snapshot to fall back to",
			"error", err)
		return nil, err
	}

	snap := Compute(events, c.config.WindowDays, now)

	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()

	c.config.Logger.Debug("stats snapshot refreshed",
		"events", len(events),
		"users", len(snap.UserActivity),
		"event_types", len(snap.EventTypeFrequencies))

	return snap, nil
}

// Current returns the snapshot without triggering a refresh. May be nil.
func (c *Cache) Current() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oversight-labs/auditpipe/internal/audit"
)

// failingStore wraps an EventStore and fails QueryWindow on demand.
type failingStore struct {
	inner audit.EventStore
	fail  bool
	calls int
}

func (f *failingStore) Append(ctx context.Context, e *audit.Event) (*audit.Event, error) {
	return f.inner.Append(ctx, e)
}

func (f *failingStore) QueryByTenant(ctx context.Context, tenantID string, from, to time.Time, limit int) ([]*audit.Event, error) {
	return f.inner.QueryByTenant(ctx, tenantID, from, to, limit)
}

func (f *failingStore) QueryWindow(ctx context.Context, from, to time.Time) ([]*audit.Event, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("store unavailable")
	}
	return f.inner.QueryWindow(ctx, from, to)
}

func newTestCache(t *testing.T, store audit.EventStore, now *time.Time) *Cache {
	t.Helper()
	return NewCache(store, CacheConfig{
		TTL:        time.Hour,
		WindowDays: 30,
		Now:        func() time.Time { return *now },
	})
}

func TestCache_GetOrRefresh_ComputesOnFirstUse(t *testing.T) {
	store := audit.NewInMemoryStore()
	now := time.Date(2026, 3, 30, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	if _, err := store.Append(ctx, &audit.Event{
		EventType: "login", EntityType: "user", TenantID: "t", Timestamp: now.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	cache := newTestCache(t, store, &now)

	snap, err := cache.GetOrRefresh(ctx)
	if err != nil {
		t.Fatalf("GetOrRefresh() error = %v", err)
	}
	if snap.EventTypeFrequencies["login"] != 1 {
		t.Errorf("login frequency = %d, want 1", snap.EventTypeFrequencies["login"])
	}
}

func TestCache_GetOrRefresh_ServesCachedWithinTTL(t *testing.T) {
	inner := audit.NewInMemoryStore()
	store := &failingStore{inner: inner}
	now := time.Date(2026, 3, 30, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	cache := newTestCache(t, store, &now)

	if _, err := cache.GetOrRefresh(ctx); err != nil {
		t.Fatalf("GetOrRefresh() error = %v", err)
	}
	if _, err := cache.GetOrRefresh(ctx); err != nil {
		t.Fatalf("GetOrRefresh() error = %v", err)
	}
	if store.calls != 1 {
		t.Errorf("store queried %d times within TTL, want 1", store.calls)
	}

	// Advance past the TTL: next call must recompute
	now = now.Add(2 * time.Hour)
	if _, err := cache.GetOrRefresh(ctx); err != nil {
		t.Fatalf("GetOrRefresh() error = %v", err)
	}
	if store.calls != 2 {
		t.Errorf("store queried %d times after TTL expiry, want 2", store.calls)
	}
}

func TestCache_Refresh_ServesStaleOnFailure(t *testing.T) {
	inner := audit.NewInMemoryStore()
	store := &failingStore{inner: inner}
	now := time.Date(2026, 3, 30, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	if _, err := inner.Append(ctx, &audit.Event{
		EventType: "login", EntityType: "user", TenantID: "t", Timestamp: now.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	cache := newTestCache(t, store, &now)

	good, err := cache.GetOrRefresh(ctx)
	if err != nil {
		t.Fatalf("GetOrRefresh() error = %v", err)
	}

	// Break the store and force expiry; the stale snapshot must be served
	store.fail = true
	now = now.Add(3 * time.Hour)

	stale, err := cache.GetOrRefresh(ctx)
	if err != nil {
		t.Fatalf("GetOrRefresh() with failing store error = %v, want stale snapshot", err)
	}
	if !stale.ComputedAt.Equal(good.ComputedAt) {
		t.Error("expected the last good snapshot to be served on refresh failure")
	}
}

func TestCache_Refresh_FailsWithNoFallback(t *testing.T) {
	store := &failingStore{inner: audit.NewInMemoryStore(), fail: true}
	now := time.Date(2026, 3, 30, 12, 0, 0, 0, time.UTC)

	cache := newTestCache(t, store, &now)

	if _, err := cache.GetOrRefresh(context.Background()); err == nil {
		t.Error("GetOrRefresh() should fail when the store fails and no snapshot exists")
	}
}

func TestRefreshJob_StartStop(t *testing.T) {
	store := audit.NewInMemoryStore()
	now := time.Now().UTC()
	cache := newTestCache(t, store, &now)

	job := NewRefreshJob(RefreshJobConfig{Interval: 10 * time.Millisecond}, cache)

	if err := job.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !job.IsRunning() {
		t.Error("job should be running after Start()")
	}

	// Starting again is a no-op
	if err := job.Start(context.Background()); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	job.Stop()
	if job.IsRunning() {
		t.Error("job should not be running after Stop()")
	}
}

func TestRefreshJob_RefreshNow(t *testing.T) {
	store := audit.NewInMemoryStore()
	now := time.Now().UTC()
	cache := newTestCache(t, store, &now)

	job := NewRefreshJob(RefreshJobConfig{}, cache)
	job.RefreshNow()

	if cache.Current() == nil {
		t.Error("RefreshNow() should populate the snapshot")
	}
}

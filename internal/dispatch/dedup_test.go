package dispatch

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryDeduper_ClaimOncePerWindow(t *testing.T) {
	d := NewInMemoryDeduper()
	ctx := context.Background()
	key := DedupKey("tenant-1", "budget_change", "project:proj-9")

	ok, err := d.Claim(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !ok {
		t.Fatal("first claim should succeed")
	}

	ok, err = d.Claim(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if ok {
		t.Error("second claim inside the window should be suppressed")
	}

	other := DedupKey("tenant-2", "budget_change", "project:proj-9")
	ok, _ = d.Claim(ctx, other, time.Minute)
	if !ok {
		t.Error("different tenant key should claim independently")
	}
}

func TestInMemoryDeduper_WindowExpiry(t *testing.T) {
	d := NewInMemoryDeduper()
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	key := DedupKey("tenant-1", "login", "user:user-7")
	if ok, _ := d.Claim(context.Background(), key, time.Minute); !ok {
		t.Fatal("first claim should succeed")
	}

	now = now.Add(30 * time.Second)
	if ok, _ := d.Claim(context.Background(), key, time.Minute); ok {
		t.Error("claim before expiry should be suppressed")
	}

	now = now.Add(45 * time.Second)
	if ok, _ := d.Claim(context.Background(), key, time.Minute); !ok {
		t.Error("claim after expiry should succeed again")
	}
}

func TestDedupKey(t *testing.T) {
	got := DedupKey("t1", "export", "project:p1")
	want := "alert:dedup:t1:export:project:p1"
	if got != want {
		t.Errorf("DedupKey = %q, want %q", got, want)
	}
}

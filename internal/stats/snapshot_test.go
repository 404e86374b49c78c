package stats

import (
	"math"
	"testing"
	"time"

	"github.com/oversight-labs/auditpipe/internal/audit"
)

func TestCompute_EventTypeFrequencies(t *testing.T) {
	now := time.Date(2026, 3, 30, 12, 0, 0, 0, time.UTC)
	events := []*audit.Event{
		{EventType: "login", EntityType: "user", TenantID: "t", Timestamp: now.Add(-time.Hour)},
		{EventType: "login", EntityType: "user", TenantID: "t", Timestamp: now.Add(-2 * time.Hour)},
		{EventType: "budget_change", EntityType: "project", EntityID: "p-1", TenantID: "t", Timestamp: now.Add(-3 * time.Hour)},
	}

	snap := Compute(events, 30, now)

	if snap.EventTypeFrequencies["login"] != 2 {
		t.Errorf("login frequency = %d, want 2", snap.EventTypeFrequencies["login"])
	}
	if snap.EventTypeFrequencies["budget_change"] != 1 {
		t.Errorf("budget_change frequency = %d, want 1", snap.EventTypeFrequencies["budget_change"])
	}
	if snap.TotalEvents() != 3 {
		t.Errorf("TotalEvents() = %d, want 3", snap.TotalEvents())
	}
}

func TestCompute_EntityAccessKeys(t *testing.T) {
	now := time.Date(2026, 3, 30, 12, 0, 0, 0, time.UTC)
	events := []*audit.Event{
		{EventType: "view", EntityType: "project", EntityID: "p-1", TenantID: "t", Timestamp: now},
		{EventType: "view", EntityType: "project", EntityID: "p-1", TenantID: "t", Timestamp: now},
		{EventType: "view", EntityType: "report", TenantID: "t", Timestamp: now},
	}

	snap := Compute(events, 30, now)

	if snap.EntityAccess["project:p-1"] != 2 {
		t.Errorf(`EntityAccess["project:p-1"] = %d, want 2`, snap.EntityAccess["project:p-1"])
	}
	if snap.EntityAccess["report"] != 1 {
		t.Errorf(`EntityAccess["report"] = %d, want 1`, snap.EntityAccess["report"])
	}
	if snap.DistinctEntityTypes() != 2 {
		t.Errorf("DistinctEntityTypes() = %d, want 2", snap.DistinctEntityTypes())
	}
	if snap.TypeAccessCount("project") != 2 {
		t.Errorf("TypeAccessCount(project) = %d, want 2", snap.TypeAccessCount("project"))
	}
}

func TestCompute_UserActivityRates(t *testing.T) {
	now := time.Date(2026, 3, 30, 12, 0, 0, 0, time.UTC)

	// 60 events over the 30-day window for one user
	var events []*audit.Event
	for i := 0; i < 60; i++ {
		events = append(events, &audit.Event{
			EventType:  "login",
			EntityType: "user",
			UserID:     "u-1",
			TenantID:   "t",
			Timestamp:  now.Add(-time.Duration(i) * 6 * time.Hour),
		})
	}

	snap := Compute(events, 30, now)

	activity, ok := snap.UserActivity["u-1"]
	if !ok {
		t.Fatal("expected activity stats for u-1")
	}
	if want := 60.0 / (30 * 24); math.Abs(activity.EventsPerHour-want) > 1e-9 {
		t.Errorf("EventsPerHour = %f, want %f", activity.EventsPerHour, want)
	}
	if want := 2.0; math.Abs(activity.EventsPerDay-want) > 1e-9 {
		t.Errorf("EventsPerDay = %f, want %f", activity.EventsPerDay, want)
	}
	if math.Abs(activity.AvgEventsPerDay-activity.EventsPerDay) > 1e-9 {
		t.Error("AvgEventsPerDay should match EventsPerDay for the same sample")
	}
}

func TestCompute_StdDevIsRealNotPlaceholder(t *testing.T) {
	now := time.Date(2026, 3, 30, 12, 0, 0, 0, time.UTC)

	// One event per day for the full 30-day window: std dev must be 0,
	// where the old 20%-of-mean placeholder would report 0.2.
	var events []*audit.Event
	for day := 0; day < 30; day++ {
		events = append(events, &audit.Event{
			EventType:  "login",
			EntityType: "user",
			UserID:     "u-uniform",
			TenantID:   "t",
			Timestamp:  now.AddDate(0, 0, -day).Add(-time.Hour),
		})
	}
	// A bursty user: all 30 events on a single day
	for i := 0; i < 30; i++ {
		events = append(events, &audit.Event{
			EventType:  "export",
			EntityType: "report",
			UserID:     "u-bursty",
			TenantID:   "t",
			Timestamp:  now.Add(-time.Duration(i) * time.Minute),
		})
	}

	snap := Compute(events, 30, now)

	uniform := snap.UserActivity["u-uniform"]
	if uniform.StdEventsPerDay > 1e-9 {
		t.Errorf("uniform user StdEventsPerDay = %f, want 0", uniform.StdEventsPerDay)
	}

	bursty := snap.UserActivity["u-bursty"]
	// mean 1/day, one day with 30 events, 29 days with 0:
	// variance = (29^2 + 29*1)/30 = 29, std = sqrt(29)
	want := math.Sqrt(29)
	if math.Abs(bursty.StdEventsPerDay-want) > 1e-9 {
		t.Errorf("bursty user StdEventsPerDay = %f, want %f", bursty.StdEventsPerDay, want)
	}
}

func TestCompute_SkipsUserlessEvents(t *testing.T) {
	now := time.Date(2026, 3, 30, 12, 0, 0, 0, time.UTC)
	events := []*audit.Event{
		{EventType: "system_job", EntityType: "job", TenantID: "t", Timestamp: now},
	}

	snap := Compute(events, 30, now)
	if len(snap.UserActivity) != 0 {
		t.Errorf("UserActivity has %d entries, want 0 for userless events", len(snap.UserActivity))
	}
	if snap.TotalEvents() != 1 {
		t.Errorf("TotalEvents() = %d, want 1", snap.TotalEvents())
	}
}

func TestCompute_Empty(t *testing.T) {
	now := time.Date(2026, 3, 30, 12, 0, 0, 0, time.UTC)
	snap := Compute(nil, 30, now)

	if snap.TotalEvents() != 0 {
		t.Errorf("TotalEvents() = %d, want 0", snap.TotalEvents())
	}
	if !snap.ComputedAt.Equal(now) {
		t.Errorf("ComputedAt = %v, want %v", snap.ComputedAt, now)
	}
}

package api

import (
	"context"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/oversight-labs/auditpipe/internal/anomaly"
	"github.com/oversight-labs/auditpipe/internal/audit"
	"github.com/oversight-labs/auditpipe/internal/chain"
	"github.com/oversight-labs/auditpipe/internal/dispatch"
	"github.com/oversight-labs/auditpipe/internal/features"
	"github.com/oversight-labs/auditpipe/internal/pipeline"
	"github.com/oversight-labs/auditpipe/internal/stats"
)

type fakeAlerter struct {
	sent []*anomaly.Detection
}

func (f *fakeAlerter) SendAll(_ context.Context, det *anomaly.Detection) map[string]dispatch.DeliveryResult {
	f.sent = append(f.sent, det)
	return map[string]dispatch.DeliveryResult{
		dispatch.ChannelSlack: {Success: true, Attempts: 1, StatusCode: 200},
	}
}

func testClock() time.Time {
	return time.Date(2026, 3, 15, 3, 0, 0, 0, time.UTC) // Sunday, off-hours
}

// testServer wires real in-memory components behind the full route table.
type testServer struct {
	mux        *http.ServeMux
	events     audit.EventStore
	detections *anomaly.InMemoryStore
	ledger     *chain.Ledger
	alerter    *fakeAlerter
}

// newTestServer builds the API over in-memory stores, seeded with a
// routine login baseline so a rare off-hours event scores above threshold.
func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := slog.Default()
	events := audit.NewInMemoryStore()
	now := testClock()
	for i := 0; i < 200; i++ {
		_, err := events.Append(context.Background(), &audit.Event{
			EventType:  "login",
			UserID:     "user-routine",
			EntityType: "session",
			Severity:   audit.SeverityInfo,
			Timestamp:  now.Add(-time.Duration(i%20*24) * time.Hour).Add(-time.Hour),
			TenantID:   "tenant-1",
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	cache := stats.NewCache(events, stats.CacheConfig{Now: func() time.Time { return now }})
	extractor := features.NewExtractor(cache, logger)
	detector := anomaly.NewDetector(anomaly.DetectorConfig{Logger: logger})
	detections := anomaly.NewInMemoryStore()
	ledger := chain.NewLedger(logger)
	alerter := &fakeAlerter{}

	p := pipeline.New(events, ledger, extractor, detector, detections, alerter, logger, pipeline.Options{})

	mux := http.NewServeMux()
	Routes(mux, Handlers{
		Events:     NewEventHandlers(p, events),
		Detections: NewDetectionHandlers(detections),
		Chain:      NewChainHandlers(ledger),
		Stats:      NewStatsHandlers(cache),
		Archive:    NewArchiveHandlers(nil),
		Health:     NewHealthHandlers(HealthHandlersConfig{}),
	})

	return &testServer{
		mux:        mux,
		events:     events,
		detections: detections,
		ledger:     ledger,
		alerter:    alerter,
	}
}

func anomalousEventJSON() string {
	return `{
		"event_type": "budget_change",
		"user_id": "user-unseen",
		"entity_type": "project",
		"entity_id": "proj-42",
		"action_details": {"old_budget": 100000, "new_budget": 500000, "change_percent": 400},
		"severity": "warning",
		"timestamp": "2026-03-15T03:00:00Z",
		"tenant_id": "tenant-1"
	}`
}

func routineEventJSON() string {
	return `{
		"event_type": "login",
		"user_id": "user-routine",
		"entity_type": "session",
		"severity": "info",
		"timestamp": "2026-03-10T10:00:00Z",
		"tenant_id": "tenant-1"
	}`
}

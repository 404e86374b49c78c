package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oversight-labs/auditpipe/internal/anomaly"
	"github.com/oversight-labs/auditpipe/internal/audit"
)

func noDelay(int) time.Duration { return 0 }

func testDetection() *anomaly.Detection {
	return &anomaly.Detection{
		ID:           "det-1",
		AuditEventID: "evt-1",
		AuditEvent: &audit.Event{
			ID:         "evt-1",
			EventType:  "budget_change",
			UserID:     "user-7",
			EntityType: "project",
			EntityID:   "proj-9",
			Severity:   audit.SeverityWarning,
			Timestamp:  time.Date(2026, 3, 15, 3, 0, 0, 0, time.UTC),
			TenantID:   "tenant-1",
		},
		Score:            0.84,
		DetectedAt:       time.Date(2026, 3, 15, 3, 0, 1, 0, time.UTC),
		ModelVersion:     anomaly.ModelVersion,
		SeverityLevel:    anomaly.SeverityHigh,
		AffectedEntities: []string{"project:proj-9", "user:user-7"},
		SuggestedActions: []string{"Verify the budget change was authorized"},
	}
}

func newTestDispatcher(slackURL string, opts ...Option) *Dispatcher {
	cfg := Config{SlackWebhookURL: slackURL}
	opts = append([]Option{WithBackoff(noDelay)}, opts...)
	return NewDispatcher(cfg, nil, opts...)
}

func TestSendWithRetry_AllAttemptsFail(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := newTestDispatcher(srv.URL)
	res := d.SendSlack(context.Background(), testDetection())

	if res.Success {
		t.Error("expected delivery to fail")
	}
	if res.Attempts != DefaultMaxRetries {
		t.Errorf("Attempts = %d, want %d", res.Attempts, DefaultMaxRetries)
	}
	if got := atomic.LoadInt32(&calls); got != int32(DefaultMaxRetries) {
		t.Errorf("server saw %d requests, want %d", got, DefaultMaxRetries)
	}
	if res.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", res.StatusCode)
	}
	if res.Cancelled {
		t.Error("Cancelled should be false for exhausted retries")
	}
	if res.ErrorMessage == "" {
		t.Error("expected ErrorMessage for failed delivery")
	}
}

func TestSendWithRetry_SucceedsOnSecondAttempt(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := newTestDispatcher(srv.URL)
	res := d.SendSlack(context.Background(), testDetection())

	if !res.Success {
		t.Fatalf("expected success, got error %q", res.ErrorMessage)
	}
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", res.Attempts)
	}
	if res.ErrorMessage != "" {
		t.Errorf("ErrorMessage = %q, want empty on success", res.ErrorMessage)
	}
}

func TestSendWithRetry_AcceptedStatuses(t *testing.T) {
	for _, status := range []int{200, 201, 202, 204} {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(status)
		}))

		d := newTestDispatcher(srv.URL)
		res := d.SendSlack(context.Background(), testDetection())
		srv.Close()

		if !res.Success {
			t.Errorf("status %d: expected success", status)
		}
		if res.Attempts != 1 {
			t.Errorf("status %d: Attempts = %d, want 1", status, res.Attempts)
		}
	}
}

func TestSendWithRetry_RedirectStatusIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	d := newTestDispatcher(srv.URL, WithHTTPClient(client))
	res := d.SendSlack(context.Background(), testDetection())

	if res.Success {
		t.Error("3xx status must not count as delivered")
	}
}

func TestSendWithRetry_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := newTestDispatcher(srv.URL)
	res := d.SendSlack(ctx, testDetection())

	if !res.Cancelled {
		t.Error("expected Cancelled result for pre-cancelled context")
	}
	if res.Success {
		t.Error("cancelled delivery must not be successful")
	}
	if res.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0 when cancelled before first POST", res.Attempts)
	}
}

func TestSendWithRetry_CancelDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	d := newTestDispatcher(srv.URL, WithBackoff(func(int) time.Duration {
		cancel()
		return time.Minute
	}))

	done := make(chan DeliveryResult, 1)
	go func() { done <- d.SendSlack(ctx, testDetection()) }()

	select {
	case res := <-done:
		if !res.Cancelled {
			t.Error("expected Cancelled result")
		}
		if res.Attempts != 1 {
			t.Errorf("Attempts = %d, want 1", res.Attempts)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("delivery did not stop after cancellation")
	}
}

func TestSendWithRetry_BackoffBetweenAttemptsOnly(t *testing.T) {
	var backoffCalls []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := newTestDispatcher(srv.URL, WithBackoff(func(attempt int) time.Duration {
		backoffCalls = append(backoffCalls, attempt)
		return 0
	}))
	d.SendSlack(context.Background(), testDetection())

	// Three attempts mean two sleeps, after attempts 0 and 1. No sleep
	// follows the final attempt.
	if len(backoffCalls) != 2 {
		t.Fatalf("backoff invoked %d times, want 2", len(backoffCalls))
	}
	if backoffCalls[0] != 0 || backoffCalls[1] != 1 {
		t.Errorf("backoff attempts = %v, want [0 1]", backoffCalls)
	}
}

func TestSendWithRetry_NoConfiguredURL(t *testing.T) {
	d := NewDispatcher(Config{}, nil, WithBackoff(noDelay))
	res := d.SendSlack(context.Background(), testDetection())
	if res.Success || res.Attempts != 0 {
		t.Errorf("unconfigured channel: got success=%v attempts=%d", res.Success, res.Attempts)
	}
	if res.ErrorMessage != ErrNoWebhookURL.Error() {
		t.Errorf("ErrorMessage = %q, want %q", res.ErrorMessage, ErrNoWebhookURL.Error())
	}
}

func TestSendAll_SkipsUnconfiguredChannels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(Config{SlackWebhookURL: srv.URL, ZapierWebhookURL: srv.URL}, nil, WithBackoff(noDelay))
	results := d.SendAll(context.Background(), testDetection())

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if _, ok := results[ChannelTeams]; ok {
		t.Error("teams channel without URL should be skipped")
	}
	for ch, res := range results {
		if !res.Success {
			t.Errorf("channel %s: expected success, got %q", ch, res.ErrorMessage)
		}
	}
}

func TestValidateWebhookURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("probe used %s, want HEAD", r.Method)
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := newTestDispatcher("")

	// Scheme check happens before any network traffic.
	for _, url := range []string{"hooks.slack.com/test", "ftp://example.com/hook", ""} {
		if d.ValidateWebhookURL(context.Background(), url) {
			t.Errorf("ValidateWebhookURL(%q) = true, want false", url)
		}
	}

	// Any HTTP response counts as reachable, even a 404.
	if !d.ValidateWebhookURL(context.Background(), srv.URL) {
		t.Error("reachable URL returning 404 should validate")
	}

	// Transport errors fail validation.
	closed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	closed.Close()
	if d.ValidateWebhookURL(context.Background(), closed.URL) {
		t.Error("unreachable URL should not validate")
	}
}

func TestExponentialBackoff(t *testing.T) {
	policy := ExponentialBackoff(time.Second, 30*time.Second)
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := policy(tt.attempt); got != tt.want {
			t.Errorf("policy(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

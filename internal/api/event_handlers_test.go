package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v (body %q)", err, rec.Body.String())
	}
	return resp
}

func TestCreateEvent_Routine(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(routineEventJSON()))
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusAccepted, rec.Body.String())
	}

	var resp ProcessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Event == nil || resp.Event.ID == "" {
		t.Error("expected stored event with assigned ID")
	}
	if resp.ChainEntry.Hash == "" {
		t.Error("expected chain entry hash")
	}
	if resp.ChainEntry.SequenceIndex != 0 {
		t.Errorf("sequence index = %d, want 0", resp.ChainEntry.SequenceIndex)
	}
	if resp.Detection != nil {
		t.Errorf("routine event produced detection with score %.3f", resp.Detection.Score)
	}
	if len(ts.alerter.sent) != 0 {
		t.Error("no alert should be sent for a routine event")
	}
}

func TestCreateEvent_AnomalousDetects(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(anomalousEventJSON()))
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusAccepted, rec.Body.String())
	}

	var resp ProcessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Detection == nil {
		t.Fatal("expected a detection for the anomalous event")
	}
	if resp.Detection.Score <= 0.7 {
		t.Errorf("score = %.3f, want > 0.7", resp.Detection.Score)
	}
	if len(ts.alerter.sent) != 1 {
		t.Errorf("alerter called %d times, want 1", len(ts.alerter.sent))
	}
}

func TestCreateEvent_InvalidJSON(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if resp := decodeError(t, rec); resp.Error.Code != ErrCodeBadRequest {
		t.Errorf("error code = %q, want %q", resp.Error.Code, ErrCodeBadRequest)
	}
}

func TestCreateEvent_ValidationFailure(t *testing.T) {
	ts := newTestServer(t)

	body := `{"entity_type": "project", "tenant_id": "tenant-1"}`
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if resp := decodeError(t, rec); resp.Error.Code != ErrCodeInvalidEvent {
		t.Errorf("error code = %q, want %q", resp.Error.Code, ErrCodeInvalidEvent)
	}
}

func TestCreateEventBatch(t *testing.T) {
	ts := newTestServer(t)

	body := `{"events": [` + routineEventJSON() + `,` + routineEventJSON() + `,{"tenant_id": "tenant-1"}]}`
	req := httptest.NewRequest(http.MethodPost, "/events/batch", strings.NewReader(body))
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusAccepted, rec.Body.String())
	}

	var resp BatchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Accepted != 2 {
		t.Errorf("accepted = %d, want 2", resp.Accepted)
	}
	if resp.Failed != 1 {
		t.Errorf("failed = %d, want 1", resp.Failed)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(resp.Results))
	}
	if resp.Results[1].ChainEntry.SequenceIndex != 1 {
		t.Errorf("second sequence index = %d, want 1", resp.Results[1].ChainEntry.SequenceIndex)
	}
}

func TestCreateEventBatch_Empty(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/events/batch", strings.NewReader(`{"events": []}`))
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if resp := decodeError(t, rec); resp.Error.Code != ErrCodeValidation {
		t.Errorf("error code = %q, want %q", resp.Error.Code, ErrCodeValidation)
	}
}

func TestListEvents(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/events?tenant_id=tenant-1&limit=5", nil)
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp EventListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 5 {
		t.Errorf("count = %d, want 5", resp.Count)
	}
}

func TestListEvents_QueryValidation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name     string
		url      string
		wantCode string
	}{
		{"missing tenant", "/events", ErrCodeValidation},
		{"bad from", "/events?tenant_id=tenant-1&from=yesterday", ErrCodeValidation},
		{"bad limit", "/events?tenant_id=tenant-1&limit=-2", ErrCodeValidation},
		{"inverted range", "/events?tenant_id=tenant-1&from=2026-03-15T00:00:00Z&to=2026-03-01T00:00:00Z", ErrCodeInvalidTimeRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			rec := httptest.NewRecorder()
			ts.mux.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
			if resp := decodeError(t, rec); resp.Error.Code != tt.wantCode {
				t.Errorf("error code = %q, want %q", resp.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestExportEvents_CSV(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/events/export?tenant_id=tenant-1&format=csv", nil)
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "text/csv" {
		t.Errorf("Content-Type = %q, want text/csv", got)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "audit-events.csv") {
		t.Errorf("Content-Disposition = %q", got)
	}
	if !strings.Contains(rec.Body.String(), "login") {
		t.Error("export should contain the seeded login events")
	}
}

func TestExportEvents_UnsupportedFormat(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/events/export?tenant_id=tenant-1&format=xml", nil)
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if resp := decodeError(t, rec); resp.Error.Code != ErrCodeUnsupportedFormat {
		t.Errorf("error code = %q, want %q", resp.Error.Code, ErrCodeUnsupportedFormat)
	}
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodDelete, "/events", nil)
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

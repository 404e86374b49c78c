// Package api provides HTTP handlers for the audit pipeline API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oversight-labs/auditpipe/internal/anomaly"
	"github.com/oversight-labs/auditpipe/internal/audit"
	"github.com/oversight-labs/auditpipe/internal/middleware"
	"github.com/oversight-labs/auditpipe/internal/pipeline"
	"github.com/oversight-labs/auditpipe/internal/validate"
)

// MaxBatchSize caps the number of events accepted in a single batch request.
const MaxBatchSize = 500

// DefaultQueryLimit is used when a list request does not specify a limit.
const DefaultQueryLimit = 100

// MaxQueryLimit caps the limit a list request may ask for.
const MaxQueryLimit = 1000

// EventHandlers holds dependencies for audit event HTTP handlers.
type EventHandlers struct {
	pipeline *pipeline.Pipeline
	events   audit.EventStore
}

// NewEventHandlers creates a new EventHandlers instance.
func NewEventHandlers(p *pipeline.Pipeline, events audit.EventStore) *EventHandlers {
	return &EventHandlers{
		pipeline: p,
		events:   events,
	}
}

// ChainEntryResponse is the chain placement of an ingested event.
type ChainEntryResponse struct {
	Hash          string `json:"hash"`
	PreviousHash  string `json:"previous_hash,omitempty"`
	SequenceIndex int    `json:"sequence_index"`
}

// ProcessResponse is returned for each successfully ingested event.
type ProcessResponse struct {
	Event      *audit.Event       `json:"event"`
	ChainEntry ChainEntryResponse `json:"chain_entry"`
	Detection  *anomaly.Detection `json:"detection,omitempty"`
	Suppressed bool               `json:"alert_suppressed,omitempty"`
}

// BatchRequest is the request body for batch ingestion.
type BatchRequest struct {
	Events []*audit.Event `json:"events"`
}

// BatchResponse summarizes a batch ingestion.
type BatchResponse struct {
	Accepted int               `json:"accepted"`
	Failed   int               `json:"failed"`
	Results  []ProcessResponse `json:"results"`
}

func processResponse(res *pipeline.Result) ProcessResponse {
	return ProcessResponse{
		Event: res.Event,
		ChainEntry: ChainEntryResponse{
			Hash:          res.Entry.Hash,
			PreviousHash:  res.Entry.PreviousHash,
			SequenceIndex: res.Entry.SequenceIndex,
		},
		Detection:  res.Detection,
		Suppressed: res.Suppressed,
	}
}

// isValidationError reports whether err comes from event validation
// rather than pipeline internals.
func isValidationError(err error) bool {
	return errors.Is(err, audit.ErrInvalidEventType) ||
		errors.Is(err, audit.ErrInvalidEntityType) ||
		errors.Is(err, audit.ErrInvalidTenantID) ||
		errors.Is(err, audit.ErrInvalidSeverity)
}

// CreateEvent handles POST /events. The event is persisted, chained,
// scored, and alerted on synchronously; a 202 response carries the
// chain placement and any detection.
func (h *EventHandlers) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var event audit.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		WriteError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	if event.TenantID != "" {
		*r = *r.WithContext(middleware.SetTenantID(r.Context(), event.TenantID))
	}

	res, err := h.pipeline.Process(r.Context(), &event)
	if err != nil {
		if isValidationError(err) {
			WriteError(w, r, http.StatusBadRequest, ErrCodeInvalidEvent, err.Error())
			return
		}
		slog.ErrorContext(r.Context(), "pipeline processing failed", "error", err, "event_type", event.EventType)
		WriteError(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to process event")
		return
	}

	WriteJSON(w, r, http.StatusAccepted, processResponse(res))
}

// CreateEventBatch handles POST /events/batch. Events are processed in
// order; a failing event does not abort the rest of the batch.
func (h *EventHandlers) CreateEventBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	if len(req.Events) == 0 {
		WriteError(w, r, http.StatusBadRequest, ErrCodeValidation, "events must not be empty")
		return
	}
	if len(req.Events) > MaxBatchSize {
		WriteError(w, r, http.StatusBadRequest, ErrCodeValidation,
			fmt.Sprintf("batch size %d exceeds maximum of %d", len(req.Events), MaxBatchSize))
		return
	}

	results, err := h.pipeline.ProcessBatch(r.Context(), req.Events)
	if err != nil && len(results) == 0 {
		if isValidationError(err) {
			WriteError(w, r, http.StatusBadRequest, ErrCodeInvalidEvent, err.Error())
			return
		}
		slog.ErrorContext(r.Context(), "batch processing failed", "error", err)
		WriteError(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to process batch")
		return
	}

	resp := BatchResponse{
		Accepted: len(results),
		Failed:   len(req.Events) - len(results),
		Results:  make([]ProcessResponse, 0, len(results)),
	}
	for _, res := range results {
		resp.Results = append(resp.Results, processResponse(res))
	}

	WriteJSON(w, r, http.StatusAccepted, resp)
}

// queryParams holds the common tenant/time-range/limit query parameters.
type queryParams struct {
	TenantID string
	From     time.Time
	To       time.Time
	Limit    int
}

// parseQueryParams reads tenant_id, from, to, and limit from the URL.
// Writes an error response and returns false on invalid input.
func parseQueryParams(w http.ResponseWriter, r *http.Request) (queryParams, bool) {
	q := r.URL.Query()

	params := queryParams{Limit: DefaultQueryLimit}

	tenantID, err := validate.Identifier(q.Get("tenant_id"))
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, ErrCodeValidation, "tenant_id is required and must be a valid identifier")
		return params, false
	}
	params.TenantID = tenantID
	*r = *r.WithContext(middleware.SetTenantID(r.Context(), params.TenantID))

	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			WriteError(w, r, http.StatusBadRequest, ErrCodeValidation, "from must be an RFC3339 timestamp")
			return params, false
		}
		params.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			WriteError(w, r, http.StatusBadRequest, ErrCodeValidation, "to must be an RFC3339 timestamp")
			return params, false
		}
		params.To = t
	}
	if !params.From.IsZero() && !params.To.IsZero() && !params.From.Before(params.To) {
		WriteError(w, r, http.StatusBadRequest, ErrCodeInvalidTimeRange, "from must be before to")
		return params, false
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			WriteError(w, r, http.StatusBadRequest, ErrCodeValidation, "limit must be a positive integer")
			return params, false
		}
		if n > MaxQueryLimit {
			n = MaxQueryLimit
		}
		params.Limit = n
	}

	return params, true
}

// EventListResponse wraps a page of audit events.
type EventListResponse struct {
	Events []*audit.Event `json:"events"`
	Count  int            `json:"count"`
}

// ListEvents handles GET /events. Requires tenant_id; from, to, and
// limit are optional.
func (h *EventHandlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	params, ok := parseQueryParams(w, r)
	if !ok {
		return
	}

	events, err := h.events.QueryByTenant(r.Context(), params.TenantID, params.From, params.To, params.Limit)
	if err != nil {
		slog.ErrorContext(r.Context(), "event query failed", "error", err, "tenant_id", params.TenantID)
		WriteError(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to query events")
		return
	}

	WriteJSON(w, r, http.StatusOK, EventListResponse{Events: events, Count: len(events)})
}

// ExportEvents handles GET /events/export. Streams the tenant's events
// as a CSV or JSON attachment for compliance reporting.
func (h *EventHandlers) ExportEvents(w http.ResponseWriter, r *http.Request) {
	params, ok := parseQueryParams(w, r)
	if !ok {
		return
	}
	// Exports default to the full range, not the list page size
	if r.URL.Query().Get("limit") == "" {
		params.Limit = 0
	}

	format := audit.ExportFormat(strings.ToLower(r.URL.Query().Get("format")))
	if format == "" {
		format = audit.ExportFormatCSV
	}
	if format != audit.ExportFormatCSV && format != audit.ExportFormatJSON {
		WriteError(w, r, http.StatusBadRequest, ErrCodeUnsupportedFormat, "format must be csv or json")
		return
	}

	data, err := audit.ExportEvents(r.Context(), h.events, audit.ExportOptions{
		Format:   format,
		TenantID: params.TenantID,
		From:     params.From,
		To:       params.To,
		Limit:    params.Limit,
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "event export failed", "error", err, "tenant_id", params.TenantID)
		WriteError(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to export events")
		return
	}

	contentType := "text/csv"
	if format == audit.ExportFormatJSON {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "audit-events."+string(format)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(r.Context(), "failed to write export response", "error", err)
	}
}

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/oversight-labs/auditpipe/internal/anomaly"
)

// MaxFeedbackNotesLength caps reviewer notes on detection feedback.
const MaxFeedbackNotesLength = 2000

// DetectionHandlers holds dependencies for anomaly detection HTTP handlers.
type DetectionHandlers struct {
	detections anomaly.Store
}

// NewDetectionHandlers creates a new DetectionHandlers instance.
func NewDetectionHandlers(detections anomaly.Store) *DetectionHandlers {
	return &DetectionHandlers{detections: detections}
}

// DetectionListResponse wraps a page of detections.
type DetectionListResponse struct {
	Detections []*anomaly.Detection `json:"detections"`
	Count      int                  `json:"count"`
}

// FeedbackRequest is the request body for reviewer feedback on a detection.
type FeedbackRequest struct {
	IsFalsePositive bool   `json:"is_false_positive"`
	Notes           string `json:"notes,omitempty"`
}

// ListDetections handles GET /detections. Requires tenant_id; from, to,
// and limit are optional. Results are newest first.
func (h *DetectionHandlers) ListDetections(w http.ResponseWriter, r *http.Request) {
	params, ok := parseQueryParams(w, r)
	if !ok {
		return
	}

	detections, err := h.detections.QueryByTenant(r.Context(), params.TenantID, params.From, params.To, params.Limit)
	if err != nil {
		slog.ErrorContext(r.Context(), "detection query failed", "error", err, "tenant_id", params.TenantID)
		WriteError(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to query detections")
		return
	}

	WriteJSON(w, r, http.StatusOK, DetectionListResponse{Detections: detections, Count: len(detections)})
}

// GetDetection handles GET /detections/{id}.
func (h *DetectionHandlers) GetDetection(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		WriteError(w, r, http.StatusBadRequest, ErrCodeValidation, "detection id is required")
		return
	}

	det, err := h.detections.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, anomaly.ErrDetectionNotFound) {
			WriteError(w, r, http.StatusNotFound, ErrCodeDetectionNotFound, "Detection not found")
			return
		}
		slog.ErrorContext(r.Context(), "detection lookup failed", "error", err, "detection_id", id)
		WriteError(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to load detection")
		return
	}

	WriteJSON(w, r, http.StatusOK, det)
}

// RecordFeedback handles POST /detections/{id}/feedback. Reviewers mark
// detections as confirmed anomalies or false positives; the verdict
// feeds precision reporting.
func (h *DetectionHandlers) RecordFeedback(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		WriteError(w, r, http.StatusBadRequest, ErrCodeValidation, "detection id is required")
		return
	}

	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	if len(req.Notes) > MaxFeedbackNotesLength {
		WriteError(w, r, http.StatusBadRequest, ErrCodeValidation, "notes too long")
		return
	}

	if err := h.detections.RecordFeedback(r.Context(), id, req.IsFalsePositive, req.Notes); err != nil {
		if errors.Is(err, anomaly.ErrDetectionNotFound) {
			WriteError(w, r, http.StatusNotFound, ErrCodeDetectionNotFound, "Detection not found")
			return
		}
		slog.ErrorContext(r.Context(), "feedback recording failed", "error", err, "detection_id", id)
		WriteError(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to record feedback")
		return
	}

	det, err := h.detections.Get(r.Context(), id)
	if err != nil {
		slog.ErrorContext(r.Context(), "detection reload failed", "error", err, "detection_id", id)
		WriteError(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to load detection")
		return
	}

	WriteJSON(w, r, http.StatusOK, det)
}

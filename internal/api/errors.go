// Package api provides HTTP API utilities including standardized error handling.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/oversight-labs/auditpipe/internal/middleware"
)

// Common error codes used throughout the API.
const (
	// ErrCodeValidation indicates input validation failure.
	ErrCodeValidation = "validation_error"

	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound = "not_found"

	// ErrCodeRateLimited indicates rate limit exceeded.
	ErrCodeRateLimited = "rate_limited"

	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal = "internal_error"

	// ErrCodeBadRequest indicates a malformed request.
	ErrCodeBadRequest = "bad_request"

	// ErrCodeInvalidEvent indicates audit event validation failure.
	ErrCodeInvalidEvent = "invalid_event"

	// ErrCodeInvalidTimeRange indicates the from time is not before the to time.
	ErrCodeInvalidTimeRange = "invalid_time_range"

	// ErrCodeDetectionNotFound indicates the anomaly detection was not found.
	ErrCodeDetectionNotFound = "detection_not_found"

	// ErrCodeUnsupportedFormat indicates an unsupported export format.
	ErrCodeUnsupportedFormat = "unsupported_format"

	// ErrCodeArchiveUnavailable indicates archive storage is not configured.
	ErrCodeArchiveUnavailable = "archive_unavailable"
)

// ErrorResponse represents the standard error response format.
// All API errors return JSON in this structure: {"error": {"code": "...", "message": "..."}}
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a standardized JSON error response.
//
// Format: {"error": {"code": "error_code", "message": "Error description"}}
//
// The error code is stored on the request context so the logging
// middleware picks it up for 4xx and 5xx responses.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	*r = *r.WithContext(middleware.SetErrorCode(r.Context(), code))

	errResp := ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	}

	data, err := json.Marshal(errResp)
	if err != nil {
		// Fallback to plain text if JSON marshaling fails
		slog.ErrorContext(r.Context(), "failed to marshal error response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(r.Context(), "failed to write error response", "error", err)
	}
}

// WriteJSON writes a JSON response body with the given status code.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

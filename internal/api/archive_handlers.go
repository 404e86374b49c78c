package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oversight-labs/auditpipe/internal/archive"
	"github.com/oversight-labs/auditpipe/internal/audit"
	"github.com/oversight-labs/auditpipe/internal/middleware"
	"github.com/oversight-labs/auditpipe/internal/validate"
)

// ArchiveHandlers holds dependencies for archive export HTTP handlers.
// The service is nil when archive storage is not configured.
type ArchiveHandlers struct {
	service *archive.Service
}

// NewArchiveHandlers creates a new ArchiveHandlers instance.
func NewArchiveHandlers(service *archive.Service) *ArchiveHandlers {
	return &ArchiveHandlers{service: service}
}

// ArchiveExportRequest is the request body for archiving a tenant's events.
type ArchiveExportRequest struct {
	TenantID string     `json:"tenant_id"`
	Format   string     `json:"format,omitempty"`
	From     *time.Time `json:"from,omitempty"`
	To       *time.Time `json:"to,omitempty"`
}

// ArchiveExportResponse describes the stored archive object and a
// time-limited download link.
type ArchiveExportResponse struct {
	Archive      *archive.Result       `json:"archive"`
	DownloadLink *archive.DownloadLink `json:"download_link,omitempty"`
}

// ExportArchive handles POST /archive/export. Exports the tenant's
// events and uploads the result to the archive bucket.
func (h *ArchiveHandlers) ExportArchive(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		WriteError(w, r, http.StatusServiceUnavailable, ErrCodeArchiveUnavailable, "Archive storage is not configured")
		return
	}

	var req ArchiveExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	tenantID, err := validate.Identifier(req.TenantID)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, ErrCodeValidation, "tenant_id is required and must be a valid identifier")
		return
	}
	req.TenantID = tenantID
	*r = *r.WithContext(middleware.SetTenantID(r.Context(), req.TenantID))

	format := audit.ExportFormat(strings.ToLower(req.Format))
	if format == "" {
		format = audit.ExportFormatCSV
	}
	if format != audit.ExportFormatCSV && format != audit.ExportFormatJSON {
		WriteError(w, r, http.StatusBadRequest, ErrCodeUnsupportedFormat, "format must be csv or json")
		return
	}

	opts := audit.ExportOptions{
		Format:   format,
		TenantID: req.TenantID,
	}
	if req.From != nil {
		opts.From = *req.From
	}
	if req.To != nil {
		opts.To = *req.To
	}
	if !opts.From.IsZero() && !opts.To.IsZero() && !opts.From.Before(opts.To) {
		WriteError(w, r, http.StatusBadRequest, ErrCodeInvalidTimeRange, "from must be before to")
		return
	}

	result, err := h.service.Export(r.Context(), opts)
	if err != nil {
		if errors.Is(err, archive.ErrInvalidTenantID) {
			WriteError(w, r, http.StatusBadRequest, ErrCodeValidation, "tenant_id contains invalid characters")
			return
		}
		if errors.Is(err, archive.ErrEmptyExport) {
			WriteError(w, r, http.StatusBadRequest, ErrCodeValidation, "no events in the requested range")
			return
		}
		slog.ErrorContext(r.Context(), "archive export failed", "error", err, "tenant_id", req.TenantID)
		WriteError(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to archive events")
		return
	}

	resp := ArchiveExportResponse{Archive: result}

	// A failed presign still leaves a usable archive; the object can be
	// fetched later via bucket tooling.
	link, err := h.service.SignedDownloadURL(r.Context(), result.Key)
	if err != nil {
		slog.WarnContext(r.Context(), "archive presign failed", "error", err, "key", result.Key)
	} else {
		resp.DownloadLink = link
	}

	WriteJSON(w, r, http.StatusCreated, resp)
}

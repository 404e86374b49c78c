package api

import (
	"log/slog"
	"net/http"

	"github.com/oversight-labs/auditpipe/internal/stats"
)

// StatsHandlers holds dependencies for historical statistics HTTP handlers.
type StatsHandlers struct {
	cache *stats.Cache
}

// NewStatsHandlers creates a new StatsHandlers instance.
func NewStatsHandlers(cache *stats.Cache) *StatsHandlers {
	return &StatsHandlers{cache: cache}
}

// StatsResponse is the current statistics snapshot plus derived totals.
type StatsResponse struct {
	*stats.Snapshot
	TotalEvents         int `json:"total_events"`
	DistinctEntityTypes int `json:"distinct_entity_types"`
}

// GetStats handles GET /stats. Serves the cached snapshot, recomputing
// it first if the TTL has expired.
func (h *StatsHandlers) GetStats(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.cache.GetOrRefresh(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "stats refresh failed", "error", err)
		WriteError(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to compute statistics")
		return
	}

	WriteJSON(w, r, http.StatusOK, StatsResponse{
		Snapshot:            snapshot,
		TotalEvents:         snapshot.TotalEvents(),
		DistinctEntityTypes: snapshot.DistinctEntityTypes(),
	})
}

package api

import "net/http"

// Handlers groups every handler set the server exposes.
type Handlers struct {
	Events     *EventHandlers
	Detections *DetectionHandlers
	Chain      *ChainHandlers
	Stats      *StatsHandlers
	Archive    *ArchiveHandlers
	Health     *HealthHandlers
}

// Routes registers every endpoint on the mux. Method-qualified patterns
// give unmatched methods a 405 from the mux itself.
func Routes(mux *http.ServeMux, h Handlers) {
	mux.HandleFunc("POST /events", h.Events.CreateEvent)
	mux.HandleFunc("POST /events/batch", h.Events.CreateEventBatch)
	mux.HandleFunc("GET /events", h.Events.ListEvents)
	mux.HandleFunc("GET /events/export", h.Events.ExportEvents)

	mux.HandleFunc("GET /detections", h.Detections.ListDetections)
	mux.HandleFunc("GET /detections/{id}", h.Detections.GetDetection)
	mux.HandleFunc("POST /detections/{id}/feedback", h.Detections.RecordFeedback)

	mux.HandleFunc("GET /chain/verify", h.Chain.VerifyChain)
	mux.HandleFunc("GET /stats", h.Stats.GetStats)
	mux.HandleFunc("POST /archive/export", h.Archive.ExportArchive)

	mux.HandleFunc("GET /health", h.Health.Health)
	mux.HandleFunc("GET /ready", h.Health.Ready)
}

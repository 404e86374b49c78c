package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricEventsProcessedTotal  = "pipeline_events_processed_total"
	MetricDetectionsTotal       = "pipeline_detections_total"
	MetricAlertsSuppressedTotal = "pipeline_alerts_suppressed_total"
	MetricProcessingDuration    = "pipeline_processing_duration_seconds"
)

// Metrics contains Prometheus metrics for pipeline processing.
// All operations are thread-safe.
type Metrics struct {
	eventsProcessed    *prometheus.CounterVec
	detections         *prometheus.CounterVec
	suppressed         *prometheus.CounterVec
	processingDuration prometheus.Histogram
}

// NewMetrics creates a Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		eventsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricEventsProcessedTotal,
				Help: "Total number of audit events processed by status",
			},
			[]string{"status"},
		),
		detections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricDetectionsTotal,
				Help: "Total number of anomaly detections by tenant and severity",
			},
			[]string{"tenant_id", "severity"},
		),
		suppressed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricAlertsSuppressedTotal,
				Help: "Total number of alerts suppressed by deduplication",
			},
			[]string{"tenant_id"},
		),
		processingDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricProcessingDuration,
				Help:    "Histogram of end to end event processing duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncProcessed increments the processed-events counter.
func (m *Metrics) IncProcessed(status string) {
	m.eventsProcessed.WithLabelValues(status).Inc()
}

// IncDetections increments the detections counter.
func (m *Metrics) IncDetections(tenantID, severity string) {
	m.detections.WithLabelValues(tenantID, severity).Inc()
}

// IncSuppressed increments the suppressed-alerts counter.
func (m *Metrics) IncSuppressed(tenantID string) {
	m.suppressed.WithLabelValues(tenantID).Inc()
}

// ObserveProcessingDuration records one end to end processing duration.
func (m *Metrics) ObserveProcessingDuration(seconds float64) {
	m.processingDuration.Observe(seconds)
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.eventsProcessed,
		m.detections,
		m.suppressed,
		m.processingDuration,
	}
}

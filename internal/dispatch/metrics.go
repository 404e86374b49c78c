package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricAlertDeliveriesTotal  = "alert_deliveries_total"
	MetricAlertDeliveryAttempts = "alert_delivery_attempts"
	MetricAlertsSuppressedTotal = "alerts_suppressed_total"
)

// Delivery outcome label values.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeCancelled = "cancelled"
)

// Metrics contains Prometheus metrics for alert delivery.
// All operations are thread-safe.
type Metrics struct {
	deliveriesTotal  *prometheus.CounterVec
	deliveryAttempts *prometheus.HistogramVec
	suppressedTotal  *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		deliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricAlertDeliveriesTotal,
				Help: "Total number of alert delivery attempts by channel and outcome",
			},
			[]string{"channel", "outcome"},
		),
		deliveryAttempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricAlertDeliveryAttempts,
				Help:    "Histogram of HTTP attempts issued per alert delivery",
				Buckets: []float64{1, 2, 3, 4, 5},
			},
			[]string{"channel"},
		),
		suppressedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricAlertsSuppressedTotal,
				Help: "Total number of alerts suppressed by deduplication",
			},
			[]string{"tenant_id"},
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

// IncDeliveries increments the deliveries counter for a channel/outcome pair.
func (m *Metrics) IncDeliveries(channel, outcome string) {
	m.deliveriesTotal.WithLabelValues(channel, outcome).Inc()
}

// ObserveAttempts records how many POSTs one delivery issued.
func (m *Metrics) ObserveAttempts(channel string, attempts int) {
	m.deliveryAttempts.WithLabelValues(channel).Observe(float64(attempts))
}

// IncSuppressed increments the dedup suppression counter for a tenant.
func (m *Metrics) IncSuppressed(tenantID string) {
	m.suppressedTotal.WithLabelValues(tenantID).Inc()
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.deliveriesTotal,
		m.deliveryAttempts,
		m.suppressedTotal,
	}
}

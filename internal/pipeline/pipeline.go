// Package pipeline orchestrates the audit event flow: persist, chain,
// extract features, score, and dispatch alerts for anomalies.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/oversight-labs/auditpipe/internal/anomaly"
	"github.com/oversight-labs/auditpipe/internal/audit"
	"github.com/oversight-labs/auditpipe/internal/chain"
	"github.com/oversight-labs/auditpipe/internal/dispatch"
	"github.com/oversight-labs/auditpipe/internal/features"
)

const tracerName = "auditpipe/pipeline"

// DefaultDedupWindow is how long repeat alerts for the same anomaly
// signature are suppressed.
const DefaultDedupWindow = 15 * time.Minute

// Result reports what one Process call did with an event.
type Result struct {
	Event     *audit.Event
	Entry     *chain.Entry
	Detection *anomaly.Detection

	// Suppressed is true when a detection fired but the alert was
	// deduplicated instead of dispatched.
	Suppressed bool

	// Deliveries holds per-channel outcomes when an alert was dispatched.
	Deliveries map[string]dispatch.DeliveryResult
}

// Alerter delivers a detection to all configured channels.
type Alerter interface {
	SendAll(ctx context.Context, det *anomaly.Detection) map[string]dispatch.DeliveryResult
}

// Pipeline processes audit events end to end.
type Pipeline struct {
	events      audit.EventStore
	ledger      *chain.Ledger
	extractor   *features.Extractor
	detector    *anomaly.Detector
	detections  anomaly.Store
	alerter     Alerter
	deduper     dispatch.Deduper
	dedupWindow time.Duration
	logger      *slog.Logger
	metrics     *Metrics
	tracer      trace.Tracer
}

// Options configures optional pipeline behavior.
type Options struct {
	// Deduper suppresses repeat alerts. Nil disables deduplication.
	Deduper dispatch.Deduper

	// DedupWindow overrides DefaultDedupWindow when positive.
	DedupWindow time.Duration

	// Metrics records pipeline counters. Nil disables metrics.
	Metrics *Metrics
}

// New assembles a Pipeline. events, ledger, extractor, detector and
// detections are required; alerter may be nil to disable dispatch.
func New(
	events audit.EventStore,
	ledger *chain.Ledger,
	extractor *features.Extractor,
	detector *anomaly.Detector,
	detections anomaly.Store,
	alerter Alerter,
	logger *slog.Logger,
	opts Options,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	window := opts.DedupWindow
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &Pipeline{
		events:      events,
		ledger:      ledger,
		extractor:   extractor,
		detector:    detector,
		detections:  detections,
		alerter:     alerter,
		deduper:     opts.Deduper,
		dedupWindow: window,
		logger:      logger,
		metrics:     opts.Metrics,
		tracer:      otel.Tracer(tracerName),
	}
}

// Process runs one event through the full pipeline. The event is
// persisted and chained before any scoring happens; detection or
// dispatch failures never undo ingestion.
func (p *Pipeline) Process(ctx context.Context, e *audit.Event) (*Result, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.Process")
	defer span.End()

	start := time.Now()

	stored, err := p.events.Append(ctx, e)
	if err != nil {
		p.observe(start, "store_error")
		return nil, fmt.Errorf("append event: %w", err)
	}
	span.SetAttributes(
		attribute.String("audit.event_id", stored.ID),
		attribute.String("audit.event_type", stored.EventType),
		attribute.String("audit.tenant_id", stored.TenantID),
	)

	entry, err := p.ledger.Append(ctx, stored)
	if err != nil {
		p.observe(start, "chain_error")
		return nil, fmt.Errorf("chain event: %w", err)
	}

	res := &Result{Event: stored, Entry: entry}

	vec := p.extractor.ExtractBatch(ctx, []*audit.Event{stored})[0]
	score := p.detector.Score(vec)
	span.SetAttributes(attribute.Float64("anomaly.score", score))

	det := p.detector.Classify(stored, vec, score)
	if det == nil {
		p.observe(start, "ok")
		return res, nil
	}
	res.Detection = det

	if err := p.detections.Save(ctx, det); err != nil {
		p.observe(start, "detection_store_error")
		return res, fmt.Errorf("save detection: %w", err)
	}
	if p.metrics != nil {
		p.metrics.IncDetections(stored.TenantID, det.SeverityLevel)
	}

	p.dispatchAlert(ctx, res)
	p.observe(start, "ok")
	return res, nil
}

// ProcessBatch runs Process over each event in order. Processing
// continues past per-event failures; the first error is returned after
// the batch completes.
func (p *Pipeline) ProcessBatch(ctx context.Context, events []*audit.Event) ([]*Result, error) {
	results := make([]*Result, 0, len(events))
	var firstErr error
	for _, e := range events {
		res, err := p.Process(ctx, e)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			p.logger.Error("pipeline batch event failed", "error", err)
			continue
		}
		results = append(results, res)
	}
	return results, firstErr
}

// dispatchAlert sends the detection to all channels unless a recent
// alert for the same signature already claimed the dedup key. Dedup
// store failures fail open so a degraded Redis never silences alerts.
func (p *Pipeline) dispatchAlert(ctx context.Context, res *Result) {
	if p.alerter == nil {
		return
	}
	det := res.Detection
	e := res.Event

	if p.deduper != nil {
		key := dispatch.DedupKey(e.TenantID, e.EventType, e.EntityKey())
		claimed, err := p.deduper.Claim(ctx, key, p.dedupWindow)
		if err != nil {
			p.logger.Warn("alert dedup unavailable, sending anyway",
				"detection_id", det.ID,
				"error", err)
		} else if !claimed {
			res.Suppressed = true
			if p.metrics != nil {
				p.metrics.IncSuppressed(e.TenantID)
			}
			p.logger.Info("alert suppressed by dedup window",
				"detection_id", det.ID,
				"tenant_id", e.TenantID,
				"event_type", e.EventType)
			return
		}
	}

	res.Deliveries = p.alerter.SendAll(ctx, det)

	delivered := false
	for _, d := range res.Deliveries {
		if d.Success {
			delivered = true
			break
		}
	}
	if !delivered {
		return
	}

	if err := p.detections.MarkAlertSent(ctx, det.ID); err != nil {
		p.logger.Error("failed to mark alert sent",
			"detection_id", det.ID,
			"error", err)
		return
	}
	det.AlertSent = true
}

func (p *Pipeline) observe(start time.Time, status string) {
	if p.metrics == nil {
		return
	}
	p.metrics.IncProcessed(status)
	p.metrics.ObserveProcessingDuration(time.Since(start).Seconds())
}

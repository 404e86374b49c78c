package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oversight-labs/auditpipe/internal/anomaly"
)

// ErrNoWebhookURL is returned when a send is attempted for a channel
// with no configured webhook URL.
var ErrNoWebhookURL = errors.New("dispatch: no webhook url configured")

// Dispatcher posts anomaly alerts to webhook channels with retry.
type Dispatcher struct {
	cfg     Config
	client  *http.Client
	backoff BackoffPolicy
	logger  *slog.Logger
	metrics DispatchMetrics
}

// DispatchMetrics records delivery outcomes. The Prometheus
// implementation lives in metrics.go; tests use a no-op.
type DispatchMetrics interface {
	IncDeliveries(channel, outcome string)
	ObserveAttempts(channel string, attempts int)
}

type noopMetrics struct{}

func (noopMetrics) IncDeliveries(string, string) {}
func (noopMetrics) ObserveAttempts(string, int)  {}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for webhook posts.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithBackoff overrides the backoff policy between retry attempts.
func WithBackoff(p BackoffPolicy) Option {
	return func(d *Dispatcher) { d.backoff = p }
}

// WithMetrics attaches delivery metrics.
func WithMetrics(m DispatchMetrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher builds a Dispatcher from cfg. Invalid config values are
// replaced by defaults via Normalize.
func NewDispatcher(cfg Config, logger *slog.Logger, opts ...Option) *Dispatcher {
	cfg.Normalize()
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		cfg:     cfg,
		client:  &http.Client{},
		backoff: cfg.Backoff(),
		logger:  logger,
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SendSlack posts a Block Kit alert to the configured Slack webhook.
func (d *Dispatcher) SendSlack(ctx context.Context, det *anomaly.Detection) DeliveryResult {
	if d.cfg.SlackWebhookURL == "" {
		return DeliveryResult{ErrorMessage: ErrNoWebhookURL.Error()}
	}
	return d.SendWithRetry(ctx, ChannelSlack, d.cfg.SlackWebhookURL, BuildSlackPayload(det))
}

// SendTeams posts an adaptive-card alert to the configured Teams webhook.
func (d *Dispatcher) SendTeams(ctx context.Context, det *anomaly.Detection) DeliveryResult {
	if d.cfg.TeamsWebhookURL == "" {
		return DeliveryResult{ErrorMessage: ErrNoWebhookURL.Error()}
	}
	return d.SendWithRetry(ctx, ChannelTeams, d.cfg.TeamsWebhookURL, BuildTeamsPayload(det))
}

// TriggerZapier posts a flat JSON alert to the configured Zapier hook.
func (d *Dispatcher) TriggerZapier(ctx context.Context, det *anomaly.Detection) DeliveryResult {
	if d.cfg.ZapierWebhookURL == "" {
		return DeliveryResult{ErrorMessage: ErrNoWebhookURL.Error()}
	}
	return d.SendWithRetry(ctx, ChannelZapier, d.cfg.ZapierWebhookURL, BuildZapierPayload(det))
}

// SendAll delivers det to every configured channel and returns results
// keyed by channel name. Channels without a configured URL are skipped.
func (d *Dispatcher) SendAll(ctx context.Context, det *anomaly.Detection) map[string]DeliveryResult {
	results := make(map[string]DeliveryResult)
	if d.cfg.SlackWebhookURL != "" {
		results[ChannelSlack] = d.SendSlack(ctx, det)
	}
	if d.cfg.TeamsWebhookURL != "" {
		results[ChannelTeams] = d.SendTeams(ctx, det)
	}
	if d.cfg.ZapierWebhookURL != "" {
		results[ChannelZapier] = d.TriggerZapier(ctx, det)
	}
	return results
}

// SendWithRetry posts payload as JSON to url, retrying on failure up to
// the configured attempt budget with backoff between attempts. There is
// no sleep after the final attempt, and Attempts in the result reflects
// exactly how many POSTs were issued. Context cancellation stops the
// loop immediately and is reported as a distinct Cancelled outcome.
func (d *Dispatcher) SendWithRetry(ctx context.Context, channel, url string, payload any) DeliveryResult {
	body, err := json.Marshal(payload)
	if err != nil {
		res := DeliveryResult{ErrorMessage: fmt.Sprintf("marshal payload: %v", err)}
		d.record(channel, res)
		return res
	}

	var result DeliveryResult
	for attempt := 0; attempt < d.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			result.Cancelled = true
			result.ErrorMessage = err.Error()
			break
		}

		result.Attempts++
		status, err := d.post(ctx, url, body)
		result.StatusCode = status
		if err == nil && acceptedStatuses[status] {
			result.Success = true
			result.ErrorMessage = ""
			break
		}

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
				result.Cancelled = true
				result.ErrorMessage = err.Error()
				break
			}
			result.ErrorMessage = err.Error()
		} else {
			result.ErrorMessage = fmt.Sprintf("unexpected status %d", status)
		}

		d.logger.Warn("webhook delivery attempt failed",
			"channel", channel,
			"attempt", attempt+1,
			"status", status,
			"error", result.ErrorMessage)

		if attempt == d.cfg.MaxRetries-1 {
			break
		}
		select {
		case <-time.After(d.backoff(attempt)):
		case <-ctx.Done():
			result.Cancelled = true
			result.ErrorMessage = ctx.Err().Error()
		}
		if result.Cancelled {
			break
		}
	}

	if result.Success {
		d.logger.Info("alert delivered",
			"channel", channel,
			"attempts", result.Attempts,
			"status", result.StatusCode)
	} else {
		d.logger.Error("alert delivery failed",
			"channel", channel,
			"attempts", result.Attempts,
			"cancelled", result.Cancelled,
			"error", result.ErrorMessage)
	}
	d.record(channel, result)
	return result
}

// post issues a single JSON POST bounded by the per-attempt timeout.
func (d *Dispatcher) post(ctx context.Context, url string, body []byte) (int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}

func (d *Dispatcher) record(channel string, res DeliveryResult) {
	outcome := "failure"
	switch {
	case res.Success:
		outcome = "success"
	case res.Cancelled:
		outcome = "cancelled"
	}
	d.metrics.IncDeliveries(channel, outcome)
	d.metrics.ObserveAttempts(channel, res.Attempts)
}

// ValidateWebhookURL checks that url uses an http or https scheme and,
// if so, probes it with a HEAD request. Any HTTP response, regardless of
// status, counts as reachable; only scheme violations and transport
// errors fail validation.
func (d *Dispatcher) ValidateWebhookURL(ctx context.Context, url string) bool {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, d.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

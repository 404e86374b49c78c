package ingest

import (
	"context"
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/oversight-labs/auditpipe/internal/audit"
)

// Processor receives decoded audit events from the feed. Implemented by
// the pipeline.
type Processor interface {
	Process(ctx context.Context, e *audit.Event) error
}

// ProcessorFunc adapts a plain function to the Processor interface.
type ProcessorFunc func(ctx context.Context, e *audit.Event) error

func (f ProcessorFunc) Process(ctx context.Context, e *audit.Event) error {
	return f(ctx, e)
}

// Consumer decodes feed frames and forwards audit events to a Processor.
// Malformed frames and per-event processing failures are logged and
// skipped so one bad producer cannot stall the feed.
type Consumer struct {
	client    *Client
	processor Processor
	logger    *slog.Logger
}

// NewConsumer builds a feed consumer for the given endpoint.
func NewConsumer(config Config, processor Processor, logger *slog.Logger) (*Consumer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Consumer{processor: processor, logger: logger}

	client, err := NewClient(config, c.handleMessage, logger)
	if err != nil {
		return nil, err
	}
	c.client = client
	return c, nil
}

// Run consumes the feed until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.client.Run(ctx)
}

// IsConnected reports whether the underlying feed connection is up.
func (c *Consumer) IsConnected() bool {
	return c.client.IsConnected()
}

func (c *Consumer) handleMessage(messageType int, payload []byte) error {
	if messageType != websocket.BinaryMessage {
		// Feed frames are binary CBOR; ignore pings and text noise.
		return nil
	}

	frame, err := DecodeFrame(payload)
	if err != nil {
		c.logger.Warn("dropping malformed feed frame",
			slog.String("error", err.Error()),
			slog.Int("bytes", len(payload)))
		return nil
	}
	if frame.Kind == KindHeartbeat {
		return nil
	}

	event, err := frame.ToEvent()
	if err != nil {
		c.logger.Warn("dropping invalid feed event",
			slog.String("error", err.Error()))
		return nil
	}

	if err := c.processor.Process(context.Background(), event); err != nil {
		c.logger.Error("feed event processing failed",
			slog.String("event_type", event.EventType),
			slog.String("tenant_id", event.TenantID),
			slog.String("error", err.Error()))
	}
	return nil
}

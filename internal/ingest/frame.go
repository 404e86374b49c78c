package ingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/oversight-labs/auditpipe/internal/audit"
)

// Feed frame parsing errors.
var (
	ErrInvalidFrame    = errors.New("invalid CBOR frame")
	ErrUnknownKind     = errors.New("unknown frame kind")
	ErrMissingEvent    = errors.New("missing event payload in frame")
	ErrMissingTenantID = errors.New("missing tenant id in event payload")
)

// Frame kinds sent by upstream producers.
const (
	KindEvent     = "event"
	KindHeartbeat = "heartbeat"
)

// Frame is the top-level CBOR message on the audit feed. Producers send
// event frames carrying one audit event and periodic heartbeats.
type Frame struct {
	// Kind is the frame type ("event" or "heartbeat")
	Kind string `cbor:"kind"`

	// TimeUS is the producer timestamp in microseconds
	TimeUS int64 `cbor:"time_us"`

	// Event contains the audit event payload (when Kind == "event")
	Event *EventPayload `cbor:"event,omitempty"`
}

// EventPayload is the wire form of one audit event on the feed.
type EventPayload struct {
	ID            string         `cbor:"id,omitempty"`
	EventType     string         `cbor:"event_type"`
	UserID        string         `cbor:"user_id,omitempty"`
	EntityType    string         `cbor:"entity_type"`
	EntityID      string         `cbor:"entity_id,omitempty"`
	ActionDetails map[string]any `cbor:"action_details,omitempty"`
	Severity      string         `cbor:"severity,omitempty"`
	Timestamp     time.Time      `cbor:"timestamp"`
	TenantID      string         `cbor:"tenant_id"`
}

// DecodeFrame decodes a CBOR-encoded feed frame.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) == 0 {
		return nil, ErrInvalidFrame
	}

	var f Frame
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	switch f.Kind {
	case KindEvent:
		if f.Event == nil {
			return nil, ErrMissingEvent
		}
		if f.Event.TenantID == "" {
			return nil, ErrMissingTenantID
		}
	case KindHeartbeat:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, f.Kind)
	}
	return &f, nil
}

// ToEvent converts the frame's payload into an audit event. Only valid
// for event frames.
func (f *Frame) ToEvent() (*audit.Event, error) {
	if f.Kind != KindEvent || f.Event == nil {
		return nil, ErrMissingEvent
	}
	p := f.Event
	e := &audit.Event{
		ID:            p.ID,
		EventType:     p.EventType,
		UserID:        p.UserID,
		EntityType:    p.EntityType,
		EntityID:      p.EntityID,
		ActionDetails: p.ActionDetails,
		Severity:      p.Severity,
		Timestamp:     p.Timestamp,
		TenantID:      p.TenantID,
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// EncodeFrame encodes a frame to CBOR. Used by tests and by producers
// embedded in the same process.
func EncodeFrame(f *Frame) ([]byte, error) {
	return cbor.Marshal(f)
}

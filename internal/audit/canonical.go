package audit

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// canonicalEvent is the wire form used for hashing. All fields are encoded
// with CBOR core deterministic options so that map keys are sorted and the
// same logical event always serializes to the same bytes. Timestamps are
// normalized to UTC RFC 3339 with nanosecond precision to fix the date
// format independently of the source time zone.
type canonicalEvent struct {
	ID            string         `cbor:"id"`
	EventType     string         `cbor:"event_type"`
	UserID        string         `cbor:"user_id"`
	EntityType    string         `cbor:"entity_type"`
	EntityID      string         `cbor:"entity_id"`
	ActionDetails map[string]any `cbor:"action_details"`
	Severity      string         `cbor:"severity"`
	Timestamp     string         `cbor:"timestamp"`
	TenantID      string         `cbor:"tenant_id"`
}

// canonicalEncMode is the deterministic CBOR encoder shared by all callers.
// Core deterministic encoding sorts map keys and uses the shortest integer
// and float forms, which makes the output stable across processes.
var canonicalEncMode cbor.EncMode

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("audit: failed to build canonical CBOR encoder: %v", err))
	}
	canonicalEncMode = em
}

// Canonicalize returns the deterministic serialization of an event used as
// the hash input for the chain ledger. The same logical event always
// produces identical bytes.
func Canonicalize(e *Event) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("audit: cannot canonicalize nil event")
	}

	ce := canonicalEvent{
		ID:            e.ID,
		EventType:     e.EventType,
		UserID:        e.UserID,
		EntityType:    e.EntityType,
		EntityID:      e.EntityID,
		ActionDetails: e.ActionDetails,
		Severity:      e.Severity,
		Timestamp:     e.Timestamp.UTC().Format(time.RFC3339Nano),
		TenantID:      e.TenantID,
	}

	data, err := canonicalEncMode.Marshal(ce)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to canonicalize event %s: %w", e.ID, err)
	}
	return data, nil
}

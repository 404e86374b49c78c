// Package audit provides the audit event model, canonical serialization,
// and event store implementations for the tamper-evident audit trail.
package audit

import (
	"errors"
	"time"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// ValidSeverities defines the allowed severity values for audit events.
var ValidSeverities = map[string]bool{
	SeverityInfo:     true,
	SeverityWarning:  true,
	SeverityError:    true,
	SeverityCritical: true,
}

// Validation errors.
var (
	ErrInvalidEventType  = errors.New("event type cannot be empty")
	ErrInvalidEntityType = errors.New("entity type cannot be empty")
	ErrInvalidTenantID   = errors.New("tenant ID cannot be empty")
	ErrInvalidSeverity   = errors.New("severity must be one of: info, warning, error, critical")
)

// Event represents a single audit event produced by the surrounding
// backend. Events are immutable after creation: the pipeline only reads
// them for statistics and appends them to the hash chain.
type Event struct {
	ID            string         `json:"id"`
	EventType     string         `json:"event_type"`
	UserID        string         `json:"user_id,omitempty"`
	EntityType    string         `json:"entity_type"`
	EntityID      string         `json:"entity_id,omitempty"`
	ActionDetails map[string]any `json:"action_details,omitempty"`
	Severity      string         `json:"severity"`
	Timestamp     time.Time      `json:"timestamp"`
	TenantID      string         `json:"tenant_id"`
}

// Validate checks the required fields of an event.
func (e *Event) Validate() error {
	if e.EventType == "" {
		return ErrInvalidEventType
	}
	if e.EntityType == "" {
		return ErrInvalidEntityType
	}
	if e.TenantID == "" {
		return ErrInvalidTenantID
	}
	if e.Severity != "" && !ValidSeverities[e.Severity] {
		return ErrInvalidSeverity
	}
	return nil
}

// EntityKey returns the entity access key used in historical statistics:
// "entity_type:entity_id", or just "entity_type" when there is no entity ID.
func (e *Event) EntityKey() string {
	if e.EntityID == "" {
		return e.EntityType
	}
	return e.EntityType + ":" + e.EntityID
}

// Clone returns a deep copy of the event so callers cannot mutate stored state.
func (e *Event) Clone() *Event {
	cp := *e
	if e.ActionDetails != nil {
		cp.ActionDetails = cloneDetails(e.ActionDetails)
	}
	return &cp
}

// cloneDetails deep-copies an action details map. Nested maps and slices
// are copied; scalar values are shared (they are immutable).
func cloneDetails(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneDetails(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

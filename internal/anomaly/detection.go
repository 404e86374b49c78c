// Package anomaly scores feature vectors against the historical baseline
// and classifies the events that cross the anomaly threshold.
package anomaly

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oversight-labs/auditpipe/internal/audit"
	"github.com/oversight-labs/auditpipe/internal/features"
)

// Severity levels for classified detections. Ordered: Low < Medium < High < Critical.
const (
	SeverityLow      = "Low"
	SeverityMedium   = "Medium"
	SeverityHigh     = "High"
	SeverityCritical = "Critical"
)

// Store errors.
var (
	// ErrDetectionNotFound is returned when a detection ID is unknown.
	ErrDetectionNotFound = errors.New("anomaly detection not found")
)

// Detection is a classified anomaly. Created once by the detector; only
// the review fields (IsFalsePositive, FeedbackNotes) and AlertSent are
// mutated afterwards.
type Detection struct {
	ID             string          `json:"id"`
	AuditEventID   string          `json:"audit_event_id"`
	AuditEvent     *audit.Event    `json:"audit_event"`
	Score          float64         `json:"anomaly_score"`
	DetectedAt     time.Time       `json:"detection_timestamp"`
	FeaturesUsed   features.Vector `json:"features_used"`
	ModelVersion   string          `json:"model_version"`
	IsFalsePositive bool           `json:"is_false_positive"`
	FeedbackNotes  string          `json:"feedback_notes,omitempty"`
	AlertSent      bool            `json:"alert_sent"`
	SeverityLevel  string          `json:"severity_level"`
	// AffectedEntities is the set of entity references touched by the
	// event, sorted for stable output.
	AffectedEntities []string `json:"affected_entities"`
	// SuggestedActions is an ordered list of remediation hints.
	SuggestedActions []string `json:"suggested_actions"`
}

// Clone returns a copy of the detection with its own slices.
func (d *Detection) Clone() *Detection {
	cp := *d
	if d.AuditEvent != nil {
		cp.AuditEvent = d.AuditEvent.Clone()
	}
	cp.AffectedEntities = append([]string(nil), d.AffectedEntities...)
	cp.SuggestedActions = append([]string(nil), d.SuggestedActions...)
	return &cp
}

// Store defines persistence for detections, queryable by collaborators
// for audit and compliance reporting.
type Store interface {
	// Save persists a new detection.
	Save(ctx context.Context, d *Detection) error

	// Get retrieves a detection by ID.
	// Returns ErrDetectionNotFound if the ID is unknown.
	Get(ctx context.Context, id string) (*Detection, error)

	// QueryByTenant retrieves detections for a tenant within [from, to],
	// newest first. Limit caps the number of results (0 = no limit).
	QueryByTenant(ctx context.Context, tenantID string, from, to time.Time, limit int) ([]*Detection, error)

	// RecordFeedback marks a detection as a confirmed or rejected false
	// positive with optional reviewer notes.
	RecordFeedback(ctx context.Context, id string, isFalsePositive bool, notes string) error

	// MarkAlertSent records that an alert was dispatched for the detection.
	MarkAlertSent(ctx context.Context, id string) error
}

// InMemoryStore is an in-memory implementation of Store.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryStore struct {
	mu         sync.RWMutex
	detections map[string]*Detection
	// Maintain insertion order for queries
	order []string
}

// NewInMemoryStore creates a new in-memory detection store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		detections: make(map[string]*Detection),
		order:      make([]string, 0),
	}
}

// Save persists a new detection.
func (s *InMemoryStore) Save(ctx context.Context, d *Detection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := d.Clone()
	s.detections[cp.ID] = cp
	s.order = append(s.order, cp.ID)
	return nil
}

// Get retrieves a detection by ID.
func (s *InMemoryStore) Get(ctx context.Context, id string) (*Detection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.detections[id]
	if !ok {
		return nil, ErrDetectionNotFound
	}
	return d.Clone(), nil
}

// QueryByTenant retrieves detections for a tenant within [from, to], newest first.
func (s *InMemoryStore) QueryByTenant(ctx context.Context, tenantID string, from, to time.Time, limit int) ([]*Detection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*Detection
	for i := len(s.order) - 1; i >= 0; i-- {
		d := s.detections[s.order[i]]
		if d.AuditEvent == nil || d.AuditEvent.TenantID != tenantID {
			continue
		}
		if !from.IsZero() && d.DetectedAt.Before(from) {
			continue
		}
		if !to.IsZero() && d.DetectedAt.After(to) {
			continue
		}
		results = append(results, d.Clone())
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// RecordFeedback marks a detection as a confirmed or rejected false positive.
func (s *InMemoryStore) RecordFeedback(ctx context.Context, id string, isFalsePositive bool, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.detections[id]
	if !ok {
		return ErrDetectionNotFound
	}
	d.IsFalsePositive = isFalsePositive
	d.FeedbackNotes = notes
	return nil
}

// MarkAlertSent records that an alert was dispatched for the detection.
func (s *InMemoryStore) MarkAlertSent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.detections[id]
	if !ok {
		return ErrDetectionNotFound
	}
	d.AlertSent = true
	return nil
}

package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventStore defines the interface to the append-only audit event store.
// The pipeline only reads (for statistics) and appends; it never updates
// or deletes events.
type EventStore interface {
	// Append persists a new audit event. The event ID is assigned if empty.
	// Returns the stored event.
	Append(ctx context.Context, e *Event) (*Event, error)

	// QueryByTenant retrieves events for a tenant within [from, to],
	// oldest first. Limit caps the number of results (0 = no limit).
	QueryByTenant(ctx context.Context, tenantID string, from, to time.Time, limit int) ([]*Event, error)

	// QueryWindow retrieves all events across tenants within [from, to],
	// oldest first. Used by the historical stats refresh.
	QueryWindow(ctx context.Context, from, to time.Time) ([]*Event, error)
}

// InMemoryStore is an in-memory implementation of EventStore.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[string]*Event
	// Maintain insertion order for queries
	order []string
}

// NewInMemoryStore creates a new in-memory event store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		events: make(map[string]*Event),
		order:  make([]string, 0),
	}
}

// Append persists a new audit event.
func (s *InMemoryStore) Append(ctx context.Context, e *Event) (*Event, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	stored := e.Clone()
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.Severity == "" {
		stored.Severity = SeverityInfo
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	s.events[stored.ID] = stored
	s.order = append(s.order, stored.ID)
	s.mu.Unlock()

	// Return a copy to prevent external modification
	return stored.Clone(), nil
}

// QueryByTenant retrieves events for a tenant within [from, to], oldest first.
func (s *InMemoryStore) QueryByTenant(ctx context.Context, tenantID string, from, to time.Time, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*Event
	for _, id := range s.order {
		e := s.events[id]
		if e.TenantID != tenantID {
			continue
		}
		if !inRange(e.Timestamp, from, to) {
			continue
		}
		results = append(results, e.Clone())
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// QueryWindow retrieves all events within [from, to], oldest first.
func (s *InMemoryStore) QueryWindow(ctx context.Context, from, to time.Time) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*Event
	for _, id := range s.order {
		e := s.events[id]
		if !inRange(e.Timestamp, from, to) {
			continue
		}
		results = append(results, e.Clone())
	}
	return results, nil
}

// inRange reports whether ts falls within [from, to]. Zero bounds are open.
func inRange(ts, from, to time.Time) bool {
	if !from.IsZero() && ts.Before(from) {
		return false
	}
	if !to.IsZero() && ts.After(to) {
		return false
	}
	return true
}

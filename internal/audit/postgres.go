package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore is a Postgres-backed implementation of EventStore.
// Action details are stored as JSONB. The audit_events table is append-only;
// no UPDATE or DELETE statements exist in this package.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres event store using an existing
// database handle (opened with the lib/pq driver).
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append persists a new audit event.
func (s *PostgresStore) Append(ctx context.Context, e *Event) (*Event, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	stored := e.Clone()
	if stored.Severity == "" {
		stored.Severity = SeverityInfo
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now().UTC()
	}

	details, err := json.Marshal(stored.ActionDetails)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal action details: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO audit_events (id, event_type, user_id, entity_type, entity_id, action_details, severity, created_at, tenant_id)
		VALUES (COALESCE(NULLIF($1, ''), gen_random_uuid()::text), $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		stored.ID, stored.EventType, stored.UserID, stored.EntityType, stored.EntityID,
		details, stored.Severity, stored.Timestamp, stored.TenantID,
	)
	if err := row.Scan(&stored.ID); err != nil {
		return nil, fmt.Errorf("failed to append audit event: %w", err)
	}
	return stored, nil
}

// QueryByTenant retrieves events for a tenant within [from, to], oldest first.
func (s *PostgresStore) QueryByTenant(ctx context.Context, tenantID string, from, to time.Time, limit int) ([]*Event, error) {
	query := `
		SELECT id, event_type, user_id, entity_type, entity_id, action_details, severity, created_at, tenant_id
		FROM audit_events
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at ASC`
	args := []any{tenantID, orDistantPast(from), orDistantFuture(to)}
	if limit > 0 {
		query += " LIMIT $4"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

// QueryWindow retrieves all events within [from, to], oldest first.
func (s *PostgresStore) QueryWindow(ctx context.Context, from, to time.Time) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, user_id, entity_type, entity_id, action_details, severity, created_at, tenant_id
		FROM audit_events
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at ASC`,
		orDistantPast(from), orDistantFuture(to),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var results []*Event
	for rows.Next() {
		var (
			e       Event
			userID  sql.NullString
			entID   sql.NullString
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.EventType, &userID, &e.EntityType, &entID, &details, &e.Severity, &e.Timestamp, &e.TenantID); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.UserID = userID.String
		e.EntityID = entID.String
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.ActionDetails); err != nil {
				return nil, fmt.Errorf("failed to unmarshal action details for event %s: %w", e.ID, err)
			}
		}
		results = append(results, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit events: %w", err)
	}
	return results, nil
}

// orDistantPast substitutes an effectively unbounded lower bound for a zero time.
func orDistantPast(t time.Time) time.Time {
	if t.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return t
}

// orDistantFuture substitutes an effectively unbounded upper bound for a zero time.
func orDistantFuture(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC().Add(100 * 365 * 24 * time.Hour)
	}
	return t
}

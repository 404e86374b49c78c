package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"
)

// ExportFormat defines supported export formats.
type ExportFormat string

const (
	// ExportFormatCSV exports events as comma-separated values.
	ExportFormatCSV ExportFormat = "csv"
	// ExportFormatJSON exports events as a JSON array.
	ExportFormatJSON ExportFormat = "json"
)

// ExportOptions configures audit event export parameters.
type ExportOptions struct {
	Format   ExportFormat // Export format (csv or json)
	TenantID string       // Tenant whose events to export (required)
	From     time.Time    // Start of time range (inclusive)
	To       time.Time    // End of time range (inclusive)
	Limit    int          // Maximum number of entries to export (0 = no limit)
}

// ExportEvents exports audit events matching the given options.
// Returns the exported data as bytes in the specified format.
// The output feeds compliance reporting and the object-storage archive.
func ExportEvents(ctx context.Context, store EventStore, opts ExportOptions) ([]byte, error) {
	if opts.Format != ExportFormatCSV && opts.Format != ExportFormatJSON {
		return nil, fmt.Errorf("unsupported export format: %s", opts.Format)
	}
	if opts.TenantID == "" {
		return nil, ErrInvalidTenantID
	}

	events, err := store.QueryByTenant(ctx, opts.TenantID, opts.From, opts.To, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events for export: %w", err)
	}

	switch opts.Format {
	case ExportFormatCSV:
		return exportToCSV(events)
	case ExportFormatJSON:
		return exportToJSON(events)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", opts.Format)
	}
}

// exportToCSV writes events as CSV with a header row. Action details are
// serialized as a JSON string in a single column.
func exportToCSV(events []*Event) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"id", "event_type", "user_id", "entity_type", "entity_id", "action_details", "severity", "timestamp", "tenant_id"}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, e := range events {
		details := ""
		if e.ActionDetails != nil {
			data, err := json.Marshal(e.ActionDetails)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal action details for event %s: %w", e.ID, err)
			}
			details = string(data)
		}
		record := []string{
			e.ID,
			e.EventType,
			e.UserID,
			e.EntityType,
			e.EntityID,
			details,
			e.Severity,
			e.Timestamp.UTC().Format(time.RFC3339),
			e.TenantID,
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV writer: %w", err)
	}
	return buf.Bytes(), nil
}

// exportToJSON writes events as an indented JSON array.
func exportToJSON(events []*Event) ([]byte, error) {
	if events == nil {
		events = []*Event{}
	}
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal events: %w", err)
	}
	return data, nil
}

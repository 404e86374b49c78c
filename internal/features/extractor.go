package features

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/oversight-labs/auditpipe/internal/audit"
	"github.com/oversight-labs/auditpipe/internal/stats"
)

// Normalization constants for the individual features.
const (
	maxEventsPerHour   = 100.0
	maxEventsPerDay    = 1000.0
	deviationSigmaCap  = 3.0
	maxEntityTypes     = 10.0
	maxDetailDepth     = 10.0
	maxDetailFields    = 50.0
	maxDetailTextBytes = 10000.0
	maxExecutionTime   = 60.0 // seconds
)

// SnapshotSource provides the historical stats snapshot for extraction.
type SnapshotSource interface {
	GetOrRefresh(ctx context.Context) (*stats.Snapshot, error)
}

// Extractor derives feature vectors from audit events. Extraction is
// deterministic and pure given an event and a snapshot, and never fails:
// malformed input zeroes out the affected sub-features, and an internal
// panic yields the all-zero vector. Extraction must never block ingestion.
type Extractor struct {
	source SnapshotSource
	logger *slog.Logger
}

// NewExtractor creates a feature extractor backed by the given snapshot source.
func NewExtractor(source SnapshotSource, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{source: source, logger: logger}
}

// Extract converts one event into a feature vector using the given snapshot.
func (x *Extractor) Extract(e *audit.Event, snap *stats.Snapshot) (v Vector) {
	defer func() {
		if r := recover(); r != nil {
			x.logger.Warn("feature extraction panicked, returning zero vector",
				"event_id", eventID(e),
				"panic", r)
			v = Zero()
		}
	}()

	if e == nil {
		return Zero()
	}

	x.eventTypeFeatures(&v, e, snap)
	x.timeFeatures(&v, e)
	x.userActivityFeatures(&v, e, snap)
	x.entityAccessFeatures(&v, e, snap)
	x.complexityFeatures(&v, e)
	x.performanceFeatures(&v, e)
	v[IdxSeverity] = severityScore(e.Severity)

	return v
}

// ExtractBatch refreshes the snapshot once and maps Extract across all
// events. The result is order-preserving and 1:1 with the input.
func (x *Extractor) ExtractBatch(ctx context.Context, events []*audit.Event) []Vector {
	snap, err := x.source.GetOrRefresh(ctx)
	if err != nil {
		x.logger.Warn("stats unavailable for batch extraction, using empty baseline",
			"error", err)
		snap = stats.Compute(nil, stats.DefaultWindowDays, time.Now())
	}

	out := make([]Vector, len(events))
	for i, e := range events {
		out[i] = x.Extract(e, snap)
	}
	return out
}

// eventTypeFeatures sets frequency (share of all events with this type)
// and rarity (its complement). No historical data means frequency 0.
func (x *Extractor) eventTypeFeatures(v *Vector, e *audit.Event, snap *stats.Snapshot) {
	if snap == nil {
		v[IdxTypeRarity] = 1
		return
	}
	total := snap.TotalEvents()
	if total == 0 {
		v[IdxTypeRarity] = 1
		return
	}
	freq := float64(snap.EventTypeFrequencies[e.EventType]) / float64(total)
	v[IdxTypeFrequency] = clamp(freq)
	v[IdxTypeRarity] = clamp(1 - freq)
}

// timeFeatures sets hour-of-day, day-of-week, weekend, and business-hours
// features. A zero timestamp is treated as unparseable and leaves all four
// features at zero.
func (x *Extractor) timeFeatures(v *Vector, e *audit.Event) {
	if e.Timestamp.IsZero() {
		return
	}
	ts := e.Timestamp.UTC()
	hour := ts.Hour()
	weekday := ts.Weekday()

	v[IdxHourOfDay] = float64(hour) / 23.0
	v[IdxDayOfWeek] = float64(weekday) / 6.0
	if weekday == time.Saturday || weekday == time.Sunday {
		v[IdxIsWeekend] = 1
	}
	if weekday >= time.Monday && weekday <= time.Friday && hour >= 9 && hour < 17 {
		v[IdxIsBusinessHours] = 1
	}
}

// userActivityFeatures sets normalized activity rates and the deviation of
// the user's daily rate from their trailing-window mean, in units of three
// standard deviations. No user or zero std dev leaves the deviation at zero.
func (x *Extractor) userActivityFeatures(v *Vector, e *audit.Event, snap *stats.Snapshot) {
	if e.UserID == "" || snap == nil {
		return
	}
	activity, ok := snap.UserActivity[e.UserID]
	if !ok {
		return
	}

	v[IdxUserEventsPerHour] = clamp(activity.EventsPerHour / maxEventsPerHour)
	v[IdxUserEventsPerDay] = clamp(activity.EventsPerDay / maxEventsPerDay)

	if activity.StdEventsPerDay > 0 {
		dev := activity.EventsPerDay - activity.AvgEventsPerDay
		if dev < 0 {
			dev = -dev
		}
		v[IdxUserDeviation] = clamp(dev / activity.StdEventsPerDay / deviationSigmaCap)
	}
}

// entityAccessFeatures sets the access share of the specific entity key,
// the access share of the entity's type, and a diversity score over the
// number of distinct entity types observed.
func (x *Extractor) entityAccessFeatures(v *Vector, e *audit.Event, snap *stats.Snapshot) {
	if snap == nil {
		return
	}
	total := snap.TotalEntityAccesses()
	if total == 0 {
		return
	}

	v[IdxEntityFrequency] = clamp(float64(snap.EntityAccess[e.EntityKey()]) / float64(total))
	v[IdxEntityTypeFrequency] = clamp(float64(snap.TypeAccessCount(e.EntityType)) / float64(total))
	v[IdxEntityDiversity] = clamp(float64(snap.DistinctEntityTypes()) / maxEntityTypes)
}

// complexityFeatures sets the JSON nesting depth, field count, and
// serialized length of the action details. Unserializable details zero
// out the text-length feature only.
func (x *Extractor) complexityFeatures(v *Vector, e *audit.Event) {
	if len(e.ActionDetails) == 0 {
		return
	}

	v[IdxDetailDepth] = clamp(float64(nestingDepth(e.ActionDetails)) / maxDetailDepth)
	v[IdxDetailFieldCount] = clamp(float64(fieldCount(e.ActionDetails)) / maxDetailFields)

	if data, err := json.Marshal(e.ActionDetails); err == nil {
		v[IdxDetailTextLength] = clamp(float64(len(data)) / maxDetailTextBytes)
	}
}

// performanceFeatures sets the normalized execution time and a presence
// flag from the optional performance_metrics sub-object.
func (x *Extractor) performanceFeatures(v *Vector, e *audit.Event) {
	metrics, ok := e.ActionDetails["performance_metrics"].(map[string]any)
	if !ok {
		return
	}
	v[IdxHasPerformanceMetrics] = 1

	if execTime, ok := toFloat(metrics["execution_time"]); ok {
		v[IdxExecutionTime] = clamp(execTime / maxExecutionTime)
	}
}

// severityScore maps the severity enum onto [0, 1].
func severityScore(severity string) float64 {
	switch severity {
	case audit.SeverityWarning:
		return 0.33
	case audit.SeverityError:
		return 0.66
	case audit.SeverityCritical:
		return 1.0
	default:
		// info and unknown severities score zero
		return 0.0
	}
}

// nestingDepth returns the maximum nesting depth of a details value.
// A flat map has depth 1.
func nestingDepth(v any) int {
	switch val := v.(type) {
	case map[string]any:
		max := 0
		for _, child := range val {
			if d := nestingDepth(child); d > max {
				max = d
			}
		}
		return max + 1
	case []any:
		max := 0
		for _, child := range val {
			if d := nestingDepth(child); d > max {
				max = d
			}
		}
		return max + 1
	default:
		return 0
	}
}

// fieldCount returns the total number of map keys at all nesting levels.
func fieldCount(v any) int {
	switch val := v.(type) {
	case map[string]any:
		count := len(val)
		for _, child := range val {
			count += fieldCount(child)
		}
		return count
	case []any:
		count := 0
		for _, child := range val {
			count += fieldCount(child)
		}
		return count
	default:
		return 0
	}
}

// toFloat converts the numeric types a decoded details map may carry.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func eventID(e *audit.Event) string {
	if e == nil {
		return ""
	}
	return e.ID
}

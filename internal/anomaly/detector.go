package anomaly

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oversight-labs/auditpipe/internal/audit"
	"github.com/oversight-labs/auditpipe/internal/features"
)

// DefaultThreshold is the anomaly score above which an event is classified.
const DefaultThreshold = 0.7

// ModelVersion identifies the scoring model recorded on each detection.
const ModelVersion = "weighted-linear-v1"

// Severity bucket boundaries. Monotonic in score: a higher score never
// yields a lower severity. Scores in (threshold, 0.8] are Medium,
// (0.8, 0.9] High, above 0.9 Critical. Low is reserved for operator
// downgrades during review.
const (
	highBoundary     = 0.8
	criticalBoundary = 0.9
)

// DetectorConfig configures the anomaly detector.
type DetectorConfig struct {
	// Threshold is the score above which a detection is produced.
	Threshold float64
	// Logger for classification activity.
	Logger *slog.Logger
	// Now overrides the clock, for testing.
	Now func() time.Time
}

// Detector scores feature vectors and classifies anomalous events.
// Scoring is a fixed weighted linear combination of the feature vector:
// deterministic, interpretable, and unit-testable, in preference to an
// opaque trained model. Each term is a feature (or its complement, where
// a low value is the anomalous direction) multiplied by a fixed weight;
// the weights sum to 1 so the score stays in [0, 1].
type Detector struct {
	config DetectorConfig
}

// Scoring weights. Rarity of the event type dominates: an event type with
// no historical precedent is the strongest single signal. Novelty of the
// specific entity and of its type, off-hours timing, and the user's
// deviation from their own baseline carry most of the rest.
const (
	weightTypeRarity    = 0.40
	weightEntityNovelty = 0.12
	weightTypeNovelty   = 0.12
	weightOffHours      = 0.10
	weightUserDeviation = 0.10
	weightSeverity      = 0.08
	weightComplexity    = 0.05
	weightUserVolume    = 0.03
)

// NewDetector creates a detector with the given configuration.
func NewDetector(config DetectorConfig) *Detector {
	if config.Threshold <= 0 {
		config.Threshold = DefaultThreshold
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Detector{config: config}
}

// Threshold returns the configured anomaly threshold.
func (d *Detector) Threshold() float64 {
	return d.config.Threshold
}

// Score combines a feature vector into a single anomaly score in [0, 1].
// Deterministic: identical vectors always produce identical scores.
func (d *Detector) Score(v features.Vector) float64 {
	score := weightTypeRarity*v[features.IdxTypeRarity] +
		weightEntityNovelty*(1-v[features.IdxEntityFrequency]) +
		weightTypeNovelty*(1-v[features.IdxEntityTypeFrequency]) +
		weightOffHours*(1-v[features.IdxIsBusinessHours]) +
		weightUserDeviation*v[features.IdxUserDeviation] +
		weightSeverity*v[features.IdxSeverity] +
		weightComplexity*complexityMean(v) +
		weightUserVolume*v[features.IdxUserEventsPerDay]

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// complexityMean averages the three action-detail complexity features.
func complexityMean(v features.Vector) float64 {
	return (v[features.IdxDetailDepth] + v[features.IdxDetailFieldCount] + v[features.IdxDetailTextLength]) / 3
}

// Classify builds a Detection for an event whose score crosses the
// threshold. Returns nil when score <= threshold. Classification is
// stateless and deterministic apart from the assigned ID and timestamp.
func (d *Detector) Classify(e *audit.Event, v features.Vector, score float64) *Detection {
	if e == nil || score <= d.config.Threshold {
		return nil
	}

	det := &Detection{
		ID:               uuid.New().String(),
		AuditEventID:     e.ID,
		AuditEvent:       e.Clone(),
		Score:            score,
		DetectedAt:       d.config.Now().UTC(),
		FeaturesUsed:     v,
		ModelVersion:     ModelVersion,
		SeverityLevel:    severityForScore(score),
		AffectedEntities: affectedEntities(e),
		SuggestedActions: suggestedActions(e),
	}

	d.config.Logger.Info("anomaly detected",
		"tenant_id", e.TenantID,
		"event_id", e.ID,
		"event_type", e.EventType,
		"score", score,
		"severity", det.SeverityLevel)

	return det
}

// severityForScore buckets a score into a severity level. Monotonic:
// higher scores map to higher or equal severity.
func severityForScore(score float64) string {
	switch {
	case score > criticalBoundary:
		return SeverityCritical
	case score > highBoundary:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// affectedEntities derives the sorted set of entity references from the event.
func affectedEntities(e *audit.Event) []string {
	set := make(map[string]struct{})
	set[e.EntityKey()] = struct{}{}
	if e.UserID != "" {
		set["user:"+e.UserID] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// actionHints maps event-type categories to remediation hints, checked in
// order so more specific categories win.
var actionHints = []struct {
	keyword string
	actions []string
}{
	{"permission", []string{"Review permission change for legitimacy", "Confirm the grantor was authorized to make this change"}},
	{"role", []string{"Review role assignment for legitimacy", "Confirm the grantor was authorized to make this change"}},
	{"budget", []string{"Verify budget change authorization", "Cross-check the change against the approved budget baseline"}},
	{"delete", []string{"Confirm the deletion was intentional", "Check whether affected data needs recovery"}},
	{"export", []string{"Review the exported data scope", "Confirm the export complies with data-handling policy"}},
	{"login", []string{"Verify the login originated from a known device and location"}},
	{"import", []string{"Validate the imported data source", "Review the import for unexpected volume"}},
}

// suggestedActions returns ordered human-readable remediation hints for
// the event, always ending with the generic review instruction.
func suggestedActions(e *audit.Event) []string {
	eventType := strings.ToLower(e.EventType)

	var actions []string
	for _, hint := range actionHints {
		if strings.Contains(eventType, hint.keyword) {
			actions = append(actions, hint.actions...)
			break
		}
	}
	actions = append(actions, "Review the event context with the acting user")
	return actions
}

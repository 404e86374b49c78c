// Package features converts audit events into fixed-length normalized
// feature vectors using the current historical statistics snapshot.
package features

// Dim is the fixed feature vector length.
const Dim = 18

// Feature indices. The vector layout is fixed: 2 event-type features,
// 4 time features, 3 user-activity features, 3 entity-access features,
// 3 complexity features, 2 performance features, and 1 severity feature.
const (
	IdxTypeFrequency = iota
	IdxTypeRarity
	IdxHourOfDay
	IdxDayOfWeek
	IdxIsWeekend
	IdxIsBusinessHours
	IdxUserEventsPerHour
	IdxUserEventsPerDay
	IdxUserDeviation
	IdxEntityFrequency
	IdxEntityTypeFrequency
	IdxEntityDiversity
	IdxDetailDepth
	IdxDetailFieldCount
	IdxDetailTextLength
	IdxExecutionTime
	IdxHasPerformanceMetrics
	IdxSeverity
)

// Vector is a fixed-length feature vector. Every component is in [0, 1].
type Vector [Dim]float64

// Zero returns the all-zero vector used when extraction fails.
func Zero() Vector {
	return Vector{}
}

// InRange reports whether every component lies in [0, 1].
func (v Vector) InRange() bool {
	for _, f := range v {
		if f < 0 || f > 1 {
			return false
		}
	}
	return true
}

// clamp bounds a value to [0, 1].
func clamp(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Package stats maintains rolling historical statistics over audit events.
// A snapshot is recomputed wholesale from the trailing window when it
// exceeds its TTL; readers always see a complete, immutable snapshot.
package stats

import (
	"math"
	"time"

	"github.com/oversight-labs/auditpipe/internal/audit"
)

// UserActivity holds per-user activity rates derived from the trailing window.
type UserActivity struct {
	EventsPerHour    float64 `json:"events_per_hour"`
	EventsPerDay     float64 `json:"events_per_day"`
	AvgEventsPerDay  float64 `json:"avg_events_per_day"`
	StdEventsPerDay  float64 `json:"std_events_per_day"`
}

// Snapshot is an immutable view of historical statistics. It is replaced
// wholesale on refresh and never partially mutated, so concurrent readers
// always observe a consistent state.
type Snapshot struct {
	EventTypeFrequencies map[string]int          `json:"event_type_frequencies"`
	UserActivity         map[string]UserActivity `json:"user_activity_stats"`
	EntityAccess         map[string]int          `json:"entity_access_patterns"`
	ComputedAt           time.Time               `json:"computed_at"`
}

// TotalEvents returns the total event count across all event types.
func (s *Snapshot) TotalEvents() int {
	total := 0
	for _, n := range s.EventTypeFrequencies {
		total += n
	}
	return total
}

// TotalEntityAccesses returns the total access count across all entity keys.
func (s *Snapshot) TotalEntityAccesses() int {
	total := 0
	for _, n := range s.EntityAccess {
		total += n
	}
	return total
}

// DistinctEntityTypes returns the number of distinct entity types observed.
// Entity keys are "entity_type:entity_id" or bare "entity_type".
func (s *Snapshot) DistinctEntityTypes() int {
	types := make(map[string]struct{})
	for key := range s.EntityAccess {
		types[entityTypeOf(key)] = struct{}{}
	}
	return len(types)
}

// TypeAccessCount returns the total access count for an entity type across
// all of its entity keys.
func (s *Snapshot) TypeAccessCount(entityType string) int {
	total := 0
	for key, n := range s.EntityAccess {
		if entityTypeOf(key) == entityType {
			total += n
		}
	}
	return total
}

func entityTypeOf(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i]
		}
	}
	return key
}

// Compute builds a snapshot from the events of a trailing window of
// windowDays days ending at now.
//
// Per-user rates divide the window's event count evenly across the window
// (count/hours, count/days). The standard deviation is a true population
// std dev over the per-day counts of the window, including zero days, not
// the 20%-of-mean approximation the original baseline used.
func Compute(events []*audit.Event, windowDays int, now time.Time) *Snapshot {
	if windowDays <= 0 {
		windowDays = 1
	}

	snap := &Snapshot{
		EventTypeFrequencies: make(map[string]int),
		UserActivity:         make(map[string]UserActivity),
		EntityAccess:         make(map[string]int),
		ComputedAt:           now,
	}

	windowStart := now.AddDate(0, 0, -windowDays)
	userCounts := make(map[string]int)
	// Per-user events per day-of-window, for the std dev
	userDaily := make(map[string]map[int]int)

	for _, e := range events {
		snap.EventTypeFrequencies[e.EventType]++
		snap.EntityAccess[e.EntityKey()]++

		if e.UserID == "" {
			continue
		}
		userCounts[e.UserID]++

		day := int(e.Timestamp.Sub(windowStart).Hours() / 24)
		if day < 0 {
			day = 0
		}
		if day >= windowDays {
			day = windowDays - 1
		}
		if userDaily[e.UserID] == nil {
			userDaily[e.UserID] = make(map[int]int)
		}
		userDaily[e.UserID][day]++
	}

	hours := float64(windowDays) * 24
	days := float64(windowDays)
	for userID, count := range userCounts {
		avg := float64(count) / days
		snap.UserActivity[userID] = UserActivity{
			EventsPerHour:   float64(count) / hours,
			EventsPerDay:    avg,
			AvgEventsPerDay: avg,
			StdEventsPerDay: stdDev(userDaily[userID], windowDays, avg),
		}
	}

	return snap
}

// stdDev computes the population standard deviation of per-day counts over
// the full window, counting days with no events as zero.
func stdDev(daily map[int]int, windowDays int, mean float64) float64 {
	var sumSq float64
	for _, count := range daily {
		diff := float64(count) - mean
		sumSq += diff * diff
	}
	// Days with no recorded events contribute (0 - mean)^2 each
	zeroDays := windowDays - len(daily)
	sumSq += float64(zeroDays) * mean * mean

	return math.Sqrt(sumSq / float64(windowDays))
}

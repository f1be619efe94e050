// Package dataset owns the raw entity snapshot, the time-window filter and the aggregate stats.
package dataset

import (
	"fmt"
	"math"

	"github.com/geoglobe/globe/internal/clock"
	"github.com/geoglobe/globe/pkg/core"
)

// Store holds the immutable raw snapshot and the cached filtered view.
// Not safe for concurrent use; the engine serializes access.
type Store struct {
	clock    clock.Provider
	raw      []core.Entity
	filtered []core.Entity
	days     int
	// windowed is false until the first FilterByTime; an unwindowed store shows everything.
	windowed bool
}

// NewStore creates an empty store reading "now" from the given provider.
func NewStore(c clock.Provider) *Store {
	if c == nil {
		c = clock.System{}
	}
	return &Store{clock: c}
}

// Load replaces the raw snapshot. Entities are deep-copied so later mutation by the
// caller cannot leak in; non-finite metric values are dropped (treated as null) and
// missing ids are filled from the position in the batch. The filter is re-applied
// with the current window.
func (s *Store) Load(entities []core.Entity) {
	raw := make([]core.Entity, 0, len(entities))
	for i, e := range entities {
		e = e.Clone()
		if e.ID == "" {
			e.ID = fmt.Sprintf("entity-%d", i)
		}
		for k, v := range e.Metrics {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				delete(e.Metrics, k)
			}
		}
		raw = append(raw, e)
	}
	s.raw = raw
	if !s.windowed {
		s.filtered = s.raw
		return
	}
	s.FilterByTime(s.days)
}

// Raw returns the full snapshot. Callers must not modify it.
func (s *Store) Raw() []core.Entity {
	return s.raw
}

// Filtered returns the cached filtered set. Callers must not modify it.
func (s *Store) Filtered() []core.Entity {
	return s.filtered
}

// Days returns the window applied by the last FilterByTime call, zero before the first.
func (s *Store) Days() int {
	return s.days
}

// FilterByTime keeps entities with timestamp >= now - days*86400000 and caches the result.
// The result only grows with days; zero keeps only entities stamped at or after now.
func (s *Store) FilterByTime(days int) []core.Entity {
	s.days = days
	s.windowed = true

	cutoff := s.clock.Now().UnixMilli() - int64(days)*core.MillisPerDay
	filtered := make([]core.Entity, 0, len(s.raw))
	for _, e := range s.raw {
		if e.Timestamp >= cutoff {
			filtered = append(filtered, e)
		}
	}
	s.filtered = filtered
	return s.filtered
}

// ComputeStats aggregates a metric over the filtered set. Total counts every filtered
// entity; Avg and Max consider valid values only and are zero when there are none.
func (s *Store) ComputeStats(metricID string) core.Stats {
	stats := core.Stats{Total: len(s.filtered)}

	var sum float64
	var n int
	maxValue := math.Inf(-1)
	for i := range s.filtered {
		v, ok := s.filtered[i].Metric(metricID)
		if !ok {
			continue
		}
		sum += v
		n++
		maxValue = math.Max(maxValue, v)
	}
	if n == 0 {
		return stats
	}
	stats.Avg = sum / float64(n)
	stats.Max = maxValue
	return stats
}

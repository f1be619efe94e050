// pkg/core/entity.go
package core

import (
	"math"
	"time"
)

// MillisPerDay is the length of one time-window day in milliseconds.
const MillisPerDay int64 = 86_400_000

// Entity is one geolocated record with its metric values.
// Entities are immutable once ingested; a nil or absent metric is stored as a missing key.
type Entity struct {
	ID        string             `json:"id"`
	Longitude float64            `json:"longitude"`
	Latitude  float64            `json:"latitude"`
	Depth     float64            `json:"depth"`     // depth (km, positive down) or elevation, source dependent
	Timestamp int64              `json:"timestamp"` // unix milliseconds
	Metrics   map[string]float64 `json:"metrics"`
	Label     string             `json:"label"`
}

// Metric returns the value of a metric and whether it is present and finite.
func (e *Entity) Metric(id string) (float64, bool) {
	if e == nil || e.Metrics == nil {
		return 0, false
	}
	v, ok := e.Metrics[id]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Time returns the entity timestamp as a time.Time.
func (e *Entity) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Located reports whether the entity carries usable coordinates.
func (e *Entity) Located() bool {
	if math.IsNaN(e.Latitude) || math.IsNaN(e.Longitude) ||
		math.IsInf(e.Latitude, 0) || math.IsInf(e.Longitude, 0) {
		return false
	}
	return e.Latitude >= -90 && e.Latitude <= 90 &&
		e.Longitude >= -180 && e.Longitude <= 180
}

// Clone returns a deep copy of the entity.
func (e Entity) Clone() Entity {
	if e.Metrics != nil {
		metrics := make(map[string]float64, len(e.Metrics))
		for k, v := range e.Metrics {
			metrics[k] = v
		}
		e.Metrics = metrics
	}
	return e
}

// Stats is the aggregate over the currently filtered entity set.
// Avg and Max are zero when no entity carries a valid value.
type Stats struct {
	Total int     `json:"total"`
	Avg   float64 `json:"avg"`
	Max   float64 `json:"max"`
}

// Legend describes the active metric encoding for the presentation shell.
type Legend struct {
	MetricID    string  `json:"metricId"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Label       string  `json:"label"`
	Unit        string  `json:"unit"`
	Description string  `json:"description"`
}

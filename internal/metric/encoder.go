package metric

import (
	"math"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/geoglobe/globe/pkg/core"
)

// Target receives the base appearance computed by the encoder.
type Target interface {
	SetBaseAppearance(color colorful.Color, scale float64)
}

// Normalize maps value into [0, 1] against the domain.
// A degenerate domain (Max == Min) yields 0.5.
func Normalize(value float64, d Domain) float64 {
	span := d.Max - d.Min
	if span == 0 {
		return 0.5
	}
	t := (value - d.Min) / span
	if math.IsNaN(t) {
		return 0
	}
	return math.Max(0, math.Min(1, t))
}

// InterpolateColor blends across the low, mid and high stops.
// Below 0.5 it blends low->mid over 2t, from 0.5 on it blends mid->high over 2(t-0.5),
// so both halves meet exactly at mid.
func InterpolateColor(stops [3]colorful.Color, t float64) colorful.Color {
	if t < 0.5 {
		return stops[0].BlendRgb(stops[1], t*2)
	}
	return stops[1].BlendRgb(stops[2], (t-0.5)*2)
}

// Size linearly interpolates t across the size range.
func Size(sizeRange [2]float64, t float64) float64 {
	return sizeRange[0] + t*(sizeRange[1]-sizeRange[0])
}

// Encode returns the color and scale for the entity under the definition.
// Entities without a valid value use the t=0 appearance.
func Encode(def *Definition, e *core.Entity) (colorful.Color, float64) {
	t := 0.0
	if v, ok := e.Metric(def.ID); ok {
		t = Normalize(v, def.Domain)
	}
	return InterpolateColor(def.ColorStops, t), Size(def.SizeRange, t)
}

// Apply encodes the entity and writes the result into target in place.
func Apply(target Target, def *Definition, e *core.Entity) {
	c, s := Encode(def, e)
	target.SetBaseAppearance(c, s)
}

// FindDomain scans entities for the min and max valid value of a metric.
// Returns false when no entity carries a valid value.
func FindDomain(entities []core.Entity, metricID string) (Domain, bool) {
	d := Domain{Min: math.Inf(1), Max: math.Inf(-1)}
	found := false
	for i := range entities {
		v, ok := entities[i].Metric(metricID)
		if !ok {
			continue
		}
		found = true
		d.Min = math.Min(d.Min, v)
		d.Max = math.Max(d.Max, v)
	}
	if !found {
		return Domain{}, false
	}
	return d, true
}

// Package metric holds the process-wide metric definitions and the value-to-visual encoding.
package metric

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/geoglobe/globe/pkg/core"
)

// Well known metric identifiers.
const (
	Magnitude   = "magnitude"
	Depth       = "depth"
	Population  = "population"
	Temperature = "temperature"
)

// ErrUnknownMetric is returned when a metric id is not in the registry
var ErrUnknownMetric = errors.New("unknown metric")

// Domain is the [min, max] range raw values are normalized against.
type Domain struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Definition describes how one metric is encoded.
type Definition struct {
	ID          string
	Label       string
	Unit        string
	Description string
	Domain      Domain
	// ColorStops are the low, mid and high colors.
	ColorStops [3]colorful.Color
	// SizeRange is the marker scale at t=0 and t=1.
	SizeRange [2]float64
	// DeriveDomain replaces Domain with the observed min/max of the loaded entities.
	DeriveDomain bool
	Format       func(float64) string
}

// FormatValue renders v with the definition formatter.
func (d *Definition) FormatValue(v float64) string {
	if d.Format == nil {
		return fmt.Sprintf("%g", v)
	}
	return d.Format(v)
}

// Legend builds the presentation legend for the definition.
func (d *Definition) Legend() core.Legend {
	return core.Legend{
		MetricID:    d.ID,
		Min:         d.Domain.Min,
		Max:         d.Domain.Max,
		Label:       d.Label,
		Unit:        d.Unit,
		Description: d.Description,
	}
}

func mustHex(s string) colorful.Color {
	c, err := colorful.Hex(s)
	if err != nil {
		panic(fmt.Sprintf("metric: bad color literal %q: %v", s, err))
	}
	return c
}

// DefaultDefinitions returns the built-in definition table.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			ID:          Magnitude,
			Label:       "Magnitude",
			Unit:        "M",
			Description: "Moment magnitude of the seismic event",
			Domain:      Domain{Min: 2.5, Max: 8},
			ColorStops:  [3]colorful.Color{mustHex("#ffff66"), mustHex("#ff9900"), mustHex("#ff0000")},
			SizeRange:   [2]float64{0.01, 0.05},
			Format:      func(v float64) string { return fmt.Sprintf("%.1f", v) },
		},
		{
			ID:          Depth,
			Label:       "Depth",
			Unit:        "km",
			Description: "Hypocenter depth below the surface",
			Domain:      Domain{Min: 0, Max: 700},
			ColorStops:  [3]colorful.Color{mustHex("#ffcc00"), mustHex("#ff3300"), mustHex("#660099")},
			SizeRange:   [2]float64{0.01, 0.04},
			Format:      func(v float64) string { return fmt.Sprintf("%.0f km", v) },
		},
		{
			ID:           Population,
			Label:        "Population",
			Unit:         "people",
			Description:  "Resident population of the urban area",
			Domain:       Domain{Min: 0, Max: 40_000_000},
			ColorStops:   [3]colorful.Color{mustHex("#66ccff"), mustHex("#3366ff"), mustHex("#9900cc")},
			SizeRange:    [2]float64{0.01, 0.06},
			DeriveDomain: true,
			Format:       func(v float64) string { return humanize.Comma(int64(v)) },
		},
		{
			ID:          Temperature,
			Label:       "Temperature",
			Unit:        "°C",
			Description: "Mean surface air temperature",
			Domain:      Domain{Min: -30, Max: 45},
			ColorStops:  [3]colorful.Color{mustHex("#3366ff"), mustHex("#f5f5f5"), mustHex("#ff3300")},
			SizeRange:   [2]float64{0.015, 0.035},
			Format:      func(v float64) string { return fmt.Sprintf("%.1f °C", v) },
		},
	}
}

// Override replaces parts of a definition from configuration. Zero-length fields are kept.
type Override struct {
	Label       string    `json:"label" mapstructure:"label"`
	Unit        string    `json:"unit" mapstructure:"unit"`
	Description string    `json:"description" mapstructure:"description"`
	Domain      []float64 `json:"domain" mapstructure:"domain"`
	ColorStops  []string  `json:"colorStops" mapstructure:"colorStops"`
	SizeRange   []float64 `json:"sizeRange" mapstructure:"sizeRange"`
}

// Registry is the metric definition table, keyed by id.
type Registry struct {
	defs map[string]*Definition
}

// NewRegistry creates a registry from the given definitions.
func NewRegistry(defs ...Definition) *Registry {
	r := &Registry{defs: make(map[string]*Definition, len(defs))}
	for i := range defs {
		d := defs[i]
		r.defs[d.ID] = &d
	}
	return r
}

// Get returns the definition for id.
func (r *Registry) Get(id string) (*Definition, bool) {
	d, ok := r.defs[id]
	return d, ok
}

// IDs returns the registered metric ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.defs))
	for id := range r.defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Apply merges an override into the definition with the given id.
func (r *Registry) Apply(id string, o Override) error {
	d, ok := r.defs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMetric, id)
	}
	next := *d
	if o.Label != "" {
		next.Label = o.Label
	}
	if o.Unit != "" {
		next.Unit = o.Unit
	}
	if o.Description != "" {
		next.Description = o.Description
	}
	if len(o.Domain) > 0 {
		if len(o.Domain) != 2 || o.Domain[0] > o.Domain[1] {
			return fmt.Errorf("metric %s: domain must be [min, max], got %v", id, o.Domain)
		}
		next.Domain = Domain{Min: o.Domain[0], Max: o.Domain[1]}
		next.DeriveDomain = false
	}
	if len(o.ColorStops) > 0 {
		if len(o.ColorStops) != 3 {
			return fmt.Errorf("metric %s: need 3 color stops, got %d", id, len(o.ColorStops))
		}
		for i, hex := range o.ColorStops {
			c, err := colorful.Hex(hex)
			if err != nil {
				return fmt.Errorf("metric %s: color stop %d: %w", id, i, err)
			}
			next.ColorStops[i] = c
		}
	}
	if len(o.SizeRange) > 0 {
		if len(o.SizeRange) != 2 || o.SizeRange[0] <= 0 || o.SizeRange[1] <= 0 {
			return fmt.Errorf("metric %s: size range must be two positive values, got %v", id, o.SizeRange)
		}
		next.SizeRange = [2]float64{o.SizeRange[0], o.SizeRange[1]}
	}
	*d = next
	return nil
}

// DeriveDomains rescans entities for every definition flagged DeriveDomain.
// Definitions without any valid value keep their configured domain.
func (r *Registry) DeriveDomains(entities []core.Entity) {
	for _, d := range r.defs {
		if !d.DeriveDomain {
			continue
		}
		if domain, ok := FindDomain(entities, d.ID); ok {
			d.Domain = domain
		}
	}
}

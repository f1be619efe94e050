// Package interaction owns the per-marker highlight state and the pointer-driven
// hover/selection transitions.
package interaction

import (
	"github.com/lucasb-eyer/go-colorful"

	"github.com/geoglobe/globe/internal/render"
	"github.com/geoglobe/globe/pkg/core"
)

// State is the highlight state of a marker.
type State int

const (
	Idle State = iota
	Hovered
	Selected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Hovered:
		return "hovered"
	case Selected:
		return "selected"
	default:
		return "unknown"
	}
}

// Style holds the highlight appearance. Scale factors multiply the marker scale.
type Style struct {
	IdleOpacity     float64
	HoverOpacity    float64
	SelectedOpacity float64
	HoverScale      float64
	SelectScale     float64
}

// DefaultStyle returns the standard highlight appearance.
func DefaultStyle() Style {
	return Style{
		IdleOpacity:     0.85,
		HoverOpacity:    0.95,
		SelectedOpacity: 1,
		HoverScale:      1.5,
		SelectScale:     2,
	}
}

// phaseStep spaces pulse phases of neighbouring markers apart.
const phaseStep = 0.7

// Marker is the visual and interactive representation of one entity.
// Scale is the currently displayed scale; BaseScale is what the encoder assigned.
type Marker struct {
	Entity    *core.Entity
	Index     int
	Position  core.Vector3
	BaseColor colorful.Color
	BaseScale float64
	Scale     float64
	Opacity   float64
	State     State
	PulseSeed float64

	preHoverScale float64
	style         Style
	object        render.Object
}

// NewMarker binds an entity to its render object. The marker starts Idle with
// zero scale until the encoder assigns a base appearance.
func NewMarker(e *core.Entity, index int, position core.Vector3, obj render.Object, style Style) *Marker {
	m := &Marker{
		Entity:    e,
		Index:     index,
		Position:  position,
		Opacity:   style.IdleOpacity,
		State:     Idle,
		PulseSeed: float64(index) * phaseStep,
		style:     style,
		object:    obj,
	}
	obj.SetOpacity(m.Opacity)
	return m
}

func (m *Marker) ID() string {
	return m.Entity.ID
}

// Object returns the render handle backing the marker.
func (m *Marker) Object() render.Object {
	return m.object
}

// SetBaseAppearance records the encoder output and re-derives the displayed
// appearance for the current state.
func (m *Marker) SetBaseAppearance(c colorful.Color, scale float64) {
	m.BaseColor = c
	m.BaseScale = scale
	switch m.State {
	case Hovered:
		m.preHoverScale = scale
		m.Scale = scale * m.style.HoverScale
	case Selected:
		m.Scale = scale * m.style.SelectScale
	default:
		m.Scale = scale
	}
	m.object.SetColor(c)
	m.object.SetScale(m.Scale)
}

// SetScale changes the displayed scale only.
func (m *Marker) SetScale(scale float64) {
	m.Scale = scale
	m.object.SetScale(scale)
}

// Dispose releases the render object.
func (m *Marker) Dispose() {
	m.object.Dispose()
}

func (m *Marker) hover() {
	m.preHoverScale = m.Scale
	m.State = Hovered
	m.apply(m.Scale*m.style.HoverScale, m.style.HoverOpacity)
}

// unhover restores the exact scale saved by hover.
func (m *Marker) unhover() {
	m.State = Idle
	m.apply(m.preHoverScale, m.style.IdleOpacity)
}

func (m *Marker) selectMarker() {
	m.State = Selected
	m.apply(m.BaseScale*m.style.SelectScale, m.style.SelectedOpacity)
}

// release drops the selection. A marker still under the pointer goes back to Hovered.
func (m *Marker) release(underPointer bool) {
	if underPointer {
		m.State = Hovered
		m.preHoverScale = m.BaseScale
		m.apply(m.BaseScale*m.style.HoverScale, m.style.HoverOpacity)
		return
	}
	m.State = Idle
	m.apply(m.BaseScale, m.style.IdleOpacity)
}

func (m *Marker) apply(scale, opacity float64) {
	m.Scale = scale
	m.Opacity = opacity
	m.object.SetScale(scale)
	m.object.SetOpacity(opacity)
}

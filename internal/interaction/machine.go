package interaction

import (
	"github.com/geoglobe/globe/internal/cache"
	"github.com/geoglobe/globe/internal/render"
	"github.com/geoglobe/globe/pkg/core"
)

// Picker is the ray-pick primitive of the rendering substrate.
type Picker interface {
	Pick(x, y float64, objects []render.Object) (int, bool)
}

// Machine tracks at most one hovered and one selected marker. They may be the same marker.
// Not safe for concurrent use.
type Machine struct {
	picker   Picker
	markers  []*Marker
	objects  []render.Object
	index    *cache.MarkerIndex
	hovered  *Marker
	selected *Marker
}

func NewMachine(picker Picker) *Machine {
	return &Machine{
		picker: picker,
		index:  cache.NewMarkerIndex(),
	}
}

// Reset swaps in a freshly built marker set. Hover and selection carry over to the
// new marker of the same entity; lost reports which of them had no successor.
func (m *Machine) Reset(markers []*Marker) (hoverLost, selectionLost bool) {
	prevHovered := m.HoveredID()
	prevSelected := m.SelectedID()

	m.markers = markers
	m.objects = make([]render.Object, len(markers))
	ids := make([]string, len(markers))
	for i, mk := range markers {
		m.objects[i] = mk.Object()
		ids[i] = mk.ID()
	}
	m.index.Rebuild(ids)
	m.hovered, m.selected = nil, nil

	if prevSelected != "" {
		if mk := m.Lookup(prevSelected); mk != nil {
			m.selected = mk
			mk.selectMarker()
		} else {
			selectionLost = true
		}
	}
	if prevHovered != "" {
		if mk := m.Lookup(prevHovered); mk != nil {
			m.hovered = mk
			if mk.State != Selected {
				mk.hover()
			}
		} else {
			hoverLost = true
		}
	}
	return hoverLost, selectionLost
}

// PointerMove picks at normalized device coordinates and moves the hover to the
// nearest hit. A miss clears the hover but never the selection.
func (m *Machine) PointerMove(x, y float64) (*core.Entity, bool) {
	hit := m.pick(x, y)
	if hit == m.hovered {
		return entityOf(hit), false
	}

	prev := m.hovered
	m.hovered = hit
	if prev != nil && prev.State == Hovered {
		prev.unhover()
	}
	if hit != nil && hit.State != Selected {
		hit.hover()
	}
	return entityOf(hit), true
}

// PointerClick selects the nearest hit, releasing any previous selection.
// Clicking empty space does nothing and returns false.
func (m *Machine) PointerClick(x, y float64) (*core.Entity, bool) {
	hit := m.pick(x, y)
	if hit == nil {
		return nil, false
	}
	if hit == m.selected {
		return hit.Entity, true
	}
	if prev := m.selected; prev != nil {
		prev.release(prev == m.hovered)
	}
	m.selected = hit
	hit.selectMarker()
	return hit.Entity, true
}

// Deselect clears the selection. It reports whether there was one.
func (m *Machine) Deselect() bool {
	if m.selected == nil {
		return false
	}
	m.selected.release(m.selected == m.hovered)
	m.selected = nil
	return true
}

func (m *Machine) pick(x, y float64) *Marker {
	if len(m.objects) == 0 {
		return nil
	}
	i, ok := m.picker.Pick(x, y, m.objects)
	if !ok || i < 0 || i >= len(m.markers) {
		return nil
	}
	return m.markers[i]
}

// Lookup returns the marker of an entity ID in the current set.
func (m *Machine) Lookup(id string) *Marker {
	i, ok := m.index.Get(id)
	if !ok {
		return nil
	}
	return m.markers[i]
}

func (m *Machine) Markers() []*Marker {
	return m.markers
}

func (m *Machine) Hovered() *Marker {
	return m.hovered
}

func (m *Machine) Selected() *Marker {
	return m.selected
}

func (m *Machine) HoveredID() string {
	if m.hovered == nil {
		return ""
	}
	return m.hovered.ID()
}

func (m *Machine) SelectedID() string {
	if m.selected == nil {
		return ""
	}
	return m.selected.ID()
}

func entityOf(mk *Marker) *core.Entity {
	if mk == nil {
		return nil
	}
	return mk.Entity
}

package interaction

import (
	"fmt"
	"testing"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoglobe/globe/internal/render"
	"github.com/geoglobe/globe/pkg/core"
)

type fakeObject struct {
	color    colorful.Color
	scale    float64
	opacity  float64
	disposed bool
}

func (o *fakeObject) SetColor(c colorful.Color) { o.color = c }
func (o *fakeObject) SetScale(s float64)        { o.scale = s }
func (o *fakeObject) SetOpacity(v float64)      { o.opacity = v }
func (o *fakeObject) Dispose()                  { o.disposed = true }

// gridPicker hits the object registered at the integer x coordinate; y is ignored.
type gridPicker struct {
	calls int
}

func (p *gridPicker) Pick(x, _ float64, objects []render.Object) (int, bool) {
	p.calls++
	i := int(x)
	if x < 0 || i >= len(objects) {
		return 0, false
	}
	return i, true
}

const miss = -1

func buildMarkers(ids ...string) []*Marker {
	markers := make([]*Marker, len(ids))
	for i, id := range ids {
		e := &core.Entity{ID: id}
		m := NewMarker(e, i, core.Vector3{Z: 1}, &fakeObject{}, DefaultStyle())
		m.SetBaseAppearance(colorful.Color{R: 1}, 0.02+float64(i)*0.01)
		markers[i] = m
	}
	return markers
}

func newTestMachine(ids ...string) (*Machine, []*Marker) {
	m := NewMachine(&gridPicker{})
	markers := buildMarkers(ids...)
	m.Reset(markers)
	return m, markers
}

func states(markers []*Marker) []State {
	out := make([]State, len(markers))
	for i, mk := range markers {
		out[i] = mk.State
	}
	return out
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "hovered", Hovered.String())
	assert.Equal(t, "selected", Selected.String())
	assert.Equal(t, "unknown", State(9).String())
}

func TestNewMarker_PulseSeedFromIndex(t *testing.T) {
	markers := buildMarkers("a", "b", "c")

	assert.Equal(t, 0.0, markers[0].PulseSeed)
	assert.NotEqual(t, markers[1].PulseSeed, markers[2].PulseSeed)
	assert.Equal(t, DefaultStyle().IdleOpacity, markers[0].Opacity)
}

func TestPointerMove_HoverAndClear(t *testing.T) {
	m, markers := newTestMachine("a", "b")

	e, changed := m.PointerMove(1, 0)
	require.True(t, changed)
	require.NotNil(t, e)
	assert.Equal(t, "b", e.ID)
	assert.Equal(t, Hovered, markers[1].State)
	assert.Equal(t, DefaultStyle().HoverOpacity, markers[1].Opacity)

	e, changed = m.PointerMove(1, 0.3)
	assert.False(t, changed, "same marker under the pointer")
	assert.Equal(t, "b", e.ID)

	e, changed = m.PointerMove(miss, 0)
	assert.True(t, changed)
	assert.Nil(t, e)
	assert.Equal(t, []State{Idle, Idle}, states(markers))
	assert.Empty(t, m.HoveredID())
}

func TestHover_ScaleIsRestoredExactly(t *testing.T) {
	m, markers := newTestMachine("a", "b")
	// an awkward value so a multiply/divide round trip would drift
	markers[0].SetScale(0.1 + 0.2)
	before := markers[0].Scale

	for i := 0; i < 1000; i++ {
		m.PointerMove(0, 0)
		m.PointerMove(miss, 0)
	}

	assert.Equal(t, before, markers[0].Scale)
	assert.Equal(t, before, markers[0].Object().(*fakeObject).scale)
}

func TestHover_MovesBetweenMarkers(t *testing.T) {
	m, markers := newTestMachine("a", "b", "c")
	base := markers[0].Scale

	m.PointerMove(0, 0)
	m.PointerMove(2, 0)

	assert.Equal(t, []State{Idle, Idle, Hovered}, states(markers))
	assert.Equal(t, base, markers[0].Scale)
	assert.Equal(t, "c", m.HoveredID())
}

func TestPointerClick_SelectionIsExclusive(t *testing.T) {
	m, markers := newTestMachine("a", "b", "c")

	e, ok := m.PointerClick(0, 0)
	require.True(t, ok)
	assert.Equal(t, "a", e.ID)

	e, ok = m.PointerClick(1, 0)
	require.True(t, ok)
	assert.Equal(t, "b", e.ID)

	assert.Equal(t, []State{Idle, Selected, Idle}, states(markers))
	assert.Equal(t, "b", m.SelectedID())
	assert.Equal(t, markers[0].BaseScale, markers[0].Scale)
	assert.Equal(t, DefaultStyle().IdleOpacity, markers[0].Opacity)
}

func TestPointerClick_SelectedAppearance(t *testing.T) {
	m, markers := newTestMachine("a")

	m.PointerMove(0, 0)
	m.PointerClick(0, 0)

	mk := markers[0]
	assert.Equal(t, Selected, mk.State)
	assert.Equal(t, 1.0, mk.Opacity)
	assert.InDelta(t, mk.BaseScale*DefaultStyle().SelectScale, mk.Scale, 1e-15)
}

func TestPointerClick_EmptySpaceKeepsSelection(t *testing.T) {
	m, markers := newTestMachine("a", "b")
	m.PointerClick(1, 0)

	e, ok := m.PointerClick(miss, 0)

	assert.False(t, ok)
	assert.Nil(t, e)
	assert.Equal(t, Selected, markers[1].State)
	assert.Equal(t, "b", m.SelectedID())
}

func TestPointerMove_NeverClearsSelection(t *testing.T) {
	m, markers := newTestMachine("a", "b")
	m.PointerClick(0, 0)

	m.PointerMove(0, 0)
	assert.Equal(t, Selected, markers[0].State, "hover does not downgrade a selection")
	assert.Equal(t, "a", m.HoveredID())

	m.PointerMove(1, 0)
	m.PointerMove(miss, 0)
	assert.Equal(t, Selected, markers[0].State)
	assert.Equal(t, Idle, markers[1].State)
}

func TestDeselect(t *testing.T) {
	m, markers := newTestMachine("a", "b")
	assert.False(t, m.Deselect(), "nothing selected")

	m.PointerClick(0, 0)
	require.True(t, m.Deselect())

	assert.Equal(t, Idle, markers[0].State)
	assert.Equal(t, markers[0].BaseScale, markers[0].Scale)
	assert.Empty(t, m.SelectedID())
}

func TestDeselect_UnderPointerReturnsToHover(t *testing.T) {
	m, markers := newTestMachine("a")
	m.PointerMove(0, 0)
	m.PointerClick(0, 0)

	m.Deselect()
	assert.Equal(t, Hovered, markers[0].State)
	assert.InDelta(t, markers[0].BaseScale*DefaultStyle().HoverScale, markers[0].Scale, 1e-15)

	m.PointerMove(miss, 0)
	assert.Equal(t, Idle, markers[0].State)
	assert.Equal(t, markers[0].BaseScale, markers[0].Scale)
}

func TestSetBaseAppearance_PerState(t *testing.T) {
	m, markers := newTestMachine("a", "b", "c")
	m.PointerMove(1, 0)
	m.PointerClick(2, 0)
	green := colorful.Color{G: 1}

	for _, mk := range markers {
		mk.SetBaseAppearance(green, 0.04)
	}

	style := DefaultStyle()
	assert.Equal(t, 0.04, markers[0].Scale)
	assert.InDelta(t, 0.04*style.HoverScale, markers[1].Scale, 1e-15)
	assert.InDelta(t, 0.04*style.SelectScale, markers[2].Scale, 1e-15)
	assert.Equal(t, green, markers[2].Object().(*fakeObject).color)

	m.PointerMove(miss, 0)
	assert.Equal(t, 0.04, markers[1].Scale, "unhover restores the re-encoded base")
}

func TestReset_CarriesHoverAndSelection(t *testing.T) {
	m, _ := newTestMachine("a", "b", "c")
	m.PointerMove(0, 0)
	m.PointerClick(2, 0)

	next := buildMarkers("c", "x", "a")
	hoverLost, selectionLost := m.Reset(next)

	assert.False(t, hoverLost)
	assert.False(t, selectionLost)
	assert.Equal(t, []State{Selected, Idle, Hovered}, states(next))
	assert.Same(t, next[0], m.Selected())
	assert.Same(t, next[2], m.Hovered())
}

func TestReset_ReportsLostState(t *testing.T) {
	m, _ := newTestMachine("a", "b")
	m.PointerMove(0, 0)
	m.PointerClick(1, 0)

	hoverLost, selectionLost := m.Reset(buildMarkers("z"))

	assert.True(t, hoverLost)
	assert.True(t, selectionLost)
	assert.Nil(t, m.Hovered())
	assert.Nil(t, m.Selected())
}

func TestPick_EmptySetSkipsSubstrate(t *testing.T) {
	p := &gridPicker{}
	m := NewMachine(p)

	e, changed := m.PointerMove(0, 0)

	assert.Nil(t, e)
	assert.False(t, changed)
	assert.Equal(t, 0, p.calls)
}

func TestLookup(t *testing.T) {
	m, markers := newTestMachine("a", "b")

	assert.Same(t, markers[1], m.Lookup("b"))
	assert.Nil(t, m.Lookup("nope"))
	assert.Len(t, m.Markers(), 2)
}

func ExampleMachine_PointerClick() {
	m, _ := newTestMachine("tokyo", "lima")
	e, _ := m.PointerClick(1, 0)
	fmt.Println(e.ID, m.SelectedID())
	// Output: lima lima
}

package scheduler

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoglobe/globe/internal/interaction"
	"github.com/geoglobe/globe/internal/substrate/headless"
	"github.com/geoglobe/globe/pkg/core"
)

type motion struct {
	spinning bool
	dragging bool
}

func (m *motion) Spinning() bool { return m.spinning }
func (m *motion) Dragging() bool { return m.dragging }

type fixture struct {
	sub     *headless.Substrate
	motion  *motion
	markers []*interaction.Marker
	sched   *Scheduler
}

func newFixture(t *testing.T, magnitudes ...float64) *fixture {
	t.Helper()
	sub := headless.New(headless.DefaultConfig())
	require.NoError(t, sub.Init())

	f := &fixture{sub: sub, motion: &motion{spinning: true}}
	for i, mag := range magnitudes {
		obj, err := sub.NewMarker(core.Vector3{Z: 1})
		require.NoError(t, err)
		e := &core.Entity{ID: string(rune('a' + i)), Metrics: map[string]float64{"magnitude": mag}}
		mk := interaction.NewMarker(e, i, core.Vector3{Z: 1}, obj, interaction.DefaultStyle())
		mk.SetBaseAppearance(colorful.Color{R: 1}, 0.05)
		f.markers = append(f.markers, mk)
	}

	sched, err := New(DefaultConfig(), sub, f.motion, func() []*interaction.Marker { return f.markers })
	require.NoError(t, err)
	f.sched = sched
	return f
}

func TestTick_RotatesWhenSpinning(t *testing.T) {
	f := newFixture(t)

	f.sched.Tick(0.016)
	f.sched.Tick(0.5)

	assert.InDelta(t, 0.002, f.sched.Rotation(), 1e-12, "fixed step per frame regardless of delta")
	assert.InDelta(t, 0.002, f.sub.Rotation(), 1e-12)
}

func TestTick_NoRotationWhileDraggingOrStopped(t *testing.T) {
	f := newFixture(t)

	f.motion.dragging = true
	f.sched.Tick(0.016)
	f.motion.dragging = false
	f.motion.spinning = false
	f.sched.Tick(0.016)

	assert.Equal(t, 0.0, f.sched.Rotation())
}

func TestTick_OneRenderPerFrame(t *testing.T) {
	f := newFixture(t, 7)

	for i := 0; i < 5; i++ {
		f.sched.Tick(0.016)
	}

	assert.Equal(t, int64(5), f.sub.Renders())
}

func TestTick_PulsesMajorIdleMarkers(t *testing.T) {
	f := newFixture(t, 6.5, 4.0)

	f.sched.Tick(0.25)

	cfg := DefaultConfig()
	want := PulseScale(0.05, cfg.PulseAmplitude, cfg.PulseFrequency, 0.25, f.markers[0].PulseSeed)
	assert.InDelta(t, want, f.markers[0].Scale, 1e-15)
	assert.Equal(t, 0.05, f.markers[1].Scale, "below threshold")
}

func TestTick_SkipsHighlightedMarkers(t *testing.T) {
	f := newFixture(t, 7, 7)
	m := interaction.NewMachine(f.sub)
	m.Reset(f.markers)
	x, y, ok := f.sub.ScreenPosition(f.markers[0].Object())
	require.True(t, ok)
	m.PointerClick(x, y)
	selected := m.Selected()
	require.NotNil(t, selected)
	before := selected.Scale

	f.sched.Tick(0.3)

	assert.Equal(t, before, selected.Scale)
}

func TestPulseScale(t *testing.T) {
	assert.Equal(t, 2.0, PulseScale(2, 0.3, 3, 0, 0))
	assert.InDelta(t, 2.6, PulseScale(2, 0.3, 1, math.Pi/2, 0), 1e-12)
	assert.InDelta(t, 1.4, PulseScale(2, 0.3, 1, 0, -math.Pi/2), 1e-12)
}

func TestStartDispose(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex

	f.sched.Start(&mu)
	f.sched.Start(&mu)
	require.Equal(t, 1, f.sub.Listeners())

	t0 := time.Unix(100, 0)
	f.sub.Step(t0)
	f.sub.Step(t0.Add(500 * time.Millisecond))
	assert.Equal(t, int64(2), f.sub.Renders())
	assert.InDelta(t, 0.5, f.sched.Elapsed(), 1e-9)

	f.sched.Dispose()
	f.sched.Dispose()
	assert.Equal(t, 0, f.sub.Listeners())

	f.sub.Step(t0.Add(time.Second))
	f.sched.Tick(1)
	assert.Equal(t, int64(2), f.sub.Renders(), "no frames after dispose")
}

func TestResetRotation(t *testing.T) {
	f := newFixture(t)
	f.sched.Tick(0)

	f.sched.ResetRotation()

	assert.Equal(t, 0.0, f.sched.Rotation())
	assert.Equal(t, 0.0, f.sub.Rotation())
}

package headless

import (
	"context"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoglobe/globe/internal/render"
	"github.com/geoglobe/globe/pkg/core"
)

func newReady(t *testing.T) *Substrate {
	t.Helper()
	s := New(DefaultConfig())
	require.NoError(t, s.Init())
	return s
}

func addMarker(t *testing.T, s *Substrate, pos core.Vector3, scale float64) render.Object {
	t.Helper()
	o, err := s.NewMarker(pos)
	require.NoError(t, err)
	o.SetScale(scale)
	return o
}

func TestInit_ZeroViewportFails(t *testing.T) {
	s := New(Config{Width: 0, Height: 600})

	err := s.Init()
	require.ErrorIs(t, err, render.ErrNoGraphics)

	_, err = s.NewMarker(core.Vector3{})
	assert.ErrorIs(t, err, render.ErrNoGraphics)
}

func TestPick_CenterHitsFrontMarker(t *testing.T) {
	s := newReady(t)
	front := addMarker(t, s, core.Vector3{Z: 1}, 0.05)

	idx, ok := s.Pick(0, 0, []render.Object{front})

	require.True(t, ok)
	assert.Equal(t, 0, idx)
}

func TestPick_NearestWins(t *testing.T) {
	s := newReady(t)
	back := addMarker(t, s, core.Vector3{Z: -1}, 0.05)
	front := addMarker(t, s, core.Vector3{Z: 1}, 0.05)

	idx, ok := s.Pick(0, 0, []render.Object{back, front})

	require.True(t, ok)
	assert.Equal(t, 1, idx, "front marker is nearer along the ray")
}

func TestPick_Miss(t *testing.T) {
	s := newReady(t)
	m := addMarker(t, s, core.Vector3{Z: 1}, 0.05)

	_, ok := s.Pick(0.9, 0.9, []render.Object{m})
	assert.False(t, ok)

	_, ok = s.Pick(0, 0, nil)
	assert.False(t, ok)
}

func TestPick_OnlyConsidersGivenObjects(t *testing.T) {
	s := newReady(t)
	addMarker(t, s, core.Vector3{Z: 1}, 0.05)
	other := addMarker(t, s, core.Vector3{X: 0.5, Z: 1}, 0.05)

	_, ok := s.Pick(0, 0, []render.Object{other})
	assert.False(t, ok)
}

func TestPick_SkipsDisposed(t *testing.T) {
	s := newReady(t)
	m := addMarker(t, s, core.Vector3{Z: 1}, 0.05)
	m.Dispose()

	_, ok := s.Pick(0, 0, []render.Object{m})
	assert.False(t, ok)
	assert.Equal(t, 0, s.LiveMarkers())
}

func TestPick_FollowsRotation(t *testing.T) {
	s := newReady(t)
	// on +X before rotation; a quarter turn brings it round to face the camera
	m := addMarker(t, s, core.Vector3{X: 1}, 0.05)

	_, ok := s.Pick(0, 0, []render.Object{m})
	require.False(t, ok)

	s.SetRotation(math.Pi / 2)
	_, ok = s.Pick(0, 0, []render.Object{m})
	assert.True(t, ok)
}

func TestScreenPosition_MatchesPick(t *testing.T) {
	s := newReady(t)
	m := addMarker(t, s, core.Vector3{X: 0.4, Y: -0.3, Z: 0.85}, 0.02)

	x, y, ok := s.ScreenPosition(m)
	require.True(t, ok)

	idx, hit := s.Pick(x, y, []render.Object{m})
	require.True(t, hit)
	assert.Equal(t, 0, idx)
}

func TestUpdateControls_Damping(t *testing.T) {
	s := newReady(t)
	s.Zoom(2)

	s.UpdateControls()
	assert.InDelta(t, 2.9, s.CameraDistance(), 1e-12)

	s.ResetCamera()
	assert.Equal(t, 3.0, s.CameraDistance())
}

func TestOnFrame_CancelStopsCallbacks(t *testing.T) {
	s := newReady(t)
	var calls atomic.Int32
	cancel := s.OnFrame(func(time.Time) { calls.Add(1) })

	s.Step(time.Now())
	cancel()
	cancel()
	s.Step(time.Now())

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 0, s.Listeners())
}

func TestRun_StopsWithContext(t *testing.T) {
	s := New(Config{Width: 10, Height: 10, FrameRate: 200})
	require.NoError(t, s.Init())
	var calls atomic.Int32
	s.OnFrame(func(time.Time) { calls.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return calls.Load() > 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestAppearance(t *testing.T) {
	s := newReady(t)
	m := addMarker(t, s, core.Vector3{Z: 1}, 0.5)
	red := colorful.Color{R: 1}
	m.SetColor(red)
	m.SetOpacity(0.4)

	c, scale, opacity, ok := Appearance(m)
	require.True(t, ok)
	assert.Equal(t, red, c)
	assert.Equal(t, 0.5, scale)
	assert.Equal(t, 0.4, opacity)
}

func TestResizeCounts(t *testing.T) {
	s := newReady(t)
	s.Resize(800, 600)

	w, h := s.Viewport()
	assert.Equal(t, 800, w)
	assert.Equal(t, 600, h)
	assert.Equal(t, int64(1), s.Resizes())
}

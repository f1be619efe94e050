// Package headless is a pure-Go rendering substrate: a rotating globe group of spherical
// markers, a perspective camera on the +Z axis and a ticker-driven frame clock.
// It rasterizes nothing; it exists so the engine can run and be tested without a GPU.
package headless

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/geoglobe/globe/internal/render"
	"github.com/geoglobe/globe/pkg/core"
)

// Config holds viewport and camera settings
type Config struct {
	Width          int
	Height         int
	FOV            float64 // vertical field of view in degrees
	CameraDistance float64
	Damping        float64 // fraction of the remaining distance covered per frame
	FrameRate      int
}

// DefaultConfig returns a 1280x720 viewport with the camera three radii out.
func DefaultConfig() Config {
	return Config{
		Width:          1280,
		Height:         720,
		FOV:            45,
		CameraDistance: 3,
		Damping:        0.1,
		FrameRate:      60,
	}
}

// Substrate implements render.Substrate without a graphics backend.
type Substrate struct {
	mu      sync.Mutex
	cfg     Config
	width   int
	height  int
	ready   bool
	markers map[*marker]struct{}

	rotation float64
	cameraZ  float64
	targetZ  float64

	listeners  map[uint64]render.FrameFunc
	nextListen uint64

	renders atomic.Int64
	resizes atomic.Int64
}

var _ render.Substrate = (*Substrate)(nil)

// New creates a headless substrate. Init must be called before use.
func New(cfg Config) *Substrate {
	if cfg.FOV <= 0 {
		cfg.FOV = 45
	}
	if cfg.CameraDistance <= 0 {
		cfg.CameraDistance = 3
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 60
	}
	return &Substrate{
		cfg:       cfg,
		width:     cfg.Width,
		height:    cfg.Height,
		markers:   make(map[*marker]struct{}),
		cameraZ:   cfg.CameraDistance,
		targetZ:   cfg.CameraDistance,
		listeners: make(map[uint64]render.FrameFunc),
	}
}

// Init validates the viewport. A zero-sized viewport means no drawable surface.
func (s *Substrate) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.width <= 0 || s.height <= 0 {
		return fmt.Errorf("%w: viewport %dx%d", render.ErrNoGraphics, s.width, s.height)
	}
	s.ready = true
	return nil
}

// NewMarker adds a unit-scale marker at position in globe-local space.
func (s *Substrate) NewMarker(position core.Vector3) (render.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return nil, render.ErrNoGraphics
	}
	m := &marker{s: s, position: position, scale: 1, opacity: 1}
	s.markers[m] = struct{}{}
	return m, nil
}

// Pick returns the nearest marker in objects hit by the ray through (x, y).
func (s *Substrate) Pick(x, y float64, objects []render.Object) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	origin := core.Vector3{Z: s.cameraZ}
	tanHalf := math.Tan(s.cfg.FOV * math.Pi / 360)
	dir := core.Vector3{X: x * tanHalf * s.aspect(), Y: y * tanHalf, Z: -1}.Normalize()

	best := -1
	bestT := math.Inf(1)
	for i, o := range objects {
		m, ok := o.(*marker)
		if !ok || m.s != s || m.disposed {
			continue
		}
		center := m.position.RotateY(s.rotation)
		if t, hit := raySphere(origin, dir, center, m.scale); hit && t < bestT {
			best, bestT = i, t
		}
	}
	return best, best >= 0
}

// raySphere returns the nearest non-negative ray parameter at which the ray meets the sphere.
func raySphere(origin, dir, center core.Vector3, radius float64) (float64, bool) {
	oc := origin.Sub(center)
	b := oc.Dot(dir)
	c := oc.Dot(oc) - radius*radius
	disc := b*b - c
	if disc < 0 {
		return 0, false
	}
	sq := math.Sqrt(disc)
	t := -b - sq
	if t < 0 {
		t = -b + sq
	}
	if t < 0 {
		return 0, false
	}
	return t, true
}

// ScreenPosition projects a marker center to normalized device coordinates.
// ok is false when the marker lies behind the camera or belongs to another substrate.
func (s *Substrate) ScreenPosition(o render.Object) (x, y float64, ok bool) {
	m, isMarker := o.(*marker)
	if !isMarker || m.s != s {
		return 0, 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	v := m.position.RotateY(s.rotation).Sub(core.Vector3{Z: s.cameraZ})
	if v.Z >= 0 {
		return 0, 0, false
	}
	tanHalf := math.Tan(s.cfg.FOV * math.Pi / 360)
	x = (v.X / -v.Z) / (tanHalf * s.aspect())
	y = (v.Y / -v.Z) / tanHalf
	return x, y, true
}

func (s *Substrate) aspect() float64 {
	if s.height <= 0 {
		return 1
	}
	return float64(s.width) / float64(s.height)
}

func (s *Substrate) SetRotation(radians float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotation = radians
}

// UpdateControls eases the camera towards its target distance.
func (s *Substrate) UpdateControls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cameraZ += (s.targetZ - s.cameraZ) * s.cfg.Damping
}

func (s *Substrate) Render() {
	s.renders.Add(1)
}

func (s *Substrate) Resize(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.width, s.height = width, height
	s.resizes.Add(1)
}

// ResetCamera snaps the camera back to its configured distance.
func (s *Substrate) ResetCamera() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cameraZ = s.cfg.CameraDistance
	s.targetZ = s.cfg.CameraDistance
}

// Zoom sets the distance the camera eases towards on subsequent UpdateControls calls.
func (s *Substrate) Zoom(distance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targetZ = distance
}

// OnFrame registers fn with the frame clock.
func (s *Substrate) OnFrame(fn render.FrameFunc) (cancel func()) {
	s.mu.Lock()
	id := s.nextListen
	s.nextListen++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Step fires one frame on every registered listener.
func (s *Substrate) Step(now time.Time) {
	s.mu.Lock()
	fns := make([]render.FrameFunc, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(now)
	}
}

// Run drives Step at the configured frame rate until ctx is done.
func (s *Substrate) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.FrameRate))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Step(now)
		}
	}
}

// Renders returns the number of Render calls so far.
func (s *Substrate) Renders() int64 {
	return s.renders.Load()
}

// Resizes returns the number of Resize calls so far.
func (s *Substrate) Resizes() int64 {
	return s.resizes.Load()
}

// Listeners returns the number of registered frame listeners.
func (s *Substrate) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// LiveMarkers returns the number of markers that have not been disposed.
func (s *Substrate) LiveMarkers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.markers)
}

func (s *Substrate) Rotation() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rotation
}

func (s *Substrate) CameraDistance() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cameraZ
}

func (s *Substrate) Viewport() (width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

type marker struct {
	s        *Substrate
	position core.Vector3
	color    colorful.Color
	scale    float64
	opacity  float64
	disposed bool
}

func (m *marker) SetColor(c colorful.Color) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.color = c
}

func (m *marker) SetScale(scale float64) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.scale = scale
}

func (m *marker) SetOpacity(o float64) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.opacity = o
}

func (m *marker) Dispose() {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.disposed = true
	delete(m.s.markers, m)
}

// Appearance reports what the substrate would draw for o.
func Appearance(o render.Object) (c colorful.Color, scale, opacity float64, ok bool) {
	m, isMarker := o.(*marker)
	if !isMarker {
		return colorful.Color{}, 0, 0, false
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return m.color, m.scale, m.opacity, !m.disposed
}

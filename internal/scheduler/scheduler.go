// Package scheduler advances globe rotation and marker pulse once per frame and
// requests exactly one render per frame.
package scheduler

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/geoglobe/globe/internal/interaction"
	"github.com/geoglobe/globe/internal/render"
)

// Config holds rotation and pulse parameters.
type Config struct {
	// RotationStep is radians added per frame, independent of frame duration.
	RotationStep   float64
	PulseMetric    string
	PulseThreshold float64
	PulseAmplitude float64
	// PulseFrequency is in radians per second.
	PulseFrequency float64
}

func DefaultConfig() Config {
	return Config{
		RotationStep:   0.001,
		PulseMetric:    "magnitude",
		PulseThreshold: 6,
		PulseAmplitude: 0.3,
		PulseFrequency: 3,
	}
}

// Motion reports whether the globe should auto-rotate this frame.
type Motion interface {
	Spinning() bool
	Dragging() bool
}

// MarkerSource returns the current marker set.
type MarkerSource func() []*interaction.Marker

// Scheduler holds all per-frame loop state. Tick is not safe for concurrent use;
// frames delivered through Start are serialized on the lock given to Start.
type Scheduler struct {
	cfg       Config
	substrate render.Substrate
	motion    Motion
	markers   MarkerSource

	rotation float64
	elapsed  float64
	last     time.Time

	frames   metric.Int64Counter
	cancel   func()
	disposed bool
}

// New creates a scheduler. Uses the global OTel meter for the frame counter.
func New(cfg Config, substrate render.Substrate, motion Motion, markers MarkerSource) (*Scheduler, error) {
	frames, err := meter().Int64Counter(
		"scheduler.frames",
		metric.WithDescription("Total frames rendered"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating frame counter: %w", err)
	}
	return &Scheduler{
		cfg:       cfg,
		substrate: substrate,
		motion:    motion,
		markers:   markers,
		frames:    frames,
	}, nil
}

// PulseScale is base * (1 + amplitude * sin(elapsed * frequency + seed)).
func PulseScale(base, amplitude, frequency, elapsed, seed float64) float64 {
	return base * (1 + amplitude*math.Sin(elapsed*frequency+seed))
}

// Tick runs one frame. deltaSeconds only feeds the pulse clock; rotation advances
// by a fixed step per call.
func (s *Scheduler) Tick(deltaSeconds float64) {
	if s.disposed {
		return
	}
	s.elapsed += deltaSeconds

	if s.motion.Spinning() && !s.motion.Dragging() {
		s.rotation += s.cfg.RotationStep
		s.substrate.SetRotation(s.rotation)
	}

	for _, mk := range s.markers() {
		if mk.State != interaction.Idle {
			continue
		}
		v, ok := mk.Entity.Metric(s.cfg.PulseMetric)
		if !ok || v < s.cfg.PulseThreshold {
			continue
		}
		mk.SetScale(PulseScale(mk.BaseScale, s.cfg.PulseAmplitude, s.cfg.PulseFrequency, s.elapsed, mk.PulseSeed))
	}

	s.substrate.UpdateControls()
	s.substrate.Render()
	s.frames.Add(context.Background(), 1)
}

// Start registers the scheduler with the substrate frame clock. Each frame acquires
// lock before ticking.
func (s *Scheduler) Start(lock sync.Locker) {
	if s.cancel != nil || s.disposed {
		return
	}
	s.cancel = s.substrate.OnFrame(func(now time.Time) {
		lock.Lock()
		defer lock.Unlock()
		if s.disposed {
			return
		}
		delta := 0.0
		if !s.last.IsZero() {
			delta = now.Sub(s.last).Seconds()
		}
		s.last = now
		s.Tick(delta)
	})
}

// Dispose unregisters the frame listener. Later frames and ticks are ignored.
func (s *Scheduler) Dispose() {
	if s.disposed {
		return
	}
	s.disposed = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// ResetRotation puts the globe back at zero rotation.
func (s *Scheduler) ResetRotation() {
	s.rotation = 0
	s.substrate.SetRotation(0)
}

func (s *Scheduler) Rotation() float64 {
	return s.rotation
}

// Elapsed returns the pulse clock in seconds.
func (s *Scheduler) Elapsed() float64 {
	return s.elapsed
}

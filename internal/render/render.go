// Package render defines the contract between the engine and the rendering substrate.
// The substrate owns the scene graph, camera, picking and frame clock; the engine only
// issues commands against it.
package render

import (
	"errors"
	"time"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/geoglobe/globe/pkg/core"
)

// ErrNoGraphics is returned by Substrate.Init when no graphics capability is available.
var ErrNoGraphics = errors.New("rendering substrate unavailable")

// Object is a render-side marker handle. Scale is the marker radius in scene units.
type Object interface {
	SetColor(c colorful.Color)
	SetScale(s float64)
	SetOpacity(o float64)
	// Dispose releases render-side resources. The object must not be used afterwards.
	Dispose()
}

// FrameFunc is invoked once per display refresh.
type FrameFunc func(now time.Time)

// Substrate is the scene graph, camera and frame clock the engine drives.
type Substrate interface {
	Init() error

	// NewMarker adds a marker to the globe group at a position in globe-local space.
	NewMarker(position core.Vector3) (Object, error)

	// Pick casts a ray through normalized device coordinates (x, y in [-1, 1], +y up)
	// and returns the index into objects of the nearest intersected marker.
	// Only the given objects are tested.
	Pick(x, y float64, objects []Object) (int, bool)

	// SetRotation sets the globe group rotation around the polar axis.
	SetRotation(radians float64)
	// UpdateControls advances camera damping by one frame.
	UpdateControls()
	Render()
	Resize(width, height int)
	ResetCamera()

	// OnFrame registers fn with the frame clock. The returned cancel func unregisters it.
	OnFrame(fn FrameFunc) (cancel func())
}

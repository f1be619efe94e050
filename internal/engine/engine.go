// Package engine is the visualization façade: it owns the view state, the entity store,
// the marker set and the frame scheduler, and turns presentation intents into calls on them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/geoglobe/globe/internal/clock"
	"github.com/geoglobe/globe/internal/dataset"
	"github.com/geoglobe/globe/internal/debounce"
	"github.com/geoglobe/globe/internal/geo"
	"github.com/geoglobe/globe/internal/interaction"
	"github.com/geoglobe/globe/internal/metric"
	"github.com/geoglobe/globe/internal/render"
	"github.com/geoglobe/globe/internal/scheduler"
	"github.com/geoglobe/globe/internal/source"
	"github.com/geoglobe/globe/pkg/core"
)

var (
	// ErrRenderSubstrateInit is returned by New when the substrate has no graphics capability.
	ErrRenderSubstrateInit = errors.New("render substrate init failed")
	// ErrDisposed is returned by intents issued after Dispose.
	ErrDisposed = errors.New("engine disposed")
	// ErrInvalidTimeWindow is returned by SetTimeWindow for a negative day count.
	ErrInvalidTimeWindow = errors.New("invalid time window")
)

// ViewState is the single mutable view context. The engine owns it; View returns a copy.
type ViewState struct {
	ActiveMetric   string `json:"activeMetric"`
	TimeWindowDays int    `json:"timeWindowDays"`
	Spinning       bool   `json:"spinning"`
	Dragging       bool   `json:"dragging"`
	HoveredID      string `json:"hoveredId,omitempty"`
	SelectedID     string `json:"selectedId,omitempty"`
}

// Config holds engine settings.
type Config struct {
	Radius float64
	// MarkerAltitude lifts markers off the surface as a fraction of Radius.
	MarkerAltitude float64
	DefaultMetric  string
	DefaultDays    int
	Spinning       bool
	ResizeDebounce time.Duration
	Style          interaction.Style
	Scheduler      scheduler.Config
}

func DefaultConfig() Config {
	return Config{
		Radius:         1,
		MarkerAltitude: 0.01,
		DefaultMetric:  metric.Magnitude,
		DefaultDays:    7,
		Spinning:       true,
		ResizeDebounce: 150 * time.Millisecond,
		Style:          interaction.DefaultStyle(),
		Scheduler:      scheduler.DefaultConfig(),
	}
}

// Dependencies are the collaborators injected into the engine. Substrate is required.
type Dependencies struct {
	Substrate render.Substrate
	Loader    *source.Loader
	Registry  *metric.Registry
	Clock     clock.Provider
	Listener  Listener
	Logger    *slog.Logger
}

// Engine serializes every intent, load and frame on one mutex.
type Engine struct {
	mu sync.Mutex

	cfg       Config
	substrate render.Substrate
	loader    *source.Loader
	registry  *metric.Registry
	listener  Listener
	logger    *slog.Logger

	view    ViewState
	store   *dataset.Store
	machine *interaction.Machine
	sched   *scheduler.Scheduler
	resize  *debounce.Debouncer

	pendingWidth  int
	pendingHeight int
	disposed      bool

	// read without the lock by log handlers
	activeMetric atomic.Value
	markerCount  atomic.Int64
}

// New initializes the substrate and builds an empty engine.
func New(cfg Config, deps Dependencies) (*Engine, error) {
	if deps.Substrate == nil {
		return nil, fmt.Errorf("%w: no substrate", ErrRenderSubstrateInit)
	}
	if err := deps.Substrate.Init(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRenderSubstrateInit, err)
	}
	if deps.Registry == nil {
		deps.Registry = metric.NewRegistry(metric.DefaultDefinitions()...)
	}
	if deps.Listener == nil {
		deps.Listener = NopListener{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.DefaultDays < 0 {
		return nil, fmt.Errorf("default days: %w: %d", ErrInvalidTimeWindow, cfg.DefaultDays)
	}
	if _, ok := deps.Registry.Get(cfg.DefaultMetric); !ok {
		return nil, fmt.Errorf("default metric: %w: %s", metric.ErrUnknownMetric, cfg.DefaultMetric)
	}

	e := &Engine{
		cfg:       cfg,
		substrate: deps.Substrate,
		loader:    deps.Loader,
		registry:  deps.Registry,
		listener:  deps.Listener,
		logger:    deps.Logger,
		store:     dataset.NewStore(deps.Clock),
		machine:   interaction.NewMachine(deps.Substrate),
		view: ViewState{
			ActiveMetric:   cfg.DefaultMetric,
			TimeWindowDays: cfg.DefaultDays,
			Spinning:       cfg.Spinning,
		},
	}
	e.activeMetric.Store(cfg.DefaultMetric)

	sched, err := scheduler.New(cfg.Scheduler, deps.Substrate, motion{e}, e.machine.Markers)
	if err != nil {
		return nil, err
	}
	e.sched = sched
	e.resize = debounce.New(cfg.ResizeDebounce, e.applyResize)
	return e, nil
}

// motion exposes the view flags to the scheduler. Read while the frame holds the lock.
type motion struct{ e *Engine }

func (m motion) Spinning() bool { return m.e.view.Spinning }
func (m motion) Dragging() bool { return m.e.view.Dragging }

// Start registers the frame loop and performs the initial load.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return ErrDisposed
	}
	e.sched.Start(&e.mu)
	e.mu.Unlock()
	if e.loader == nil {
		// entities arrive through LoadEntities
		return nil
	}
	return e.Reload(ctx)
}

// Reload fetches a fresh batch from the loader. A result superseded by a newer
// Reload is dropped. Source failures surface as a notice; only a failed fallback
// is returned as an error.
func (e *Engine) Reload(ctx context.Context) error {
	if e.loader == nil {
		return fmt.Errorf("%w: no loader configured", source.ErrSourceUnavailable)
	}
	res, err := e.loader.Load(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return ErrDisposed
	}
	if !e.loader.IsLatest(res) {
		e.logger.Debug("discarding superseded load", "generation", res.Generation)
		return nil
	}
	if res.Notice != nil {
		e.listener.OnNotice(*res.Notice)
	}
	if err != nil {
		return err
	}
	e.commitLocked(res.Entities)
	return nil
}

// LoadEntities commits a batch directly, bypassing the loader.
func (e *Engine) LoadEntities(entities []core.Entity) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return ErrDisposed
	}
	e.commitLocked(entities)
	return nil
}

func (e *Engine) commitLocked(entities []core.Entity) {
	e.store.Load(entities)
	e.registry.DeriveDomains(e.store.Raw())
	e.store.FilterByTime(e.view.TimeWindowDays)
	e.rebuildLocked()
	e.emitStatsLocked()
	e.emitLegendLocked()
	e.logger.Info("entities loaded", "raw", len(e.store.Raw()), "visible", len(e.store.Filtered()))
}

// rebuildLocked disposes the current marker set and builds one marker per visible,
// located entity.
func (e *Engine) rebuildLocked() {
	for _, mk := range e.machine.Markers() {
		mk.Dispose()
	}

	def := e.activeDefinition()
	radius := e.cfg.Radius * (1 + e.cfg.MarkerAltitude)
	filtered := e.store.Filtered()
	markers := make([]*interaction.Marker, 0, len(filtered))
	skipped := 0
	for i := range filtered {
		ent := &filtered[i]
		if !geo.ValidCoordinates(ent.Latitude, ent.Longitude) {
			skipped++
			continue
		}
		pos := geo.Project(ent.Latitude, ent.Longitude, radius)
		obj, err := e.substrate.NewMarker(pos)
		if err != nil {
			e.logger.Error("failed to create marker", "entity", ent.ID, "error", err)
			skipped++
			continue
		}
		mk := interaction.NewMarker(ent, len(markers), pos, obj, e.cfg.Style)
		metric.Apply(mk, def, ent)
		markers = append(markers, mk)
	}
	if skipped > 0 {
		e.logger.Debug("skipped entities without usable coordinates", "count", skipped)
	}

	hoverLost, selectionLost := e.machine.Reset(markers)
	e.view.HoveredID = e.machine.HoveredID()
	e.view.SelectedID = e.machine.SelectedID()
	e.markerCount.Store(int64(len(markers)))
	if hoverLost {
		e.listener.OnHover(nil)
	}
	if selectionLost {
		e.listener.OnSelect(nil)
	}
}

func (e *Engine) activeDefinition() *metric.Definition {
	def, _ := e.registry.Get(e.view.ActiveMetric)
	return def
}

func (e *Engine) emitStatsLocked() {
	e.listener.StatsUpdated(e.store.ComputeStats(e.view.ActiveMetric), e.view.ActiveMetric)
}

func (e *Engine) emitLegendLocked() {
	e.listener.LegendUpdated(e.activeDefinition().Legend())
}

// SelectMetric re-encodes the existing markers without re-projecting them.
func (e *Engine) SelectMetric(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return ErrDisposed
	}
	def, ok := e.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", metric.ErrUnknownMetric, id)
	}
	e.view.ActiveMetric = id
	e.activeMetric.Store(id)
	for _, mk := range e.machine.Markers() {
		metric.Apply(mk, def, mk.Entity)
	}
	e.emitStatsLocked()
	e.emitLegendLocked()
	return nil
}

// SetTimeWindow refilters and rebuilds the marker set. Zero keeps only entities stamped
// at or after now.
func (e *Engine) SetTimeWindow(days int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return ErrDisposed
	}
	if days < 0 {
		return fmt.Errorf("%w: %d days", ErrInvalidTimeWindow, days)
	}
	e.view.TimeWindowDays = days
	e.store.FilterByTime(days)
	e.rebuildLocked()
	e.emitStatsLocked()
	return nil
}

// PointerMove updates the hover from normalized device coordinates and returns the
// hovered entity, if any.
func (e *Engine) PointerMove(x, y float64) *core.Entity {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return nil
	}
	ent, changed := e.machine.PointerMove(x, y)
	if changed {
		e.view.HoveredID = e.machine.HoveredID()
		e.listener.OnHover(ent)
	}
	return ent
}

// PointerClick selects the entity under the pointer. Clicking empty space keeps the
// current selection and returns nil.
func (e *Engine) PointerClick(x, y float64) *core.Entity {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return nil
	}
	ent, hit := e.machine.PointerClick(x, y)
	if !hit {
		return nil
	}
	e.view.SelectedID = e.machine.SelectedID()
	e.listener.OnSelect(ent)
	return ent
}

// Deselect clears the selection.
func (e *Engine) Deselect() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return
	}
	if e.machine.Deselect() {
		e.view.SelectedID = ""
		e.listener.OnSelect(nil)
	}
}

// ToggleSpin flips auto-rotation and returns the new setting.
func (e *Engine) ToggleSpin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.view.Spinning = !e.view.Spinning
	return e.view.Spinning
}

// SetDragging suspends auto-rotation while the user drags the globe.
func (e *Engine) SetDragging(dragging bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.view.Dragging = dragging
}

// ResetView restores the camera and the globe rotation.
func (e *Engine) ResetView() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return
	}
	e.substrate.ResetCamera()
	e.sched.ResetRotation()
}

// Resize records the new viewport; the substrate sees only the last size of a burst.
func (e *Engine) Resize(width, height int) {
	e.mu.Lock()
	e.pendingWidth, e.pendingHeight = width, height
	disposed := e.disposed
	e.mu.Unlock()
	if !disposed {
		e.resize.Trigger()
	}
}

func (e *Engine) applyResize() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return
	}
	e.substrate.Resize(e.pendingWidth, e.pendingHeight)
}

// View returns a copy of the view state.
func (e *Engine) View() ViewState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view
}

// Stats returns the aggregate of the active metric over the visible entities.
func (e *Engine) Stats() core.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.ComputeStats(e.view.ActiveMetric)
}

// Legend returns the legend of the active metric.
func (e *Engine) Legend() core.Legend {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeDefinition().Legend()
}

// Metrics returns the selectable metric IDs.
func (e *Engine) Metrics() []string {
	return e.registry.IDs()
}

// Entity returns a visible entity by ID.
func (e *Engine) Entity(id string) (core.Entity, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	mk := e.machine.Lookup(id)
	if mk == nil {
		return core.Entity{}, false
	}
	return mk.Entity.Clone(), true
}

// MarkerCount returns the size of the current marker set.
func (e *Engine) MarkerCount() int {
	return int(e.markerCount.Load())
}

// Dispose stops the frame loop and releases every marker. It is idempotent.
func (e *Engine) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return
	}
	e.disposed = true
	e.sched.Dispose()
	e.resize.Stop()
	for _, mk := range e.machine.Markers() {
		mk.Dispose()
	}
	e.machine.Reset(nil)
	e.markerCount.Store(0)
	e.logger.Info("engine disposed")
}

// LogAttrs returns attributes describing the engine for log records.
// It does not take the engine lock.
func (e *Engine) LogAttrs() []slog.Attr {
	active, _ := e.activeMetric.Load().(string)
	return []slog.Attr{
		slog.String("metric", active),
		slog.Int64("markers", e.markerCount.Load()),
	}
}

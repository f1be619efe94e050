// Package handlers maps shell intents onto engine calls through the dispatcher.
package handlers

import (
	"context"
	"fmt"

	"github.com/geoglobe/globe/internal/dispatcher"
	"github.com/geoglobe/globe/internal/engine"
	"github.com/geoglobe/globe/pkg/core"
	"github.com/geoglobe/globe/pkg/streaming"
)

// Engine is the part of the engine the handlers drive.
type Engine interface {
	SelectMetric(id string) error
	SetTimeWindow(days int) error
	PointerMove(x, y float64) *core.Entity
	PointerClick(x, y float64) *core.Entity
	Deselect()
	ToggleSpin() bool
	SetDragging(dragging bool)
	ResetView()
	Resize(width, height int)
	Reload(ctx context.Context) error
	View() engine.ViewState
}

// Service provides handler methods for processing shell intents
type Service struct {
	ctx    context.Context
	engine Engine
}

// NewService creates a handler service. ctx bounds reloads started by the shell.
func NewService(ctx context.Context, e Engine) *Service {
	return &Service{ctx: ctx, engine: e}
}

// RegisterHandlers registers every intent handler with the dispatcher.
func (s *Service) RegisterHandlers(d *dispatcher.Dispatcher) {
	// View changes - sync, the caller gets the new view back
	d.Register(streaming.TypeSelectMetric, s.handleSelectMetric, dispatcher.Logged())
	d.Register(streaming.TypeSetTimeWindow, s.handleSetTimeWindow, dispatcher.Logged())
	d.Register(streaming.TypeToggleSpin, s.handleToggleSpin, dispatcher.Logged())
	d.Register(streaming.TypeResetView, s.handleResetView, dispatcher.Logged())
	d.Register(streaming.TypeDeselect, s.handleDeselect, dispatcher.Logged())

	// Pointer traffic - sync and unlogged, it arrives at frame rate
	d.Register(streaming.TypePointerMove, s.handlePointerMove)
	d.Register(streaming.TypePointerClick, s.handlePointerClick)
	d.Register(streaming.TypeSetDragging, s.handleSetDragging)
	d.Register(streaming.TypeResize, s.handleResize)

	// Reload fetches from the network - buffered so the read loop never waits on it
	d.Register(streaming.TypeReload, s.handleReload, dispatcher.Buffered(1), dispatcher.Logged())
}

func (s *Service) handleSelectMetric(e dispatcher.Event) (any, error) {
	var p streaming.SelectMetricPayload
	if err := dispatcher.Decode(e, &p); err != nil {
		return nil, err
	}
	if err := s.engine.SelectMetric(p.Metric); err != nil {
		return nil, fmt.Errorf("failed to select metric: %w", err)
	}
	return s.engine.View(), nil
}

func (s *Service) handleSetTimeWindow(e dispatcher.Event) (any, error) {
	var p streaming.SetTimeWindowPayload
	if err := dispatcher.Decode(e, &p); err != nil {
		return nil, err
	}
	if err := s.engine.SetTimeWindow(p.Days); err != nil {
		return nil, fmt.Errorf("failed to set time window: %w", err)
	}
	return s.engine.View(), nil
}

func (s *Service) handleToggleSpin(e dispatcher.Event) (any, error) {
	s.engine.ToggleSpin()
	return s.engine.View(), nil
}

func (s *Service) handleResetView(e dispatcher.Event) (any, error) {
	s.engine.ResetView()
	return s.engine.View(), nil
}

func (s *Service) handleDeselect(e dispatcher.Event) (any, error) {
	s.engine.Deselect()
	return s.engine.View(), nil
}

func (s *Service) handlePointerMove(e dispatcher.Event) (any, error) {
	var p streaming.PointerPayload
	if err := dispatcher.Decode(e, &p); err != nil {
		return nil, err
	}
	s.engine.PointerMove(p.X, p.Y)
	return nil, nil
}

func (s *Service) handlePointerClick(e dispatcher.Event) (any, error) {
	var p streaming.PointerPayload
	if err := dispatcher.Decode(e, &p); err != nil {
		return nil, err
	}
	s.engine.PointerClick(p.X, p.Y)
	return nil, nil
}

func (s *Service) handleSetDragging(e dispatcher.Event) (any, error) {
	var p streaming.SetDraggingPayload
	if err := dispatcher.Decode(e, &p); err != nil {
		return nil, err
	}
	s.engine.SetDragging(p.Dragging)
	return nil, nil
}

func (s *Service) handleResize(e dispatcher.Event) (any, error) {
	var p streaming.ResizePayload
	if err := dispatcher.Decode(e, &p); err != nil {
		return nil, err
	}
	if p.Width <= 0 || p.Height <= 0 {
		return nil, fmt.Errorf("%w: viewport %dx%d", dispatcher.ErrBadPayload, p.Width, p.Height)
	}
	s.engine.Resize(p.Width, p.Height)
	return nil, nil
}

func (s *Service) handleReload(e dispatcher.Event) (any, error) {
	if err := s.engine.Reload(s.ctx); err != nil {
		return nil, fmt.Errorf("failed to reload: %w", err)
	}
	return nil, nil
}

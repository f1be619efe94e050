// Package monitor samples engine status on an interval, rewrites a status file and
// hands each sample to an optional recorder.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/geoglobe/globe/internal/clock"
)

// Status is one sample of the running engine.
type Status struct {
	Time           time.Time `json:"time"`
	ActiveMetric   string    `json:"activeMetric"`
	TimeWindowDays int       `json:"timeWindowDays"`
	Markers        int       `json:"markers"`
	Sessions       int       `json:"sessions"`
	Spinning       bool      `json:"spinning"`
}

// Fields returns the numeric part of the sample keyed for time series storage.
func (s Status) Fields() map[string]any {
	return map[string]any{
		"markers":        s.Markers,
		"sessions":       s.Sessions,
		"timeWindowDays": s.TimeWindowDays,
		"spinning":       s.Spinning,
	}
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	// Sample fills everything but Time.
	Sample func() Status
	// Record is called with every sample when set.
	Record     func(Status) error
	StatusFile string
	Interval   time.Duration
	Clock      clock.Provider
	Logger     *slog.Logger
}

// Service manages status monitoring
type Service struct {
	deps Dependencies

	mu        sync.RWMutex
	isRunning bool
	last      Status
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = 10 * time.Second
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Last returns the most recent sample.
func (s *Service) Last() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Tick takes one sample, writes the status file and records it.
func (s *Service) Tick() (Status, error) {
	st := s.deps.Sample()
	st.Time = s.deps.Clock.Now()

	s.mu.Lock()
	s.last = st
	s.mu.Unlock()

	if s.deps.StatusFile != "" {
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return st, err
		}
		if err := os.WriteFile(s.deps.StatusFile, append(data, '\n'), 0o644); err != nil {
			return st, fmt.Errorf("error writing status file: %w", err)
		}
	}
	if s.deps.Record != nil {
		if err := s.deps.Record(st); err != nil {
			return st, fmt.Errorf("error recording status: %w", err)
		}
	}
	return st, nil
}

// Start starts the status monitor goroutine. It stops when ctx ends or Stop is called.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.isRunning = true
	done := s.done
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
			close(done)
		}()

		s.deps.Logger.Debug("Starting status monitor", "interval", s.deps.Interval)
		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Tick(); err != nil {
					s.deps.Logger.Warn("Status sample failed", "error", err)
				}
			}
		}
	}()
}

// Stop stops the status monitor and waits for the goroutine to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

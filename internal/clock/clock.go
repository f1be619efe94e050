// Package clock provides the time sources used by the data filter and the fetch race.
package clock

import (
	"sync"
	"time"
)

// Provider returns the current time.
type Provider interface {
	Now() time.Time
}

// System provides the real system time with monotonic clock readings
type System struct{}

// Now returns the current time
func (System) Now() time.Time {
	return time.Now()
}

// Mock provides a controllable time source for testing
type Mock struct {
	mu          sync.RWMutex
	currentTime time.Time
}

// NewMock creates a new mock provider with the given start time
func NewMock(startTime time.Time) *Mock {
	return &Mock{currentTime: startTime}
}

// Now returns the current mocked time
func (m *Mock) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentTime
}

// Set sets the current time
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = t
}

// Advance moves the current time forward by d
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = m.currentTime.Add(d)
}

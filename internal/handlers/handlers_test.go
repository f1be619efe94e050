package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoglobe/globe/internal/dispatcher"
	"github.com/geoglobe/globe/internal/engine"
	"github.com/geoglobe/globe/internal/metric"
	"github.com/geoglobe/globe/pkg/core"
	"github.com/geoglobe/globe/pkg/streaming"
)

// mockEngine implements Engine for testing
type mockEngine struct {
	mu       sync.Mutex
	view     engine.ViewState
	moves    [][2]float64
	clicks   [][2]float64
	resized  [2]int
	deselect int
	reset    int
	reloads  chan struct{}
}

func newMockEngine() *mockEngine {
	return &mockEngine{
		view:    engine.ViewState{ActiveMetric: metric.Magnitude, TimeWindowDays: 7, Spinning: true},
		reloads: make(chan struct{}, 4),
	}
}

func (m *mockEngine) SelectMetric(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id != metric.Magnitude && id != metric.Depth {
		return metric.ErrUnknownMetric
	}
	m.view.ActiveMetric = id
	return nil
}

func (m *mockEngine) SetTimeWindow(days int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.view.TimeWindowDays = days
	return nil
}

func (m *mockEngine) PointerMove(x, y float64) *core.Entity {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moves = append(m.moves, [2]float64{x, y})
	return nil
}

func (m *mockEngine) PointerClick(x, y float64) *core.Entity {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clicks = append(m.clicks, [2]float64{x, y})
	return nil
}

func (m *mockEngine) Deselect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deselect++
}

func (m *mockEngine) ToggleSpin() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.view.Spinning = !m.view.Spinning
	return m.view.Spinning
}

func (m *mockEngine) SetDragging(dragging bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.view.Dragging = dragging
}

func (m *mockEngine) ResetView() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset++
}

func (m *mockEngine) Resize(width, height int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resized = [2]int{width, height}
}

func (m *mockEngine) Reload(ctx context.Context) error {
	m.reloads <- struct{}{}
	return nil
}

func (m *mockEngine) View() engine.ViewState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view
}

var _ Engine = (*mockEngine)(nil)
var _ Engine = (*engine.Engine)(nil)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func newTestService(t *testing.T) (*mockEngine, *dispatcher.Dispatcher) {
	t.Helper()
	eng := newMockEngine()
	d, err := dispatcher.New(nopLogger{})
	require.NoError(t, err)
	NewService(context.Background(), eng).RegisterHandlers(d)
	t.Cleanup(d.Close)
	return eng, d
}

func event(t *testing.T, typ string, payload any) dispatcher.Event {
	t.Helper()
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		raw = b
	}
	return dispatcher.Event{Type: typ, Payload: raw, Timestamp: time.Now()}
}

func TestRegisterHandlers_CoversEveryIntent(t *testing.T) {
	_, d := newTestService(t)

	for _, typ := range []string{
		streaming.TypeSelectMetric, streaming.TypeSetTimeWindow, streaming.TypePointerMove,
		streaming.TypePointerClick, streaming.TypeToggleSpin, streaming.TypeResetView,
		streaming.TypeDeselect, streaming.TypeSetDragging, streaming.TypeResize, streaming.TypeReload,
	} {
		assert.True(t, d.HasHandler(typ), typ)
	}
}

func TestSelectMetric_ReturnsView(t *testing.T) {
	_, d := newTestService(t)

	result, err := d.Dispatch(event(t, streaming.TypeSelectMetric, streaming.SelectMetricPayload{Metric: metric.Depth}))
	require.NoError(t, err)

	view, ok := result.(engine.ViewState)
	require.True(t, ok)
	assert.Equal(t, metric.Depth, view.ActiveMetric)
}

func TestSelectMetric_UnknownMetric(t *testing.T) {
	_, d := newTestService(t)

	_, err := d.Dispatch(event(t, streaming.TypeSelectMetric, streaming.SelectMetricPayload{Metric: "rainfall"}))
	assert.ErrorIs(t, err, metric.ErrUnknownMetric)
}

func TestSetTimeWindow(t *testing.T) {
	eng, d := newTestService(t)

	_, err := d.Dispatch(event(t, streaming.TypeSetTimeWindow, streaming.SetTimeWindowPayload{Days: 30}))
	require.NoError(t, err)
	assert.Equal(t, 30, eng.View().TimeWindowDays)
}

func TestSetTimeWindow_BadPayload(t *testing.T) {
	_, d := newTestService(t)

	_, err := d.Dispatch(dispatcher.Event{Type: streaming.TypeSetTimeWindow, Payload: json.RawMessage(`{"days":"week"}`)})
	assert.ErrorIs(t, err, dispatcher.ErrBadPayload)
}

func TestPointerIntents(t *testing.T) {
	eng, d := newTestService(t)

	_, err := d.Dispatch(event(t, streaming.TypePointerMove, streaming.PointerPayload{X: 0.25, Y: -0.5}))
	require.NoError(t, err)
	_, err = d.Dispatch(event(t, streaming.TypePointerClick, streaming.PointerPayload{X: 0.1, Y: 0.2}))
	require.NoError(t, err)
	_, err = d.Dispatch(event(t, streaming.TypeSetDragging, streaming.SetDraggingPayload{Dragging: true}))
	require.NoError(t, err)

	eng.mu.Lock()
	defer eng.mu.Unlock()
	assert.Equal(t, [][2]float64{{0.25, -0.5}}, eng.moves)
	assert.Equal(t, [][2]float64{{0.1, 0.2}}, eng.clicks)
	assert.True(t, eng.view.Dragging)
}

func TestToggleResetDeselect(t *testing.T) {
	eng, d := newTestService(t)

	result, err := d.Dispatch(event(t, streaming.TypeToggleSpin, nil))
	require.NoError(t, err)
	assert.False(t, result.(engine.ViewState).Spinning)

	_, err = d.Dispatch(event(t, streaming.TypeResetView, nil))
	require.NoError(t, err)
	_, err = d.Dispatch(event(t, streaming.TypeDeselect, nil))
	require.NoError(t, err)

	eng.mu.Lock()
	defer eng.mu.Unlock()
	assert.Equal(t, 1, eng.reset)
	assert.Equal(t, 1, eng.deselect)
}

func TestResize(t *testing.T) {
	eng, d := newTestService(t)

	_, err := d.Dispatch(event(t, streaming.TypeResize, streaming.ResizePayload{Width: 1280, Height: 720}))
	require.NoError(t, err)
	eng.mu.Lock()
	assert.Equal(t, [2]int{1280, 720}, eng.resized)
	eng.mu.Unlock()

	_, err = d.Dispatch(event(t, streaming.TypeResize, streaming.ResizePayload{Width: 0, Height: 720}))
	assert.True(t, errors.Is(err, dispatcher.ErrBadPayload))
}

func TestReload_IsQueued(t *testing.T) {
	eng, d := newTestService(t)

	result, err := d.Dispatch(event(t, streaming.TypeReload, nil))
	require.NoError(t, err)
	assert.Equal(t, "queued", result)

	select {
	case <-eng.reloads:
	case <-time.After(time.Second):
		t.Fatal("reload was not run")
	}
}

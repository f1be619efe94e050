package shell

import (
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoglobe/globe/internal/dispatcher"
	"github.com/geoglobe/globe/internal/engine"
	"github.com/geoglobe/globe/pkg/core"
	"github.com/geoglobe/globe/pkg/streaming"
)

type fakeState struct{}

func (fakeState) View() engine.ViewState {
	return engine.ViewState{ActiveMetric: "magnitude", TimeWindowDays: 7, Spinning: true}
}
func (fakeState) Stats() core.Stats   { return core.Stats{Total: 3, Avg: 5.3667, Max: 6.1} }
func (fakeState) Legend() core.Legend { return core.Legend{MetricID: "magnitude", Min: 2, Max: 8} }
func (fakeState) Metrics() []string   { return []string{"depth", "magnitude"} }

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// testShell starts a shell behind an httptest server with one registered intent.
func testShell(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	d, err := dispatcher.New(nopLogger{})
	require.NoError(t, err)
	d.Register(streaming.TypeToggleSpin, func(e dispatcher.Event) (any, error) {
		return engine.ViewState{ActiveMetric: "magnitude", Spinning: false}, nil
	})
	d.Register(streaming.TypePointerMove, func(e dispatcher.Event) (any, error) {
		return nil, nil
	})

	s := New(DefaultConfig(), d, func(id string, v float64) string { return id + ":" + formatFloat(v) }, nil)
	s.SetState(fakeState{})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv
}

func formatFloat(v float64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func dial(t *testing.T, srv *httptest.Server) *ws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	c, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func readEnvelope(t *testing.T, c *ws.Conn) streaming.Envelope {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := c.ReadMessage()
	require.NoError(t, err)
	var env streaming.Envelope
	require.NoError(t, json.Unmarshal(msg, &env))
	return env
}

func send(t *testing.T, c *ws.Conn, msgType string, payload any) {
	t.Helper()
	data, err := streaming.Marshal(msgType, payload)
	require.NoError(t, err)
	require.NoError(t, c.WriteMessage(ws.TextMessage, data))
}

// primed reads the greeting sequence and returns the session id.
func primed(t *testing.T, c *ws.Conn) string {
	t.Helper()
	hello := readEnvelope(t, c)
	require.Equal(t, streaming.TypeHello, hello.Type)
	var hp streaming.HelloPayload
	require.NoError(t, json.Unmarshal(hello.Payload, &hp))

	assert.Equal(t, streaming.TypeView, readEnvelope(t, c).Type)
	assert.Equal(t, streaming.TypeStats, readEnvelope(t, c).Type)
	assert.Equal(t, streaming.TypeLegend, readEnvelope(t, c).Type)
	return hp.Session
}

func TestSession_IsPrimedWithState(t *testing.T) {
	_, srv := testShell(t)
	c := dial(t, srv)

	hello := readEnvelope(t, c)
	require.Equal(t, streaming.TypeHello, hello.Type)
	var hp streaming.HelloPayload
	require.NoError(t, json.Unmarshal(hello.Payload, &hp))
	assert.Len(t, hp.Session, 36)
	assert.Equal(t, []string{"depth", "magnitude"}, hp.Metrics)

	view := readEnvelope(t, c)
	var v engine.ViewState
	require.NoError(t, json.Unmarshal(view.Payload, &v))
	assert.Equal(t, 7, v.TimeWindowDays)

	stats := readEnvelope(t, c)
	var sp streaming.StatsPayload
	require.NoError(t, json.Unmarshal(stats.Payload, &sp))
	assert.Equal(t, 3, sp.Stats.Total)
	assert.Equal(t, "magnitude:6.1", sp.Formatted.Max)

	legend := readEnvelope(t, c)
	assert.Equal(t, streaming.TypeLegend, legend.Type)
}

func TestSession_IntentResultIsSentBack(t *testing.T) {
	_, srv := testShell(t)
	c := dial(t, srv)
	primed(t, c)

	send(t, c, streaming.TypeToggleSpin, nil)

	env := readEnvelope(t, c)
	require.Equal(t, streaming.TypeView, env.Type)
	var v engine.ViewState
	require.NoError(t, json.Unmarshal(env.Payload, &v))
	assert.False(t, v.Spinning)
}

func TestSession_UnknownIntentIsReported(t *testing.T) {
	_, srv := testShell(t)
	c := dial(t, srv)
	primed(t, c)

	send(t, c, "launchRocket", nil)

	env := readEnvelope(t, c)
	require.Equal(t, streaming.TypeError, env.Type)
	var ep streaming.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &ep))
	assert.Equal(t, "launchRocket", ep.For)
	assert.Contains(t, ep.Message, "unknown intent")
}

func TestSession_MalformedEnvelope(t *testing.T) {
	_, srv := testShell(t)
	c := dial(t, srv)
	primed(t, c)

	require.NoError(t, c.WriteMessage(ws.TextMessage, []byte("not json")))

	env := readEnvelope(t, c)
	assert.Equal(t, streaming.TypeError, env.Type)
}

func TestBroadcast_ReachesEverySession(t *testing.T) {
	s, srv := testShell(t)
	a := dial(t, srv)
	b := dial(t, srv)
	primed(t, a)
	primed(t, b)
	require.Eventually(t, func() bool { return s.Sessions() == 2 }, time.Second, 5*time.Millisecond)

	s.StatsUpdated(core.Stats{Total: 1, Avg: 4, Max: 4}, "magnitude")
	for _, c := range []*ws.Conn{a, b} {
		assert.Equal(t, streaming.TypeStats, readEnvelope(t, c).Type)
	}

	s.OnHover(&core.Entity{ID: "q1", Metrics: map[string]float64{"magnitude": 5.5}})
	for _, c := range []*ws.Conn{a, b} {
		env := readEnvelope(t, c)
		require.Equal(t, streaming.TypeHover, env.Type)
		var ep streaming.EntityPayload
		require.NoError(t, json.Unmarshal(env.Payload, &ep))
		require.NotNil(t, ep.Entity)
		assert.Equal(t, "q1", ep.Entity.ID)
		assert.Equal(t, "magnitude:5.5", ep.Formatted)
	}

	s.OnSelect(nil)
	env := readEnvelope(t, a)
	require.Equal(t, streaming.TypeSelect, env.Type)
	var ep streaming.EntityPayload
	require.NoError(t, json.Unmarshal(env.Payload, &ep))
	assert.Nil(t, ep.Entity)

	s.OnNotice(core.Notice{Kind: core.NoticeSourceUnavailable, Message: "offline"})
	assert.Equal(t, streaming.TypeNotice, readEnvelope(t, a).Type)
}

func TestSession_ClosedSessionIsForgotten(t *testing.T) {
	s, srv := testShell(t)
	c := dial(t, srv)
	primed(t, c)
	require.Eventually(t, func() bool { return s.Sessions() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, "")))
	c.Close()

	assert.Eventually(t, func() bool { return s.Sessions() == 0 }, time.Second, 5*time.Millisecond)
}

func TestCheckOrigin(t *testing.T) {
	d, err := dispatcher.New(nopLogger{})
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.AllowedOrigins = []string{"https://globe.example"}
	s := New(cfg, d, nil, nil)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, _, err = ws.DefaultDialer.Dial(url, map[string][]string{"Origin": {"https://evil.example"}})
	assert.Error(t, err)

	c, _, err := ws.DefaultDialer.Dial(url, map[string][]string{"Origin": {"https://globe.example"}})
	require.NoError(t, err)
	c.Close()
}

func TestServe_StopsWithContext(t *testing.T) {
	s, _ := testShell(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := "ws://" + ln.Addr().String() + "/ws"
	var c *ws.Conn
	require.Eventually(t, func() bool {
		c, _, err = ws.DefaultDialer.Dial(url, nil)
		return err == nil
	}, time.Second, 10*time.Millisecond)
	defer c.Close()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}
}

// Package shell serves the engine to browser presentation shells over WebSocket.
// Intents arrive as JSON envelopes and go through the dispatcher; engine events are
// broadcast to every session.
package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"

	"github.com/geoglobe/globe/internal/dispatcher"
	"github.com/geoglobe/globe/internal/engine"
	"github.com/geoglobe/globe/pkg/core"
	"github.com/geoglobe/globe/pkg/streaming"
)

// Config holds WebSocket shell configuration.
type Config struct {
	Addr string
	Path string
	// SendBuffer is the per-session outbound queue length.
	SendBuffer int
	// AllowedOrigins is matched against the Origin header. Empty allows any origin.
	AllowedOrigins []string
}

func DefaultConfig() Config {
	return Config{
		Addr:       "127.0.0.1:8765",
		Path:       "/ws",
		SendBuffer: 256,
	}
}

// State is the read side of the engine a new session is primed with.
type State interface {
	View() engine.ViewState
	Stats() core.Stats
	Legend() core.Legend
	Metrics() []string
}

// FormatFunc renders a metric value for display.
type FormatFunc func(metricID string, v float64) string

// Server accepts shell sessions and implements engine.Listener by broadcasting.
type Server struct {
	cfg        Config
	dispatcher *dispatcher.Dispatcher
	state      State
	format     FormatFunc
	logger     *slog.Logger
	upgrader   ws.Upgrader

	mu       sync.RWMutex
	sessions map[string]*connection

	// last metric seen in StatsUpdated, used to format hover values
	activeMetric atomic.Value
}

var _ engine.Listener = (*Server)(nil)

// New creates a shell server. state may be set later with SetState, before Serve.
func New(cfg Config, d *dispatcher.Dispatcher, format FormatFunc, logger *slog.Logger) *Server {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultConfig().SendBuffer
	}
	if cfg.Path == "" {
		cfg.Path = DefaultConfig().Path
	}
	if format == nil {
		format = func(_ string, v float64) string { return fmt.Sprintf("%g", v) }
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:        cfg,
		dispatcher: d,
		format:     format,
		logger:     logger,
		sessions:   make(map[string]*connection),
	}
	s.upgrader = ws.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// SetState sets the engine snapshot source. The engine needs the server as its
// listener, so the two are wired in two steps.
func (s *Server) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range s.cfg.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// Handler returns the HTTP handler serving the WebSocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.serveWS)
	return mux
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newConnection(uuid.NewString(), conn, s.cfg.SendBuffer, s.logger)
	s.mu.Lock()
	s.sessions[c.id] = c
	state := s.state
	s.mu.Unlock()
	s.logger.Info("Shell session opened", "session", c.id, "remote", r.RemoteAddr)

	s.prime(c, state)
	go c.writeLoop()
	c.readLoop(s.dispatcher)

	s.mu.Lock()
	delete(s.sessions, c.id)
	s.mu.Unlock()
	c.close()
	s.logger.Info("Shell session closed", "session", c.id)
}

// prime queues the greeting and the current engine state for a new session.
func (s *Server) prime(c *connection, state State) {
	if state == nil {
		c.sendEnvelope(streaming.TypeHello, streaming.HelloPayload{Session: c.id})
		return
	}
	view := state.View()
	c.sendEnvelope(streaming.TypeHello, streaming.HelloPayload{Session: c.id, Metrics: state.Metrics()})
	c.sendEnvelope(streaming.TypeView, view)
	c.sendEnvelope(streaming.TypeStats, s.statsPayload(state.Stats(), view.ActiveMetric))
	c.sendEnvelope(streaming.TypeLegend, state.Legend())
}

// Sessions returns the number of open sessions.
func (s *Server) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Server) broadcast(msgType string, payload any) {
	data, err := streaming.Marshal(msgType, payload)
	if err != nil {
		s.logger.Error("failed to marshal broadcast", "type", msgType, "error", err)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.sessions {
		c.send(data)
	}
}

func (s *Server) entityPayload(e *core.Entity) streaming.EntityPayload {
	if e == nil {
		return streaming.EntityPayload{}
	}
	clone := e.Clone()
	p := streaming.EntityPayload{Entity: &clone}
	if id, ok := s.activeMetric.Load().(string); ok {
		if v, ok := e.Metric(id); ok {
			p.Formatted = s.format(id, v)
		}
	}
	return p
}

func (s *Server) statsPayload(stats core.Stats, metricID string) streaming.StatsPayload {
	p := streaming.StatsPayload{MetricID: metricID, Stats: stats}
	p.Formatted.Avg = s.format(metricID, stats.Avg)
	p.Formatted.Max = s.format(metricID, stats.Max)
	return p
}

func (s *Server) OnHover(e *core.Entity) {
	s.broadcast(streaming.TypeHover, s.entityPayload(e))
}

func (s *Server) OnSelect(e *core.Entity) {
	s.broadcast(streaming.TypeSelect, s.entityPayload(e))
}

func (s *Server) StatsUpdated(stats core.Stats, metricID string) {
	s.activeMetric.Store(metricID)
	s.broadcast(streaming.TypeStats, s.statsPayload(stats, metricID))
}

func (s *Server) LegendUpdated(legend core.Legend) {
	s.broadcast(streaming.TypeLegend, legend)
}

func (s *Server) OnNotice(n core.Notice) {
	s.broadcast(streaming.TypeNotice, n)
}

// ListenAndServe serves until ctx is cancelled, then shuts down and closes every session.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Shell listening", "addr", ln.Addr().String(), "path", s.cfg.Path)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.closeSessions()
	<-errCh
	return err
}

// closeSessions closes every open session. Hijacked connections are not closed by Shutdown.
func (s *Server) closeSessions() {
	s.mu.RLock()
	conns := make([]*connection, 0, len(s.sessions))
	for _, c := range s.sessions {
		conns = append(conns, c)
	}
	s.mu.RUnlock()
	for _, c := range conns {
		c.close()
	}
}

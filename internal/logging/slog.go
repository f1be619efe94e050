// Package logging builds the process loggers: a slog logger fanned out to console,
// file and OpenTelemetry, and zerolog loggers for the storage managers.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// swapped by tests
var osStdout io.Writer = os.Stdout

// Options configures SlogManager.Setup.
type Options struct {
	// File receives every record. When nil, records go to stdout instead.
	File  io.Writer
	Level string
	// Provider enables the otelslog bridge when non-nil.
	Provider *sdklog.LoggerProvider
	// Context adds attributes to every record, e.g. the engine state.
	Context ContextProvider
}

// SlogManager manages slog-based logging with optional OTel integration.
type SlogManager struct {
	logger *slog.Logger
	level  slog.Level
	out    io.Writer

	// OTel provider for flushing
	logProvider *sdklog.LoggerProvider
}

// NewSlogManager creates a new slog-based logging manager.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// zerologLevel maps a slog level onto zerolog.
func zerologLevel(l slog.Level) zerolog.Level {
	switch {
	case l <= slog.LevelDebug:
		return zerolog.DebugLevel
	case l <= slog.LevelInfo:
		return zerolog.InfoLevel
	case l <= slog.LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

// Setup (re)initializes the logger. Calling it again replaces every handler.
func (m *SlogManager) Setup(opts Options) {
	m.level = parseLevel(opts.Level)
	m.logProvider = opts.Provider

	handlerOpts := &slog.HandlerOptions{
		Level: m.level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}

	m.out = opts.File
	if m.out == nil {
		m.out = osStdout
	}

	handlers := []slog.Handler{slog.NewTextHandler(m.out, handlerOpts)}
	if opts.Provider != nil {
		handlers = append(handlers, otelslog.NewHandler("geoglobe", otelslog.WithLoggerProvider(opts.Provider)))
	}

	var h slog.Handler = NewMultiHandler(handlers...)
	if opts.Context != nil {
		h = NewContextHandler(h, opts.Context)
	}

	m.logger = slog.New(h)
	m.logger.Info("Logging initialized", "level", m.level.String())
}

// Logger returns the configured slog.Logger.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Zerolog returns a zerolog logger writing to the same destination at the same level.
func (m *SlogManager) Zerolog(component string) zerolog.Logger {
	out := m.out
	if out == nil {
		out = osStdout
	}
	return zerolog.New(out).
		Level(zerologLevel(m.level)).
		With().Timestamp().Str("component", component).
		Logger()
}

// Flush forces a flush of OTel logs if available.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}

// WriteLog writes a log entry tagged with the component that produced it.
func (m *SlogManager) WriteLog(component, msg, level string) {
	if m.logger == nil {
		return
	}
	m.logger.Log(context.Background(), parseLevel(level), msg, "component", component)
}

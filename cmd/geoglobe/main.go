// Command geoglobe serves the globe engine to WebSocket shells and manages the
// SQL entity store.
//
//	geoglobe [serve] [--config DIR] [--log-level LEVEL]
//	geoglobe seed [FILE.geojson]
//	geoglobe export [FILE.geojson]
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/geoglobe/globe/internal/config"
	"github.com/geoglobe/globe/internal/engine"
	"github.com/geoglobe/globe/internal/logging"
	intOtel "github.com/geoglobe/globe/internal/otel"
)

// module defs - Version and BuildDate can be set at build time via ldflags
var (
	Version   string = "0.0.1"
	BuildDate string = "unknown"

	AppName string = "geoglobe"
)

// global variables
var (
	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	SessionStartTime time.Time = time.Now()

	// activeEngine feeds engine attributes into every log record once it exists
	activeEngine atomic.Pointer[engine.Engine]
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "geoglobe:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	command := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command = strings.ToLower(args[0])
		args = args[1:]
	}

	fs := pflag.NewFlagSet(AppName+" "+command, pflag.ContinueOnError)
	configDir := fs.String("config", ".", "directory containing "+config.FileName)
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := config.Load(*configDir); err != nil {
		return err
	}
	if f := fs.Lookup("log-level"); f.Changed {
		viper.Set("logLevel", f.Value.String())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	closeLogs, err := setupLogging(ctx)
	if err != nil {
		return err
	}
	defer closeLogs()

	Logger.Info("Starting up", "command", command, "version", Version, "buildDate", BuildDate)

	switch command {
	case "serve":
		return runServe(ctx)
	case "seed":
		return runSeed(ctx, fs.Args())
	case "export":
		return runExport(ctx, fs.Args())
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// setupLogging opens the session log file, starts OTel when enabled and installs
// the process logger. The returned func flushes and closes everything.
func setupLogging(ctx context.Context) (func(), error) {
	logsDir := config.GetString("logsDir")
	logFile, err := logging.OpenLogFile(logsDir, AppName, SessionStartTime)
	if err != nil {
		return nil, err
	}
	closers := []io.Closer{logFile}
	writers := []io.Writer{os.Stdout, logFile}

	if config.GetBool("graylog.enabled") {
		gw, err := gelf.NewWriter(config.GetString("graylog.address"))
		if err != nil {
			fmt.Fprintln(os.Stderr, "graylog unavailable:", err)
		} else {
			gw.Facility = AppName
			writers = append(writers, gw)
			closers = append(closers, gw)
		}
	}

	otelCfg := config.GetOTelConfig()
	otelCfg.ServiceVersion = Version
	if otelCfg.Enabled {
		otelFile, err := logging.OpenLogFile(logsDir, AppName+".otel", SessionStartTime)
		if err != nil {
			for _, c := range closers {
				c.Close()
			}
			return nil, err
		}
		otelCfg.LogWriter = otelFile
		closers = append(closers, otelFile)
	}
	OTelProvider, err = intOtel.New(ctx, otelCfg)
	if err != nil {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i].Close()
		}
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}

	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(logging.Options{
		File:     io.MultiWriter(writers...),
		Level:    config.GetString("logLevel"),
		Provider: OTelProvider.LoggerProvider(),
		Context: func() []slog.Attr {
			if e := activeEngine.Load(); e != nil {
				return e.LogAttrs()
			}
			return nil
		},
	})
	Logger = SlogManager.Logger()
	slog.SetDefault(Logger)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := SlogManager.Flush(shutdownCtx); err != nil {
			fmt.Fprintln(os.Stderr, "log flush failed:", err)
		}
		if err := OTelProvider.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintln(os.Stderr, "otel shutdown failed:", err)
		}
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i].Close()
		}
	}, nil
}

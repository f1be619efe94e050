package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/geoglobe/globe/internal/clock"
	"github.com/geoglobe/globe/internal/config"
	"github.com/geoglobe/globe/internal/database"
	"github.com/geoglobe/globe/internal/dispatcher"
	"github.com/geoglobe/globe/internal/engine"
	"github.com/geoglobe/globe/internal/handlers"
	"github.com/geoglobe/globe/internal/influx"
	"github.com/geoglobe/globe/internal/logging"
	"github.com/geoglobe/globe/internal/metric"
	"github.com/geoglobe/globe/internal/monitor"
	"github.com/geoglobe/globe/internal/shell"
	"github.com/geoglobe/globe/internal/source"
	"github.com/geoglobe/globe/internal/source/fallback"
	"github.com/geoglobe/globe/internal/source/geojson"
	"github.com/geoglobe/globe/internal/source/sqlstore"
	"github.com/geoglobe/globe/internal/substrate/headless"
	"github.com/geoglobe/globe/pkg/core"
)

// noticeLogger writes notices to the process log.
type noticeLogger struct {
	engine.NopListener
}

func (noticeLogger) OnNotice(n core.Notice) {
	Logger.Warn("Notice", "kind", string(n.Kind), "message", n.Message)
}

func runServe(ctx context.Context) error {
	clk := clock.System{}
	srcCfg := config.GetSourceConfig()

	primary, closeSource, err := openPrimary(ctx, srcCfg, clk)
	if err != nil {
		return err
	}
	defer closeSource()

	fb, err := openFallback(srcCfg, clk)
	if err != nil {
		return err
	}
	loader := source.NewLoader(primary, fb, srcCfg.Timeout, Logger.With("component", "source"))

	registry := metric.NewRegistry(metric.DefaultDefinitions()...)
	if err := config.ApplyMetricOverrides(registry); err != nil {
		return err
	}
	format := func(id string, v float64) string {
		if def, ok := registry.Get(id); ok {
			return def.FormatValue(v)
		}
		return fmt.Sprintf("%g", v)
	}

	d, err := dispatcher.New(logging.NewDispatcherLogger(SlogManager.Zerolog("dispatcher")))
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}
	defer d.Close()

	listeners := engine.MultiListener{noticeLogger{}}

	var sh *shell.Server
	if config.GetBool("shell.enabled") {
		sh = shell.New(config.GetShellConfig(), d, format, Logger.With("component", "shell"))
		listeners = append(listeners, sh)
	}

	im := influx.NewManager(SlogManager.Zerolog("influx"), config.GetString("influx.backupFile"))
	var recordStatus func(monitor.Status) error
	switch err := im.Connect(ctx, config.GetInfluxConfig()); {
	case err == nil:
		listeners = append(listeners, influx.NewSink(im, clk))
		recordStatus = func(st monitor.Status) error {
			return im.WritePoint(influx.BucketStats, influx.StatusPoint(st.ActiveMetric, st.Fields(), st.Time))
		}
		defer im.Close()
	case errors.Is(err, influx.ErrDisabled):
		Logger.Debug("InfluxDB stats sink disabled")
	default:
		Logger.Warn("InfluxDB stats sink unavailable", "error", err)
	}

	substrate := headless.New(config.GetViewportConfig())
	eng, err := engine.New(config.GetEngineConfig(), engine.Dependencies{
		Substrate: substrate,
		Loader:    loader,
		Registry:  registry,
		Clock:     clk,
		Listener:  listeners,
		Logger:    Logger.With("component", "engine"),
	})
	if err != nil {
		if errors.Is(err, engine.ErrRenderSubstrateInit) {
			fmt.Fprintln(os.Stderr, "geoglobe: 3D view unavailable on this host; configure a non-zero viewport")
		}
		return err
	}
	activeEngine.Store(eng)
	defer func() {
		eng.Dispose()
		activeEngine.Store(nil)
	}()

	handlers.NewService(ctx, eng).RegisterHandlers(d)

	go substrate.Run(ctx)
	if err := eng.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		// the engine keeps running with an empty set; Reload retries
		Logger.Error("Initial load failed", "error", err)
	}
	Logger.Info("Engine started", "markers", eng.MarkerCount(), "metrics", eng.Metrics())

	if config.GetBool("monitor.enabled") {
		mon := monitor.NewService(monitor.Dependencies{
			Sample: func() monitor.Status {
				v := eng.View()
				st := monitor.Status{
					ActiveMetric:   v.ActiveMetric,
					TimeWindowDays: v.TimeWindowDays,
					Markers:        eng.MarkerCount(),
					Spinning:       v.Spinning,
				}
				if sh != nil {
					st.Sessions = sh.Sessions()
				}
				return st
			},
			Record:     recordStatus,
			StatusFile: config.GetString("monitor.statusFile"),
			Interval:   config.GetDuration("monitor.interval"),
			Clock:      clk,
			Logger:     Logger.With("component", "monitor"),
		})
		mon.Start(ctx)
		defer mon.Stop()
	}

	if sh == nil {
		<-ctx.Done()
		Logger.Info("Shutting down")
		return nil
	}
	sh.SetState(eng)
	err = sh.ListenAndServe(ctx)
	Logger.Info("Shutting down")
	return err
}

// openPrimary builds the configured primary source. The returned func releases it.
func openPrimary(ctx context.Context, cfg config.SourceConfig, clk clock.Provider) (source.Source, func(), error) {
	noop := func() {}
	switch cfg.Kind {
	case config.SourceGeoJSON:
		client := geojson.New(cfg.GeoJSON)
		if err := client.Healthcheck(ctx); err != nil {
			Logger.Warn("GeoJSON feed healthcheck failed", "url", cfg.GeoJSON.URL, "error", err)
		}
		return client, noop, nil
	case config.SourceSQL:
		store, dbm, err := openStore()
		if err != nil {
			return nil, noop, err
		}
		return store, func() { dbm.Close() }, nil
	case config.SourceFallback:
		fb, err := openFallback(cfg, clk)
		return fb, noop, err
	default:
		return nil, noop, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}

func openFallback(cfg config.SourceConfig, clk clock.Provider) (*fallback.Source, error) {
	if cfg.FallbackFile == "" {
		return fallback.New(clk), nil
	}
	data, err := os.ReadFile(cfg.FallbackFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read fallback file: %w", err)
	}
	return fallback.NewFromBytes(clk, data), nil
}

// openStore connects to the configured database and migrates the entity table.
func openStore() (*sqlstore.Store, *database.Manager, error) {
	dbm := database.NewManager(SlogManager.Zerolog("database"))
	if err := dbm.Connect(config.GetDBConfig()); err != nil {
		return nil, nil, err
	}
	if err := dbm.Setup(sqlstore.Models...); err != nil {
		dbm.Close()
		return nil, nil, err
	}
	return sqlstore.New(dbm.DB), dbm, nil
}

// Package config loads geoglobe.cfg.json through viper and hands out typed settings.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/geoglobe/globe/internal/database"
	"github.com/geoglobe/globe/internal/engine"
	"github.com/geoglobe/globe/internal/influx"
	"github.com/geoglobe/globe/internal/metric"
	"github.com/geoglobe/globe/internal/otel"
	"github.com/geoglobe/globe/internal/shell"
	"github.com/geoglobe/globe/internal/source/geojson"
	"github.com/geoglobe/globe/internal/substrate/headless"
)

// FileName is the config file looked up in the config directory.
const FileName = "geoglobe.cfg.json"

// Source kinds.
const (
	SourceGeoJSON  = "geojson"
	SourceSQL      = "sql"
	SourceFallback = "fallback"
)

// SourceConfig selects and configures the primary entity source.
type SourceConfig struct {
	Kind    string
	Timeout time.Duration
	GeoJSON geojson.Config
	// FallbackFile replaces the embedded sample set when non-empty.
	FallbackFile string
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file. A missing file is not an
// error; the defaults apply.
func Load(configDir string) error {
	setDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	ec := engine.DefaultConfig()
	viper.SetDefault("engine.radius", ec.Radius)
	viper.SetDefault("engine.markerAltitude", ec.MarkerAltitude)
	viper.SetDefault("engine.defaultMetric", ec.DefaultMetric)
	viper.SetDefault("engine.defaultDays", ec.DefaultDays)
	viper.SetDefault("engine.spinning", ec.Spinning)
	viper.SetDefault("engine.resizeDebounce", ec.ResizeDebounce)
	viper.SetDefault("engine.rotationStep", ec.Scheduler.RotationStep)
	viper.SetDefault("engine.pulseMetric", ec.Scheduler.PulseMetric)
	viper.SetDefault("engine.pulseThreshold", ec.Scheduler.PulseThreshold)
	viper.SetDefault("engine.pulseAmplitude", ec.Scheduler.PulseAmplitude)
	viper.SetDefault("engine.pulseFrequency", ec.Scheduler.PulseFrequency)

	hc := headless.DefaultConfig()
	viper.SetDefault("viewport.width", hc.Width)
	viper.SetDefault("viewport.height", hc.Height)
	viper.SetDefault("viewport.fov", hc.FOV)
	viper.SetDefault("viewport.cameraDistance", hc.CameraDistance)
	viper.SetDefault("viewport.damping", hc.Damping)
	viper.SetDefault("viewport.frameRate", hc.FrameRate)

	gc := geojson.DefaultConfig("https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/all_month.geojson")
	viper.SetDefault("source.kind", SourceGeoJSON)
	viper.SetDefault("source.timeout", 5*time.Second)
	viper.SetDefault("source.url", gc.URL)
	viper.SetDefault("source.metrics", gc.Metrics)
	viper.SetDefault("source.labelProperty", gc.LabelProperty)
	viper.SetDefault("source.timeProperty", gc.TimeProperty)
	viper.SetDefault("source.depthMetric", gc.DepthMetric)
	viper.SetDefault("source.fallbackFile", "")

	viper.SetDefault("db.driver", "sqlite")
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "geoglobe")
	viper.SetDefault("db.sqlitePath", "./geoglobe.db")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "geoglobe")
	viper.SetDefault("influx.retentionDays", 90)
	viper.SetDefault("influx.backupFile", "./influx_backup.lp.gz")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "geoglobe")
	viper.SetDefault("otel.batchTimeout", 5*time.Second)
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", false)

	viper.SetDefault("monitor.enabled", true)
	viper.SetDefault("monitor.interval", 10*time.Second)
	viper.SetDefault("monitor.statusFile", "")

	sc := shell.DefaultConfig()
	viper.SetDefault("shell.enabled", true)
	viper.SetDefault("shell.addr", sc.Addr)
	viper.SetDefault("shell.path", sc.Path)
	viper.SetDefault("shell.sendBuffer", sc.SendBuffer)
	viper.SetDefault("shell.allowedOrigins", []string{})
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetEngineConfig returns the engine settings.
func GetEngineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.Radius = viper.GetFloat64("engine.radius")
	cfg.MarkerAltitude = viper.GetFloat64("engine.markerAltitude")
	cfg.DefaultMetric = viper.GetString("engine.defaultMetric")
	cfg.DefaultDays = viper.GetInt("engine.defaultDays")
	cfg.Spinning = viper.GetBool("engine.spinning")
	cfg.ResizeDebounce = viper.GetDuration("engine.resizeDebounce")
	cfg.Scheduler.RotationStep = viper.GetFloat64("engine.rotationStep")
	cfg.Scheduler.PulseMetric = viper.GetString("engine.pulseMetric")
	cfg.Scheduler.PulseThreshold = viper.GetFloat64("engine.pulseThreshold")
	cfg.Scheduler.PulseAmplitude = viper.GetFloat64("engine.pulseAmplitude")
	cfg.Scheduler.PulseFrequency = viper.GetFloat64("engine.pulseFrequency")
	return cfg
}

// GetViewportConfig returns the headless substrate settings.
func GetViewportConfig() headless.Config {
	return headless.Config{
		Width:          viper.GetInt("viewport.width"),
		Height:         viper.GetInt("viewport.height"),
		FOV:            viper.GetFloat64("viewport.fov"),
		CameraDistance: viper.GetFloat64("viewport.cameraDistance"),
		Damping:        viper.GetFloat64("viewport.damping"),
		FrameRate:      viper.GetInt("viewport.frameRate"),
	}
}

// GetSourceConfig returns the primary source settings.
func GetSourceConfig() SourceConfig {
	return SourceConfig{
		Kind:    viper.GetString("source.kind"),
		Timeout: viper.GetDuration("source.timeout"),
		GeoJSON: geojson.Config{
			URL:           viper.GetString("source.url"),
			Metrics:       viper.GetStringMapString("source.metrics"),
			LabelProperty: viper.GetString("source.labelProperty"),
			TimeProperty:  viper.GetString("source.timeProperty"),
			DepthMetric:   viper.GetString("source.depthMetric"),
		},
		FallbackFile: viper.GetString("source.fallbackFile"),
	}
}

// GetDBConfig returns the SQL source connection settings.
func GetDBConfig() database.Config {
	return database.Config{
		Driver:     viper.GetString("db.driver"),
		Host:       viper.GetString("db.host"),
		Port:       viper.GetString("db.port"),
		Username:   viper.GetString("db.username"),
		Password:   viper.GetString("db.password"),
		Database:   viper.GetString("db.database"),
		SqlitePath: viper.GetString("db.sqlitePath"),
	}
}

// GetInfluxConfig returns the stats sink settings.
func GetInfluxConfig() influx.Config {
	return influx.Config{
		Enabled:       viper.GetBool("influx.enabled"),
		Protocol:      viper.GetString("influx.protocol"),
		Host:          viper.GetString("influx.host"),
		Port:          viper.GetString("influx.port"),
		Token:         viper.GetString("influx.token"),
		Org:           viper.GetString("influx.org"),
		RetentionDays: viper.GetInt("influx.retentionDays"),
	}
}

// GetOTelConfig returns the telemetry settings. The log writer is set by the caller.
func GetOTelConfig() otel.Config {
	return otel.Config{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetShellConfig returns the WebSocket shell settings.
func GetShellConfig() shell.Config {
	return shell.Config{
		Addr:           viper.GetString("shell.addr"),
		Path:           viper.GetString("shell.path"),
		SendBuffer:     viper.GetInt("shell.sendBuffer"),
		AllowedOrigins: viper.GetStringSlice("shell.allowedOrigins"),
	}
}

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// MetricOverrides decodes the "metrics" section, keyed by metric id.
func MetricOverrides() (map[string]metric.Override, error) {
	overrides := map[string]metric.Override{}
	if !viper.IsSet("metrics") {
		return overrides, nil
	}
	if err := viper.UnmarshalKey("metrics", &overrides); err != nil {
		return nil, fmt.Errorf("error decoding metric overrides: %w", err)
	}
	return overrides, nil
}

// ApplyMetricOverrides merges the configured overrides into the registry.
func ApplyMetricOverrides(r *metric.Registry) error {
	overrides, err := MetricOverrides()
	if err != nil {
		return err
	}
	for id, o := range overrides {
		if err := r.Apply(id, o); err != nil {
			return err
		}
	}
	return nil
}

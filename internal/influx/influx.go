// Package influx records engine statistics as InfluxDB points, falling back to a
// gzipped line-protocol file when the server is unreachable.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"

	"github.com/geoglobe/globe/internal/clock"
	"github.com/geoglobe/globe/internal/engine"
	"github.com/geoglobe/globe/pkg/core"
)

// ErrDisabled is returned by Connect when influx output is switched off.
var ErrDisabled = errors.New("influx disabled")

// Bucket names written by the sink.
const (
	BucketStats   = "globe_stats"
	BucketNotices = "globe_notices"
)

// DefaultBucketNames are the buckets created on connect.
var DefaultBucketNames = []string{BucketStats, BucketNotices}

// Config holds InfluxDB connection settings.
type Config struct {
	Enabled  bool
	Protocol string
	Host     string
	Port     string
	Token    string
	Org      string
	// RetentionDays applies to buckets created on connect.
	RetentionDays int
}

// Manager handles InfluxDB connections and writes.
type Manager struct {
	Client       influxdb2.Client
	Writers      map[string]influxdb2_api.WriteAPI
	BackupWriter *gzip.Writer
	IsValid      bool
	BucketNames  []string
	Logger       zerolog.Logger
	BackupPath   string

	cfg        Config
	mu         sync.Mutex
	backupFile *os.File
}

// NewManager creates a new InfluxDB manager.
func NewManager(log zerolog.Logger, backupPath string) *Manager {
	return &Manager{
		Writers:     make(map[string]influxdb2_api.WriteAPI),
		IsValid:     false,
		BucketNames: DefaultBucketNames,
		Logger:      log,
		BackupPath:  backupPath,
	}
}

// Connect establishes a connection to InfluxDB. A failed ping switches the manager
// to the backup file instead of returning an error.
func (m *Manager) Connect(ctx context.Context, cfg Config) error {
	if !cfg.Enabled {
		return ErrDisabled
	}
	m.cfg = cfg

	m.Client = influxdb2.NewClientWithOptions(
		fmt.Sprintf("%s://%s:%s", cfg.Protocol, cfg.Host, cfg.Port),
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)

	// validate client connection health
	running, err := m.Client.Ping(ctx)
	if err != nil || !running {
		m.IsValid = false
		m.Logger.Info().Str("backupPath", m.BackupPath).
			Msg("Failed to initialize InfluxDB client, writing to backup file")
		if err := m.openBackup(); err != nil {
			return err
		}
		m.Logger.Warn().Msg("InfluxDB client failed to initialize, using backup writer")
		return nil
	}

	m.IsValid = true
	if err := m.setupOrganizationAndBuckets(ctx); err != nil {
		return err
	}
	m.CreateWriters()
	m.Logger.Info().Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) openBackup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BackupWriter != nil {
		return nil
	}
	file, err := os.OpenFile(m.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	m.backupFile = file
	m.BackupWriter = gzip.NewWriter(file)
	return nil
}

func (m *Manager) setupOrganizationAndBuckets(ctx context.Context) error {
	orgName := m.cfg.Org

	// ensure org exists
	influxOrg, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Info().Str("org", orgName).Msg("Organization not found, creating")
		influxOrg, err = m.Client.OrganizationsAPI().CreateOrganizationWithName(ctx, orgName)
		if err != nil {
			m.Logger.Error().Err(err).Str("org", orgName).Msg("Error creating organization")
			return err
		}
	}

	retention := m.cfg.RetentionDays
	if retention <= 0 {
		retention = 90
	}
	for _, bucket := range m.BucketNames {
		if _, err := m.Client.BucketsAPI().FindBucketByName(ctx, bucket); err == nil {
			continue
		}
		m.Logger.Info().Str("bucket", bucket).Msg("Bucket not found, creating")

		rule := domain.RetentionRuleTypeExpire
		_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, influxOrg, bucket, domain.RetentionRule{
			Type:         &rule,
			EverySeconds: int64(60 * 60 * 24 * retention),
		})
		if err != nil {
			m.Logger.Error().Err(err).Str("bucket", bucket).Msg("Error creating bucket")
			return err
		}
	}

	return nil
}

// CreateWriters creates write APIs for all configured buckets.
func (m *Manager) CreateWriters() {
	for _, bucket := range m.BucketNames {
		m.Logger.Trace().Str("bucket", bucket).Msg("Creating InfluxDB writer")
		m.Writers[bucket] = m.Client.WriteAPI(m.cfg.Org, bucket)

		errorsCh := m.Writers[bucket].Errors()
		go func(bucketName string, errorsCh <-chan error) {
			for writeErr := range errorsCh {
				m.Logger.Error().Err(writeErr).Str("bucket", bucketName).
					Msg("Error sending data to InfluxDB")
			}
		}(bucket, errorsCh)
	}

	m.Logger.Debug().Msg("InfluxDB writers initialized")
}

// WritePoint writes a point to InfluxDB or the backup file.
func (m *Manager) WritePoint(bucket string, point *influxdb2_write.Point) error {
	if m.IsValid {
		w, ok := m.Writers[bucket]
		if !ok {
			return fmt.Errorf("influxDB bucket '%s' not registered", bucket)
		}
		w.WritePoint(point)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BackupWriter == nil {
		return fmt.Errorf("influxDB client not initialized and backup writer not available")
	}
	lineProtocol := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := m.BackupWriter.Write([]byte(lineProtocol)); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// Close flushes pending writes and closes the client and backup file.
func (m *Manager) Close() error {
	for bucket, w := range m.Writers {
		w.Flush()
		delete(m.Writers, bucket)
	}
	if m.Client != nil {
		m.Client.Close()
		m.Client = nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	if m.BackupWriter != nil {
		errs = append(errs, m.BackupWriter.Close())
		m.BackupWriter = nil
	}
	if m.backupFile != nil {
		errs = append(errs, m.backupFile.Close())
		m.backupFile = nil
	}
	return errors.Join(errs...)
}

// StatsPoint builds the point recorded for one stats update.
func StatsPoint(stats core.Stats, metricID string, at time.Time) *influxdb2_write.Point {
	return influxdb2.NewPoint(
		"metric_stats",
		map[string]string{"metric": metricID},
		map[string]any{"total": stats.Total, "avg": stats.Avg, "max": stats.Max},
		at,
	)
}

// NoticePoint builds the point recorded for a notice.
func NoticePoint(n core.Notice, at time.Time) *influxdb2_write.Point {
	return influxdb2.NewPoint(
		"notice",
		map[string]string{"kind": string(n.Kind)},
		map[string]any{"message": n.Message},
		at,
	)
}

// StatusPoint builds the point recorded for a periodic engine status sample.
func StatusPoint(metricID string, fields map[string]any, at time.Time) *influxdb2_write.Point {
	return influxdb2.NewPoint("engine_status", map[string]string{"metric": metricID}, fields, at)
}

// Sink records stats updates and notices. Hover, selection and legend events are ignored.
type Sink struct {
	engine.NopListener

	manager *Manager
	clock   clock.Provider
}

var _ engine.Listener = (*Sink)(nil)

func NewSink(m *Manager, c clock.Provider) *Sink {
	if c == nil {
		c = clock.System{}
	}
	return &Sink{manager: m, clock: c}
}

func (s *Sink) StatsUpdated(stats core.Stats, metricID string) {
	if err := s.manager.WritePoint(BucketStats, StatsPoint(stats, metricID, s.clock.Now())); err != nil {
		s.manager.Logger.Warn().Err(err).Msg("Failed to record stats")
	}
}

func (s *Sink) OnNotice(n core.Notice) {
	if err := s.manager.WritePoint(BucketNotices, NoticePoint(n, s.clock.Now())); err != nil {
		s.manager.Logger.Warn().Err(err).Msg("Failed to record notice")
	}
}

// Package sqlstore keeps entities in a SQL table and serves them as a source.
// Positions are stored as EPSG:3857 points; metrics as a JSON object.
package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/geoglobe/globe/internal/geo"
	"github.com/geoglobe/globe/internal/source"
	"github.com/geoglobe/globe/pkg/core"
)

// EntityRecord is one stored entity.
type EntityRecord struct {
	ID         uint              `gorm:"primarykey"`
	CreatedAt  time.Time         `json:"-"`
	UpdatedAt  time.Time         `json:"-"`
	EntityID   string            `json:"entityId" gorm:"size:127;uniqueIndex:idx_entity_id"`
	Label      string            `json:"label" gorm:"size:255"`
	ObservedAt time.Time         `json:"observedAt" gorm:"index:idx_observed_at"`
	Position   geom.Point        `json:"position"`
	Metrics    datatypes.JSONMap `json:"metrics"`
}

func (*EntityRecord) TableName() string {
	return "entities"
}

// Models lists the tables this package owns.
var Models = []any{&EntityRecord{}}

// Store reads and writes EntityRecords.
type Store struct {
	db *gorm.DB
}

var _ source.Source = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the entities table.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(Models...); err != nil {
		return fmt.Errorf("failed to migrate entities table: %w", err)
	}
	return nil
}

// ToRecord converts an entity. Entities that cannot be placed in web mercator are rejected.
func ToRecord(e core.Entity) (EntityRecord, error) {
	point, err := geo.Coords3857From4326(e.Longitude, e.Latitude, e.Depth)
	if err != nil {
		return EntityRecord{}, fmt.Errorf("entity %s: %w", e.ID, err)
	}
	metrics := make(datatypes.JSONMap, len(e.Metrics))
	for k, v := range e.Metrics {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		metrics[k] = v
	}
	return EntityRecord{
		EntityID:   e.ID,
		Label:      e.Label,
		ObservedAt: time.UnixMilli(e.Timestamp).UTC(),
		Position:   point,
		Metrics:    metrics,
	}, nil
}

// ToEntity converts a stored record back.
func ToEntity(r EntityRecord) (core.Entity, error) {
	lon, lat, depth, err := geo.Coords4326From3857(r.Position)
	if err != nil {
		return core.Entity{}, fmt.Errorf("record %s: %w", r.EntityID, err)
	}
	metrics := make(map[string]float64, len(r.Metrics))
	for k, v := range r.Metrics {
		if f, ok := toFloat(v); ok {
			metrics[k] = f
		}
	}
	return core.Entity{
		ID:        r.EntityID,
		Longitude: lon,
		Latitude:  lat,
		Depth:     depth,
		Timestamp: r.ObservedAt.UnixMilli(),
		Metrics:   metrics,
		Label:     r.Label,
	}, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Save upserts entities by ID. Entities without usable coordinates are skipped.
func (s *Store) Save(ctx context.Context, entities []core.Entity) (saved, skipped int, err error) {
	records := make([]EntityRecord, 0, len(entities))
	for _, e := range entities {
		r, err := ToRecord(e)
		if err != nil {
			skipped++
			continue
		}
		records = append(records, r)
	}
	if len(records) == 0 {
		return 0, skipped, nil
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"label", "observed_at", "position", "metrics", "updated_at"}),
	}).Create(&records).Error
	if err != nil {
		return 0, skipped, fmt.Errorf("failed to save entities: %w", err)
	}
	return len(records), skipped, nil
}

// Fetch reads all stored entities, newest first.
func (s *Store) Fetch(ctx context.Context) ([]core.Entity, error) {
	var records []EntityRecord
	if err := s.db.WithContext(ctx).Order("observed_at DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("%w: querying entities: %w", source.ErrSourceUnavailable, err)
	}

	entities := make([]core.Entity, 0, len(records))
	for _, r := range records {
		e, err := ToEntity(r)
		if err != nil {
			continue
		}
		entities = append(entities, e)
	}
	return entities, nil
}

// Count returns the number of stored entities.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&EntityRecord{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count entities: %w", err)
	}
	return n, nil
}

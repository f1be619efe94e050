// Package fallback serves the bundled sample dataset used when the live source fails.
package fallback

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/geoglobe/globe/internal/clock"
	"github.com/geoglobe/globe/internal/source"
	"github.com/geoglobe/globe/pkg/core"
)

//go:embed sample.json
var sampleJSON []byte

// record ages are relative so the sample always falls inside recent time windows.
type record struct {
	ID       string             `json:"id"`
	Label    string             `json:"label"`
	Lon      float64            `json:"lon"`
	Lat      float64            `json:"lat"`
	Depth    float64            `json:"depth"`
	AgeHours float64            `json:"ageHours"`
	Metrics  map[string]float64 `json:"metrics"`
}

// Source decodes the embedded sample, stamping each record relative to the clock.
type Source struct {
	clock clock.Provider
	data  []byte
}

var _ source.Source = (*Source)(nil)

func New(c clock.Provider) *Source {
	return NewFromBytes(c, sampleJSON)
}

// NewFromBytes serves a caller-supplied sample in the same format.
func NewFromBytes(c clock.Provider, data []byte) *Source {
	if c == nil {
		c = clock.System{}
	}
	return &Source{clock: c, data: data}
}

func (s *Source) Fetch(_ context.Context) ([]core.Entity, error) {
	var records []record
	if err := json.Unmarshal(s.data, &records); err != nil {
		return nil, fmt.Errorf("%w: decoding sample dataset: %w", source.ErrInvalidSourceShape, err)
	}

	now := s.clock.Now()
	entities := make([]core.Entity, 0, len(records))
	for _, r := range records {
		age := time.Duration(r.AgeHours * float64(time.Hour))
		entities = append(entities, core.Entity{
			ID:        r.ID,
			Longitude: r.Lon,
			Latitude:  r.Lat,
			Depth:     r.Depth,
			Timestamp: now.Add(-age).UnixMilli(),
			Metrics:   r.Metrics,
			Label:     r.Label,
		})
	}
	return entities, nil
}

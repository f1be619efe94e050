// Package geojson reads entities from an HTTP GeoJSON FeatureCollection feed such as
// the USGS earthquake summaries.
package geojson

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	geo "github.com/paulmach/go.geojson"

	"github.com/geoglobe/globe/internal/source"
	"github.com/geoglobe/globe/pkg/core"
)

// maxBody caps how much of a feed response is read.
const maxBody = 32 << 20

// Config describes a feed and how feature properties map onto entity fields.
type Config struct {
	URL string
	// Metrics maps feature property names to metric IDs.
	Metrics       map[string]string
	LabelProperty string
	TimeProperty  string
	// DepthMetric receives the third point coordinate when non-empty.
	DepthMetric string
}

// DefaultConfig maps the USGS summary feed.
func DefaultConfig(url string) Config {
	return Config{
		URL:           url,
		Metrics:       map[string]string{"mag": "magnitude", "population": "population", "temperature": "temperature"},
		LabelProperty: "place",
		TimeProperty:  "time",
		DepthMetric:   "depth",
	}
}

// Client fetches and decodes a feed.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

var _ source.Source = (*Client)(nil)

// New creates a feed client. Request deadlines come from the caller's context.
func New(cfg Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Healthcheck checks the feed responds to a HEAD request.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// Fetch downloads and decodes the feed.
func (c *Client) Fetch(ctx context.Context) ([]core.Entity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", source.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: feed returned status %d", source.ErrSourceUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: reading feed: %w", source.ErrSourceUnavailable, err)
	}
	return c.Decode(body)
}

// Decode converts a FeatureCollection document into entities. Features without a
// point geometry keep NaN coordinates and are skipped at projection time.
func (c *Client) Decode(data []byte) ([]core.Entity, error) {
	fc, err := geo.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", source.ErrInvalidSourceShape, err)
	}
	if !strings.EqualFold(fc.Type, "FeatureCollection") {
		return nil, fmt.Errorf("%w: type %q", source.ErrInvalidSourceShape, fc.Type)
	}

	entities := make([]core.Entity, 0, len(fc.Features))
	for i, f := range fc.Features {
		if f == nil {
			continue
		}
		entities = append(entities, c.entity(i, f))
	}
	return entities, nil
}

func (c *Client) entity(i int, f *geo.Feature) core.Entity {
	e := core.Entity{
		Longitude: math.NaN(),
		Latitude:  math.NaN(),
		Metrics:   make(map[string]float64),
	}
	if f.ID != nil {
		e.ID = fmt.Sprint(f.ID)
	} else {
		e.ID = fmt.Sprintf("feature-%d", i)
	}

	if f.Geometry != nil && f.Geometry.IsPoint() && len(f.Geometry.Point) >= 2 {
		e.Longitude = f.Geometry.Point[0]
		e.Latitude = f.Geometry.Point[1]
		if len(f.Geometry.Point) > 2 {
			e.Depth = f.Geometry.Point[2]
			if c.cfg.DepthMetric != "" {
				e.Metrics[c.cfg.DepthMetric] = e.Depth
			}
		}
	}

	for prop, metricID := range c.cfg.Metrics {
		if v, err := f.PropertyFloat64(prop); err == nil {
			e.Metrics[metricID] = v
		}
	}
	if c.cfg.TimeProperty != "" {
		if ms, err := f.PropertyFloat64(c.cfg.TimeProperty); err == nil {
			e.Timestamp = int64(ms)
		}
	}
	if c.cfg.LabelProperty != "" {
		e.Label = f.PropertyMustString(c.cfg.LabelProperty, e.ID)
	}
	return e
}

// Encode writes entities as a FeatureCollection of points. Metrics become
// properties under their metric IDs.
func Encode(entities []core.Entity) ([]byte, error) {
	fc := geo.NewFeatureCollection()
	for _, e := range entities {
		f := geo.NewPointFeature([]float64{e.Longitude, e.Latitude, e.Depth})
		f.ID = e.ID
		f.SetProperty("place", e.Label)
		f.SetProperty("time", e.Timestamp)
		for k, v := range e.Metrics {
			f.SetProperty(k, v)
		}
		fc.AddFeature(f)
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encoding feature collection: %w", err)
	}
	return data, nil
}

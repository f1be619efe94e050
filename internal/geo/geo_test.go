package geo

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tolerance = 1e-9

func TestProject_OriginLiesOnRadius(t *testing.T) {
	p := Project(0, 0, 2.5)

	if math.Abs(p.Length()-2.5) > tolerance {
		t.Errorf("expected |p|=2.5, got %f", p.Length())
	}
	// lat=0, lon=0 -> theta=pi, so the point sits on +X
	if math.Abs(p.X-2.5) > tolerance || math.Abs(p.Y) > tolerance || math.Abs(p.Z) > tolerance {
		t.Errorf("expected (2.5,0,0), got %+v", p)
	}
}

func TestProject_NormEqualsRadius(t *testing.T) {
	for lat := -90.0; lat <= 90; lat += 7.5 {
		for lon := -180.0; lon <= 180; lon += 11.25 {
			p := Project(lat, lon, 1.3)
			if math.Abs(p.Length()-1.3) > tolerance {
				t.Fatalf("lat=%f lon=%f: expected |p|=1.3, got %f", lat, lon, p.Length())
			}
		}
	}
}

func TestProject_Poles(t *testing.T) {
	north := Project(90, 45, 1)
	south := Project(-90, -120, 1)

	assert.InDelta(t, 1, north.Y, tolerance)
	assert.InDelta(t, -1, south.Y, tolerance)
}

func TestProject_AntimeridianSeam(t *testing.T) {
	east := Project(10, 180, 1)
	west := Project(10, -180, 1)

	assert.InDelta(t, east.X, west.X, tolerance)
	assert.InDelta(t, east.Y, west.Y, tolerance)
	assert.InDelta(t, east.Z, west.Z, tolerance)
	// theta = 0 at the antimeridian, so the seam lies on -X
	assert.Less(t, west.X, 0.0)
}

func TestProject_Deterministic(t *testing.T) {
	assert.Equal(t, Project(35.6, 139.7, 1), Project(35.6, 139.7, 1))
}

func TestValidCoordinates(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		want     bool
	}{
		{"origin", 0, 0, true},
		{"corner", -90, 180, true},
		{"lat too high", 90.01, 0, false},
		{"lon too low", 0, -180.5, false},
		{"nan", math.NaN(), 0, false},
		{"inf", 0, math.Inf(1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidCoordinates(tt.lat, tt.lon))
		})
	}
}

func TestParseCoordinates_WithDepth(t *testing.T) {
	lon, lat, depth, err := ParseCoordinates("142.37, 38.30, 29.0")
	require.NoError(t, err)
	assert.Equal(t, 142.37, lon)
	assert.Equal(t, 38.30, lat)
	assert.Equal(t, 29.0, depth)
}

func TestParseCoordinates_WithoutDepth(t *testing.T) {
	lon, lat, depth, err := ParseCoordinates("-122.4,37.8")
	require.NoError(t, err)
	assert.Equal(t, -122.4, lon)
	assert.Equal(t, 37.8, lat)
	assert.Equal(t, 0.0, depth)
}

func TestParseCoordinates_Invalid(t *testing.T) {
	inputs := []string{"", "1", "a,2", "1,b", "1,2,c", "200,10", "10,95"}
	for _, in := range inputs {
		_, _, _, err := ParseCoordinates(in)
		if !errors.Is(err, ErrInvalidCoordinates) {
			t.Errorf("input %q: expected ErrInvalidCoordinates, got %v", in, err)
		}
	}
}

func TestCoords3857RoundTrip(t *testing.T) {
	point, err := Coords3857From4326(139.69, 35.69, 12.5)
	require.NoError(t, err)

	coords, ok := point.Coordinates()
	require.True(t, ok)
	assert.NotEqual(t, 139.69, coords.X, "expected projected x, not degrees")

	lon, lat, depth, err := Coords4326From3857(point)
	require.NoError(t, err)
	assert.InDelta(t, 139.69, lon, 1e-6)
	assert.InDelta(t, 35.69, lat, 1e-6)
	assert.Equal(t, 12.5, depth)
}

func TestCoords3857From4326_Invalid(t *testing.T) {
	_, err := Coords3857From4326(0, math.NaN(), 0)
	assert.ErrorIs(t, err, ErrInvalidCoordinates)
}

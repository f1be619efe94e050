package geo

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/geoglobe/globe/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// GEO POINTS
// Scene positions come from Project. Stored positions (sqlstore) are always EPSG:3857 with the
// depth carried in Z, matching how point data is interpreted from WKB on the way back out.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// Project maps a latitude/longitude pair in degrees onto a sphere of the given radius.
// Latitude is measured from the pole and longitude is offset by 180 degrees so the texture
// seam falls on the antimeridian.
//
// Precondition: lat in [-90, 90] and lon in [-180, 180]. Values are not clamped; callers
// filter with ValidCoordinates first.
func Project(lat, lon, radius float64) core.Vector3 {
	phi := (90 - lat) * math.Pi / 180
	theta := (lon + 180) * math.Pi / 180

	sinPhi, cosPhi := math.Sincos(phi)
	sinTheta, cosTheta := math.Sincos(theta)

	return core.Vector3{
		X: -radius * sinPhi * cosTheta,
		Y: radius * cosPhi,
		Z: radius * sinPhi * sinTheta,
	}
}

// ValidCoordinates reports whether lat/lon are finite and inside the projectable domain.
func ValidCoordinates(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// ParseCoordinates parses a string in the format "long,lat" or "long,lat,depth".
func ParseCoordinates(coords string) (lon, lat, depth float64, err error) {
	coordsSplit := strings.Split(coords, ",")
	if len(coordsSplit) < 2 {
		return 0, 0, 0, ErrInvalidCoordinates
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(coordsSplit[0]), 64)
	if err != nil {
		return 0, 0, 0, ErrInvalidCoordinates
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(coordsSplit[1]), 64)
	if err != nil {
		return 0, 0, 0, ErrInvalidCoordinates
	}
	if len(coordsSplit) > 2 {
		depth, err = strconv.ParseFloat(strings.TrimSpace(coordsSplit[2]), 64)
		if err != nil {
			return 0, 0, 0, ErrInvalidCoordinates
		}
	}
	if !ValidCoordinates(lat, lon) {
		return 0, 0, 0, ErrInvalidCoordinates
	}
	return lon, lat, depth, nil
}

// Coords3857From4326 creates a web mercator point from a longitude, latitude and depth
func Coords3857From4326(
	longitude float64,
	latitude float64,
	depth float64,
) (
	point geom.Point,
	err error,
) {
	if !ValidCoordinates(latitude, longitude) {
		return geom.NewEmptyPoint(geom.DimXYZ), ErrInvalidCoordinates
	}
	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)
	x, y, _ := f(longitude, latitude, 0)
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(y, 0) {
		return geom.NewEmptyPoint(geom.DimXYZ), ErrInvalidCoordinates
	}
	point, err = geom.NewPoint(
		geom.Coordinates{
			XY:   geom.XY{X: x, Y: y},
			Z:    depth,
			Type: geom.DimXYZ,
		},
	)
	if err != nil {
		return geom.NewEmptyPoint(geom.DimXYZ), ErrInvalidCoordinates
	}
	return point, nil
}

// Coords4326From3857 converts a web mercator point back to longitude, latitude and depth
func Coords4326From3857(point geom.Point) (longitude, latitude, depth float64, err error) {
	coords, ok := point.Coordinates()
	if !ok {
		return 0, 0, 0, ErrInvalidCoordinates
	}
	epsg := wgs84.EPSG()
	f := epsg.Transform(3857, 4326)
	longitude, latitude, _ = f(coords.X, coords.Y, 0)
	if !ValidCoordinates(latitude, longitude) {
		return 0, 0, 0, ErrInvalidCoordinates
	}
	return longitude, latitude, coords.Z, nil
}

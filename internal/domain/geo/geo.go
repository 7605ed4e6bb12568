// internal/domain/geo/geo.go

package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// earthRadiusMeters is the mean Earth radius used by the haversine formula.
const earthRadiusMeters = 6371000.0

// metersPerDegreeLat is the approximate length of one degree of latitude.
const metersPerDegreeLat = math.Pi * earthRadiusMeters / 180.0

// Point represents a geographic coordinate in decimal degrees.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// DistanceMeters returns the great-circle distance between two points in
// meters, computed with the haversine formula. Coordinates straddling the
// antimeridian or at the poles are not handled specially.
func DistanceMeters(a, b Point) float64 {
	lat1 := a.Latitude * math.Pi / 180.0
	lat2 := b.Latitude * math.Pi / 180.0
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180.0
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180.0

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)

	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// WithinRadius reports whether candidate lies within radiusMeters of viewer.
// The boundary is inclusive. A nil viewer means no location fix yet, which
// excludes everything.
func WithinRadius(viewer *Point, radiusMeters float64, candidate Point) bool {
	if viewer == nil || radiusMeters < 0 {
		return false
	}
	return DistanceMeters(*viewer, candidate) <= radiusMeters
}

// BoundAround returns an approximate bounding box covering a circle of
// radiusMeters around p. It is a coarse prefilter for backends without
// native radius queries; callers must still apply WithinRadius.
func BoundAround(p Point, radiusMeters float64) orb.Bound {
	latPad := radiusMeters / metersPerDegreeLat

	// Longitude degrees shrink toward the poles; widen so the box never
	// under-covers the circle.
	lngPad := latPad
	if c := math.Cos(p.Latitude * math.Pi / 180.0); c > 0.01 {
		lngPad = latPad / c
	}

	return orb.Bound{
		Min: orb.Point{p.Longitude - lngPad, p.Latitude - latPad},
		Max: orb.Point{p.Longitude + lngPad, p.Latitude + latPad},
	}
}

// Package geo provides the geographic primitives used by the discovery
// engine: coordinates, great-circle distance, a cheap planar approximation,
// and axis-aligned bounding boxes for spatial pre-filtering.
package geo

import "math"

// EarthRadiusKm is the mean Earth radius used for great-circle distance.
const EarthRadiusKm = 6371.0

// KmPerDegree is the approximate surface distance covered by one degree of
// latitude. Longitude spans are additionally corrected by cos(latitude) so
// a bounding box never under-covers away from the equator.
const KmPerDegree = 111.0

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Haversine returns the great-circle distance between two coordinates in
// kilometers.
func Haversine(a, b Coordinate) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)

	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// PlanarDistanceMeters returns an equirectangular approximation of the
// distance between two coordinates in meters. It is only meaningful for
// nearby points and exists to make proximity checks cheap; use Haversine
// when the result is user-visible.
func PlanarDistanceMeters(a, b Coordinate) float64 {
	meanLat := radians((a.Lat + b.Lat) / 2)
	dLat := (b.Lat - a.Lat) * KmPerDegree
	dLng := (b.Lng - a.Lng) * KmPerDegree * math.Cos(meanLat)
	return math.Sqrt(dLat*dLat+dLng*dLng) * 1000
}

// BoundingBox is an axis-aligned rectangle in degree space.
type BoundingBox struct {
	MinLat float64
	MaxLat float64
	MinLng float64
	MaxLng float64
}

// NewBoundingBox returns a box centered on the given coordinate spanning
// radiusKm in every direction. The longitude span widens with latitude so
// the box always covers the full radius; near the poles it degenerates to
// the whole longitude range.
func NewBoundingBox(center Coordinate, radiusKm float64) BoundingBox {
	latSpan := radiusKm / KmPerDegree

	lngSpan := 180.0
	if cosLat := math.Cos(radians(center.Lat)); cosLat > 1e-6 {
		lngSpan = radiusKm / (KmPerDegree * cosLat)
	}

	return BoundingBox{
		MinLat: center.Lat - latSpan,
		MaxLat: center.Lat + latSpan,
		MinLng: center.Lng - lngSpan,
		MaxLng: center.Lng + lngSpan,
	}
}

// Contains reports whether the coordinate falls inside the box.
func (b BoundingBox) Contains(c Coordinate) bool {
	return c.Lat >= b.MinLat && c.Lat <= b.MaxLat &&
		c.Lng >= b.MinLng && c.Lng <= b.MaxLng
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

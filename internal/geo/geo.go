// Package geo holds the great-circle helpers used to annotate routes.
package geo

import (
	"math"

	"walkingbus/internal/domain"
)

const earthRadiusMeters = 6371000.0

// Haversine distance in meters
func Haversine(a, b domain.Point) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}

// CumDistances returns the distance travelled from pts[0] up to every index.
// The result is non-decreasing and has the same length as pts.
func CumDistances(pts []domain.Point) []float64 {
	n := len(pts)
	if n == 0 {
		return nil
	}
	cum := make([]float64, n)
	sum := 0.0
	for i := 1; i < n; i++ {
		sum += Haversine(pts[i-1], pts[i])
		cum[i] = sum
	}
	return cum
}

// NearestVertex returns the index of the polyline vertex closest to p.
// Ties resolve to the earliest index. It returns -1 for an empty polyline.
func NearestVertex(pts []domain.Point, p domain.Point) int {
	best := -1
	bestDist := math.Inf(1)
	for i, v := range pts {
		if d := Haversine(v, p); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// Bounds computes the bounding box of pts.
func Bounds(pts []domain.Point) domain.BoundingBox {
	if len(pts) == 0 {
		return domain.BoundingBox{}
	}
	bb := domain.BoundingBox{
		MinLat: pts[0].Lat, MaxLat: pts[0].Lat,
		MinLon: pts[0].Lon, MaxLon: pts[0].Lon,
	}
	for _, p := range pts[1:] {
		bb.MinLat = math.Min(bb.MinLat, p.Lat)
		bb.MaxLat = math.Max(bb.MaxLat, p.Lat)
		bb.MinLon = math.Min(bb.MinLon, p.Lon)
		bb.MaxLon = math.Max(bb.MaxLon, p.Lon)
	}
	return bb
}

// ValidPoint rejects NaN and out-of-range coordinates.
func ValidPoint(p domain.Point) bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

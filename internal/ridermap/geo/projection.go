// Package geo holds the map math used to present rider positions:
// Web Mercator pixel projection, bounding boxes, viewport fitting and
// marker clustering.
package geo

import (
	"math"

	"rider-map/internal/ridermap/domain"
)

const (
	tileSize = 256.0
	// Web Mercator cannot represent the poles; positions are clamped here.
	maxLatitude = 85.0511287798
	// MaxZoom is the deepest zoom the tile layer serves.
	MaxZoom = 19
)

// Point is a position in global pixel space at some zoom.
type Point struct {
	X, Y float64
}

// Project converts p to global pixel coordinates at zoom.
func Project(p domain.LatLng, zoom float64) Point {
	lat := math.Max(math.Min(p.Lat, maxLatitude), -maxLatitude)
	scale := tileSize * math.Exp2(zoom)
	sin := math.Sin(lat * math.Pi / 180)

	x := (p.Lng + 180) / 360 * scale
	y := (0.5 - math.Log((1+sin)/(1-sin))/(4*math.Pi)) * scale
	return Point{X: x, Y: y}
}

// Unproject is the inverse of Project.
func Unproject(pt Point, zoom float64) domain.LatLng {
	scale := tileSize * math.Exp2(zoom)
	lng := pt.X/scale*360 - 180
	n := math.Pi - 2*math.Pi*pt.Y/scale
	lat := 180 / math.Pi * math.Atan(math.Sinh(n))
	return domain.LatLng{Lat: lat, Lng: lng}
}

// DistanceTo is the on-screen distance between two projected points.
func (p Point) DistanceTo(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

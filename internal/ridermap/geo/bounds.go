package geo

import (
	"math"

	"rider-map/internal/ridermap/domain"
)

// BoundsOf returns the smallest rectangle holding every point. ok is false
// when points is empty.
func BoundsOf(points []domain.LatLng) (b domain.Bounds, ok bool) {
	for _, p := range points {
		b = Extend(b, p, ok)
		ok = true
	}
	return b, ok
}

// Extend grows b to include p. When have is false b is treated as empty.
func Extend(b domain.Bounds, p domain.LatLng, have bool) domain.Bounds {
	if !have {
		return domain.Bounds{South: p.Lat, North: p.Lat, West: p.Lng, East: p.Lng}
	}
	b.South = math.Min(b.South, p.Lat)
	b.North = math.Max(b.North, p.Lat)
	b.West = math.Min(b.West, p.Lng)
	b.East = math.Max(b.East, p.Lng)
	return b
}

// Center is the midpoint of b in projected space.
func Center(b domain.Bounds, zoom float64) domain.LatLng {
	sw := Project(domain.LatLng{Lat: b.South, Lng: b.West}, zoom)
	ne := Project(domain.LatLng{Lat: b.North, Lng: b.East}, zoom)
	return Unproject(Point{X: (sw.X + ne.X) / 2, Y: (sw.Y + ne.Y) / 2}, zoom)
}

// Size is a map container size in pixels.
type Size struct {
	Width, Height float64
}

// FitOptions control FitBounds.
type FitOptions struct {
	Size    Size
	Padding float64 // pixels on every side
	MaxZoom int
}

// FitBounds returns the viewport that shows b inside the container with
// Padding pixels on each side, at the largest whole zoom not above MaxZoom.
// A single point (zero-area bounds) lands on MaxZoom.
func FitBounds(b domain.Bounds, opts FitOptions) domain.Viewport {
	maxZoom := opts.MaxZoom
	if maxZoom <= 0 || maxZoom > MaxZoom {
		maxZoom = MaxZoom
	}

	availW := opts.Size.Width - 2*opts.Padding
	availH := opts.Size.Height - 2*opts.Padding

	zoom := maxZoom
	if availW <= 0 || availH <= 0 {
		zoom = 0
	} else {
		sw := Project(domain.LatLng{Lat: b.South, Lng: b.West}, 0)
		ne := Project(domain.LatLng{Lat: b.North, Lng: b.East}, 0)
		w, h := math.Abs(ne.X-sw.X), math.Abs(sw.Y-ne.Y)

		scale := math.Inf(1)
		if w > 0 {
			scale = availW / w
		}
		if h > 0 {
			scale = math.Min(scale, availH/h)
		}
		if !math.IsInf(scale, 1) {
			z := int(math.Floor(math.Log2(scale)))
			if z < zoom {
				zoom = z
			}
		}
		if zoom < 0 {
			zoom = 0
		}
	}

	fit := b
	padded := Pad(b, opts.Padding, zoom)
	return domain.Viewport{
		Center: Center(b, float64(zoom)),
		Zoom:   zoom,
		Reason: domain.ViewportSearch,
		Fit:    &fit,
		Padded: &padded,
	}
}

// Pad expands b by px pixels on every side at zoom.
func Pad(b domain.Bounds, px float64, zoom int) domain.Bounds {
	z := float64(zoom)
	sw := Project(domain.LatLng{Lat: b.South, Lng: b.West}, z)
	ne := Project(domain.LatLng{Lat: b.North, Lng: b.East}, z)

	// Pixel y grows southwards.
	swp := Unproject(Point{X: sw.X - px, Y: sw.Y + px}, z)
	nep := Unproject(Point{X: ne.X + px, Y: ne.Y - px}, z)
	return domain.Bounds{
		South: math.Max(swp.Lat, -90),
		West:  math.Max(swp.Lng, -180),
		North: math.Min(nep.Lat, 90),
		East:  math.Min(nep.Lng, 180),
	}
}

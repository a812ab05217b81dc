package app

import (
	"time"

	"rider-map/internal/ridermap/domain"
	"rider-map/internal/ridermap/geo"
)

// PresenterOptions are the fixed map settings.
type PresenterOptions struct {
	DefaultCenter   domain.LatLng
	DefaultZoom     int
	ClusterRadiusPx float64
	FitPaddingPx    float64
	FitMaxZoom      int
	DefaultSize     geo.Size
	Tiles           domain.TileLayer
}

// DefaultPresenterOptions mirror the production map defaults.
func DefaultPresenterOptions() PresenterOptions {
	return PresenterOptions{
		DefaultCenter:   domain.LatLng{Lat: 8.504203, Lng: 124.60238},
		DefaultZoom:     14,
		ClusterRadiusPx: 40,
		FitPaddingPx:    50,
		FitMaxZoom:      15,
		DefaultSize:     geo.Size{Width: 1024, Height: 600},
		Tiles: domain.TileLayer{
			URL:         "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
			Attribution: `&copy; <a href="https://www.openstreetmap.org/copyright">OpenStreetMap</a> contributors`,
		},
	}
}

// PresentInput is a consistent copy of one view's state.
type PresentInput struct {
	Status    domain.ViewStatus
	Riders    []domain.RiderLocation
	FetchedAt *time.Time
	Search    string
	Device    *domain.LatLng
	// Zoom is the zoom the client currently shows, used for clustering.
	// Nil means the computed viewport zoom.
	Zoom   *int
	Size   geo.Size
	Alerts []domain.Alert
}

// Present derives the map view. It is pure: the same input always yields
// the same view.
func Present(in PresentInput, opts PresenterOptions) domain.MapView {
	size := in.Size
	if size.Width <= 0 || size.Height <= 0 {
		size = opts.DefaultSize
	}

	valid := domain.FilterValid(in.Riders)
	shown := domain.FilterSearch(valid, in.Search)
	searching := domain.NormalizeSearch(in.Search) != ""

	markers := make([]domain.Marker, 0, len(shown))
	for _, r := range shown {
		pos, _ := r.Position()
		m := domain.Marker{
			RiderID:      r.RiderID,
			Position:     pos,
			Icon:         domain.SelectIcon(r.Availability),
			Availability: r.Availability,
			Name:         r.FullName(),
		}
		if searching {
			m.Highlighted = true
			m.ZIndexOffset = domain.HighlightZIndex
		}
		markers = append(markers, m)
	}

	viewport := baseViewport(in.Device, opts)
	if searching {
		if vp, ok := searchViewport(valid, in.Search, size, opts); ok {
			viewport = vp
		}
	}

	clusterZoom := viewport.Zoom
	if in.Zoom != nil {
		clusterZoom = *in.Zoom
	}

	var device *domain.Marker
	if in.Device != nil {
		device = &domain.Marker{Position: *in.Device, Icon: domain.IconDevice, Name: "Your Location"}
	}

	alerts := in.Alerts
	if alerts == nil {
		alerts = []domain.Alert{}
	}

	return domain.MapView{
		Status:       in.Status,
		Search:       in.Search,
		Markers:      markers,
		Clusters:     geo.ClusterMarkers(markers, clusterZoom, opts.ClusterRadiusPx),
		DeviceMarker: device,
		Viewport:     viewport,
		Counts: domain.Counts{
			Total: len(in.Riders),
			Valid: len(valid),
			Shown: len(shown),
		},
		Alerts:    alerts,
		Tiles:     opts.Tiles,
		FetchedAt: in.FetchedAt,
	}
}

func baseViewport(device *domain.LatLng, opts PresenterOptions) domain.Viewport {
	if device != nil {
		return domain.Viewport{Center: *device, Zoom: opts.DefaultZoom, Reason: domain.ViewportDevice}
	}
	return domain.Viewport{Center: opts.DefaultCenter, Zoom: opts.DefaultZoom, Reason: domain.ViewportDefault}
}

// searchViewport fits the camera to riders matching search. It runs its own
// pass over the valid riders so the camera never depends on how the marker
// set was filtered.
func searchViewport(valid []domain.RiderLocation, search string, size geo.Size, opts PresenterOptions) (domain.Viewport, bool) {
	var points []domain.LatLng
	for _, r := range valid {
		if !r.MatchesSearch(search) {
			continue
		}
		if pos, ok := r.Position(); ok {
			points = append(points, pos)
		}
	}

	bounds, ok := geo.BoundsOf(points)
	if !ok {
		return domain.Viewport{}, false
	}
	return geo.FitBounds(bounds, geo.FitOptions{
		Size:    size,
		Padding: opts.FitPaddingPx,
		MaxZoom: opts.FitMaxZoom,
	}), true
}

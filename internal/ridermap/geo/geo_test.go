package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rider-map/internal/ridermap/domain"
)

func TestProjectRoundTrip(t *testing.T) {
	points := []domain.LatLng{
		{Lat: 0, Lng: 0},
		{Lat: 8.504203, Lng: 124.60238},
		{Lat: -33.86, Lng: 151.2},
		{Lat: 60, Lng: -179.9},
	}
	for _, p := range points {
		for _, z := range []float64{0, 5, 14, 19} {
			got := Unproject(Project(p, z), z)
			assert.InDelta(t, p.Lat, got.Lat, 1e-9)
			assert.InDelta(t, p.Lng, got.Lng, 1e-9)
		}
	}
}

func TestProject_Origin(t *testing.T) {
	pt := Project(domain.LatLng{}, 0)
	assert.InDelta(t, 128, pt.X, 1e-9)
	assert.InDelta(t, 128, pt.Y, 1e-9)
}

func TestPoint_DistanceTo(t *testing.T) {
	assert.InDelta(t, 5, Point{X: 1, Y: 2}.DistanceTo(Point{X: 4, Y: 6}), 1e-9)
	assert.Zero(t, Point{X: 3, Y: 3}.DistanceTo(Point{X: 3, Y: 3}))
}

func TestClusterMarkers_RadiusIsInclusive(t *testing.T) {
	a := domain.LatLng{Lat: 0, Lng: 0}
	pa := Project(a, 10)
	b := Unproject(Point{X: pa.X + 40, Y: pa.Y}, 10)
	markers := []domain.Marker{
		{RiderID: "a", Position: a},
		{RiderID: "b", Position: b},
	}

	require.InDelta(t, 40, pa.DistanceTo(Project(b, 10)), 1e-6)
	assert.Len(t, ClusterMarkers(markers, 10, 40.001), 1)
	assert.Len(t, ClusterMarkers(markers, 10, 39.999), 2)
}

func TestBoundsOf(t *testing.T) {
	_, ok := BoundsOf(nil)
	assert.False(t, ok)

	b, ok := BoundsOf([]domain.LatLng{{Lat: 10, Lng: 20}, {Lat: 12, Lng: 22}, {Lat: 11, Lng: 19}})
	require.True(t, ok)
	assert.Equal(t, domain.Bounds{South: 10, West: 19, North: 12, East: 22}, b)
}

func TestFitBounds_SinglePointUsesMaxZoom(t *testing.T) {
	b, _ := BoundsOf([]domain.LatLng{{Lat: 10, Lng: 20}})
	vp := FitBounds(b, FitOptions{Size: Size{Width: 800, Height: 600}, Padding: 50, MaxZoom: 15})

	assert.Equal(t, 15, vp.Zoom)
	assert.Equal(t, domain.ViewportSearch, vp.Reason)
	assert.InDelta(t, 10, vp.Center.Lat, 1e-9)
	assert.InDelta(t, 20, vp.Center.Lng, 1e-9)
	require.NotNil(t, vp.Fit)
	assert.Equal(t, domain.Bounds{South: 10, West: 20, North: 10, East: 20}, *vp.Fit)

	// The padded area is the point grown by 50px on each side at zoom 15.
	require.NotNil(t, vp.Padded)
	sw := Project(domain.LatLng{Lat: vp.Padded.South, Lng: vp.Padded.West}, 15)
	ne := Project(domain.LatLng{Lat: vp.Padded.North, Lng: vp.Padded.East}, 15)
	assert.InDelta(t, 100, ne.X-sw.X, 1e-6)
	assert.InDelta(t, 100, sw.Y-ne.Y, 1e-6)
	assert.True(t, vp.Padded.Contains(domain.LatLng{Lat: 10, Lng: 20}))
}

func TestFitBounds_WideAreaZoomsOut(t *testing.T) {
	b := domain.Bounds{South: 5, West: 120, North: 12, East: 127}
	vp := FitBounds(b, FitOptions{Size: Size{Width: 800, Height: 600}, Padding: 50, MaxZoom: 15})

	assert.Less(t, vp.Zoom, 15)
	// The fitted box must fit into the padded container at the chosen zoom.
	sw := Project(domain.LatLng{Lat: b.South, Lng: b.West}, float64(vp.Zoom))
	ne := Project(domain.LatLng{Lat: b.North, Lng: b.East}, float64(vp.Zoom))
	assert.LessOrEqual(t, ne.X-sw.X, 700.0)
	assert.LessOrEqual(t, sw.Y-ne.Y, 500.0)
	// One zoom level deeper it would not.
	sw = Project(domain.LatLng{Lat: b.South, Lng: b.West}, float64(vp.Zoom+1))
	ne = Project(domain.LatLng{Lat: b.North, Lng: b.East}, float64(vp.Zoom+1))
	assert.True(t, ne.X-sw.X > 700 || sw.Y-ne.Y > 500)
}

func TestFitBounds_TinyContainer(t *testing.T) {
	b := domain.Bounds{South: 1, West: 1, North: 2, East: 2}
	vp := FitBounds(b, FitOptions{Size: Size{Width: 80, Height: 80}, Padding: 50, MaxZoom: 15})
	assert.Equal(t, 0, vp.Zoom)
}

func TestClusterMarkers(t *testing.T) {
	markers := []domain.Marker{
		{RiderID: "a", Position: domain.LatLng{Lat: 8.5000, Lng: 124.6000}, Icon: domain.IconAvailable},
		{RiderID: "b", Position: domain.LatLng{Lat: 8.5001, Lng: 124.6001}, Icon: domain.IconBooked},
		{RiderID: "c", Position: domain.LatLng{Lat: 9.5000, Lng: 125.6000}, Icon: domain.IconOffline},
	}

	clusters := ClusterMarkers(markers, 14, 40)
	require.Len(t, clusters, 2)

	assert.Equal(t, 2, clusters[0].Count)
	assert.Equal(t, domain.IconCluster, clusters[0].Icon)
	assert.Equal(t, []domain.RiderID{"a", "b"}, clusters[0].RiderIDs)
	assert.InDelta(t, 8.50005, clusters[0].Center.Lat, 1e-9)

	assert.Equal(t, 1, clusters[1].Count)
	assert.Equal(t, domain.IconOffline, clusters[1].Icon)

	// Zoomed far in the two close markers separate.
	assert.Len(t, ClusterMarkers(markers, 19, 40), 3)
	assert.Empty(t, ClusterMarkers(nil, 14, 40))
}

func TestClusterMarkers_Stateless(t *testing.T) {
	markers := []domain.Marker{
		{RiderID: "a", Position: domain.LatLng{Lat: 1, Lng: 1}},
		{RiderID: "b", Position: domain.LatLng{Lat: 1, Lng: 1}},
	}
	first := ClusterMarkers(markers, 10, 40)
	second := ClusterMarkers(markers, 10, 40)
	assert.Equal(t, first, second)
}

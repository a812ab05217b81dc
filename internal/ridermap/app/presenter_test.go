package app

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rider-map/internal/ridermap/domain"
	"rider-map/internal/ridermap/geo"
)

func sampleRiders() []domain.RiderLocation {
	noUser := rider("9", "", "", "8.51", "124.61", domain.AvailabilityAvailable)
	noUser.User = nil
	return []domain.RiderLocation{
		rider("1", "Anna", "Cruz", "8.5000", "124.6000", domain.AvailabilityAvailable),
		rider("2", "Ben", "Annabelle", "8.5200", "124.6400", domain.AvailabilityBooked),
		rider("3", "Carl", "Diaz", "8.4800", "124.5800", "Offline"),
		rider("4", "Anne", "Ong", "", "124.6", domain.AvailabilityAvailable),
		rider("5", "Dina", "Reyes", "95", "124.6", domain.AvailabilityAvailable),
		noUser,
	}
}

func TestPresent_NoSearch(t *testing.T) {
	opts := DefaultPresenterOptions()
	view := Present(PresentInput{Status: domain.StatusReady, Riders: sampleRiders()}, opts)

	assert.Equal(t, domain.Counts{Total: 6, Valid: 3, Shown: 3}, view.Counts)
	require.Len(t, view.Markers, 3)
	assert.Equal(t, domain.IconAvailable, view.Markers[0].Icon)
	assert.Equal(t, domain.IconBooked, view.Markers[1].Icon)
	assert.Equal(t, domain.IconOffline, view.Markers[2].Icon)
	for _, m := range view.Markers {
		assert.False(t, m.Highlighted)
		assert.Zero(t, m.ZIndexOffset)
	}

	assert.Equal(t, domain.ViewportDefault, view.Viewport.Reason)
	assert.Equal(t, opts.DefaultCenter, view.Viewport.Center)
	assert.Equal(t, 14, view.Viewport.Zoom)
	assert.Nil(t, view.DeviceMarker)
	assert.Equal(t, opts.Tiles, view.Tiles)
	assert.NotNil(t, view.Alerts)
	assert.Empty(t, view.Alerts)
}

func TestPresent_SearchFitsMatchingRiders(t *testing.T) {
	opts := DefaultPresenterOptions()
	in := PresentInput{
		Status: domain.StatusReady,
		Riders: sampleRiders(),
		Search: "  ANN ",
		Size:   geo.Size{Width: 800, Height: 600},
	}
	view := Present(in, opts)

	// "ann" hits Anna by first name and Ben Annabelle by last name. Anne has
	// no latitude and stays off the map.
	assert.Equal(t, domain.Counts{Total: 6, Valid: 3, Shown: 2}, view.Counts)
	require.Len(t, view.Markers, 2)
	ids := []domain.RiderID{view.Markers[0].RiderID, view.Markers[1].RiderID}
	assert.Equal(t, []domain.RiderID{"1", "2"}, ids)

	for _, m := range view.Markers {
		assert.True(t, m.Highlighted)
		assert.Equal(t, domain.HighlightZIndex, m.ZIndexOffset)
	}

	vp := view.Viewport
	assert.Equal(t, domain.ViewportSearch, vp.Reason)
	assert.LessOrEqual(t, vp.Zoom, opts.FitMaxZoom)
	require.NotNil(t, vp.Fit)
	require.NotNil(t, vp.Padded)
	for _, m := range view.Markers {
		assert.True(t, vp.Fit.Contains(m.Position))
		assert.True(t, vp.Padded.Contains(m.Position))
	}
}

func TestPresent_SearchWithoutMatchesKeepsCamera(t *testing.T) {
	opts := DefaultPresenterOptions()
	device := domain.LatLng{Lat: 8.49, Lng: 124.65}
	view := Present(PresentInput{
		Status: domain.StatusReady,
		Riders: sampleRiders(),
		Search: "zzz",
		Device: &device,
	}, opts)

	assert.Empty(t, view.Markers)
	assert.Equal(t, 3, view.Counts.Valid)
	assert.Equal(t, domain.ViewportDevice, view.Viewport.Reason)
	assert.Equal(t, device, view.Viewport.Center)
	require.NotNil(t, view.DeviceMarker)
	assert.Equal(t, domain.IconDevice, view.DeviceMarker.Icon)
}

func TestPresent_ClustersAtClientZoom(t *testing.T) {
	opts := DefaultPresenterOptions()
	riders := []domain.RiderLocation{
		rider("1", "A", "A", "8.5000", "124.6000", domain.AvailabilityAvailable),
		rider("2", "B", "B", "8.5001", "124.6001", domain.AvailabilityAvailable),
	}

	view := Present(PresentInput{Riders: riders}, opts)
	require.Len(t, view.Clusters, 1)
	assert.Equal(t, 2, view.Clusters[0].Count)

	far := 19
	view = Present(PresentInput{Riders: riders, Zoom: &far}, opts)
	assert.Len(t, view.Clusters, 2)
}

func TestPresent_IsDeterministic(t *testing.T) {
	opts := DefaultPresenterOptions()
	device := domain.LatLng{Lat: 8.5, Lng: 124.6}
	in := PresentInput{
		Status: domain.StatusReady,
		Riders: sampleRiders(),
		Search: "a",
		Device: &device,
		Alerts: []domain.Alert{{Type: domain.AlertWarning, Message: domain.MsgDeviceLocationUnset}},
	}
	if diff := cmp.Diff(Present(in, opts), Present(in, opts)); diff != "" {
		t.Fatalf("views differ (-first +second):\n%s", diff)
	}
}

package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rider-map/internal/ridermap/domain"
	"rider-map/pkg/config"
	"rider-map/pkg/logger"
)

func TestPresenterOptionsFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Map.DefaultLatitude = 7.1
	cfg.Map.DefaultLongitude = 125.6
	cfg.Map.DefaultZoom = 12
	cfg.Map.ClusterRadiusPx = 60
	cfg.Map.FitPaddingPx = 20
	cfg.Map.FitMaxZoom = 40
	cfg.Map.TileURL = "https://tiles.example/{z}/{x}/{y}.png"

	opts := presenterOptions(cfg)
	assert.Equal(t, domain.LatLng{Lat: 7.1, Lng: 125.6}, opts.DefaultCenter)
	assert.Equal(t, 12, opts.DefaultZoom)
	assert.Equal(t, 60.0, opts.ClusterRadiusPx)
	assert.Equal(t, 19, opts.FitMaxZoom)
	assert.Equal(t, "https://tiles.example/{z}/{x}/{y}.png", opts.Tiles.URL)
}

func TestBuildComponents_RejectsUnknownSource(t *testing.T) {
	cfg := &config.Config{}
	cfg.Map.Source = "carrier-pigeon"
	_, err := buildComponents(context.Background(), cfg, logger.NewNop(), false)
	assert.Error(t, err)

	cfg.Map.Source = "http"
	cfg.Push.Transport = "smoke-signals"
	_, err = buildComponents(context.Background(), cfg, logger.NewNop(), true)
	assert.Error(t, err)
}

func TestSnapshotCommand(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"rider_id":1,"rider_latitude":"8.5","rider_longitude":"124.6",
			"availability":"Available","user":{"first_name":"Ann","last_name":"Lee"}}]`))
	}))
	defer backend.Close()

	t.Setenv("BACKEND_BASE_URL", backend.URL)
	t.Setenv("MAP_SOURCE", "http")
	t.Setenv("LOG_LEVEL", "ERROR")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"snapshot", "--config", "", "--search", "ann"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.Execute())

	assert.Contains(t, out.String(), `"shown": 1`)
	assert.Contains(t, out.String(), `"reason": "search"`)
}

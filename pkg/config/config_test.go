package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Map.PollInterval)
	assert.Equal(t, 8.504203, cfg.Map.DefaultLatitude)
	assert.Equal(t, 124.60238, cfg.Map.DefaultLongitude)
	assert.Equal(t, 14, cfg.Map.DefaultZoom)
	assert.Equal(t, 40.0, cfg.Map.ClusterRadiusPx)
	assert.Equal(t, 50.0, cfg.Map.FitPaddingPx)
	assert.Equal(t, 15, cfg.Map.FitMaxZoom)
	assert.Equal(t, "requirements", cfg.Push.RequirementsChannel)
	assert.Equal(t, "REQUIREMENTS", cfg.Push.RequirementsEvent)
}

func TestLoadConfig_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := `
# comment
MAP_POLL_INTERVAL=5s
MAP_FIT_MAX_ZOOM="12"
BACKEND_BASE_URL=http://backend:9000/
PUSH_TRANSPORT=WebSocket
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	// t.Setenv registers cleanup so keys set by the loader are restored.
	for _, k := range []string{"MAP_POLL_INTERVAL", "MAP_FIT_MAX_ZOOM", "BACKEND_BASE_URL", "PUSH_TRANSPORT"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Map.PollInterval)
	assert.Equal(t, 12, cfg.Map.FitMaxZoom)
	assert.Equal(t, "http://backend:9000", cfg.Backend.BaseURL)
	assert.Equal(t, "websocket", cfg.Push.Transport)
}

func TestLoadConfig_EnvWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "map.yaml")
	require.NoError(t, os.WriteFile(path, []byte("map_default_zoom: 9\nmap_source: postgres\n"), 0o600))

	t.Setenv("MAP_DEFAULT_ZOOM", "11")
	t.Setenv("MAP_SOURCE", "")
	os.Unsetenv("MAP_SOURCE")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 11, cfg.Map.DefaultZoom)
	assert.Equal(t, "postgres", cfg.Map.Source)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.env"))
	assert.Error(t, err)
}

func TestGetEnvAsDuration(t *testing.T) {
	t.Setenv("X_DUR", "30")
	assert.Equal(t, 30*time.Second, getEnvAsDuration("X_DUR", time.Second))

	t.Setenv("X_DUR", "1m")
	assert.Equal(t, time.Minute, getEnvAsDuration("X_DUR", time.Second))

	t.Setenv("X_DUR", "garbage")
	assert.Equal(t, time.Second, getEnvAsDuration("X_DUR", time.Second))
}

package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DB struct {
		Host     string
		Port     int
		User     string
		Password string
		Database string
	}
	RabbitMQ struct {
		Host          string
		Port          int
		User          string
		Password      string
		RiderExchange string
	}
	Backend struct {
		BaseURL          string
		LocationsPath    string
		RequirementsPath string
		Token            string
		RequestTimeout   time.Duration
	}
	Push struct {
		Transport           string // websocket | rabbitmq | none
		URL                 string
		AppKey              string
		LocationChannel     string
		LocationEvent       string
		RequirementsChannel string
		RequirementsEvent   string
	}
	Map struct {
		Source             string // http | postgres
		PollInterval       time.Duration
		PollMaxBackoff     time.Duration
		GeolocationTimeout time.Duration
		DefaultLatitude    float64
		DefaultLongitude   float64
		DefaultZoom        int
		ClusterRadiusPx    float64
		FitPaddingPx       float64
		FitMaxZoom         int
		TileURL            string
		TileAttribution    string
		StaticDeviceLat    string
		StaticDeviceLng    string
	}
	JWT struct {
		Secret string
		TTL    time.Duration
	}
	Services struct {
		AdminMapService int
	}
}

// LoadConfig reads key=value pairs from filename into the process
// environment and then builds the Config. Files ending in .yaml or .yml are
// read as a flat mapping of the same keys. Variables already present in the
// environment take precedence over the file. An empty filename skips the
// file and uses the environment alone.
func LoadConfig(filename string) (*Config, error) {
	if filename != "" {
		var err error
		switch strings.ToLower(filepath.Ext(filename)) {
		case ".yaml", ".yml":
			err = loadYAMLFile(filename)
		default:
			err = loadEnvFile(filename)
		}
		if err != nil {
			return nil, err
		}
	}
	cfg := &Config{}
	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnvAsInt("DB_PORT", 5432)
	cfg.DB.User = getEnv("DB_USER", "ridehail_user")
	cfg.DB.Password = getEnv("DB_PASS", "ridehail_pass")
	cfg.DB.Database = getEnv("DB_NAME", "ridehail_db")

	cfg.RabbitMQ.Host = getEnv("RABBITMQ_HOST", "localhost")
	cfg.RabbitMQ.Port = getEnvAsInt("RABBITMQ_PORT", 5672)
	cfg.RabbitMQ.User = getEnv("RABBITMQ_USER", "guest")
	cfg.RabbitMQ.Password = getEnv("RABBITMQ_PASS", "guest")
	cfg.RabbitMQ.RiderExchange = getEnv("RABBITMQ_RIDER_EXCHANGE", "rider_location_fanout")

	cfg.Backend.BaseURL = strings.TrimRight(getEnv("BACKEND_BASE_URL", "http://localhost:8000"), "/")
	cfg.Backend.LocationsPath = getEnv("BACKEND_LOCATIONS_PATH", "/api/riders/locations")
	cfg.Backend.RequirementsPath = getEnv("BACKEND_REQUIREMENTS_PATH", "/api/riders/requirements")
	cfg.Backend.Token = getEnv("BACKEND_TOKEN", "")
	cfg.Backend.RequestTimeout = getEnvAsDuration("BACKEND_REQUEST_TIMEOUT", 8*time.Second)

	cfg.Push.Transport = strings.ToLower(getEnv("PUSH_TRANSPORT", "none"))
	cfg.Push.URL = getEnv("PUSH_URL", "")
	cfg.Push.AppKey = getEnv("PUSH_APP_KEY", "")
	cfg.Push.LocationChannel = getEnv("PUSH_LOCATION_CHANNEL", "riders")
	cfg.Push.LocationEvent = getEnv("PUSH_LOCATION_EVENT", "RIDERS_CHANGED")
	cfg.Push.RequirementsChannel = getEnv("PUSH_REQUIREMENTS_CHANNEL", "requirements")
	cfg.Push.RequirementsEvent = getEnv("PUSH_REQUIREMENTS_EVENT", "REQUIREMENTS")

	cfg.Map.Source = strings.ToLower(getEnv("MAP_SOURCE", "http"))
	cfg.Map.PollInterval = getEnvAsDuration("MAP_POLL_INTERVAL", 10*time.Second)
	cfg.Map.PollMaxBackoff = getEnvAsDuration("MAP_POLL_MAX_BACKOFF", 2*time.Minute)
	cfg.Map.GeolocationTimeout = getEnvAsDuration("MAP_GEOLOCATION_TIMEOUT", 15*time.Second)
	cfg.Map.DefaultLatitude = getEnvAsFloat("MAP_DEFAULT_LAT", 8.504203)
	cfg.Map.DefaultLongitude = getEnvAsFloat("MAP_DEFAULT_LNG", 124.60238)
	cfg.Map.DefaultZoom = getEnvAsInt("MAP_DEFAULT_ZOOM", 14)
	cfg.Map.ClusterRadiusPx = getEnvAsFloat("MAP_CLUSTER_RADIUS_PX", 40)
	cfg.Map.FitPaddingPx = getEnvAsFloat("MAP_FIT_PADDING_PX", 50)
	cfg.Map.FitMaxZoom = getEnvAsInt("MAP_FIT_MAX_ZOOM", 15)
	cfg.Map.TileURL = getEnv("MAP_TILE_URL", "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png")
	cfg.Map.TileAttribution = getEnv("MAP_TILE_ATTRIBUTION",
		`&copy; <a href="https://www.openstreetmap.org/copyright">OpenStreetMap</a> contributors`)
	cfg.Map.StaticDeviceLat = getEnv("MAP_STATIC_DEVICE_LAT", "")
	cfg.Map.StaticDeviceLng = getEnv("MAP_STATIC_DEVICE_LNG", "")

	cfg.JWT.Secret = getEnv("JWT_SECRET_KEY", "")
	cfg.JWT.TTL = getEnvAsDuration("JWT_TTL", time.Hour)

	cfg.Services.AdminMapService = getEnvAsInt("ADMIN_MAP_SERVICE", 3005)

	return cfg, nil
}

func loadEnvFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("could not open env file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

		if err := setDefault(key, value); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading env file: %w", err)
	}

	return nil
}

func loadYAMLFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("could not open yaml file: %w", err)
	}

	var kv map[string]interface{}
	if err := yaml.Unmarshal(data, &kv); err != nil {
		return fmt.Errorf("could not parse yaml file: %w", err)
	}

	for key, raw := range kv {
		if raw == nil {
			continue
		}
		if err := setDefault(strings.ToUpper(key), fmt.Sprint(raw)); err != nil {
			return err
		}
	}
	return nil
}

// setDefault only writes variables the environment does not define yet.
func setDefault(key, value string) error {
	if _, exists := os.LookupEnv(key); exists {
		return nil
	}
	if err := os.Setenv(key, value); err != nil {
		return fmt.Errorf("could not set env var %s: %w", key, err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return fallback
}

// getEnvAsDuration accepts Go durations ("10s") or a bare number of seconds.
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

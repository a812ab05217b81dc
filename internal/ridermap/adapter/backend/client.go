package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"rider-map/internal/ridermap/domain"
	"rider-map/pkg/config"
	"rider-map/pkg/logger"
)

const maxBodyBytes = 16 << 20

// Client reads rider snapshots and applications from the admin REST
// backend.
type Client struct {
	baseURL          string
	locationsPath    string
	requirementsPath string
	token            string
	http             *http.Client
	log              logger.Logger
}

func NewClient(cfg *config.Config, log logger.Logger) *Client {
	return &Client{
		baseURL:          cfg.Backend.BaseURL,
		locationsPath:    cfg.Backend.LocationsPath,
		requirementsPath: cfg.Backend.RequirementsPath,
		token:            cfg.Backend.Token,
		http:             &http.Client{Timeout: cfg.Backend.RequestTimeout},
		log:              log.WithFields(logger.LogFields{"backend": cfg.Backend.BaseURL}),
	}
}

// FetchRiderLocations returns every rider record in the snapshot. A record
// that cannot be decoded is kept as an empty, invalid record so the
// snapshot size still reflects what the backend sent.
func (c *Client) FetchRiderLocations(ctx context.Context) ([]domain.RiderLocation, error) {
	items, err := c.getArray(ctx, c.locationsPath)
	if err != nil {
		return nil, err
	}

	riders := make([]domain.RiderLocation, len(items))
	for i, raw := range items {
		if err := json.Unmarshal(raw, &riders[i]); err != nil {
			c.log.WithFields(logger.LogFields{"index": i}).Warn("rider_record_undecodable", err.Error())
			riders[i] = domain.RiderLocation{}
		}
	}
	return riders, nil
}

// FetchRequirements returns the rider applications list.
func (c *Client) FetchRequirements(ctx context.Context) ([]domain.RiderApplication, error) {
	items, err := c.getArray(ctx, c.requirementsPath)
	if err != nil {
		return nil, err
	}

	apps := make([]domain.RiderApplication, 0, len(items))
	for _, raw := range items {
		var app domain.RiderApplication
		if err := json.Unmarshal(raw, &app); err != nil {
			continue
		}
		apps = append(apps, app)
	}
	return apps, nil
}

func (c *Client) getArray(ctx context.Context, path string) ([]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	c.log.WithFields(logger.LogFields{
		"path":        path,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("backend_request", "Backend responded")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: GET %s returned %d", domain.ErrUnexpectedStatus, path, resp.StatusCode)
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: GET %s did not return a list", domain.ErrMalformedPayload, path)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	return items, nil
}

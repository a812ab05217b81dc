package main

import (
	"context"
	"fmt"

	"rider-map/internal/ridermap/adapter/backend"
	adapterdb "rider-map/internal/ridermap/adapter/db"
	"rider-map/internal/ridermap/adapter/push"
	adapterrabbit "rider-map/internal/ridermap/adapter/rabbitmq"
	"rider-map/internal/ridermap/app"
	"rider-map/internal/ridermap/domain"
	"rider-map/internal/ridermap/geo"
	"rider-map/pkg/config"
	"rider-map/pkg/db"
	"rider-map/pkg/logger"
	"rider-map/pkg/rabbitmq"
)

// components are the adapters selected by configuration.
type components struct {
	snapshots    domain.SnapshotSource
	requirements domain.RequirementsSource
	subscriber   domain.ChangeSubscriber
	locator      domain.DeviceLocator
	rabbit       *rabbitmq.Connection

	closers []func()
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func buildComponents(ctx context.Context, cfg *config.Config, log logger.Logger, withPush bool) (*components, error) {
	c := &components{}

	switch cfg.Map.Source {
	case "postgres":
		pool, err := db.NewConnection(ctx, cfg, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		c.closers = append(c.closers, pool.Close)
		repo := adapterdb.NewPostgresRiderRepository(log, pool)
		c.snapshots, c.requirements = repo, repo
	case "http", "":
		client := backend.NewClient(cfg, log)
		c.snapshots, c.requirements = client, client
	default:
		return nil, fmt.Errorf("unknown MAP_SOURCE %q", cfg.Map.Source)
	}

	if withPush {
		if err := c.buildSubscriber(ctx, cfg, log); err != nil {
			c.Close()
			return nil, err
		}
	}

	loc, err := app.NewStaticLocator(cfg.Map.StaticDeviceLat, cfg.Map.StaticDeviceLng)
	if err != nil {
		c.Close()
		return nil, err
	}
	if loc != nil {
		c.locator = loc
	}
	return c, nil
}

func (c *components) buildSubscriber(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	switch cfg.Push.Transport {
	case "websocket":
		client, err := push.NewClient(cfg.Push.URL, cfg.Push.AppKey, log)
		if err != nil {
			return err
		}
		c.subscriber = client
	case "rabbitmq":
		conn, err := c.rabbitConn(ctx, cfg, log)
		if err != nil {
			return err
		}
		c.subscriber = adapterrabbit.NewChangeSubscriber(conn, cfg.RabbitMQ.RiderExchange, log)
	case "none", "":
		log.Warn("push_disabled", "No push transport configured, relying on polling")
	default:
		return fmt.Errorf("unknown PUSH_TRANSPORT %q", cfg.Push.Transport)
	}
	return nil
}

func (c *components) rabbitConn(ctx context.Context, cfg *config.Config, log logger.Logger) (*rabbitmq.Connection, error) {
	if c.rabbit != nil {
		return c.rabbit, nil
	}
	conn, err := rabbitmq.NewConnection(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	c.rabbit = conn
	c.closers = append(c.closers, conn.Close)
	return conn, nil
}

func presenterOptions(cfg *config.Config) app.PresenterOptions {
	opts := app.DefaultPresenterOptions()
	opts.DefaultCenter = domain.LatLng{Lat: cfg.Map.DefaultLatitude, Lng: cfg.Map.DefaultLongitude}
	opts.DefaultZoom = cfg.Map.DefaultZoom
	opts.ClusterRadiusPx = cfg.Map.ClusterRadiusPx
	opts.FitPaddingPx = cfg.Map.FitPaddingPx
	opts.FitMaxZoom = min(cfg.Map.FitMaxZoom, geo.MaxZoom)
	opts.Tiles = domain.TileLayer{URL: cfg.Map.TileURL, Attribution: cfg.Map.TileAttribution}
	return opts
}

func sessionOptions(cfg *config.Config) app.SessionOptions {
	return app.SessionOptions{
		PollInterval:       cfg.Map.PollInterval,
		MaxBackoff:         cfg.Map.PollMaxBackoff,
		GeolocationTimeout: cfg.Map.GeolocationTimeout,
		LocationChannel:    cfg.Push.LocationChannel,
		LocationEvent:      cfg.Push.LocationEvent,
		Presenter:          presenterOptions(cfg),
	}
}

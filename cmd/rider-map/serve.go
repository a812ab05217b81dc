package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"rider-map/internal/ridermap/adapter/rest"
	"rider-map/internal/ridermap/app"
	"rider-map/pkg/auth"
	"rider-map/pkg/logger"
	ws "rider-map/pkg/websocket"
)

var (
	refreshRate  time.Duration
	refreshBurst int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the admin riders map API and live map sockets",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&refreshRate, "refresh-rate", 5*time.Second, "one manual refresh token per admin every refresh-rate")
	serveCmd.Flags().IntVar(&refreshBurst, "refresh-burst", 3, "manual refresh burst per admin")
}

func runServe(cmd *cobra.Command, _ []string) error {
	log := newLogger()
	log.Info("startup", "Starting rider map service")

	cfg, err := loadConfig(cmd)
	if err != nil {
		log.Error("startup", err)
		return err
	}

	if cfg.JWT.Secret == "" {
		err := errors.New("JWT_SECRET_KEY environment variable not set")
		log.Error("startup", err)
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comps, err := buildComponents(ctx, cfg, log, true)
	if err != nil {
		log.Error("startup", err)
		return err
	}
	defer comps.Close()

	sockets := ws.NewManager(log)
	fetcher := app.NewFetcher(comps.snapshots, cfg.Backend.RequestTimeout, log)
	svc := app.NewMapService(log, fetcher, comps.subscriber, comps.locator, sessionOptions(cfg))
	watcher := app.NewRequirementsWatcher(
		comps.requirements,
		comps.subscriber,
		cfg.Push.RequirementsChannel,
		cfg.Push.RequirementsEvent,
		cfg.Backend.RequestTimeout,
		log,
		rest.PendingBroadcaster(sockets),
	)

	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.TTL)
	handler := rest.NewHandler(svc, watcher, jwtManager, rest.NewRateLimiter(refreshRate, refreshBurst), sockets, log)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Services.AdminMapService),
		Handler:      handler.WithRequestID(mux),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := watcher.Run(ctx); err != nil {
			log.Error("requirements_watcher_stopped", err)
		}
	}()

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("startup", fmt.Sprintf("rider map service listening on port %d", cfg.Services.AdminMapService))
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("shutdown", fmt.Errorf("server error: %w", err))
		}
		stop()
	case <-ctx.Done():
		log.Info("shutdown", "Shutdown signal received. Starting graceful shutdown...")
	}

	shutdown(server, svc, sockets, log)
	wg.Wait()

	log.Info("shutdown", "Rider map service shutdown complete")
	return nil
}

// shutdown stops accepting requests, then tears down every live map and
// closes the sockets. Hijacked WebSocket connections are not covered by
// server.Shutdown.
func shutdown(server *http.Server, svc *app.MapService, sockets *ws.Manager, log logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("shutdown", fmt.Errorf("failed to gracefully shutdown: %w", err))
	}

	svc.Shutdown()
	sockets.CloseAll()
}

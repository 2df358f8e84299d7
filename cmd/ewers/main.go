// Command ewers runs the early-warning dashboard API: the management surface
// for API keys, webhooks, and alerts, the key-gated external API, and the
// background fan-out to broadcast channels and webhook subscribers.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ewers-io/ewers/pkg/api"
	"github.com/ewers-io/ewers/pkg/auth"
	"github.com/ewers-io/ewers/pkg/broadcast"
	"github.com/ewers-io/ewers/pkg/config"
	"github.com/ewers-io/ewers/pkg/middleware"
	"github.com/ewers-io/ewers/pkg/observability"
	"github.com/ewers-io/ewers/pkg/storage"
	"github.com/ewers-io/ewers/pkg/storage/postgres"
	"github.com/ewers-io/ewers/pkg/webhooks"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ewers: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithFields(map[string]interface{}{
		"storage": cfg.Storage.Type,
		"port":    cfg.Server.Port,
	}).Info("starting EWERS")

	ctx := context.Background()

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(nil)
	}

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	store, err := buildStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	deliveryLogs, err := webhooks.NewDeliveryLogStore(cfg.Webhooks.MaxTrackedHooks, cfg.Webhooks.LogsPerHook)
	if err != nil {
		return fmt.Errorf("failed to initialize delivery log store: %w", err)
	}

	dispatcherOpts := []webhooks.DispatcherOption{
		webhooks.WithConcurrency(cfg.Webhooks.Concurrency),
		webhooks.WithHTTPClient(&http.Client{Timeout: cfg.Webhooks.DeliveryTimeout}),
	}
	if metrics != nil {
		dispatcherOpts = append(dispatcherOpts, webhooks.WithMetrics(metrics))
	}
	dispatcher := webhooks.NewDispatcher(store, deliveryLogs, logger, dispatcherOpts...)

	coordinator, err := buildCoordinator(cfg.Broadcast, cfg.Observability.LogLevel, metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize broadcast channels: %w", err)
	}

	sweeper := auth.NewSweeper(store, logger, cfg.Observability.SweepSchedule)
	if err := sweeper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start key sweeper: %w", err)
	}

	archiveJob := buildArchiveJob(cfg.Storage, store, deliveryLogs, logger, cfg.Webhooks.ArchiveSchedule)
	if archiveJob != nil {
		if err := archiveJob.Start(ctx); err != nil {
			return fmt.Errorf("failed to start delivery log archive job: %w", err)
		}
	}

	server := api.NewServer(api.Options{
		Store:       store,
		Dispatcher:  dispatcher,
		DeliveryLog: deliveryLogs,
		Coordinator: coordinator,
		Logger:      logger,
		Metrics:     metrics,
		RateLimit:   buildRateLimit(cfg.RateLimit, store, logger, metrics),
		CORSOrigins: cfg.Server.CORSOrigins,
		Traced:      cfg.Observability.OTelEnabled,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthServer := buildHealthServer(cfg.Server, store)

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, httpServer, healthServer)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		sweeper.Stop()
		return nil
	})
	if archiveJob != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			archiveJob.Stop()
			// One last flush so logs recorded since the previous tick
			// are not lost on shutdown
			archiveJob.FlushOnce(ctx)
			return nil
		})
	}
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})

	go func() {
		logger.Infof("HTTP server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server error")
		}
	}()
	go func() {
		logger.Infof("health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server error")
		}
	}()

	return shutdown.WaitForShutdown()
}

// buildStore selects the configured storage backend
func buildStore(cfg storage.Config) (storage.Store, error) {
	switch cfg.Type {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "postgres":
		return postgres.NewPostgresStore(cfg)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// buildCoordinator loads the channel configuration and assembles the alert
// broadcast coordinator. Returns nil when no channels file is configured.
func buildCoordinator(cfg config.BroadcastConfig, level observability.LogLevel, metrics *observability.Metrics) (*broadcast.Coordinator, error) {
	if cfg.ChannelsFile == "" {
		return nil, nil
	}

	channelCfg, err := broadcast.LoadConfig(cfg.ChannelsFile)
	if err != nil {
		return nil, err
	}

	log := logrus.New()
	if level == observability.DebugLevel {
		log.SetLevel(logrus.DebugLevel)
	}
	senders, err := broadcast.BuildSenders(channelCfg, log)
	if err != nil {
		return nil, err
	}
	return broadcast.NewCoordinator(senders, channelCfg, log, metrics), nil
}

// buildArchiveJob wires the delivery log archive job when the store has an
// archive backend. Returns nil when archiving is disabled or the store
// cannot archive.
func buildArchiveJob(cfg storage.Config, store storage.Store, logs *webhooks.DeliveryLogStore, logger *observability.Logger, schedule string) *webhooks.ArchiveJob {
	if !cfg.ArchiveEnabled {
		return nil
	}
	archiver, ok := store.(webhooks.LogArchiver)
	if !ok {
		logger.Warn("delivery log archiving enabled but storage backend cannot archive")
		return nil
	}
	return webhooks.NewArchiveJob(logs, archiver, logger, schedule)
}

// buildRateLimit returns the configured rate limit middleware, or nil when
// rate limiting is disabled.
func buildRateLimit(cfg config.RateLimitConfig, store storage.Store, logger *observability.Logger, metrics *observability.Metrics) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return nil
	}
	anon := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RequestsPerMinute,
		WindowDuration:    time.Minute,
		BurstSize:         cfg.Burst,
	}
	// API-key traffic gets ten times the anonymous request budget and five
	// times the burst, matching the ratio of the built-in defaults
	perKey := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RequestsPerMinute * 10,
		WindowDuration:    time.Minute,
		BurstSize:         cfg.Burst * 5,
	}
	if cfg.Distributed {
		if pg, ok := store.(*postgres.PostgresStore); ok && pg.GetRedis() != nil {
			m := middleware.NewDistributedRateLimitMiddlewareWithConfig(pg.GetRedis().GetClient(), anon, perKey, logger, metrics)
			return m.Handler
		}
		logger.Warn("distributed rate limiting requested without redis, falling back to in-memory")
	}
	return middleware.NewRateLimitMiddlewareWithConfig(anon, perKey, metrics).Handler
}

// buildHealthServer serves liveness/readiness probes on a separate port
func buildHealthServer(cfg config.ServerConfig, store storage.Store) *http.Server {
	checker := healthCheckerFor(store)
	mux := http.NewServeMux()
	observability.RegisterHealthRoutes(mux, checker)
	return &http.Server{
		Addr:         cfg.Host + ":" + cfg.HealthPort,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

func healthCheckerFor(store storage.Store) *observability.HealthChecker {
	if pg, ok := store.(*postgres.PostgresStore); ok {
		if cache := pg.GetRedis(); cache != nil {
			return observability.NewHealthChecker(pg.GetDB(), cache.GetClient())
		}
		return observability.NewHealthChecker(pg.GetDB(), nil)
	}
	return observability.NewHealthChecker(nil, nil)
}

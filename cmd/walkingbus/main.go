package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"walkingbus/internal/catalog"
	"walkingbus/internal/config"
	"walkingbus/internal/engine"
	"walkingbus/internal/events"
	"walkingbus/internal/httpapi"
	"walkingbus/internal/metrics"
	"walkingbus/internal/route"
	"walkingbus/internal/stats"
	"walkingbus/internal/store"
	"walkingbus/internal/store/memory"
	"walkingbus/internal/store/sqlstore"
	"walkingbus/internal/weather"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("starting walkingbus server",
		"log_level", cfg.LogLevel.String(),
		"http_addr", cfg.HTTPAddr,
		"store", cfg.StoreDriver,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	mcol := metrics.NewCollector(cfg.StartWindow)
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = mcol.Serve(cfg.MetricsAddr, logger)
	}

	var sinks []events.Sink
	if cfg.NATSURL != "" {
		ns, err := events.NewNATSSink(cfg.NATSURL, cfg.NATSPrefix, cfg.LogNATSSubjects, logger, mcol)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer ns.Close()
		sinks = append(sinks, ns)
	}
	if cfg.AMQPURL != "" {
		as := events.NewAMQPSink(cfg.AMQPURL, cfg.AMQPExchange, logger, mcol)
		defer as.Close()
		sinks = append(sinks, as)
	}
	if cfg.LogEvents {
		sinks = append(sinks, events.NewLogSink(logger))
	}
	dispatcher := events.NewDispatcher(cfg.EventBuffer, logger, mcol, sinks...)
	dispatcher.Run()

	est := route.Estimator{WalkingMPS: cfg.WalkingMPS, BikingMPS: cfg.BikingMPS}
	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMetrics(mcol),
		engine.WithEmitter(dispatcher),
		engine.WithStartWindow(cfg.StartWindow),
		engine.WithHookTimeout(cfg.HookTimeout),
		engine.WithEstimator(est),
		engine.WithEndHooks(
			stats.NewParticipation(st, logger),
			stats.NewBadges(st, stats.DefaultMilestones(), logger),
		),
	}
	if lookup, closeFn := newWeather(cfg, logger); lookup != nil {
		defer closeFn()
		opts = append(opts, engine.WithWeather(lookup))
	}
	eng := engine.New(st, opts...)
	cat := catalog.New(st, est, mcol, logger)

	api := httpapi.New(eng, cat, st, httpapi.HeaderIdentity{}, logger)
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	waitHooks(shutdownCtx, eng, logger)
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.Error("event dispatcher shutdown error", "error", err)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	logger.Info("shutdown complete")
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		return memory.New(), nil
	case sqlstore.DriverSQLite:
		return sqlstore.Open(ctx, sqlstore.DriverSQLite, cfg.SQLitePath)
	case sqlstore.DriverPostgres:
		return sqlstore.Open(ctx, sqlstore.DriverPostgres, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// newWeather returns nil when no API key is configured. A Redis cache is put
// in front of the provider when REDIS_URL is set and reachable.
func newWeather(cfg *config.Config, logger *slog.Logger) (weather.Lookup, func()) {
	if cfg.WeatherAPIKey == "" {
		logger.Info("weather lookups disabled")
		return nil, func() {}
	}
	client := weather.NewClient(cfg.WeatherURL, cfg.WeatherAPIKey, logger)
	if cfg.RedisURL == "" {
		return client, func() {}
	}
	cache, err := weather.NewRedisCache(cfg.RedisURL, logger)
	if err != nil {
		logger.Warn("weather cache unavailable, querying provider directly", "error", err)
		return client, func() {}
	}
	return weather.NewCached(client, cache, cfg.WeatherCacheTTL, logger), func() { _ = cache.Close() }
}

// waitHooks gives in-flight end hooks until ctx expires to finish.
func waitHooks(ctx context.Context, eng *engine.Engine, logger *slog.Logger) {
	done := make(chan struct{})
	go func() {
		eng.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("end hooks still running at shutdown")
	}
}

// Package main is the entry point for the AssistGate server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"assistgate/internal/cache"
	"assistgate/internal/config"
	"assistgate/internal/domain"
	"assistgate/internal/gateway"
	httpserver "assistgate/internal/http"
	"assistgate/internal/provider"
	"assistgate/internal/ratelimit"
	"assistgate/internal/router"
	"assistgate/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	configPath := flag.String("config", "config.toml", "Path to configuration file")
	flag.Parse()

	cfg := config.LoadOrDefault(*configPath)

	logger := telemetry.NewLogger(cfg.Telemetry.LogFormat, cfg.Telemetry.LogLevel)
	slog.SetDefault(logger)

	slog.Info("Starting AssistGate",
		"version", "0.1.0",
		"http_port", cfg.Server.HTTPPort,
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := provider.NewRegistryFromConfig(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize providers", "error", err)
		os.Exit(1)
	}
	for _, p := range providers.Providers() {
		slog.Info("Registered provider", "provider", p)
	}

	responseCache := cache.New(cache.Options{
		Path:          cfg.Cache.Path,
		TTL:           cfg.Cache.TTL,
		MaxEntries:    cfg.Cache.MaxEntries,
		MaxSizeBytes:  cfg.Cache.MaxSizeBytes,
		FlushInterval: cfg.Cache.FlushInterval,
		SweepInterval: cfg.Cache.SweepInterval,
		Logger:        logger,
	})
	go responseCache.Run(ctx)

	limiter := ratelimit.New(ratelimit.Options{
		DailyTokenLimit:      cfg.RateLimit.DailyTokenLimit,
		MaxRequestsPerMinute: cfg.RateLimit.MaxRequestsPerMinute,
	})

	defaultProvider, _ := domain.ParseProvider(cfg.Router.DefaultProvider)
	longContextProvider, _ := domain.ParseProvider(cfg.Router.LongContextProvider)
	rtr := router.New(providers, router.Options{
		DefaultProvider:      defaultProvider,
		LongContextProvider:  longContextProvider,
		LongContextThreshold: cfg.Router.LongContextThreshold,
		MaxAttempts:          cfg.Router.MaxAttempts,
		BackoffBase:          cfg.Router.RetryBaseDelay,
		Logger:               logger,
		OnRetry: func(p domain.Provider, attempt int) {
			metrics.RetryAttempts.WithLabelValues(string(p)).Inc()
		},
	})

	gw := gateway.New(gateway.Options{
		Cache:   responseCache,
		Limiter: limiter,
		Router:  rtr,
		Metrics: metrics,
		Logger:  logger,
	})

	srv := httpserver.NewServer(cfg, gw, metrics, registry, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	cancel()
	responseCache.Flush()

	slog.Info("AssistGate stopped")
}

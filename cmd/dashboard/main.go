package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/civic-map-etl/internal/adapter/fetch"
	httpadapter "github.com/couchcryptid/civic-map-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/civic-map-etl/internal/adapter/kafka"
	"github.com/couchcryptid/civic-map-etl/internal/adapter/mapbox"
	"github.com/couchcryptid/civic-map-etl/internal/catalog"
	"github.com/couchcryptid/civic-map-etl/internal/config"
	"github.com/couchcryptid/civic-map-etl/internal/domain"
	"github.com/couchcryptid/civic-map-etl/internal/observability"
	"github.com/couchcryptid/civic-map-etl/internal/pipeline"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	cat, err := catalog.Load(cfg.SourcesFile)
	if err != nil {
		logger.Error("failed to load source catalog", "error", err)
		os.Exit(1)
	}
	logger.Info("source catalog loaded", "sources", len(cat.All()), "groups", cat.Groups())

	var downloader fetch.Downloader = fetch.NewClient(fetch.Options{
		Timeout: cfg.FetchTimeout,
		Retries: cfg.FetchRetries,
		Rate:    cfg.FetchRate,
	}, logger, metrics)
	if cfg.CacheTTL > 0 {
		// a shared download may run every retry
		sharedTimeout := cfg.FetchTimeout * time.Duration(cfg.FetchRetries+1)
		downloader = fetch.NewCachedDownloader(downloader, cfg.CacheSize, cfg.CacheTTL, sharedTimeout, metrics)
		logger.Info("fetch cache enabled", "ttl", cfg.CacheTTL, "size", cfg.CacheSize)
	}

	// Initialize geocoder (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, logger, metrics)
		cached, err := mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		if err != nil {
			logger.Error("failed to create geocoder cache", "error", err)
			os.Exit(1)
		}
		geocoder = cached
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	loader := pipeline.NewLoader(fetch.NewFetcher(downloader), pipeline.Options{
		Geocoder:    geocoder,
		Location:    cfg.Location,
		Concurrency: cfg.FetchConcurrency,
	}, logger, metrics)

	clock := clockwork.NewRealClock()
	srv := httpadapter.NewServer(httpadapter.Options{
		Addr:        cfg.HTTPAddr,
		RecencyDays: cfg.RecencyDays,
		Location:    cfg.Location,
	}, cat, loader, clock, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Warm the fetch cache and flip readiness.
	go func() {
		if _, err := loader.Load(ctx, cat.All()); err != nil {
			logger.Warn("initial load aborted", "error", err)
		}
	}()

	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		job := pipeline.NewPublishJob(loader, cat.All(), writer, clock, logger, metrics)
		go func() {
			if err := job.Run(ctx, cfg.PublishSchedule, cfg.Location); err != nil {
				logger.Error("publish job error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

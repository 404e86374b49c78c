// Package main is the entry point for the audit pipeline API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/oversight-labs/auditpipe/internal/anomaly"
	"github.com/oversight-labs/auditpipe/internal/api"
	"github.com/oversight-labs/auditpipe/internal/archive"
	"github.com/oversight-labs/auditpipe/internal/audit"
	"github.com/oversight-labs/auditpipe/internal/chain"
	"github.com/oversight-labs/auditpipe/internal/config"
	"github.com/oversight-labs/auditpipe/internal/db"
	"github.com/oversight-labs/auditpipe/internal/dispatch"
	"github.com/oversight-labs/auditpipe/internal/features"
	"github.com/oversight-labs/auditpipe/internal/health"
	"github.com/oversight-labs/auditpipe/internal/ingest"
	"github.com/oversight-labs/auditpipe/internal/jobs"
	"github.com/oversight-labs/auditpipe/internal/middleware"
	"github.com/oversight-labs/auditpipe/internal/pipeline"
	"github.com/oversight-labs/auditpipe/internal/stats"
	"github.com/oversight-labs/auditpipe/internal/tracing"
)

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Audit Pipeline API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	summary := cfg.LogSummary()
	attrs := make([]any, 0, len(summary)*2)
	for k, v := range summary {
		attrs = append(attrs, k, v)
	}
	logger.Info("configuration loaded", attrs...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Distributed tracing
	if cfg.TracingEnabled {
		provider, err := tracing.NewProvider(tracing.Config{
			ServiceName:  "auditpipe-api",
			Enabled:      true,
			Environment:  cfg.Env,
			ExporterType: cfg.TracingExporterType,
			OTLPEndpoint: cfg.TracingOTLPEndpoint,
			SamplingRate: cfg.TracingSamplingRate,
			InsecureMode: cfg.TracingInsecure,
		})
		if err != nil {
			logger.Error("failed to initialize tracing", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logger.Error("tracing shutdown failed", "error", err)
			}
		}()
	}

	// Database and event store
	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	events := audit.NewPostgresStore(pool)

	// Redis (dedup, rate limiting). Optional.
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer redisClient.Close()
	}

	// Metrics
	registry := prometheus.NewRegistry()
	httpMetrics := middleware.NewMetrics()
	pipelineMetrics := pipeline.NewMetrics()
	dispatchMetrics := dispatch.NewMetrics()
	jobMetrics := jobs.NewMetrics()
	for name, reg := range map[string]interface {
		Register(prometheus.Registerer) error
	}{
		"http":     httpMetrics,
		"pipeline": pipelineMetrics,
		"dispatch": dispatchMetrics,
		"jobs":     jobMetrics,
	} {
		if err := reg.Register(registry); err != nil {
			logger.Error("failed to register metrics", "component", name, "error", err)
			os.Exit(1)
		}
	}

	// Historical statistics cache with background refresh
	cache := stats.NewCache(events, stats.CacheConfig{
		TTL:        time.Duration(cfg.StatsCacheTTLSeconds) * time.Second,
		WindowDays: cfg.HistoricalWindowDays,
		Logger:     logger,
	})
	refreshJob := stats.NewRefreshJob(stats.RefreshJobConfig{
		Logger:     logger,
		JobMetrics: jobMetrics,
	}, cache)
	if err := refreshJob.Start(ctx); err != nil {
		logger.Error("failed to start stats refresh job", "error", err)
		os.Exit(1)
	}
	defer refreshJob.Stop()

	// Detection pipeline
	extractor := features.NewExtractor(cache, logger)
	detector := anomaly.NewDetector(anomaly.DetectorConfig{
		Threshold: cfg.AnomalyThreshold,
		Logger:    logger,
	})
	detections := anomaly.NewInMemoryStore()
	ledger := chain.NewLedger(logger)

	dispatcher := dispatch.NewDispatcher(dispatch.Config{
		SlackWebhookURL:  cfg.SlackWebhookURL,
		TeamsWebhookURL:  cfg.TeamsWebhookURL,
		ZapierWebhookURL: cfg.ZapierWebhookURL,
		MaxRetries:       cfg.AlertMaxRetries,
		BaseDelay:        time.Duration(cfg.AlertBaseDelaySeconds) * time.Second,
		MaxDelay:         time.Duration(cfg.AlertMaxDelaySeconds) * time.Second,
		RequestTimeout:   time.Duration(cfg.AlertRequestTimeoutSeconds) * time.Second,
	}, logger, dispatch.WithMetrics(dispatchMetrics))

	var deduper dispatch.Deduper
	if redisClient != nil {
		deduper = dispatch.NewRedisDeduper(redisClient)
	} else {
		deduper = dispatch.NewInMemoryDeduper()
	}

	pipe := pipeline.New(events, ledger, extractor, detector, detections, dispatcher, logger, pipeline.Options{
		Deduper:     deduper,
		DedupWindow: time.Duration(cfg.AlertDedupWindowSeconds) * time.Second,
		Metrics:     pipelineMetrics,
	})

	// Websocket ingest feed (optional)
	if cfg.IngestFeedURL != "" {
		consumer, err := ingest.NewConsumer(
			ingest.DefaultConfig(cfg.IngestFeedURL),
			ingest.ProcessorFunc(func(ctx context.Context, e *audit.Event) error {
				_, err := pipe.Process(ctx, e)
				return err
			}),
			logger,
		)
		if err != nil {
			logger.Error("failed to create ingest consumer", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("ingest consumer stopped", "error", err)
			}
		}()
	}

	// Archive storage (optional)
	var archiveService *archive.Service
	if cfg.ArchiveBucketName != "" {
		archiveService, err = archive.NewService(events, archive.ServiceConfig{
			BucketName:      cfg.ArchiveBucketName,
			AccessKeyID:     cfg.ArchiveAccessKeyID,
			SecretAccessKey: cfg.ArchiveSecretAccessKey,
			Endpoint:        cfg.ArchiveEndpoint,
		}, logger)
		if err != nil {
			logger.Error("failed to create archive service", "error", err)
			os.Exit(1)
		}
	}

	// Health checkers
	healthCfg := api.HealthHandlersConfig{DBChecker: health.NewDBChecker(pool)}
	if redisClient != nil {
		healthCfg.RedisChecker = health.NewRedisChecker(redisClient)
	}

	mux := http.NewServeMux()
	api.Routes(mux, api.Handlers{
		Events:     api.NewEventHandlers(pipe, events),
		Detections: api.NewDetectionHandlers(detections),
		Chain:      api.NewChainHandlers(ledger),
		Stats:      api.NewStatsHandlers(cache),
		Archive:    api.NewArchiveHandlers(archiveService),
		Health:     api.NewHealthHandlers(healthCfg),
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// Rate limiting: Redis-backed fixed window when available, otherwise
	// per-instance in-memory counters.
	var limitStore middleware.RateLimitStore
	if redisClient != nil {
		limitStore = middleware.NewRedisRateLimitStore(redisClient).WithMetrics(httpMetrics)
	} else {
		memStore := middleware.NewInMemoryRateLimitStore()
		go func() {
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					memStore.Cleanup()
				}
			}
		}()
		limitStore = memStore
	}

	var handler http.Handler = mux
	handler = middleware.RateLimiter(limitStore, middleware.DefaultGlobalLimit(), middleware.IPKeyFunc())(handler)
	if len(cfg.CORSAllowedOrigins) > 0 {
		handler = middleware.CORS(middleware.CORSConfig{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
			MaxAge:         300,
		})(handler)
	}
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	handler = middleware.Logging(logger)(handler)
	if cfg.TracingEnabled {
		handler = middleware.Tracing("auditpipe-api")(handler)
	}
	handler = middleware.RequestID(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

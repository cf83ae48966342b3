// Package main is the entry point for the Placefeed API server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/placefeed/placefeed/internal/api"
	"github.com/placefeed/placefeed/internal/config"
	"github.com/placefeed/placefeed/internal/engine"
	"github.com/placefeed/placefeed/internal/geocode"
	"github.com/placefeed/placefeed/internal/health"
	"github.com/placefeed/placefeed/internal/kv"
	"github.com/placefeed/placefeed/internal/metrics"
	"github.com/placefeed/placefeed/internal/middleware"
	"github.com/placefeed/placefeed/internal/store"
	"github.com/placefeed/placefeed/internal/tracing"
)

const serviceName = "placefeed-api"

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("Placefeed API Server")
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
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "summary", cfg.LogSummary())

	tracerProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  serviceName,
		Enabled:      cfg.TracingEnabled,
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
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(ctx); err != nil {
			logger.Error("failed to shut down tracer provider", "error", err)
		}
	}()

	// Remote store: Postgres when configured, in-memory otherwise. The
	// in-memory store is for development; it starts empty.
	var (
		eventStore    store.EventStore
		businessStore store.BusinessStore
		dbChecker     api.HealthChecker
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := db.PingContext(pingCtx); err != nil {
			logger.Warn("database not reachable at startup, caches will serve stale data", "error", err)
		}
		cancel()

		pg := store.NewPostgresStore(db, logger)
		eventStore, businessStore = pg, pg
		dbChecker = health.NewDBChecker(db)
	} else {
		logger.Warn("DATABASE_URL not set, using empty in-memory store")
		mem := store.NewInMemoryStore()
		eventStore, businessStore = mem, mem
	}

	// Durable per-device store: Redis when configured, local files otherwise.
	var (
		device        kv.Store
		deviceChecker api.HealthChecker
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer client.Close()
		device = kv.NewRedisStore(client, cfg.DeviceID, logger)
		deviceChecker = health.NewRedisChecker(client)
	} else {
		fileStore, err := kv.NewFileStore(cfg.DeviceDataDir, logger)
		if err != nil {
			logger.Error("failed to open device data dir", "dir", cfg.DeviceDataDir, "error", err)
			os.Exit(1)
		}
		device = fileStore
	}

	registry := prometheus.NewRegistry()
	engineMetrics := metrics.NewMetrics()
	if err := engineMetrics.Register(registry); err != nil {
		logger.Error("failed to register engine metrics", "error", err)
		os.Exit(1)
	}
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(registry); err != nil {
		logger.Error("failed to register http metrics", "error", err)
		os.Exit(1)
	}

	var geocoder geocode.Geocoder
	if cfg.MapTilerAPIKey != "" {
		geocoder = geocode.NewMapTilerClient(cfg.MapTilerAPIKey, "", nil)
	} else {
		logger.Warn("MAPTILER_API_KEY not set, address resolution disabled")
	}

	svc := engine.NewService(engine.Deps{
		BusinessStore: businessStore,
		EventStore:    eventStore,
		Geocoder:      geocoder,
		Device:        device,
		Logger:        logger,
		Metrics:       engineMetrics,
		ReferenceTTL:  cfg.ReferenceTTL,
		WindowTTL:     cfg.WindowTTL,
		TargetCount:   cfg.TargetCount,
		MaxIterations: cfg.MaxIterations,
		BatchSize:     cfg.FilterBatchSize,
		EpsilonMeters: cfg.EpsilonMeters,
		GeocodeOpts: []geocode.Option{
			geocode.WithTTL(cfg.GeocodeTTL),
			geocode.WithTimeout(cfg.GeocodeTimeout),
		},
	})

	feedHandlers := api.NewFeedHandlers(svc, logger)
	healthHandlers := api.NewHealthHandlers(api.HealthHandlersConfig{
		DBChecker:     dbChecker,
		DeviceChecker: deviceChecker,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/feed", feedHandlers.Feed)
	mux.HandleFunc("/feed/more", feedHandlers.More)
	mux.HandleFunc("/feed/refresh", feedHandlers.Refresh)
	mux.HandleFunc("/feed/filter", feedHandlers.Filter)
	mux.HandleFunc("/diagnostics", feedHandlers.Diagnostics)
	mux.HandleFunc("/cache/clear", feedHandlers.ClearCache)
	mux.HandleFunc("/cache/refresh", feedHandlers.RefreshCache)
	mux.HandleFunc("/preferences/map-center", feedHandlers.MapCenter)
	mux.HandleFunc("/preferences/location-filter", feedHandlers.LocationFilter)
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
			api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"placefeed-api","version":"0.0.1"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	// Apply middleware: CORS -> RequestID -> Logging -> HTTPMetrics -> Tracing
	handler := middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		MaxAge:         300,
	})(middleware.RequestID(
		middleware.Logging(logger)(
			middleware.HTTPMetrics(httpMetrics)(
				middleware.Tracing(serviceName)(
					middleware.Profiling(middleware.ProfilingConfig{
						Enabled:     cfg.Env == "development",
						Environment: cfg.Env,
					})(mux),
				),
			),
		),
	))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

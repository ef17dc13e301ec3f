package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/docutag/taxonomy"
	"github.com/docutag/taxonomy/api"
	"github.com/docutag/taxonomy/db"
	"github.com/docutag/taxonomy/metrics"
	"github.com/docutag/taxonomy/storage"
	"github.com/docutag/taxonomy/tracing"
)

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvFloat parses a float environment variable, warning and falling back on bad input
func getEnvFloat(logger *slog.Logger, key string, defaultValue float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		logger.Warn("invalid "+key+" value, using default", "provided", raw, "default", defaultValue, "error", err)
		return defaultValue
	}
	return v
}

// getEnvInt parses an integer environment variable, warning and falling back on bad input
func getEnvInt(logger *slog.Logger, key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		logger.Warn("invalid "+key+" value, using default", "provided", raw, "default", defaultValue, "error", err)
		return defaultValue
	}
	return v
}

// getEnvBool parses a boolean environment variable, warning and falling back on bad input
func getEnvBool(logger *slog.Logger, key string, defaultValue bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		logger.Warn("invalid "+key+" value, using default", "provided", raw, "default", defaultValue, "error", err)
		return defaultValue
	}
	return v
}

// parseLevel maps LOG_LEVEL onto a slog level, defaulting to info
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// databaseConfig resolves the database from the environment. ok is false when persistence is disabled.
func databaseConfig() (cfg db.Config, ok bool) {
	driver := getEnv("DB_DRIVER", "")
	dsn := getEnv("DB_DSN", "")
	dbHost := getEnv("DB_HOST", "")

	if driver == "" {
		switch {
		case dbHost != "":
			driver = string(db.Postgres)
		case dsn != "":
			driver = string(db.SQLite)
		default:
			return db.Config{}, false
		}
	}

	if dsn == "" {
		switch db.Dialect(driver) {
		case db.Postgres:
			if dbHost == "" {
				dbHost = "localhost"
			}
			dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
				dbHost,
				getEnv("DB_PORT", "5432"),
				getEnv("DB_USER", "docutag"),
				getEnv("DB_PASSWORD", "docutag_dev_pass"),
				getEnv("DB_NAME", "taxonomy"),
			)
		default:
			dsn = db.DefaultConfig().DSN
		}
	}

	return db.Config{Driver: driver, DSN: dsn}, true
}

// newStore creates the report store selected by STORAGE_BACKEND, or nil for none
func newStore(ctx context.Context, backend string) (storage.Store, error) {
	switch backend {
	case "", "none":
		return nil, nil
	case "fs":
		return storage.New(storage.Config{
			BasePath: getEnv("STORAGE_BASE_PATH", storage.DefaultConfig().BasePath),
		})
	case "s3":
		usePathStyle, _ := strconv.ParseBool(getEnv("S3_USE_PATH_STYLE", "false"))
		return storage.NewS3Storage(ctx, storage.S3Config{
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			Region:          getEnv("S3_REGION", ""),
			Bucket:          getEnv("S3_BUCKET", ""),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			UsePathStyle:    usePathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", backend)
	}
}

func main() {
	// Optional .env file; real environment variables win
	_ = godotenv.Load()

	// Setup structured logging with JSON output
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(getEnv("LOG_LEVEL", "info")),
	}))
	slog.SetDefault(logger)

	logger.Info("taxonomy service initializing", "version", "1.0.0")

	// Initialize tracing
	tp, err := tracing.InitTracer("docutag-taxonomy")
	if err != nil {
		logger.Warn("failed to initialize tracer, continuing without tracing", "error", err)
	} else {
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Error("error shutting down tracer", "error", err)
			}
		}()
		logger.Info("tracing initialized successfully")
	}

	defaults := taxonomy.DefaultConfig()

	// Command-line flags (override environment variables)
	port := flag.String("port", getEnv("PORT", "8080"), "Server port")
	minConfidence := flag.Float64("min-confidence",
		getEnvFloat(logger, "MIN_CONFIDENCE", defaults.Matcher.MinConfidence),
		"Minimum confidence for a match (0.0-1.0)")
	maxDepthWarning := flag.Int("max-depth-warning",
		getEnvInt(logger, "MAX_DEPTH_WARNING", defaults.Hierarchy.MaxDepthWarning),
		"Hierarchy depth above which a warning is emitted")
	requireSameDomain := flag.Bool("require-same-domain",
		getEnvBool(logger, "REQUIRE_SAME_DOMAIN", defaults.Matcher.Similarity.RequireSameDomain),
		"Only match URLs on the same registrable domain")
	storageBackend := flag.String("storage", getEnv("STORAGE_BACKEND", "none"), "Report storage backend (fs, s3, none)")
	disableCORS := flag.Bool("disable-cors", false, "Disable CORS")
	flag.Parse()

	config := defaults
	config.Matcher.MinConfidence = *minConfidence
	config.Matcher.Similarity.RequireSameDomain = *requireSameDomain
	config.Hierarchy.MaxDepthWarning = *maxDepthWarning

	// Prometheus registry shared by core and database metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	service, err := taxonomy.New(config,
		taxonomy.WithLogger(logger),
		taxonomy.WithMetrics(metrics.New(registry)),
	)
	if err != nil {
		logger.Error("invalid taxonomy configuration", "error", err)
		os.Exit(1)
	}

	opts := []api.Option{api.WithLogger(logger), api.WithGatherer(registry)}

	// Database (optional)
	var database *db.DB
	if dbConfig, ok := databaseConfig(); ok {
		database, err = db.New(dbConfig)
		if err != nil {
			logger.Error("failed to initialize database", "driver", dbConfig.Driver, "error", err)
			os.Exit(1)
		}
		opts = append(opts, api.WithDB(database))
		logger.Info("database initialized", "driver", dbConfig.Driver)
	} else {
		logger.Info("no database configured, persistence disabled")
	}

	// Report storage (optional)
	store, err := newStore(context.Background(), *storageBackend)
	if err != nil {
		logger.Error("failed to initialize storage", "backend", *storageBackend, "error", err)
		os.Exit(1)
	}
	if store != nil {
		opts = append(opts, api.WithStorage(store))
		logger.Info("report storage initialized", "backend", *storageBackend)
	}

	server, err := api.NewServer(api.Config{
		Addr:        ":" + *port,
		CORSEnabled: !*disableCORS,
	}, service, opts...)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	// Initialize database metrics
	if database != nil {
		dbMetrics := metrics.NewDatabaseMetrics("taxonomy", registry)
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for range ticker.C {
				dbMetrics.UpdateDBStats(database.DB())
			}
		}()
		logger.Info("database metrics initialized")
	}

	// Start server in a goroutine
	go func() {
		logger.Info("taxonomy service starting",
			"port", *port,
			"min_confidence", config.Matcher.MinConfidence,
			"require_same_domain", config.Matcher.Similarity.RequireSameDomain,
			"max_depth_warning", config.Hierarchy.MaxDepthWarning,
			"persistence_enabled", database != nil,
			"storage_backend", *storageBackend,
		)

		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Graceful shutdown
	logger.Info("shutting down gracefully")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

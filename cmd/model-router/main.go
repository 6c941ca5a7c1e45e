package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/model-router/internal/cache"
	"github.com/tributary-ai/model-router/internal/catalog"
	"github.com/tributary-ai/model-router/internal/config"
	"github.com/tributary-ai/model-router/internal/experiment"
	"github.com/tributary-ai/model-router/internal/metrics"
	"github.com/tributary-ai/model-router/internal/monitoring"
	"github.com/tributary-ai/model-router/internal/routing"
	"github.com/tributary-ai/model-router/internal/server"
	"github.com/tributary-ai/model-router/internal/shadow"
)

// Application represents the main application
type Application struct {
	config *config.Config
	server *server.Server
	cache  *cache.AdaptiveCache
	logger *logrus.Logger
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := logrus.New()
	if err := setupLogger(logger, cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	// Build the routing core
	cat := catalog.New(cfg.Catalog.Models)
	store := metrics.NewStore(cat, logger)
	experiments := experiment.NewManager(logger)
	sink := monitoring.NewPrometheusSink(prometheus.DefaultRegisterer)

	var shadowEval *shadow.Evaluator
	if cfg.Shadow.Enabled {
		shadowEval = shadow.NewEvaluator(cat, cfg.Shadow.Weights, cfg.Shadow.MinQuality,
			cfg.Shadow.HistorySize, true, logger)
		logger.Info("Shadow cost-aware evaluation enabled")
	}

	routerInstance := routing.New(cfg.Router, cat, store, experiments, shadowEval, sink, logger)

	// Build the semantic cache
	var semanticCache *cache.AdaptiveCache
	if cfg.Cache.Enabled {
		semanticCache, err = buildCache(cfg, sink, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize semantic cache: %w", err)
		}
	}

	// Create server
	serverInstance, err := server.NewServer(server.Deps{
		Router:      routerInstance,
		Catalog:     cat,
		Store:       store,
		Experiments: experiments,
		Shadow:      shadowEval,
		Cache:       semanticCache,
		Sink:        sink,
	}, toServerConfig(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	return &Application{
		config: cfg,
		server: serverInstance,
		cache:  semanticCache,
		logger: logger,
	}, nil
}

// buildCache wires the configured backend and embedder into the adaptive
// cache. External backends get a circuit breaker.
func buildCache(cfg *config.Config, sink monitoring.Sink, logger *logrus.Logger) (*cache.AdaptiveCache, error) {
	var (
		backend cache.Backend
		err     error
	)
	switch cfg.Cache.Backend {
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		backend, err = cache.NewRedisBackend(ctx, cfg.Cache.Redis.Addr, cfg.Cache.Redis.Password, cfg.Cache.Redis.DB)
		if err != nil {
			return nil, err
		}
		backend = cache.NewBreakerBackend(backend)
	case "sqlite":
		backend, err = cache.NewSQLiteBackend(cfg.Cache.SQLite.Path)
		if err != nil {
			return nil, err
		}
		backend = cache.NewBreakerBackend(backend)
	default:
		backend = cache.NewMemoryBackend()
	}

	var embedder cache.Embedder
	if cfg.Cache.Embedder == "openai" {
		embedder = cache.NewOpenAIEmbedder(cfg.Cache.OpenAI.APIKey)
	} else {
		embedder = cache.NewHashEmbedder()
	}

	logger.WithFields(logrus.Fields{
		"backend":  cfg.Cache.Backend,
		"embedder": cfg.Cache.Embedder,
	}).Info("Semantic cache initialized")

	return cache.NewAdaptiveCache(cfg.Cache.Tuning, backend, embedder, sink, logger), nil
}

func toServerConfig(cfg *config.Config) *server.ServerConfig {
	return &server.ServerConfig{
		Port:           cfg.Server.Port,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		ValidateSpec:   cfg.Server.ValidateSpec,
		SpecPath:       cfg.Server.SpecPath,
	}
}

// Run starts the application
func (app *Application) Run() error {
	app.logger.Info("Starting model router")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		app.logger.WithField("address", ":"+app.config.Server.Port).Info("HTTP server starting")
		if err := app.server.Start(); err != nil {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		app.logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	}

	// Graceful shutdown
	app.logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := app.server.Stop(shutdownCtx); err != nil {
		app.logger.WithError(err).Error("Server shutdown error")
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if app.cache != nil {
		if err := app.cache.Close(); err != nil {
			app.logger.WithError(err).Warn("Cache backend close error")
		}
	}

	app.logger.Info("Graceful shutdown completed")
	return nil
}

// setupLogger configures the logger based on configuration
func setupLogger(logger *logrus.Logger, config config.LoggingConfig) error {
	// Set log level
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", config.Level, err)
	}
	logger.SetLevel(level)

	// Set log format
	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	default:
		return fmt.Errorf("invalid log format: %s", config.Format)
	}

	// Set output
	switch config.Output {
	case "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		// Assume it's a file path
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", config.Output, err)
		}
		logger.SetOutput(file)
	}

	return nil
}

// printUsage prints application usage information
func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
	fmt.Fprintf(os.Stderr, "  MODEL_ROUTER_PORT            Server port (default: 8080)\n")
	fmt.Fprintf(os.Stderr, "  MODEL_ROUTER_LOG_LEVEL       Log level (debug,info,warn,error,fatal)\n")
	fmt.Fprintf(os.Stderr, "  MODEL_ROUTER_LOG_FORMAT      Log format (json,text)\n")
	fmt.Fprintf(os.Stderr, "  MODEL_ROUTER_CACHE_BACKEND   Cache backend (memory,redis,sqlite)\n")
	fmt.Fprintf(os.Stderr, "  MODEL_ROUTER_REDIS_ADDR      Redis address for the cache backend\n")
	fmt.Fprintf(os.Stderr, "  OPENAI_API_KEY               API key for the openai embedder\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  %s --config configs/config.yaml\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  MODEL_ROUTER_CACHE_BACKEND=sqlite %s\n", os.Args[0])
}

func main() {
	// Parse command line flags
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		showHelp   = flag.Bool("help", false, "Show help message")
		version    = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	if *version {
		fmt.Printf("Model Router v1.0.0\n")
		os.Exit(0)
	}

	// Create and run application
	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(1)
	}
}

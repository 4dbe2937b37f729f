// Package main is the entry point for the slice placement service.
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
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sliceorch/placement/internal/config"
	"github.com/sliceorch/placement/internal/monitoring"
	"github.com/sliceorch/placement/internal/repository/csvfile"
	"github.com/sliceorch/placement/internal/repository/etcd"
	"github.com/sliceorch/placement/internal/repository/memory"
	"github.com/sliceorch/placement/internal/repository/postgres"
	"github.com/sliceorch/placement/internal/repository/redis"
	"github.com/sliceorch/placement/internal/scheduler"
	"github.com/sliceorch/placement/internal/server"
	metricsservice "github.com/sliceorch/placement/internal/services/metrics"
	placementservice "github.com/sliceorch/placement/internal/services/placement"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Println("Slice Placement Service")
		fmt.Println("Version:", version)
		fmt.Println("Commit:", commit)
		fmt.Println("Build Date:", buildDate)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load config:", err.Error())
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	defer logger.Sync()

	logger.Info("Starting Slice Placement Service",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("metrics_source", cfg.Metrics.Source),
	)

	// Setup signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received signal", zap.String("signal", sig.String()))
		cancel()
	}()

	srv, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}

	// Run server
	if err := srv.Run(ctx); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}

	logger.Info("Goodbye!")
}

// build wires the metrics source, the optional infrastructure and the
// services into a server.
func build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*server.Server, error) {
	var (
		opts        []server.ServerOption
		store       scheduler.MetricsRepository
		recorder    metricsservice.Recorder
		invalidator metricsservice.Invalidator
	)

	// Metrics source
	switch cfg.Metrics.Source {
	case config.MetricsSourcePostgres:
		db, err := postgres.NewDB(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		repo := postgres.NewMetricsRepository(db, logger)
		store, recorder = repo, repo
		opts = append(opts,
			server.WithPostgreSQL(db),
			server.WithTask(func(ctx context.Context) error {
				return metricsservice.RunRetention(ctx, repo, cfg.Metrics.Retention, 0, logger)
			}),
		)

	case config.MetricsSourceCSV:
		store = csvfile.NewMetricsRepository(cfg.Metrics.CSVPath, logger)

	default:
		repo := memory.NewMetricsRepository(cfg.Metrics.Retention)
		if cfg.Metrics.SeedDemo {
			repo.SeedDemoData(time.Now())
			logger.Info("Seeded demo worker metrics", zap.Strings("workers", repo.Workers()))
		}
		store, recorder = repo, repo
	}

	// Redis cache and decision events
	var events *redis.PlacementEvents
	if cfg.Redis.Enabled {
		cache, err := redis.NewCache(cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		cached := redis.NewCachedMetricsRepository(store, cache, cfg.Metrics.CacheTTL, logger)
		store, invalidator = cached, cached
		if cfg.Redis.EventsChannel != "" {
			events = redis.NewPlacementEvents(cache, cfg.Redis.EventsChannel, logger)
			opts = append(opts, server.WithEventStream(events))
		}
		opts = append(opts, server.WithRedis(cache))
	}

	// Prometheus
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	monitor := monitoring.NewMonitor(registry)

	sched := scheduler.New(store, scheduler.DefaultZones(), cfg.Placement.SchedulerConfig(), logger)

	placementOpts := []placementservice.Option{placementservice.WithMonitor(monitor)}
	if events != nil {
		placementOpts = append(placementOpts, placementservice.WithEvents(events))
	}

	// Cross-replica serialization
	if cfg.Placement.Serialize {
		client, err := etcd.NewClient(cfg.Etcd, logger)
		if err != nil {
			return nil, err
		}
		locker := etcd.NewMutexLocker(client, placementservice.LockName, cfg.Placement.LockTimeout)
		placementOpts = append(placementOpts, placementservice.WithLocker(locker))
		opts = append(opts, server.WithEtcd(client))
	}

	placement := placementservice.NewService(sched, logger, placementOpts...)
	metrics := metricsservice.NewService(recorder, invalidator, monitor, logger)

	opts = append(opts,
		server.WithMetricsService(metrics),
		server.WithRegistry(registry),
	)
	return server.New(cfg, placement, logger, opts...), nil
}

// setupLogger configures the zap logger based on configuration.
func setupLogger(cfg config.LoggingConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapConfig zap.Config
	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	zapConfig.Level = zap.NewAtomicLevelAt(level)
	if cfg.Output != "" {
		zapConfig.OutputPaths = []string{cfg.Output}
	}

	logger, err := zapConfig.Build()
	if err != nil {
		panic("Failed to create logger: " + err.Error())
	}

	return logger
}

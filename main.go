package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"proteinml/config"
	"proteinml/db"
	phttp "proteinml/http"
	"proteinml/logging"
	"proteinml/ml"
	"proteinml/monitoring"
	"proteinml/properties"
	"proteinml/service"
)

func main() {
	configPath := "config.yaml"
	if p := os.Getenv("PROTEIN_ML_CONFIG"); p != "" {
		configPath = p
	}

	// 1. Load config
	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("service stopped", zap.Error(err))
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("%s not found, using defaults", path)
		return config.Default(), nil
	}
	return cfg, err
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Initialize database
	store, err := db.Open(cfg.Database.Path, cfg.Database.EnableWAL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()
	logger.Info("database initialized", zap.String("path", cfg.Database.Path))

	// 3. Models
	registry, err := ml.NewRegistry(cfg.ML.RegistryOptions(), logger)
	if err != nil {
		return fmt.Errorf("model registry: %w", err)
	}
	defer registry.Close()
	if err := registry.Activate(cfg.ML.DefaultModel); err != nil {
		// predictions report "Model Not Available" until a model is activated
		logger.Warn("default model not loaded", zap.String("model", cfg.ML.DefaultModel), zap.Error(err))
	}
	if cfg.ML.Watch {
		go func() {
			if err := registry.Watch(ctx); err != nil {
				logger.Error("model watcher stopped", zap.Error(err))
			}
		}()
	}

	hub := monitoring.NewHub(logger)
	go hub.Run(ctx)

	svc, err := service.New(service.Options{
		Scheme:    cfg.Align.Scheme(),
		MaxCells:  cfg.Align.MaxCells,
		Workers:   cfg.Align.Workers,
		MaxPairs:  cfg.Align.MaxPairs,
		CacheSize: cfg.Cache.Size,
	}, service.Deps{
		Models: registry,
		Properties: &properties.CommandCalculator{
			Command: cfg.Properties.Command,
			Args:    cfg.Properties.Args,
			Timeout: cfg.Properties.Timeout,
			Retries: cfg.Properties.Retries,
			Logger:  logger,
		},
		Store:  store,
		Hub:    hub,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	// 4. Start HTTP server
	server := phttp.NewServer(phttp.ServerConfigFrom(cfg.Http), svc, hub, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// 5. Handle graceful shutdown
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	if err := server.Stop(); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}
	logger.Info("exiting")
	return nil
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gaiageo/gaia/internal/config"
	"github.com/gaiageo/gaia/internal/logger"
	"github.com/gaiageo/gaia/internal/model"
	"github.com/gaiageo/gaia/internal/repository"
	"github.com/gaiageo/gaia/internal/storage"
	"github.com/gaiageo/gaia/internal/worker"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger.SetDefaultLogger(logger.NewDefault())
	defer logger.Sync()
	appLog := logger.GetDefault()

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to initialize database")
	}

	// Initialize storage
	objectStorage, err := storage.NewS3Storage(&storage.S3Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
	})
	if err != nil {
		appLog.WithError(err).Fatal("Failed to initialize storage")
	}

	// Initialize the external model client
	modelClient := model.NewHTTPClient(&model.Config{
		BaseURL:       cfg.Model.BaseURL,
		APIKey:        cfg.Model.APIKey,
		Timeout:       cfg.Model.Timeout,
		RetryCount:    cfg.Model.RetryCount,
		RetryWaitTime: cfg.Model.RetryWaitTime,
		RetryMaxWait:  cfg.Model.RetryMaxWait,
	})

	// Wire the pipeline
	jobRepo := repository.NewJobRepository(db)
	stager := storage.NewStager(objectStorage)
	orch := worker.NewOrchestrator(jobRepo, stager, modelClient, cfg.Worker)
	pool := worker.NewPool(jobRepo, orch, cfg.Worker.Pool, cfg.Worker.ScanInterval)

	// Run until interrupted; in-flight stages drain before exit
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		appLog.Info("Shutting down worker pool...")
		cancel()
	}()

	pool.Run(ctx)
	appLog.Info("Worker exited")
}

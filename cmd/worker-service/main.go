package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/joetabora/CreatorCast/db"
	"github.com/joetabora/CreatorCast/internal/config"
	"github.com/joetabora/CreatorCast/internal/upload/credentials"
	"github.com/joetabora/CreatorCast/internal/upload/dispatcher"
	"github.com/joetabora/CreatorCast/internal/upload/janitor"
	"github.com/joetabora/CreatorCast/internal/upload/platform"
	"github.com/joetabora/CreatorCast/internal/upload/scheduler"
	"github.com/joetabora/CreatorCast/internal/upload/store"
	"github.com/joetabora/CreatorCast/internal/upload/video"
	"github.com/joetabora/CreatorCast/shared/logger"
	"github.com/joetabora/CreatorCast/shared/postgresql"
	"github.com/joetabora/CreatorCast/shared/rabbitmq"
	"github.com/joetabora/CreatorCast/shared/redisq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	if cfg.Database.RunMigrations {
		if err := dbClient.Migrate(context.Background(), db.Migrations, "migrations"); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		appLogger.Info("Database migrations applied")
	}

	// Initialize Redis client for the delay set
	redisClient, err := initRedis(&cfg.Redis, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}

	appLogger.Info("Redis connection established")

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	// Wire the processing pipeline
	jobStore := store.New(dbClient, appLogger.Logger)
	credStore := credentials.NewPostgresStore(dbClient)
	videoResolver := video.NewStoreResolver(dbClient)

	httpClient := &http.Client{
		Timeout: cfg.Upload.PlatformTimeout,
	}

	registry := platform.NewRegistry(
		platform.NewYouTube(credStore, httpClient, appLogger.Logger),
		platform.NewTikTok(credStore, httpClient, appLogger.Logger),
		platform.NewInstagram(credStore, httpClient, appLogger.Logger),
		platform.NewFacebook(credStore, httpClient, appLogger.Logger),
		platform.NewX(credStore, httpClient, appLogger.Logger),
	)

	jobScheduler := scheduler.New(redisClient, rabbitClient, jobStore, scheduler.Config{
		BaseRetryDelay: cfg.Upload.BaseRetryDelay,
		PollInterval:   cfg.Scheduler.PollInterval,
		BatchSize:      cfg.Scheduler.BatchSize,
	}, appLogger.Logger)

	processor := dispatcher.NewProcessor(
		jobStore,
		videoResolver,
		registry,
		jobScheduler,
		cfg.Upload.PlatformTimeout,
		appLogger.Logger,
	)

	dispatcherInstance := dispatcher.New(&dispatcher.Config{
		Logger:       appLogger.Logger,
		RabbitClient: rabbitClient,
		Processor:    processor,
		Concurrency:  cfg.Worker.Concurrency,
	})

	pruner := janitor.New(jobStore, janitor.Config{
		Interval:           cfg.Janitor.Interval,
		CompletedRetention: cfg.Janitor.CompletedRetention,
		FailedRetention:    cfg.Janitor.FailedRetention,
	}, appLogger.Logger)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Re-seed admissions owed to the queue before consuming. Jobs whose
	// ready-at passed while no worker was up are published here.
	if err := jobScheduler.Recover(ctx); err != nil {
		appLogger.Error("Failed to recover delayed admissions",
			slog.Any("error", err),
		)
	}

	// Start delayed-admission polling and housekeeping
	go jobScheduler.Run(ctx)
	go pruner.Run(ctx)

	// Start dispatcher in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := dispatcherInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Dispatcher error",
			slog.Any("error", err),
		)
		return err
	}

	// Cancel context to stop the dispatcher, scheduler, and janitor
	cancel()

	// Give the dispatcher time to shutdown gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	// Stop dispatcher
	done := make(chan struct{})
	go func() {
		dispatcherInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Dispatcher stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Dispatcher shutdown timeout exceeded, forcing exit")
	}

	// Cleanup function to close all resources
	cleanup := func() {
		if dbClient != nil {
			dbClient.Close()
		}
		if redisClient != nil {
			redisClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	cleanup()

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRedis initializes the Redis client backing the delay set
func initRedis(cfg *config.RedisConfig, logger *slog.Logger) (*redisq.Client, error) {
	redisConfig := &redisq.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	return redisq.NewClient(redisConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:              cfg.Host,
		Port:              cfg.Port,
		User:              cfg.User,
		Password:          cfg.Password,
		VHost:             cfg.VHost,
		ExchangeName:      cfg.Exchange,
		ExchangeType:      cfg.ExchangeType,
		QueueName:         cfg.Queue,
		RoutingKey:        cfg.RoutingKey,
		RetryAttempts:     cfg.RetryAttempts,
		RetryInterval:     cfg.RetryInterval,
		Heartbeat:         cfg.Heartbeat,
		PrefetchCount:     cfg.PrefetchCount,
		PublishRetries:    cfg.PublishRetries,
		PublishRetryDelay: cfg.PublishRetryDelay,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

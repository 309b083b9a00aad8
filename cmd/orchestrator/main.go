package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cuongbtq/docjobs/internal/config"
	"github.com/cuongbtq/docjobs/internal/dispatch"
	"github.com/cuongbtq/docjobs/internal/queue"
	"github.com/cuongbtq/docjobs/internal/schedule"
	"github.com/cuongbtq/docjobs/internal/store"
	"github.com/cuongbtq/docjobs/internal/webhook"
	"github.com/cuongbtq/docjobs/internal/worker"
	"github.com/cuongbtq/docjobs/shared/logger"
	"github.com/cuongbtq/docjobs/shared/postgresql"
	"github.com/cuongbtq/docjobs/shared/rabbitmq"
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
	defaultConfigPath := os.Getenv("DOCJOBS_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/orchestrator/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting orchestrator",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Select the job store backend
	var (
		jobStore store.Store
		dbClient *postgresql.Client
	)
	switch cfg.Queue.Store {
	case config.StorePostgres:
		dbClient, err = initPostgreSQL(&cfg.Database, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer dbClient.Close()

		pgStore := store.NewPostgresStore(dbClient.GetDB(), appLogger.Logger)
		if err := pgStore.EnsureSchema(context.Background()); err != nil {
			return fmt.Errorf("failed to ensure jobs schema: %w", err)
		}
		jobStore = pgStore
		appLogger.Info("Using PostgreSQL job store")
	default:
		jobStore = store.NewMemoryStore()
		appLogger.Info("Using in-memory job store")
	}

	// Webhook dispatcher receives every job lifecycle transition
	hooks := webhook.NewDispatcher(webhook.Config{
		MaxRetries: cfg.Webhook.MaxRetries,
		RetryDelay: cfg.Webhook.RetryDelay,
		Timeout:    cfg.Webhook.Timeout,
	}, appLogger.Logger)

	// Tools are registered by the embedding service; the registry starts empty.
	registry := worker.NewRegistry(appLogger.Logger)

	jobQueue := queue.New(queue.Config{
		Workers:         cfg.Queue.Workers,
		QueueSize:       cfg.Queue.QueueSize,
		MaxRetries:      cfg.Queue.MaxRetries,
		RetryDelay:      cfg.Queue.RetryDelay,
		CleanupInterval: cfg.Queue.CleanupInterval,
		Retention:       cfg.Queue.Retention,
	}, jobStore, registry, hooks, appLogger.Logger)

	// Optional AMQP transport: submissions publish job IDs, a consumer feeds
	// the local pool. Without it, submissions feed the pool directly.
	var (
		rabbitClient *rabbitmq.Client
		consumer     *dispatch.Consumer
	)
	if cfg.Queue.Transport == config.TransportRabbitMQ {
		rabbitClient, err = initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		jobQueue.SetDispatcher(dispatch.NewPublisher(rabbitClient, appLogger.Logger))

		consumer = dispatch.NewConsumer(rabbitClient, jobQueue, cfg.RabbitMQ.Consumer.PrefetchCount, appLogger.Logger)
		if err := consumer.Start(cfg.App.Name); err != nil {
			return fmt.Errorf("failed to start dispatch consumer: %w", err)
		}
		appLogger.Info("RabbitMQ transport enabled")
	}

	jobQueue.Start()

	scheduler := schedule.NewManager(schedule.Config{
		CleanupInterval: cfg.Scheduler.CleanupInterval,
		Retention:       cfg.Scheduler.Retention,
		StepTimeout:     cfg.Scheduler.StepTimeout,
	}, jobQueue, appLogger.Logger)
	scheduler.Start()

	appLogger.Info("Orchestrator started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	appLogger.Info("Received signal, shutting down gracefully",
		slog.String("signal", sig.String()),
	)

	// Give components time to shutdown gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		scheduler.Stop()
		if consumer != nil {
			consumer.Stop()
		}
		jobQueue.Stop()
		hooks.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Orchestrator stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Orchestrator shutdown complete")
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

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cardpay-pipeline/internal/config"
	"github.com/cardpay-pipeline/internal/data/mongo"
	"github.com/cardpay-pipeline/internal/data/postgres"
	limitledger "github.com/cardpay-pipeline/internal/limit_ledger"
	"github.com/cardpay-pipeline/internal/logger"
	"github.com/cardpay-pipeline/internal/platform/chain"
	"github.com/cardpay-pipeline/internal/platform/messaging/consumers"
	"github.com/cardpay-pipeline/internal/platform/messaging/producers"
	"github.com/cardpay-pipeline/internal/platform/persistence"
	"github.com/cardpay-pipeline/internal/settlement_worker/components"
	"github.com/cardpay-pipeline/internal/settlement_worker/consumer"
	"github.com/cardpay-pipeline/internal/settlement_worker/reconciler"
	"github.com/cardpay-pipeline/internal/settlement_worker/service"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("settlement_worker")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

	log.Info("Starting Settlement Worker",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
	)

	// Initialize databases with app context
	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}

	mongoDB, err := persistence.NewMongoDB(appCtx, log, &cfg.MongoDB)
	if err != nil {
		log.Error("Failed to initialize MongoDB", "error", err)
		os.Exit(1)
	}

	// Initialize repositories
	txRepo := postgres.NewTransactionRepository(log, postgresDB)
	cardRepo := postgres.NewCardRepository(log, postgresDB)
	jobRepo := postgres.NewSettlementJobRepository(log, postgresDB)
	reservationRepo := postgres.NewReservationRepository(log, postgresDB)
	transitionRepo := mongo.NewTransitionRepository(log, mongoDB.Database())

	// Initialize the spending-limit ledger
	ledger, err := limitledger.NewLedgerService(postgresDB, cardRepo, reservationRepo, log, &cfg.Limits)
	if err != nil {
		log.Error("Failed to initialize limit ledger", "error", err)
		os.Exit(1)
	}

	// Initialize the chain client
	chainClient := chain.NewSolanaClient(log, &cfg.Chain)

	// Initialize Kafka consumer
	kafkaConsumer := consumers.NewKafkaConsumer(appCtx, log, &cfg.Kafka)

	// Initialize Kafka DLQ producer
	dlqProducer, err := producers.NewDLQProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize DLQ Kafka producer", "error", err)
		os.Exit(1)
	}
	// dlqProducer might be nil if DLQTopic is not configured. Handler should be nil-safe.

	// Initialize the settlement pipeline
	finalizer := components.NewFinalizer(
		log,
		&cfg.Chain,
		postgresDB,
		txRepo,
		jobRepo,
		transitionRepo,
		ledger,
	)
	settlementService := service.NewSettlementService(
		log,
		postgresDB,
		jobRepo,
		txRepo,
		transitionRepo,
		chainClient,
		finalizer,
	)
	workerPoolService, err := service.NewWorkerPoolSettlementService(
		settlementService,
		service.WorkerPoolConfig{Size: cfg.WorkerPool.Size},
		log,
	)
	if err != nil {
		log.Error("Failed to initialize worker pool", "error", err)
		os.Exit(1)
	}

	// Initialize settlement event handler
	settlementEventHandler := consumer.NewSettlementEventHandler(
		log,
		workerPoolService,
		dlqProducer,
	)

	// Initialize reconciler
	rec := reconciler.NewReconciler(
		log,
		&cfg.Reconciler,
		&cfg.Limits,
		jobRepo,
		txRepo,
		ledger,
		workerPoolService,
	)

	// Create error channel for service errors
	errChan := make(chan error, 2)

	// Create wait group for graceful shutdown
	var wg sync.WaitGroup

	// Start Kafka consumer in a goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("Starting Kafka consumer",
			"topic", cfg.Kafka.SettlementTopic,
			"group", cfg.Kafka.ConsumerGroup,
		)
		if err := kafkaConsumer.Subscribe(appCtx, cfg.Kafka.SettlementTopic, cfg.Kafka.ConsumerGroup, settlementEventHandler.HandleMessage); err != nil {
			errChan <- fmt.Errorf("kafka consumer error: %w", err)
		}
	}()

	// Start reconciler in a goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("Starting settlement reconciler",
			"interval", cfg.Reconciler.PollingInterval.String(),
			"batch_size", cfg.Reconciler.BatchSize,
		)
		rec.Start(appCtx)
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serviceErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Service error occurred", "error", err)
		serviceErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	// Shutdown the worker pool
	log.Info("Shutting down worker pool", "running_workers", workerPoolService.Running())
	workerPoolService.Shutdown()

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	// Wait for all goroutines to finish
	log.Info("Waiting for services to stop...")
	wgChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(wgChan)
	}()

	select {
	case <-wgChan:
		log.Info("All services stopped successfully")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout reached, forcing exit")
	}

	// Close DLQ Kafka producer
	if dlqProducer != nil { // dlqProducer can be nil if DLQTopic was not configured
		if err = dlqProducer.Close(); err != nil {
			log.Error("Error closing DLQ Kafka producer", "error", err)
		}
	}

	// Close Kafka consumer
	if err = kafkaConsumer.Close(); err != nil {
		log.Error("Error closing Kafka consumer", "error", err)
	}

	// Shutdown postgres connection pool
	postgresDB.Close()

	// Close MongoDB connection
	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	// Final status
	if serviceErr != nil {
		log.Error("Settlement Worker shutdown with errors", "error", serviceErr)
	}
	if err != nil {
		log.Error("Settlement Worker shutdown completed with errors")
	} else {
		log.Info("Settlement Worker shutdown completed successfully")
	}
}

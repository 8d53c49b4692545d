package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cardpay-pipeline/internal/config"
	"github.com/cardpay-pipeline/internal/data/mongo"
	"github.com/cardpay-pipeline/internal/data/postgres"
	limitledger "github.com/cardpay-pipeline/internal/limit_ledger"
	"github.com/cardpay-pipeline/internal/logger"
	"github.com/cardpay-pipeline/internal/oracle"
	"github.com/cardpay-pipeline/internal/payment_gateway"
	"github.com/cardpay-pipeline/internal/payment_gateway/service"
	"github.com/cardpay-pipeline/internal/platform/chain"
	"github.com/cardpay-pipeline/internal/platform/messaging/producers"
	"github.com/cardpay-pipeline/internal/platform/persistence"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("payment_gateway")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

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

	// Initialize Kafka producer for the settlement queue
	settlementProducer, err := producers.NewSettlementReqMessageProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize settlement Kafka producer", "error", err)
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

	// Initialize the rate oracle cache
	rateFeed := oracle.NewHTTPFeed(log, &cfg.Oracle)
	rateCache := oracle.NewCache(log, &cfg.Oracle, rateFeed)

	// Initialize the chain client and signer
	chainClient := chain.NewSolanaClient(log, &cfg.Chain)
	var signer chain.Signer = chain.DisabledSigner{}
	if cfg.Chain.SignerKey != "" {
		localSigner, err := chain.NewLocalSigner(log, &cfg.Chain, chainClient)
		if err != nil {
			log.Error("Failed to initialize settlement signer", "error", err)
			os.Exit(1)
		}
		signer = localSigner
	} else {
		log.Warn("No signer key configured, single-step payments are disabled")
	}

	// Initialize services
	validator := service.NewValidator(&cfg.Payments)
	verifier := service.NewAllowAllVerifier(log)
	paymentService := service.NewPaymentService(
		log,
		cfg,
		postgresDB,
		validator,
		txRepo,
		cardRepo,
		jobRepo,
		transitionRepo,
		ledger,
		rateCache,
		chainClient,
		signer,
		verifier,
		settlementProducer,
	)

	// Initialize REST server
	server := payment_gateway.NewServer(log, cfg, paymentService)
	log.Info("REST server initialized")

	// Create error channel for server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		log.Info("Starting HTTP server", "port", cfg.Server.Port)
		if err := server.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serverErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Server error occurred", "error", err)
		serverErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	// Shutdown postgres connection pool
	postgresDB.Close()

	// Shutdown HTTP server
	if err = server.Stop(shutdownCtx); err != nil {
		log.Error("Error during server shutdown", "error", err)
	}

	if err = settlementProducer.Close(); err != nil {
		log.Error("Error closing Kafka producer", "error", err)
	}

	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	// Final status
	if serverErr != nil {
		log.Error("HTTP server shutdown with errors", "error", serverErr)
	}
	if err != nil {
		log.Error("Server shutdown completed with errors")
	} else {
		log.Info("Server shutdown completed successfully")
	}
}

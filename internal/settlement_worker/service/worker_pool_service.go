package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/cardpay-pipeline/internal/domain/shared"
)

// WorkerPoolSettlementService implements the SettlementService interface
type WorkerPoolSettlementService struct {
	baseService SettlementService
	pool        *ants.Pool
	logger      *slog.Logger
	// Use a mutex to protect access to the results map
	mu      sync.Mutex
	results map[string]chan error
}

type WorkerPoolConfig struct {
	Size int
}

func NewWorkerPoolSettlementService(
	baseService SettlementService,
	config WorkerPoolConfig,
	logger *slog.Logger,
) (*WorkerPoolSettlementService, error) {
	// Create a new worker pool with the specified size
	pool, err := ants.NewPool(config.Size)
	if err != nil {
		return nil, err
	}

	return &WorkerPoolSettlementService{
		baseService: baseService,
		pool:        pool,
		logger:      logger,
		results:     make(map[string]chan error),
	}, nil
}

// ProcessSettlement submits a settlement job to the worker pool for processing.
func (s *WorkerPoolSettlementService) ProcessSettlement(ctx context.Context, request *shared.SettlementRequest) error {
	logger := s.logger
	if request.CorrelationID != "" {
		logger = s.logger.With("correlation_id", request.CorrelationID)
	}

	logger.Info("Submitting settlement to worker pool",
		"transaction_id", request.TransactionID.String(),
		"job_id", request.JobID.String(),
	)

	// Create a channel to receive the result of the settlement processing
	resultChan := make(chan error, 1)

	// Store the result channel in the result map
	jobID := request.JobID.String()
	s.mu.Lock()
	s.results[jobID] = resultChan
	s.mu.Unlock()

	// Create a copy of the request to avoid data races
	requestCopy := *request

	// Submit the task to the worker pool
	err := s.pool.Submit(func() {
		// Process the settlement using the base service
		err := s.baseService.ProcessSettlement(ctx, &requestCopy)

		// Send the result to the channel
		resultChan <- err

		// Remove the result channel from the map
		s.mu.Lock()
		delete(s.results, jobID)
		close(resultChan)
		s.mu.Unlock()
	})

	if err != nil {
		// If we couldn't submit the task to the pool, remove the result channel
		s.mu.Lock()
		delete(s.results, jobID)
		close(resultChan)
		s.mu.Unlock()

		logger.Error("Failed to submit settlement to worker pool",
			"transaction_id", request.TransactionID.String(),
			"error", err,
		)
		return err
	}

	// Wait for the result from the worker
	return <-resultChan
}

// Shutdown gracefully shuts down the worker pool.
func (s *WorkerPoolSettlementService) Shutdown() {
	s.logger.Info("Shutting down worker pool", "running_workers", s.pool.Running())
	s.pool.Release()
}

// Running returns the number of running workers in the pool.
func (s *WorkerPoolSettlementService) Running() int {
	return s.pool.Running()
}

// Capacity returns the capacity of the worker pool.
func (s *WorkerPoolSettlementService) Capacity() int {
	return s.pool.Cap()
}

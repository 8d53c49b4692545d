package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cardpay-pipeline/internal/config"
	"github.com/cardpay-pipeline/internal/domain/limits"
	"github.com/cardpay-pipeline/internal/domain/payment"
	"github.com/cardpay-pipeline/internal/domain/settlement"
	"github.com/cardpay-pipeline/internal/domain/shared"
	"github.com/cardpay-pipeline/internal/settlement_worker/service"
)

// Reconciler is the safety net under the queue: it recovers work the message
// path lost. Each tick it releases expired reservations, re-runs due jobs the
// queue never delivered, and probes submissions whose outcome was never
// recorded.
type Reconciler struct {
	jobRepo           settlement.Repository
	txRepo            payment.Repository
	ledger            limits.Ledger
	settlementService service.SettlementService
	logger            *slog.Logger

	pollInterval  time.Duration
	batchSize     int
	maxProcessing time.Duration
	maxProbeAge   time.Duration
	sweepInterval time.Duration
}

func NewReconciler(
	logger *slog.Logger,
	cfg *config.ReconcilerConfig,
	limitsCfg *config.LimitsConfig,
	jobRepo settlement.Repository,
	txRepo payment.Repository,
	ledger limits.Ledger,
	settlementService service.SettlementService,
) *Reconciler {
	return &Reconciler{
		jobRepo:           jobRepo,
		txRepo:            txRepo,
		ledger:            ledger,
		settlementService: settlementService,
		logger:            logger,
		pollInterval:      cfg.PollingInterval,
		batchSize:         cfg.BatchSize,
		maxProcessing:     cfg.MaxProcessing,
		maxProbeAge:       cfg.MaxProbeAge,
		sweepInterval:     limitsCfg.SweepInterval,
	}
}

// Start begins polling until context is canceled
func (r *Reconciler) Start(ctx context.Context) {
	r.logger.Info("Starting settlement reconciler",
		"poll_interval", r.pollInterval.String(),
		"batch_size", r.batchSize,
	)
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	sweepTicker := time.NewTicker(r.sweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Settlement reconciler stopping due to context cancellation.")
			return
		case <-sweepTicker.C:
			if released, err := r.ledger.SweepExpired(ctx); err != nil {
				r.logger.Error("Failed to sweep expired reservations", "error", err)
			} else if released > 0 {
				r.logger.Info("Swept expired reservations", "released", released)
			}
		case <-ticker.C:
			if err := r.runDueJobs(ctx); err != nil {
				r.logger.Error("Error re-running due settlement jobs", "error", err)
			}
			if err := r.probeIndeterminate(ctx); err != nil {
				r.logger.Error("Error probing indeterminate settlements", "error", err)
			}
			if err := r.probeStuckTransactions(ctx); err != nil {
				r.logger.Error("Error probing stuck transactions", "error", err)
			}
		}
	}
}

// runDueJobs claims jobs whose retry delay elapsed and that no queue message
// picked up, then runs them through the normal settlement path
func (r *Reconciler) runDueJobs(ctx context.Context) error {
	jobs, err := r.jobRepo.LeaseDue(ctx, time.Now(), r.batchSize)
	if err != nil {
		return fmt.Errorf("failed to lease due settlement jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	r.logger.Info("Re-running due settlement jobs", "count", len(jobs))
	for _, job := range jobs {
		r.dispatch(ctx, job)
	}
	return nil
}

// probeIndeterminate resolves submissions whose outcome was never recorded
func (r *Reconciler) probeIndeterminate(ctx context.Context) error {
	cutoff := time.Now().Add(-r.maxProbeAge)
	jobs, err := r.jobRepo.ListIndeterminate(ctx, cutoff, r.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list indeterminate settlement jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	r.logger.Info("Probing indeterminate settlements", "count", len(jobs))
	for _, job := range jobs {
		r.dispatch(ctx, job)
	}
	return nil
}

// probeStuckTransactions finds PROCESSING transactions that stopped moving and
// re-drives their settlement jobs
func (r *Reconciler) probeStuckTransactions(ctx context.Context) error {
	cutoff := time.Now().Add(-r.maxProcessing)
	stuck, err := r.txRepo.ListStuckProcessing(ctx, cutoff, r.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list stuck transactions: %w", err)
	}
	if len(stuck) == 0 {
		return nil
	}

	r.logger.Warn("Found stuck PROCESSING transactions", "count", len(stuck))
	for _, tx := range stuck {
		job, err := r.jobRepo.GetByTransactionID(ctx, tx.ID)
		if err != nil {
			r.logger.Error("Stuck transaction has no loadable settlement job",
				"transaction_id", tx.ID.String(),
				"error", err,
			)
			continue
		}
		r.dispatch(ctx, job)
	}
	return nil
}

func (r *Reconciler) dispatch(ctx context.Context, job *settlement.Job) {
	request := &shared.SettlementRequest{
		TransactionID: job.TransactionID,
		JobID:         job.ID,
		Payload:       job.Payload,
		AttemptsMade:  job.AttemptsMade,
		MaxAttempts:   job.MaxAttempts,
		NextRunAt:     job.NextRunAt,
		Timestamp:     time.Now(),
	}
	if err := r.settlementService.ProcessSettlement(ctx, request); err != nil {
		r.logger.Error("Reconciler dispatch failed",
			"transaction_id", job.TransactionID.String(),
			"job_id", job.ID.String(),
			"error", err,
		)
	}
}

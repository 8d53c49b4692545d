package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/jackc/pgx/v5"

	"github.com/cardpay-pipeline/internal/domain/payment"
	"github.com/cardpay-pipeline/internal/domain/settlement"
	"github.com/cardpay-pipeline/internal/domain/shared"
	"github.com/cardpay-pipeline/internal/platform/chain"
)

// TxExecutor runs a function inside a database transaction
type TxExecutor interface {
	ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// SettlementServiceImpl submits signed settlement payloads to the chain and
// drives their transactions to a terminal state. The settlement job row is the
// source of truth; queue messages only signal that work may be due.
type SettlementServiceImpl struct {
	db             TxExecutor
	jobRepo        settlement.Repository
	txRepo         payment.Repository
	transitionRepo payment.TransitionRepository
	chainClient    chain.Client
	finalizer      Finalizer
	logger         *slog.Logger
}

func NewSettlementService(
	logger *slog.Logger,
	db TxExecutor,
	jobRepo settlement.Repository,
	txRepo payment.Repository,
	transitionRepo payment.TransitionRepository,
	chainClient chain.Client,
	finalizer Finalizer,
) SettlementService {
	return &SettlementServiceImpl{
		db:             db,
		jobRepo:        jobRepo,
		txRepo:         txRepo,
		transitionRepo: transitionRepo,
		chainClient:    chainClient,
		finalizer:      finalizer,
		logger:         logger,
	}
}

// ProcessSettlement handles one settlement job end to end
func (s *SettlementServiceImpl) ProcessSettlement(ctx context.Context, request *shared.SettlementRequest) error {
	logger := s.logger
	if request.CorrelationID != "" {
		logger = s.logger.With("correlation_id", request.CorrelationID)
	}

	job, err := s.jobRepo.GetByID(ctx, request.JobID)
	if err != nil {
		var notFound settlement.ErrJobNotFound
		if errors.As(err, &notFound) {
			// The job row is authoritative; a message without one is noise.
			logger.Warn("Settlement signal references no job, dropping",
				"job_id", request.JobID.String(),
				"transaction_id", request.TransactionID.String(),
			)
			return nil
		}
		return fmt.Errorf("failed to load settlement job %s: %w", request.JobID.String(), err)
	}

	logger.Info("Processing settlement",
		"transaction_id", job.TransactionID.String(),
		"job_status", string(job.Status),
		"attempts_made", job.AttemptsMade,
	)

	switch job.Status {
	case settlement.JobStatusDone, settlement.JobStatusDead, settlement.JobStatusCancelled:
		return nil
	case settlement.JobStatusSubmitted, settlement.JobStatusIndeterminate:
		// A durably recorded submission with no recorded outcome. Probe by
		// signature before anything else; blind resubmission could pay twice.
		return s.resolveUnknownOutcome(ctx, job, request.CorrelationID, logger)
	}

	// QUEUED, RETRY_WAIT and LEASED all run the attempt path. A LEASED job is
	// either held by the reconciler that just claimed it or orphaned by a
	// crashed worker; running it twice is safe because the payload signature
	// is fixed and the chain deduplicates by signature.

	if job.NextRunAt.After(time.Now()) {
		logger.Debug("Settlement job not yet due, leaving for the reconciler",
			"transaction_id", job.TransactionID.String(),
			"next_run_at", job.NextRunAt,
		)
		return nil
	}

	return s.attempt(ctx, job, request.CorrelationID, logger)
}

// attempt runs one submission attempt for a QUEUED or RETRY_WAIT job
func (s *SettlementServiceImpl) attempt(ctx context.Context, job *settlement.Job, correlationID string, logger *slog.Logger) error {
	if job.Exhausted() {
		return s.finalizer.Fail(ctx, job,
			fmt.Sprintf("settlement abandoned after %d attempts", job.AttemptsMade), correlationID)
	}

	signature, err := s.chainClient.ExtractSignature(job.Payload)
	if err != nil {
		// The payload can never be submitted; no attempt will fix it.
		return s.finalizer.Fail(ctx, job, "settlement payload is not decodable: "+err.Error(), correlationID)
	}

	if err := s.markProcessing(ctx, job, correlationID); err != nil {
		return fmt.Errorf("failed to mark transaction %s processing: %w", job.TransactionID.String(), err)
	}

	// The signature must hit the database before the payload hits the wire:
	// if we crash between the two, the next run probes by signature instead
	// of submitting a second time.
	job.MarkSubmitted(signature)
	if err := s.jobRepo.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to record submission for job %s: %w", job.ID.String(), err)
	}

	if _, err := s.chainClient.Submit(ctx, job.Payload); err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			// The node understood the payload and refused it; resending the
			// same bytes cannot change the answer.
			return s.finalizer.Fail(ctx, job,
				fmt.Sprintf("chain rejected settlement (code %d): %s", rpcErr.Code, rpcErr.Message), correlationID)
		}
		// Transport failure: the payload may or may not have reached a node.
		logger.Warn("Settlement submission outcome unknown, probing",
			"transaction_id", job.TransactionID.String(),
			"error", err,
		)
		return s.resolveUnknownOutcome(ctx, job, correlationID, logger)
	}

	return s.awaitOutcome(ctx, job, signature, correlationID, logger)
}

// awaitOutcome waits for the submitted payload to confirm
func (s *SettlementServiceImpl) awaitOutcome(ctx context.Context, job *settlement.Job, signature, correlationID string, logger *slog.Logger) error {
	receipt, err := s.chainClient.AwaitConfirmation(ctx, signature)
	if err != nil {
		if errors.Is(err, chain.ErrConfirmationTimeout) {
			job.MarkIndeterminate("confirmation window elapsed for " + signature)
		} else {
			job.MarkIndeterminate("confirmation check failed: " + err.Error())
		}
		if updateErr := s.jobRepo.Update(ctx, job); updateErr != nil {
			return fmt.Errorf("failed to mark job %s indeterminate: %w", job.ID.String(), updateErr)
		}
		logger.Warn("Settlement outcome indeterminate, reconciler will probe",
			"transaction_id", job.TransactionID.String(),
			"signature", signature,
		)
		return nil
	}

	if receipt.Err != "" {
		return s.finalizer.Fail(ctx, job, "settlement failed on-chain: "+receipt.Err, correlationID)
	}

	return s.finalizer.Complete(ctx, job, signature, nil, correlationID)
}

// resolveUnknownOutcome probes the chain for a submission whose fate was never
// recorded and routes the job accordingly
func (s *SettlementServiceImpl) resolveUnknownOutcome(ctx context.Context, job *settlement.Job, correlationID string, logger *slog.Logger) error {
	signature, err := s.submittedSignature(job)
	if err != nil {
		return s.finalizer.Fail(ctx, job, "cannot derive submitted signature: "+err.Error(), correlationID)
	}

	probe, err := s.chainClient.Probe(ctx, signature)
	if err != nil {
		return fmt.Errorf("failed to probe signature %s: %w", signature, err)
	}

	switch {
	case probe.Found && probe.Failed:
		reason := "settlement failed on-chain"
		if probe.Receipt != nil && probe.Receipt.Err != "" {
			reason += ": " + probe.Receipt.Err
		}
		return s.finalizer.Fail(ctx, job, reason, correlationID)
	case probe.Found && probe.Confirmed:
		return s.finalizer.Complete(ctx, job, signature, nil, correlationID)
	case probe.Found:
		// Landed but shallow; wait for depth.
		return s.awaitOutcome(ctx, job, signature, correlationID, logger)
	}

	// The payload never reached the chain. Retrying the same bytes is safe:
	// the signature is fixed, so a duplicate would be rejected as seen.
	logger.Info("Probed submission not found on chain, retry is safe",
		"transaction_id", job.TransactionID.String(),
		"signature", signature,
	)
	if job.Exhausted() {
		return s.finalizer.Fail(ctx, job,
			fmt.Sprintf("settlement abandoned after %d attempts", job.AttemptsMade), correlationID)
	}
	return s.finalizer.Requeue(ctx, job, "submission not found on chain")
}

// markProcessing transitions the payment out of PENDING on its first attempt
func (s *SettlementServiceImpl) markProcessing(ctx context.Context, job *settlement.Job, correlationID string) error {
	var transition *payment.Transition

	err := s.db.ExecuteTx(ctx, func(dbTx pgx.Tx) error {
		transition = nil
		locked, err := s.txRepo.WithTx(dbTx).LockForUpdate(ctx, job.TransactionID)
		if err != nil {
			return err
		}
		if locked.Status != payment.TransactionStatusPending {
			return nil
		}

		transition, err = locked.TransitionTo(payment.TransactionStatusProcessing, "settlement submitted")
		if err != nil {
			return err
		}
		return s.txRepo.WithTx(dbTx).Update(ctx, locked)
	})
	if err != nil {
		return err
	}

	if transition != nil {
		transition.CorrelationID = correlationID
		if auditErr := s.transitionRepo.Create(ctx, transition); auditErr != nil {
			s.logger.Error("Failed to record transition audit",
				"transaction_id", job.TransactionID.String(),
				"error", auditErr,
			)
		}
	}
	return nil
}

func (s *SettlementServiceImpl) submittedSignature(job *settlement.Job) (string, error) {
	if job.SubmittedSignature != nil {
		return *job.SubmittedSignature, nil
	}
	return s.chainClient.ExtractSignature(job.Payload)
}

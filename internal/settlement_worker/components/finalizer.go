package components

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cardpay-pipeline/internal/config"
	"github.com/cardpay-pipeline/internal/domain/limits"
	"github.com/cardpay-pipeline/internal/domain/payment"
	"github.com/cardpay-pipeline/internal/domain/settlement"
	"github.com/cardpay-pipeline/internal/settlement_worker/service"
)

// TxExecutor runs a function inside a database transaction
type TxExecutor interface {
	ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// FinalizerImpl finalizes settlements. The transaction and job rows change
// together in one database transaction; the reservation and the audit mirror
// are resolved after commit because both are idempotent.
type FinalizerImpl struct {
	db             TxExecutor
	txRepo         payment.Repository
	jobRepo        settlement.Repository
	transitionRepo payment.TransitionRepository
	ledger         limits.Ledger
	logger         *slog.Logger

	retryBase time.Duration
	retryMax  time.Duration
}

func NewFinalizer(
	logger *slog.Logger,
	cfg *config.ChainConfig,
	db TxExecutor,
	txRepo payment.Repository,
	jobRepo settlement.Repository,
	transitionRepo payment.TransitionRepository,
	ledger limits.Ledger,
) service.Finalizer {
	return &FinalizerImpl{
		db:             db,
		txRepo:         txRepo,
		jobRepo:        jobRepo,
		transitionRepo: transitionRepo,
		ledger:         ledger,
		logger:         logger,
		retryBase:      cfg.RetryBackoffBase,
		retryMax:       cfg.RetryBackoffMax,
	}
}

// Complete marks the transaction COMPLETED with the confirmed signature,
// finishes the job, and commits the reservation
func (f *FinalizerImpl) Complete(ctx context.Context, job *settlement.Job, signature string, gasFee *int64, correlationID string) error {
	var transitions []*payment.Transition
	var reservationID *uuid.UUID

	err := f.db.ExecuteTx(ctx, func(dbTx pgx.Tx) error {
		transitions = transitions[:0]
		locked, err := f.txRepo.WithTx(dbTx).LockForUpdate(ctx, job.TransactionID)
		if err != nil {
			return err
		}
		if locked.Status == payment.TransactionStatusCompleted {
			reservationID = locked.ReservationID
			return nil
		}

		if locked.Status == payment.TransactionStatusPending {
			rec, err := locked.TransitionTo(payment.TransactionStatusProcessing, "settlement submitted")
			if err != nil {
				return err
			}
			transitions = append(transitions, rec)
		}

		locked.RecordSettlement(signature, gasFee)
		rec, err := locked.TransitionTo(payment.TransactionStatusCompleted, "settlement confirmed")
		if err != nil {
			return err
		}
		transitions = append(transitions, rec)

		if err := f.txRepo.WithTx(dbTx).Update(ctx, locked); err != nil {
			return err
		}

		job.MarkDone()
		if err := f.jobRepo.WithTx(dbTx).Update(ctx, job); err != nil {
			return err
		}

		reservationID = locked.ReservationID
		return nil
	})
	if err != nil {
		return err
	}

	f.recordTransitions(ctx, transitions, correlationID)

	if reservationID != nil {
		if err := f.ledger.Commit(ctx, *reservationID); err != nil {
			f.logger.Error("Failed to commit reservation after settlement",
				"transaction_id", job.TransactionID.String(),
				"reservation_id", reservationID.String(),
				"error", err,
			)
		}
	}

	f.logger.Info("Settlement completed",
		"transaction_id", job.TransactionID.String(),
		"signature", signature,
	)
	return nil
}

// Fail marks the transaction FAILED, kills the job, and releases the
// reservation
func (f *FinalizerImpl) Fail(ctx context.Context, job *settlement.Job, reason string, correlationID string) error {
	var transitions []*payment.Transition
	var reservationID *uuid.UUID

	err := f.db.ExecuteTx(ctx, func(dbTx pgx.Tx) error {
		transitions = transitions[:0]
		locked, err := f.txRepo.WithTx(dbTx).LockForUpdate(ctx, job.TransactionID)
		if err != nil {
			return err
		}
		if locked.Status.IsTerminal() {
			reservationID = locked.ReservationID
			return nil
		}

		if locked.Status == payment.TransactionStatusPending {
			rec, err := locked.TransitionTo(payment.TransactionStatusProcessing, "settlement submitted")
			if err != nil {
				return err
			}
			transitions = append(transitions, rec)
		}

		rec, err := locked.TransitionTo(payment.TransactionStatusFailed, reason)
		if err != nil {
			return err
		}
		transitions = append(transitions, rec)

		if err := f.txRepo.WithTx(dbTx).Update(ctx, locked); err != nil {
			return err
		}

		job.MarkDead(reason)
		if err := f.jobRepo.WithTx(dbTx).Update(ctx, job); err != nil {
			return err
		}

		reservationID = locked.ReservationID
		return nil
	})
	if err != nil {
		return err
	}

	f.recordTransitions(ctx, transitions, correlationID)

	if reservationID != nil {
		if err := f.ledger.Release(ctx, *reservationID); err != nil {
			f.logger.Error("Failed to release reservation after settlement failure",
				"transaction_id", job.TransactionID.String(),
				"reservation_id", reservationID.String(),
				"error", err,
			)
		}
	}

	f.logger.Warn("Settlement failed terminally",
		"transaction_id", job.TransactionID.String(),
		"reason", reason,
	)
	return nil
}

// Requeue schedules the job for another attempt with exponential backoff
func (f *FinalizerImpl) Requeue(ctx context.Context, job *settlement.Job, cause string) error {
	job.ScheduleRetry(f.retryBase, f.retryMax, cause)
	if err := f.jobRepo.Update(ctx, job); err != nil {
		return err
	}

	f.logger.Info("Settlement scheduled for retry",
		"transaction_id", job.TransactionID.String(),
		"attempts_made", job.AttemptsMade,
		"next_run_at", job.NextRunAt,
		"cause", cause,
	)
	return nil
}

func (f *FinalizerImpl) recordTransitions(ctx context.Context, transitions []*payment.Transition, correlationID string) {
	for _, rec := range transitions {
		rec.CorrelationID = correlationID
		if err := f.transitionRepo.Create(ctx, rec); err != nil {
			f.logger.Error("Failed to record transition audit",
				"transaction_id", rec.TransactionID.String(),
				"from", string(rec.From),
				"to", string(rec.To),
				"error", err,
			)
		}
	}
}

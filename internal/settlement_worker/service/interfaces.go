package service

import (
	"context"

	"github.com/cardpay-pipeline/internal/domain/settlement"
	"github.com/cardpay-pipeline/internal/domain/shared"
)

// SettlementService defines the interface for settling one payment
type SettlementService interface {
	// ProcessSettlement drives one settlement job: submit the signed payload,
	// await confirmation, and finalize the transaction. Safe to invoke more
	// than once for the same job.
	ProcessSettlement(ctx context.Context, request *shared.SettlementRequest) error
}

// Finalizer moves a transaction and its settlement job to a terminal state
// and resolves the backing limit reservation
type Finalizer interface {
	// Complete marks the transaction COMPLETED with the confirmed signature,
	// finishes the job, and commits the reservation
	Complete(ctx context.Context, job *settlement.Job, signature string, gasFee *int64, correlationID string) error

	// Fail marks the transaction FAILED, kills the job, and releases the
	// reservation
	Fail(ctx context.Context, job *settlement.Job, reason string, correlationID string) error

	// Requeue schedules the job for another attempt with exponential backoff
	Requeue(ctx context.Context, job *settlement.Job, cause string) error
}

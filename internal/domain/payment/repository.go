package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository defines transaction persistence operations
type Repository interface {
	Create(ctx context.Context, transaction *Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)
	GetByChainTxHash(ctx context.Context, txHash string) (*Transaction, error)

	// GetLatestPendingByCard supports the two-step complete flow when the
	// caller identifies the payment by card rather than transaction id
	GetLatestPendingByCard(ctx context.Context, cardUUID uuid.UUID) (*Transaction, error)

	// ListStuckProcessing returns PROCESSING transactions not updated since
	// the cutoff, for reconciliation probing
	ListStuckProcessing(ctx context.Context, cutoff time.Time, limit int) ([]*Transaction, error)

	Update(ctx context.Context, transaction *Transaction) error

	// LockForUpdate acquires a pessimistic lock for state transitions
	LockForUpdate(ctx context.Context, id uuid.UUID) (*Transaction, error)
	WithTx(tx pgx.Tx) Repository
}

// TransitionRepository appends transition audit records
type TransitionRepository interface {
	Create(ctx context.Context, transition *Transition) error
	GetByTransactionID(ctx context.Context, transactionID uuid.UUID) ([]*Transition, error)
	GetByTimeRange(ctx context.Context, startTime, endTime time.Time, limit, offset int) ([]*Transition, error)
}

// ErrTransactionNotFound indicates missing transaction
type ErrTransactionNotFound struct {
	TransactionID uuid.UUID
}

func (e ErrTransactionNotFound) Error() string {
	return "transaction not found: " + e.TransactionID.String()
}

// ErrDuplicateIdempotencyKey indicates idempotency key uniqueness violation
type ErrDuplicateIdempotencyKey struct {
	IdempotencyKey string
}

func (e ErrDuplicateIdempotencyKey) Error() string {
	return "transaction with idempotency key already exists: " + e.IdempotencyKey
}

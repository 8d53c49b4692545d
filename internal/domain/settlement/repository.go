package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository defines settlement job persistence operations
type Repository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*Job, error)
	GetByTransactionID(ctx context.Context, transactionID uuid.UUID) (*Job, error)
	GetBySignature(ctx context.Context, signature string) (*Job, error)

	// LeaseDue atomically claims up to limit jobs whose next_run_at has
	// passed, skipping rows other workers hold
	LeaseDue(ctx context.Context, now time.Time, limit int) ([]*Job, error)

	Update(ctx context.Context, job *Job) error

	// ListIndeterminate returns unresolved submissions older than the cutoff
	// for reconciliation probing
	ListIndeterminate(ctx context.Context, cutoff time.Time, limit int) ([]*Job, error)

	// CancelQueued withdraws a job that no worker has leased yet. Returns
	// false when the job was already picked up.
	CancelQueued(ctx context.Context, transactionID uuid.UUID) (bool, error)
	WithTx(tx pgx.Tx) Repository
}

// ErrJobNotFound indicates missing settlement job
type ErrJobNotFound struct {
	TransactionID uuid.UUID
}

func (e ErrJobNotFound) Error() string {
	return "settlement job not found for transaction: " + e.TransactionID.String()
}

// ErrDuplicateJob indicates transaction uniqueness violation
type ErrDuplicateJob struct {
	TransactionID uuid.UUID
}

func (e ErrDuplicateJob) Error() string {
	return "duplicate settlement job for transaction: " + e.TransactionID.String()
}

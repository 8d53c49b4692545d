package limits

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Ledger enforces spending limits through provisional holds. Reserve is the
// single serialization point per card; Commit and Release are idempotent
// because they may be invoked twice under retry.
type Ledger interface {
	// Reserve admits a new hold if committed spend plus active holds stays
	// within every limit, or returns card.ErrLimitExceeded / card.ErrCardState
	Reserve(ctx context.Context, cardUUID uuid.UUID, amount int64) (uuid.UUID, error)

	// Commit converts the hold into permanent spend
	Commit(ctx context.Context, reservationID uuid.UUID) error

	// Release drops the hold. Releasing an already-released or committed
	// reservation is a no-op.
	Release(ctx context.Context, reservationID uuid.UUID) error

	// SweepExpired releases ACTIVE reservations past their TTL, recovering
	// holds orphaned by process death. Returns the number released.
	SweepExpired(ctx context.Context) (int, error)
}

// Repository defines reservation persistence operations
type Repository interface {
	Create(ctx context.Context, reservation *Reservation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Reservation, error)

	// LockForUpdate acquires a pessimistic lock for commit/release
	LockForUpdate(ctx context.Context, id uuid.UUID) (*Reservation, error)

	// SumActive returns the total ACTIVE amount held for a card in the given
	// daily and monthly windows
	SumActive(ctx context.Context, cardUUID uuid.UUID, dailyWindow, monthlyWindow string) (daily int64, monthly int64, err error)

	UpdateStatus(ctx context.Context, id uuid.UUID, status ReservationStatus) error

	// ReleaseExpired marks all ACTIVE reservations past the cutoff RELEASED
	// and returns how many rows changed
	ReleaseExpired(ctx context.Context, cutoff time.Time) (int, error)
	WithTx(tx pgx.Tx) Repository
}

// ErrReservationNotFound indicates missing reservation
type ErrReservationNotFound struct {
	ReservationID uuid.UUID
}

func (e ErrReservationNotFound) Error() string {
	return "reservation not found: " + e.ReservationID.String()
}

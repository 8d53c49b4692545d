package card

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository defines card persistence operations
type Repository interface {
	GetByUUID(ctx context.Context, cardUUID uuid.UUID) (*Card, error)

	// LockForUpdate acquires a pessimistic row lock; it is the per-card
	// serialization point for reservation decisions
	LockForUpdate(ctx context.Context, cardUUID uuid.UUID) (*Card, error)

	// UpdateCounters persists the spent counters and window keys
	UpdateCounters(ctx context.Context, card *Card) error
	WithTx(tx pgx.Tx) Repository
}

// ErrCardNotFound indicates missing card
type ErrCardNotFound struct {
	CardUUID uuid.UUID
}

func (e ErrCardNotFound) Error() string {
	return "card not found: " + e.CardUUID.String()
}

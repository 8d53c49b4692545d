package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cardpay-pipeline/internal/domain/limits"
	"github.com/cardpay-pipeline/internal/platform/persistence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ReservationRepository implements the limits.Repository interface for PostgreSQL
type ReservationRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewReservationRepository creates a new PostgreSQL reservation repository
func NewReservationRepository(logger *slog.Logger, db *persistence.PostgresDB) limits.Repository {
	return &ReservationRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction
func (r *ReservationRepository) WithTx(tx pgx.Tx) limits.Repository {
	return &ReservationRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create stores a new reservation
func (r *ReservationRepository) Create(ctx context.Context, res *limits.Reservation) error {
	query := `
		INSERT INTO reservations (id, card_uuid, amount, daily_window, monthly_window, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.querier.Exec(ctx, query,
		res.ID,
		res.CardUUID,
		res.Amount,
		res.DailyWindow,
		res.MonthlyWindow,
		res.Status,
		res.ExpiresAt,
		res.CreatedAt,
		res.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create reservation", "error", err)
		return fmt.Errorf("failed to create reservation: %w", err)
	}

	return nil
}

// GetByID retrieves a reservation by its ID
func (r *ReservationRepository) GetByID(ctx context.Context, id uuid.UUID) (*limits.Reservation, error) {
	query := `
		SELECT id, card_uuid, amount, daily_window, monthly_window, status, expires_at, created_at, updated_at
		FROM reservations
		WHERE id = $1
	`

	res, err := r.scan(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, limits.ErrReservationNotFound{ReservationID: id}
		}
		r.logger.Error("Failed to get reservation", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}

	return res, nil
}

// LockForUpdate obtains a pessimistic lock on the reservation row. Used by
// commit/release so a concurrent sweep cannot race the status change.
func (r *ReservationRepository) LockForUpdate(ctx context.Context, id uuid.UUID) (*limits.Reservation, error) {
	query := `
		SELECT id, card_uuid, amount, daily_window, monthly_window, status, expires_at, created_at, updated_at
		FROM reservations
		WHERE id = $1
		FOR UPDATE
	`

	res, err := r.scan(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, limits.ErrReservationNotFound{ReservationID: id}
		}
		r.logger.Error("Failed to lock reservation for update", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to lock reservation for update: %w", err)
	}

	return res, nil
}

// SumActive returns the total ACTIVE amount held for a card in the given
// daily and monthly windows. Reservations from rolled-over windows do not
// count against the current one.
func (r *ReservationRepository) SumActive(ctx context.Context, cardUUID uuid.UUID, dailyWindow, monthlyWindow string) (int64, int64, error) {
	query := `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE daily_window = $2), 0),
			COALESCE(SUM(amount) FILTER (WHERE monthly_window = $3), 0)
		FROM reservations
		WHERE card_uuid = $1 AND status = $4
	`

	var daily, monthly int64
	err := r.querier.QueryRow(ctx, query, cardUUID, dailyWindow, monthlyWindow, limits.ReservationStatusActive).
		Scan(&daily, &monthly)
	if err != nil {
		r.logger.Error("Failed to sum active reservations", "card_uuid", cardUUID.String(), "error", err)
		return 0, 0, fmt.Errorf("failed to sum active reservations: %w", err)
	}

	return daily, monthly, nil
}

// UpdateStatus sets the reservation status
func (r *ReservationRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status limits.ReservationStatus) error {
	query := `
		UPDATE reservations
		SET status = $1, updated_at = NOW()
		WHERE id = $2
	`

	result, err := r.querier.Exec(ctx, query, status, id)
	if err != nil {
		r.logger.Error("Failed to update reservation status", "id", id.String(), "error", err)
		return fmt.Errorf("failed to update reservation status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return limits.ErrReservationNotFound{ReservationID: id}
	}

	return nil
}

// ReleaseExpired marks all ACTIVE reservations that expired before the cutoff
// RELEASED, returning how many rows changed
func (r *ReservationRepository) ReleaseExpired(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		UPDATE reservations
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND expires_at < $3
	`

	result, err := r.querier.Exec(ctx, query, limits.ReservationStatusReleased, limits.ReservationStatusActive, cutoff)
	if err != nil {
		r.logger.Error("Failed to release expired reservations", "error", err)
		return 0, fmt.Errorf("failed to release expired reservations: %w", err)
	}

	return int(result.RowsAffected()), nil
}

func (r *ReservationRepository) scan(row pgx.Row) (*limits.Reservation, error) {
	var res limits.Reservation
	err := row.Scan(
		&res.ID,
		&res.CardUUID,
		&res.Amount,
		&res.DailyWindow,
		&res.MonthlyWindow,
		&res.Status,
		&res.ExpiresAt,
		&res.CreatedAt,
		&res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

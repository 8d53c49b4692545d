// Package postgres provides PostgreSQL implementations of the domain repositories.
// It handles all database operations while maintaining transaction safety and
// proper error handling for the payment pipeline.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cardpay-pipeline/internal/domain/card"
	"github.com/cardpay-pipeline/internal/platform/persistence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CardRepository implements the card.Repository interface for PostgreSQL
type CardRepository struct {
	querier persistence.Querier // Can be *pgxpool.Pool or pgx.Tx
	logger  *slog.Logger
}

// NewCardRepository creates a new PostgreSQL card repository.
// It expects db.Pool() to satisfy persistence.Querier.
func NewCardRepository(logger *slog.Logger, db *persistence.PostgresDB) card.Repository {
	return &CardRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction, allowing for atomic operations
// across multiple repository calls. The returned repository will use the provided
// transaction for all database operations.
func (r *CardRepository) WithTx(tx pgx.Tx) card.Repository {
	return &CardRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// GetByUUID retrieves a card by its UUID
func (r *CardRepository) GetByUUID(ctx context.Context, cardUUID uuid.UUID) (*card.Card, error) {
	query := `
		SELECT card_uuid, owner_user_id, status, single_limit, daily_limit, monthly_limit,
		       daily_spent, daily_window, monthly_spent, monthly_window, version, created_at, updated_at
		FROM cards
		WHERE card_uuid = $1
	`

	var c card.Card
	err := r.querier.QueryRow(ctx, query, cardUUID).Scan(
		&c.CardUUID,
		&c.OwnerUserID,
		&c.Status,
		&c.SingleLimit,
		&c.DailyLimit,
		&c.MonthlyLimit,
		&c.DailySpent,
		&c.DailyWindow,
		&c.MonthlySpent,
		&c.MonthlyWindow,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, card.ErrCardNotFound{CardUUID: cardUUID}
		}
		r.logger.Error("Failed to get card", "card_uuid", cardUUID.String(), "error", err)
		return nil, fmt.Errorf("failed to get card: %w", err)
	}

	return &c, nil
}

// LockForUpdate obtains a pessimistic lock on the card row and returns its
// current state. This is the per-card serialization point for reservation
// decisions and must be used within a transaction.
func (r *CardRepository) LockForUpdate(ctx context.Context, cardUUID uuid.UUID) (*card.Card, error) {
	query := `
		SELECT card_uuid, owner_user_id, status, single_limit, daily_limit, monthly_limit,
		       daily_spent, daily_window, monthly_spent, monthly_window, version, created_at, updated_at
		FROM cards
		WHERE card_uuid = $1
		FOR UPDATE
	`

	var c card.Card
	err := r.querier.QueryRow(ctx, query, cardUUID).Scan(
		&c.CardUUID,
		&c.OwnerUserID,
		&c.Status,
		&c.SingleLimit,
		&c.DailyLimit,
		&c.MonthlyLimit,
		&c.DailySpent,
		&c.DailyWindow,
		&c.MonthlySpent,
		&c.MonthlyWindow,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, card.ErrCardNotFound{CardUUID: cardUUID}
		}
		r.logger.Error("Failed to lock card for update", "card_uuid", cardUUID.String(), "error", err)
		return nil, fmt.Errorf("failed to lock card for update: %w", err)
	}

	return &c, nil
}

// UpdateCounters persists the spent counters and window keys using optimistic
// locking on top of the row lock, guarding against missed lock acquisition.
func (r *CardRepository) UpdateCounters(ctx context.Context, c *card.Card) error {
	query := `
		UPDATE cards
		SET daily_spent = $1, daily_window = $2, monthly_spent = $3, monthly_window = $4,
		    version = $5, updated_at = $6
		WHERE card_uuid = $7 AND version = $8
	`

	result, err := r.querier.Exec(ctx, query,
		c.DailySpent,
		c.DailyWindow,
		c.MonthlySpent,
		c.MonthlyWindow,
		c.Version,
		c.UpdatedAt,
		c.CardUUID,
		c.Version-1, // Check previous version for optimistic locking
	)
	if err != nil {
		r.logger.Error("Failed to update card counters", "card_uuid", c.CardUUID.String(), "error", err)
		return fmt.Errorf("failed to update card counters: %w", err)
	}

	if result.RowsAffected() == 0 {
		return card.ErrCardNotFound{CardUUID: c.CardUUID}
	}

	return nil
}

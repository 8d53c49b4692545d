package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cardpay-pipeline/internal/domain/payment"
	"github.com/cardpay-pipeline/internal/platform/persistence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const transactionColumns = `id, card_uuid, user_id, merchant_id, amount, currency, status,
	chain_tx_hash, gas_fee, attempt_count, idempotency_key, reservation_id, created_at, updated_at`

// TransactionRepository implements the payment.Repository interface for PostgreSQL
type TransactionRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewTransactionRepository creates a new PostgreSQL transaction repository
func NewTransactionRepository(logger *slog.Logger, db *persistence.PostgresDB) payment.Repository {
	return &TransactionRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction
func (r *TransactionRepository) WithTx(tx pgx.Tx) payment.Repository {
	return &TransactionRepository{
		querier: tx,
		logger:  r.logger,
	}
}

func (r *TransactionRepository) scan(row pgx.Row) (*payment.Transaction, error) {
	var txn payment.Transaction
	err := row.Scan(
		&txn.ID,
		&txn.CardUUID,
		&txn.UserID,
		&txn.MerchantID,
		&txn.Amount,
		&txn.Currency,
		&txn.Status,
		&txn.ChainTxHash,
		&txn.GasFee,
		&txn.AttemptCount,
		&txn.IdempotencyKey,
		&txn.ReservationID,
		&txn.CreatedAt,
		&txn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// Create stores a new transaction. A duplicate idempotency key returns
// payment.ErrDuplicateIdempotencyKey so the caller can resolve to the
// existing transaction instead of creating a second one.
func (r *TransactionRepository) Create(ctx context.Context, txn *payment.Transaction) error {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := r.querier.Exec(ctx, query,
		txn.ID,
		txn.CardUUID,
		txn.UserID,
		txn.MerchantID,
		txn.Amount,
		txn.Currency,
		txn.Status,
		txn.ChainTxHash,
		txn.GasFee,
		txn.AttemptCount,
		txn.IdempotencyKey,
		txn.ReservationID,
		txn.CreatedAt,
		txn.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return payment.ErrDuplicateIdempotencyKey{IdempotencyKey: txn.IdempotencyKey}
		}
		r.logger.Error("Failed to create transaction", "error", err)
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	return nil
}

// GetByID retrieves a transaction by its ID
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	txn, err := r.scan(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrTransactionNotFound{TransactionID: id}
		}
		r.logger.Error("Failed to get transaction", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	return txn, nil
}

// GetByIdempotencyKey retrieves a transaction by its idempotency key.
// Returns nil, nil when no transaction carries the key.
func (r *TransactionRepository) GetByIdempotencyKey(ctx context.Context, key string) (*payment.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE idempotency_key = $1`

	txn, err := r.scan(r.querier.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get transaction by idempotency key", "error", err)
		return nil, fmt.Errorf("failed to get transaction by idempotency key: %w", err)
	}

	return txn, nil
}

// GetByChainTxHash retrieves a transaction by its confirmed chain hash.
// Returns nil, nil when the hash is unknown.
func (r *TransactionRepository) GetByChainTxHash(ctx context.Context, txHash string) (*payment.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE chain_tx_hash = $1`

	txn, err := r.scan(r.querier.QueryRow(ctx, query, txHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get transaction by chain hash", "error", err)
		return nil, fmt.Errorf("failed to get transaction by chain hash: %w", err)
	}

	return txn, nil
}

// GetLatestPendingByCard retrieves the most recent PENDING transaction for a
// card. Returns nil, nil when the card has no pending payment.
func (r *TransactionRepository) GetLatestPendingByCard(ctx context.Context, cardUUID uuid.UUID) (*payment.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE card_uuid = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1
	`

	txn, err := r.scan(r.querier.QueryRow(ctx, query, cardUUID, payment.TransactionStatusPending))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get latest pending transaction", "card_uuid", cardUUID.String(), "error", err)
		return nil, fmt.Errorf("failed to get latest pending transaction: %w", err)
	}

	return txn, nil
}

// ListStuckProcessing returns PROCESSING transactions not updated since the
// cutoff, oldest first, for reconciliation probing
func (r *TransactionRepository) ListStuckProcessing(ctx context.Context, cutoff time.Time, limit int) ([]*payment.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`

	rows, err := r.querier.Query(ctx, query, payment.TransactionStatusProcessing, cutoff, limit)
	if err != nil {
		r.logger.Error("Failed to list stuck transactions", "error", err)
		return nil, fmt.Errorf("failed to list stuck transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*payment.Transaction
	for rows.Next() {
		txn, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}

	return transactions, nil
}

// Update persists the transaction's mutable fields
func (r *TransactionRepository) Update(ctx context.Context, txn *payment.Transaction) error {
	query := `
		UPDATE transactions
		SET status = $1, chain_tx_hash = $2, gas_fee = $3, attempt_count = $4,
		    reservation_id = $5, updated_at = $6
		WHERE id = $7
	`

	result, err := r.querier.Exec(ctx, query,
		txn.Status,
		txn.ChainTxHash,
		txn.GasFee,
		txn.AttemptCount,
		txn.ReservationID,
		txn.UpdatedAt,
		txn.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update transaction", "id", txn.ID.String(), "error", err)
		return fmt.Errorf("failed to update transaction: %w", err)
	}

	if result.RowsAffected() == 0 {
		return payment.ErrTransactionNotFound{TransactionID: txn.ID}
	}

	return nil
}

// LockForUpdate obtains a pessimistic lock on the transaction row for a state
// transition. Must be used within a transaction.
func (r *TransactionRepository) LockForUpdate(ctx context.Context, id uuid.UUID) (*payment.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`

	txn, err := r.scan(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrTransactionNotFound{TransactionID: id}
		}
		r.logger.Error("Failed to lock transaction for update", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to lock transaction for update: %w", err)
	}

	return txn, nil
}

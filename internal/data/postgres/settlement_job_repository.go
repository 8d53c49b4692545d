package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cardpay-pipeline/internal/domain/settlement"
	"github.com/cardpay-pipeline/internal/platform/persistence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const jobColumns = `id, transaction_id, payload, submitted_signature, status,
	attempts_made, max_attempts, next_run_at, last_error, created_at, updated_at`

// SettlementJobRepository implements the settlement.Repository interface for PostgreSQL
type SettlementJobRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewSettlementJobRepository creates a new PostgreSQL settlement job repository
func NewSettlementJobRepository(logger *slog.Logger, db *persistence.PostgresDB) settlement.Repository {
	return &SettlementJobRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction
func (r *SettlementJobRepository) WithTx(tx pgx.Tx) settlement.Repository {
	return &SettlementJobRepository{
		querier: tx,
		logger:  r.logger,
	}
}

func (r *SettlementJobRepository) scan(row pgx.Row) (*settlement.Job, error) {
	var job settlement.Job
	err := row.Scan(
		&job.ID,
		&job.TransactionID,
		&job.Payload,
		&job.SubmittedSignature,
		&job.Status,
		&job.AttemptsMade,
		&job.MaxAttempts,
		&job.NextRunAt,
		&job.LastError,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Create stores a new settlement job. Each transaction gets at most one job,
// enforced by a unique constraint.
func (r *SettlementJobRepository) Create(ctx context.Context, job *settlement.Job) error {
	query := `
		INSERT INTO settlement_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.querier.Exec(ctx, query,
		job.ID,
		job.TransactionID,
		job.Payload,
		job.SubmittedSignature,
		job.Status,
		job.AttemptsMade,
		job.MaxAttempts,
		job.NextRunAt,
		job.LastError,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return settlement.ErrDuplicateJob{TransactionID: job.TransactionID}
		}
		r.logger.Error("Failed to create settlement job", "error", err)
		return fmt.Errorf("failed to create settlement job: %w", err)
	}

	return nil
}

// GetByID retrieves a job by its ID
func (r *SettlementJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*settlement.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM settlement_jobs WHERE id = $1`

	job, err := r.scan(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, settlement.ErrJobNotFound{}
		}
		r.logger.Error("Failed to get settlement job", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get settlement job: %w", err)
	}

	return job, nil
}

// GetByTransactionID retrieves the job backing a transaction
func (r *SettlementJobRepository) GetByTransactionID(ctx context.Context, transactionID uuid.UUID) (*settlement.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM settlement_jobs WHERE transaction_id = $1`

	job, err := r.scan(r.querier.QueryRow(ctx, query, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, settlement.ErrJobNotFound{TransactionID: transactionID}
		}
		r.logger.Error("Failed to get settlement job by transaction", "transaction_id", transactionID.String(), "error", err)
		return nil, fmt.Errorf("failed to get settlement job by transaction: %w", err)
	}

	return job, nil
}

// GetBySignature retrieves the job that recorded the given submitted
// signature. Returns nil, nil when no job ever submitted it.
func (r *SettlementJobRepository) GetBySignature(ctx context.Context, signature string) (*settlement.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM settlement_jobs WHERE submitted_signature = $1`

	job, err := r.scan(r.querier.QueryRow(ctx, query, signature))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get settlement job by signature", "error", err)
		return nil, fmt.Errorf("failed to get settlement job by signature: %w", err)
	}

	return job, nil
}

// LeaseDue atomically claims up to limit due jobs, marking them LEASED.
// SKIP LOCKED lets concurrent workers lease disjoint sets without blocking
// each other.
func (r *SettlementJobRepository) LeaseDue(ctx context.Context, now time.Time, limit int) ([]*settlement.Job, error) {
	query := `
		UPDATE settlement_jobs
		SET status = $1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM settlement_jobs
			WHERE status IN ($2, $3) AND next_run_at <= $4
			ORDER BY next_run_at ASC
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	rows, err := r.querier.Query(ctx, query,
		settlement.JobStatusLeased,
		settlement.JobStatusQueued,
		settlement.JobStatusRetryWait,
		now,
		limit,
	)
	if err != nil {
		r.logger.Error("Failed to lease settlement jobs", "error", err)
		return nil, fmt.Errorf("failed to lease settlement jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*settlement.Job
	for rows.Next() {
		job, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate settlement jobs: %w", err)
	}

	return jobs, nil
}

// Update persists the job's mutable fields
func (r *SettlementJobRepository) Update(ctx context.Context, job *settlement.Job) error {
	query := `
		UPDATE settlement_jobs
		SET submitted_signature = $1, status = $2, attempts_made = $3, next_run_at = $4,
		    last_error = $5, updated_at = $6
		WHERE id = $7
	`

	result, err := r.querier.Exec(ctx, query,
		job.SubmittedSignature,
		job.Status,
		job.AttemptsMade,
		job.NextRunAt,
		job.LastError,
		job.UpdatedAt,
		job.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update settlement job", "id", job.ID.String(), "error", err)
		return fmt.Errorf("failed to update settlement job: %w", err)
	}

	if result.RowsAffected() == 0 {
		return settlement.ErrJobNotFound{TransactionID: job.TransactionID}
	}

	return nil
}

// ListIndeterminate returns unresolved submissions older than the cutoff,
// oldest first
func (r *SettlementJobRepository) ListIndeterminate(ctx context.Context, cutoff time.Time, limit int) ([]*settlement.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM settlement_jobs
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`

	rows, err := r.querier.Query(ctx, query, settlement.JobStatusIndeterminate, cutoff, limit)
	if err != nil {
		r.logger.Error("Failed to list indeterminate jobs", "error", err)
		return nil, fmt.Errorf("failed to list indeterminate jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*settlement.Job
	for rows.Next() {
		job, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate settlement jobs: %w", err)
	}

	return jobs, nil
}

// CancelQueued withdraws a job no worker has leased yet. Returns false when
// the job already left the QUEUED state, in which case cancellation must be
// refused.
func (r *SettlementJobRepository) CancelQueued(ctx context.Context, transactionID uuid.UUID) (bool, error) {
	query := `
		UPDATE settlement_jobs
		SET status = $1, updated_at = NOW()
		WHERE transaction_id = $2 AND status = $3
	`

	result, err := r.querier.Exec(ctx, query, settlement.JobStatusCancelled, transactionID, settlement.JobStatusQueued)
	if err != nil {
		r.logger.Error("Failed to cancel settlement job", "transaction_id", transactionID.String(), "error", err)
		return false, fmt.Errorf("failed to cancel settlement job: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

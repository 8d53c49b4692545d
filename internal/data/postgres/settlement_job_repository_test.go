package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cardpay-pipeline/internal/domain/settlement"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jobColumnNames = []string{
	"id", "transaction_id", "payload", "submitted_signature", "status",
	"attempts_made", "max_attempts", "next_run_at", "last_error", "created_at", "updated_at",
}

func jobRow(job *settlement.Job) *pgxmock.Rows {
	return pgxmock.NewRows(jobColumnNames).
		AddRow(job.ID, job.TransactionID, job.Payload, job.SubmittedSignature, job.Status,
			job.AttemptsMade, job.MaxAttempts, job.NextRunAt, job.LastError, job.CreatedAt, job.UpdatedAt)
}

func TestSettlementJobRepository_Create(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &SettlementJobRepository{querier: mock, logger: logger}
	job := settlement.NewJob(uuid.New(), []byte("signed-bytes"), 5)

	query := `INSERT INTO settlement_jobs`

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs(job.ID, job.TransactionID, job.Payload, job.SubmittedSignature, job.Status,
				job.AttemptsMade, job.MaxAttempts, job.NextRunAt, job.LastError, job.CreatedAt, job.UpdatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err := repo.Create(ctx, job)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate transaction", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs(job.ID, job.TransactionID, job.Payload, job.SubmittedSignature, job.Status,
				job.AttemptsMade, job.MaxAttempts, job.NextRunAt, job.LastError, job.CreatedAt, job.UpdatedAt).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		err := repo.Create(ctx, job)
		assert.Error(t, err)
		var dupErr settlement.ErrDuplicateJob
		assert.ErrorAs(t, err, &dupErr)
		assert.Equal(t, job.TransactionID, dupErr.TransactionID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSettlementJobRepository_GetByTransactionID(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &SettlementJobRepository{querier: mock, logger: logger}
	expected := settlement.NewJob(uuid.New(), []byte("signed-bytes"), 5)

	query := `SELECT (.+) FROM settlement_jobs WHERE transaction_id = \$1`

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(expected.TransactionID).WillReturnRows(jobRow(expected))

		job, err := repo.GetByTransactionID(ctx, expected.TransactionID)
		assert.NoError(t, err)
		assert.Equal(t, expected, job)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(expected.TransactionID).WillReturnError(pgx.ErrNoRows)

		job, err := repo.GetByTransactionID(ctx, expected.TransactionID)
		assert.Error(t, err)
		assert.Nil(t, job)
		var notFoundErr settlement.ErrJobNotFound
		assert.ErrorAs(t, err, &notFoundErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSettlementJobRepository_GetBySignature(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &SettlementJobRepository{querier: mock, logger: logger}
	expected := settlement.NewJob(uuid.New(), []byte("signed-bytes"), 5)
	expected.MarkSubmitted("sig-1")

	query := `SELECT (.+) FROM settlement_jobs WHERE submitted_signature = \$1`

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs("sig-1").WillReturnRows(jobRow(expected))

		job, err := repo.GetBySignature(ctx, "sig-1")
		assert.NoError(t, err)
		assert.Equal(t, expected, job)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown signature returns nil", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs("forged").WillReturnError(pgx.ErrNoRows)

		job, err := repo.GetBySignature(ctx, "forged")
		assert.NoError(t, err)
		assert.Nil(t, job)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSettlementJobRepository_LeaseDue(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &SettlementJobRepository{querier: mock, logger: logger}
	due := settlement.NewJob(uuid.New(), []byte("signed-bytes"), 5)
	due.Status = settlement.JobStatusLeased
	now := time.Now()

	query := `UPDATE settlement_jobs\s+SET status = \$1, updated_at = NOW\(\)\s+WHERE id IN \(\s+SELECT id FROM settlement_jobs\s+WHERE status IN \(\$2, \$3\) AND next_run_at <= \$4\s+ORDER BY next_run_at ASC\s+LIMIT \$5\s+FOR UPDATE SKIP LOCKED\s+\)\s+RETURNING`

	mock.ExpectQuery(query).
		WithArgs(settlement.JobStatusLeased, settlement.JobStatusQueued, settlement.JobStatusRetryWait, now, 10).
		WillReturnRows(jobRow(due))

	jobs, err := repo.LeaseDue(ctx, now, 10)
	assert.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, due, jobs[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettlementJobRepository_Update(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &SettlementJobRepository{querier: mock, logger: logger}
	job := settlement.NewJob(uuid.New(), []byte("signed-bytes"), 5)
	job.MarkSubmitted("sig-1")

	query := `UPDATE settlement_jobs\s+SET submitted_signature = \$1, status = \$2, attempts_made = \$3, next_run_at = \$4,\s+last_error = \$5, updated_at = \$6\s+WHERE id = \$7`

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs(job.SubmittedSignature, job.Status, job.AttemptsMade, job.NextRunAt, job.LastError, job.UpdatedAt, job.ID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err := repo.Update(ctx, job)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs(job.SubmittedSignature, job.Status, job.AttemptsMade, job.NextRunAt, job.LastError, job.UpdatedAt, job.ID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := repo.Update(ctx, job)
		assert.Error(t, err)
		var notFoundErr settlement.ErrJobNotFound
		assert.ErrorAs(t, err, &notFoundErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSettlementJobRepository_ListIndeterminate(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &SettlementJobRepository{querier: mock, logger: logger}
	job := settlement.NewJob(uuid.New(), []byte("signed-bytes"), 5)
	job.MarkSubmitted("sig-1")
	job.MarkIndeterminate("confirmation wait elapsed")
	cutoff := time.Now()

	query := `SELECT (.+)\s+FROM settlement_jobs\s+WHERE status = \$1 AND updated_at < \$2\s+ORDER BY updated_at ASC\s+LIMIT \$3`

	mock.ExpectQuery(query).
		WithArgs(settlement.JobStatusIndeterminate, cutoff, 10).
		WillReturnRows(jobRow(job))

	jobs, err := repo.ListIndeterminate(ctx, cutoff, 10)
	assert.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, job, jobs[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettlementJobRepository_CancelQueued(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &SettlementJobRepository{querier: mock, logger: logger}
	transactionID := uuid.New()

	query := `UPDATE settlement_jobs\s+SET status = \$1, updated_at = NOW\(\)\s+WHERE transaction_id = \$2 AND status = \$3`

	t.Run("cancels queued job", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs(settlement.JobStatusCancelled, transactionID, settlement.JobStatusQueued).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		cancelled, err := repo.CancelQueued(ctx, transactionID)
		assert.NoError(t, err)
		assert.True(t, cancelled)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("refuses once picked up", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs(settlement.JobStatusCancelled, transactionID, settlement.JobStatusQueued).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		cancelled, err := repo.CancelQueued(ctx, transactionID)
		assert.NoError(t, err)
		assert.False(t, cancelled)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("db error", func(t *testing.T) {
		dbErr := errors.New("db error")
		mock.ExpectExec(query).
			WithArgs(settlement.JobStatusCancelled, transactionID, settlement.JobStatusQueued).
			WillReturnError(dbErr)

		cancelled, err := repo.CancelQueued(ctx, transactionID)
		assert.Error(t, err)
		assert.False(t, cancelled)
		assert.ErrorIs(t, err, dbErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

package settlement

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJob(t *testing.T) {
	transactionID := uuid.New()
	payload := []byte("signed-transaction-bytes")

	beforeCreation := time.Now()
	job := NewJob(transactionID, payload, 5)
	afterCreation := time.Now()

	require.NotNil(t, job)
	assert.NotEqual(t, uuid.Nil, job.ID)
	assert.Equal(t, transactionID, job.TransactionID)
	assert.Equal(t, payload, job.Payload)
	assert.Equal(t, JobStatusQueued, job.Status)
	assert.Zero(t, job.AttemptsMade)
	assert.Equal(t, 5, job.MaxAttempts)
	assert.Nil(t, job.SubmittedSignature)
	assert.WithinDuration(t, beforeCreation, job.NextRunAt, afterCreation.Sub(beforeCreation)+time.Millisecond, "new job should be due immediately")
}

func TestJob_MarkSubmitted(t *testing.T) {
	job := NewJob(uuid.New(), []byte("payload"), 5)
	job.MarkLeased()

	job.MarkSubmitted("signature-1")

	assert.Equal(t, JobStatusSubmitted, job.Status)
	assert.Equal(t, 1, job.AttemptsMade)
	require.NotNil(t, job.SubmittedSignature)
	assert.Equal(t, "signature-1", *job.SubmittedSignature)
}

func TestJob_Exhausted(t *testing.T) {
	job := NewJob(uuid.New(), []byte("payload"), 2)

	assert.False(t, job.Exhausted())

	job.MarkSubmitted("sig")
	assert.False(t, job.Exhausted())

	job.MarkSubmitted("sig")
	assert.True(t, job.Exhausted())
}

func TestJob_ScheduleRetry(t *testing.T) {
	base := 500 * time.Millisecond
	max := 4 * time.Second

	t.Run("DoublesPerAttempt", func(t *testing.T) {
		expectedDelays := []time.Duration{
			500 * time.Millisecond, // after 1st attempt
			1 * time.Second,        // after 2nd
			2 * time.Second,        // after 3rd
			4 * time.Second,        // after 4th
			4 * time.Second,        // capped
		}

		job := NewJob(uuid.New(), []byte("payload"), 10)
		for i, expected := range expectedDelays {
			job.MarkSubmitted("sig")

			before := time.Now()
			job.ScheduleRetry(base, max, "transient rpc error")

			assert.Equal(t, JobStatusRetryWait, job.Status)
			assert.WithinDuration(t, before.Add(expected), job.NextRunAt, 50*time.Millisecond,
				"attempt %d should back off by %s", i+1, expected)
		}
	})

	t.Run("RecordsCause", func(t *testing.T) {
		job := NewJob(uuid.New(), []byte("payload"), 10)
		job.MarkSubmitted("sig")

		job.ScheduleRetry(base, max, "connection refused")

		require.NotNil(t, job.LastError)
		assert.Equal(t, "connection refused", *job.LastError)
	})

	t.Run("KeepsSubmittedSignature", func(t *testing.T) {
		// The signature identifies the payload, not the attempt; a probe
		// after a retry must still find it.
		job := NewJob(uuid.New(), []byte("payload"), 10)
		job.MarkSubmitted("sig")

		job.ScheduleRetry(base, max, "timeout")

		require.NotNil(t, job.SubmittedSignature)
		assert.Equal(t, "sig", *job.SubmittedSignature)
	})
}

func TestJob_TerminalMarks(t *testing.T) {
	t.Run("Done", func(t *testing.T) {
		job := NewJob(uuid.New(), []byte("payload"), 5)
		job.MarkDone()
		assert.Equal(t, JobStatusDone, job.Status)
	})

	t.Run("Dead", func(t *testing.T) {
		job := NewJob(uuid.New(), []byte("payload"), 5)
		job.MarkDead("attempts exhausted")
		assert.Equal(t, JobStatusDead, job.Status)
		require.NotNil(t, job.LastError)
		assert.Equal(t, "attempts exhausted", *job.LastError)
	})

	t.Run("Cancelled", func(t *testing.T) {
		job := NewJob(uuid.New(), []byte("payload"), 5)
		job.MarkCancelled()
		assert.Equal(t, JobStatusCancelled, job.Status)
	})

	t.Run("Indeterminate", func(t *testing.T) {
		job := NewJob(uuid.New(), []byte("payload"), 5)
		job.MarkSubmitted("sig")
		job.MarkIndeterminate("confirmation wait elapsed")
		assert.Equal(t, JobStatusIndeterminate, job.Status)
	})
}

package settlement

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus defines settlement job lifecycle states
type JobStatus string

const (
	JobStatusQueued JobStatus = "QUEUED"
	JobStatusLeased JobStatus = "LEASED"
	// SUBMITTED means the payload signature was durably recorded and the
	// payload was (or may have been) sent to the chain.
	JobStatusSubmitted     JobStatus = "SUBMITTED"
	JobStatusIndeterminate JobStatus = "INDETERMINATE"
	JobStatusRetryWait     JobStatus = "RETRY_WAIT"
	JobStatusDone          JobStatus = "DONE"
	JobStatusDead          JobStatus = "DEAD"
	JobStatusCancelled     JobStatus = "CANCELLED"
)

// Job is the durable record of one transaction's settlement work. The queue
// message merely signals dispatch; this row is the source of truth for
// attempts, scheduling and the submitted signature.
type Job struct {
	ID                 uuid.UUID  `json:"id"`
	TransactionID      uuid.UUID  `json:"transaction_id"`
	Payload            []byte     `json:"payload"` // Signed transaction bytes
	SubmittedSignature *string    `json:"submitted_signature,omitempty"`
	Status             JobStatus  `json:"status"`
	AttemptsMade       int        `json:"attempts_made"`
	MaxAttempts        int        `json:"max_attempts"`
	NextRunAt          time.Time  `json:"next_run_at"`
	LastError          *string    `json:"last_error,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// NewJob creates a QUEUED job due immediately
func NewJob(transactionID uuid.UUID, payload []byte, maxAttempts int) *Job {
	now := time.Now()
	return &Job{
		ID:            uuid.New(),
		TransactionID: transactionID,
		Payload:       payload,
		Status:        JobStatusQueued,
		AttemptsMade:  0,
		MaxAttempts:   maxAttempts,
		NextRunAt:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Exhausted reports whether the attempt cap has been reached
func (j *Job) Exhausted() bool {
	return j.AttemptsMade >= j.MaxAttempts
}

// MarkLeased takes the job for a worker
func (j *Job) MarkLeased() {
	j.Status = JobStatusLeased
	j.UpdatedAt = time.Now()
}

// MarkSubmitted records the payload signature and counts the attempt. This
// must be persisted before the payload is sent so a lost acknowledgment can
// be probed by signature instead of blindly resubmitted.
func (j *Job) MarkSubmitted(signature string) {
	sig := signature
	j.SubmittedSignature = &sig
	j.Status = JobStatusSubmitted
	j.AttemptsMade++
	j.UpdatedAt = time.Now()
}

// MarkIndeterminate flags a submission whose outcome is unknown. The job must
// not run again until a probe resolves whether the payload landed.
func (j *Job) MarkIndeterminate(cause string) {
	j.Status = JobStatusIndeterminate
	j.LastError = &cause
	j.UpdatedAt = time.Now()
}

// ScheduleRetry puts the job back in the queue with exponential backoff.
// The delay doubles per attempt made, capped at max.
func (j *Job) ScheduleRetry(base, max time.Duration, cause string) {
	delay := base
	for i := 1; i < j.AttemptsMade; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	j.Status = JobStatusRetryWait
	j.NextRunAt = time.Now().Add(delay)
	j.LastError = &cause
	j.UpdatedAt = time.Now()
}

// MarkDone acknowledges terminal success
func (j *Job) MarkDone() {
	j.Status = JobStatusDone
	j.UpdatedAt = time.Now()
}

// MarkDead acknowledges terminal failure
func (j *Job) MarkDead(cause string) {
	j.Status = JobStatusDead
	j.LastError = &cause
	j.UpdatedAt = time.Now()
}

// MarkCancelled withdraws a job that was never picked up
func (j *Job) MarkCancelled() {
	j.Status = JobStatusCancelled
	j.UpdatedAt = time.Now()
}

package shared

import (
	"time"

	"github.com/google/uuid"
)

// SettlementRequest defines a Kafka message dispatching a settlement job to
// the worker. The durable copy of the job lives in the settlement_jobs table;
// this envelope only signals that work is due.
type SettlementRequest struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	JobID         uuid.UUID `json:"job_id"`
	Payload       []byte    `json:"payload"`
	AttemptsMade  int       `json:"attempts_made"`
	MaxAttempts   int       `json:"max_attempts"`
	NextRunAt     time.Time `json:"next_run_at"`
	CorrelationID string    `json:"correlation_id"`
	Timestamp     time.Time `json:"timestamp"`
}

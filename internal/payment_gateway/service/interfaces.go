package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cardpay-pipeline/internal/domain/payment"
	"github.com/cardpay-pipeline/internal/oracle"
)

// PaymentRequest carries a normalized inbound payment request. Amounts are in
// minor units of Currency.
type PaymentRequest struct {
	CardUUID       string
	Amount         int64
	Currency       string
	MerchantID     string
	PIN            string
	IdempotencyKey string
	CorrelationID  string
}

// ValidatedPayment is the outcome of successful validation
type ValidatedPayment struct {
	CardUUID   uuid.UUID `json:"card_uuid"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	MerchantID string    `json:"merchant_id"`
	PIN        string    `json:"-"`
}

// ProcessResult is the outcome of the single-step payment flow. TxHash is the
// signature of the signed settlement payload; it is reported before chain
// confirmation, which the settlement worker drives asynchronously.
type ProcessResult struct {
	Transaction *payment.Transaction
	TxHash      string
	Existing    bool // True when the idempotency key matched a prior request
}

// SignRequest carries the two-step flow's first call: a payload signed
// off-device plus the payment facts to validate and reserve against
type SignRequest struct {
	CardUUID         string
	TransactionBytes []byte
	Amount           int64
	Currency         string
	MerchantID       string
	IdempotencyKey   string
	CorrelationID    string
}

// SignResult acknowledges acceptance of an off-device-signed payment
type SignResult struct {
	Transaction  *payment.Transaction
	ExpectedHash string
}

// CompleteRequest finalizes a previously submitted payment by chain hash. The
// transaction is located by ID when given, otherwise by the card's most
// recent PENDING payment.
type CompleteRequest struct {
	TxHash        string
	TransactionID *uuid.UUID
	CardUUID      *uuid.UUID
	CorrelationID string
}

// PaymentService defines the payment orchestration operations
type PaymentService interface {
	// Validate checks the request shape and business rules without side
	// effects, reporting every violated field
	Validate(req *PaymentRequest) (*ValidatedPayment, error)

	// Process runs the single-step flow: validate, verify credentials,
	// reserve limit, sign, persist PENDING + settlement job, enqueue
	Process(ctx context.Context, req *PaymentRequest) (*ProcessResult, error)

	// Sign runs the first half of the two-step flow with a payload the
	// client signed off-device
	Sign(ctx context.Context, req *SignRequest) (*SignResult, error)

	// Complete verifies the supplied hash against the known submitted
	// payload and the chain, then finalizes the transaction
	Complete(ctx context.Context, req *CompleteRequest) (*payment.Transaction, error)

	// Cancel withdraws a PENDING payment whose settlement has not started
	Cancel(ctx context.Context, transactionID uuid.UUID) error

	// GetByID retrieves a transaction. Returns nil when not found.
	GetByID(ctx context.Context, transactionID uuid.UUID) (*payment.Transaction, error)
}

// CredentialVerifier checks a cardholder credential against an external
// credential service. PIN handling is deliberately out of this pipeline.
type CredentialVerifier interface {
	Verify(ctx context.Context, cardUUID uuid.UUID, pin string) error
}

// RateSource provides conversion quotes; satisfied by oracle.Cache
type RateSource interface {
	GetRate(ctx context.Context, pair string) (oracle.Quote, error)
}

// TxExecutor runs a function inside a database transaction
type TxExecutor interface {
	ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

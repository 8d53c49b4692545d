package payment

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors
var (
	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrEmptyMerchant   = errors.New("merchant id cannot be empty")
	ErrInvalidCurrency = errors.New("currency must be a 3-letter code")
)

// TransactionStatus defines payment lifecycle states
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "PENDING"
	TransactionStatusProcessing TransactionStatus = "PROCESSING"
	TransactionStatusCompleted  TransactionStatus = "COMPLETED"
	TransactionStatusFailed     TransactionStatus = "FAILED"
	TransactionStatusCancelled  TransactionStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is permitted from s.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusCancelled:
		return true
	}
	return false
}

// Transaction represents a card payment. Amounts are stored in minor units.
// Records are never deleted; terminal states are retained for audit.
type Transaction struct {
	ID             uuid.UUID         `json:"id"`
	CardUUID       uuid.UUID         `json:"card_uuid"`
	UserID         uuid.UUID         `json:"user_id"`
	MerchantID     string            `json:"merchant_id"`
	Amount         int64             `json:"amount"` // Minor units
	Currency       string            `json:"currency"`
	Status         TransactionStatus `json:"status"`
	ChainTxHash    *string           `json:"chain_tx_hash,omitempty"`
	GasFee         *int64            `json:"gas_fee,omitempty"`
	AttemptCount   int               `json:"attempt_count"`
	IdempotencyKey string            `json:"idempotency_key"`
	ReservationID  *uuid.UUID        `json:"reservation_id,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// NewTransaction creates a PENDING transaction for the given card and amount
func NewTransaction(cardUUID, userID uuid.UUID, merchantID string, amount int64, currency string, idempotencyKey string) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if merchantID == "" {
		return nil, ErrEmptyMerchant
	}
	if len(currency) != 3 {
		return nil, ErrInvalidCurrency
	}

	now := time.Now()
	return &Transaction{
		ID:             uuid.New(),
		CardUUID:       cardUUID,
		UserID:         userID,
		MerchantID:     merchantID,
		Amount:         amount,
		Currency:       currency,
		Status:         TransactionStatusPending,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// AttachReservation links the limit reservation backing this transaction
func (t *Transaction) AttachReservation(reservationID uuid.UUID) {
	id := reservationID
	t.ReservationID = &id
	t.UpdatedAt = time.Now()
}

// RecordSettlement stores the confirmed chain hash and gas fee
func (t *Transaction) RecordSettlement(txHash string, gasFee *int64) {
	hash := txHash
	t.ChainTxHash = &hash
	t.GasFee = gasFee
	t.UpdatedAt = time.Now()
}

// IncrementAttempts counts one settlement submission attempt
func (t *Transaction) IncrementAttempts() {
	t.AttemptCount++
	t.UpdatedAt = time.Now()
}

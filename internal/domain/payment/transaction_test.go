package payment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTransaction(t *testing.T) {
	t.Run("SuccessfulCreation", func(t *testing.T) {
		cardUUID := uuid.New()
		userID := uuid.New()
		merchantID := "merchant-42"
		amount := int64(2500) // 25.00
		currency := "USD"
		idempotencyKey := "idem-key-1"

		beforeCreation := time.Now()
		txn, err := NewTransaction(cardUUID, userID, merchantID, amount, currency, idempotencyKey)
		afterCreation := time.Now()

		require.NoError(t, err)
		require.NotNil(t, txn)

		assert.NotEqual(t, uuid.Nil, txn.ID, "Transaction ID should not be nil")
		assert.Equal(t, cardUUID, txn.CardUUID)
		assert.Equal(t, userID, txn.UserID)
		assert.Equal(t, merchantID, txn.MerchantID)
		assert.Equal(t, amount, txn.Amount)
		assert.Equal(t, currency, txn.Currency)
		assert.Equal(t, TransactionStatusPending, txn.Status)
		assert.Equal(t, idempotencyKey, txn.IdempotencyKey)
		assert.Nil(t, txn.ChainTxHash)
		assert.Nil(t, txn.ReservationID)
		assert.Zero(t, txn.AttemptCount)

		assert.WithinDuration(t, beforeCreation, txn.CreatedAt, afterCreation.Sub(beforeCreation)+time.Millisecond)
		assert.Equal(t, txn.CreatedAt, txn.UpdatedAt)
	})

	t.Run("RejectsNonPositiveAmount", func(t *testing.T) {
		_, err := NewTransaction(uuid.New(), uuid.New(), "merchant-42", 0, "USD", "k")
		assert.ErrorIs(t, err, ErrInvalidAmount)

		_, err = NewTransaction(uuid.New(), uuid.New(), "merchant-42", -100, "USD", "k")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("RejectsEmptyMerchant", func(t *testing.T) {
		_, err := NewTransaction(uuid.New(), uuid.New(), "", 100, "USD", "k")
		assert.ErrorIs(t, err, ErrEmptyMerchant)
	})

	t.Run("RejectsMalformedCurrency", func(t *testing.T) {
		_, err := NewTransaction(uuid.New(), uuid.New(), "merchant-42", 100, "US", "k")
		assert.ErrorIs(t, err, ErrInvalidCurrency)
	})
}

func TestTransaction_AttachReservation(t *testing.T) {
	txn, err := NewTransaction(uuid.New(), uuid.New(), "merchant-42", 100, "USD", "k")
	require.NoError(t, err)

	reservationID := uuid.New()
	txn.AttachReservation(reservationID)

	require.NotNil(t, txn.ReservationID)
	assert.Equal(t, reservationID, *txn.ReservationID)
}

func TestTransaction_RecordSettlement(t *testing.T) {
	txn, err := NewTransaction(uuid.New(), uuid.New(), "merchant-42", 100, "USD", "k")
	require.NoError(t, err)

	gasFee := int64(5)
	txn.RecordSettlement("5VfYt7...sig", &gasFee)

	require.NotNil(t, txn.ChainTxHash)
	assert.Equal(t, "5VfYt7...sig", *txn.ChainTxHash)
	require.NotNil(t, txn.GasFee)
	assert.Equal(t, gasFee, *txn.GasFee)
}

func TestTransaction_IncrementAttempts(t *testing.T) {
	txn, err := NewTransaction(uuid.New(), uuid.New(), "merchant-42", 100, "USD", "k")
	require.NoError(t, err)

	txn.IncrementAttempts()
	txn.IncrementAttempts()

	assert.Equal(t, 2, txn.AttemptCount)
}

func TestTransactionStatus_IsTerminal(t *testing.T) {
	assert.False(t, TransactionStatusPending.IsTerminal())
	assert.False(t, TransactionStatusProcessing.IsTerminal())
	assert.True(t, TransactionStatusCompleted.IsTerminal())
	assert.True(t, TransactionStatusFailed.IsTerminal())
	assert.True(t, TransactionStatusCancelled.IsTerminal())
}

package service

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardpay-pipeline/internal/config"
	"github.com/cardpay-pipeline/internal/domain/shared"
)

func newTestValidator() *Validator {
	return NewValidator(&config.PaymentsConfig{
		MinAmount:          100,
		MaxAmount:          1_000_000,
		SettlementCurrency: "USD",
	})
}

func TestValidator_Validate(t *testing.T) {
	validCard := uuid.New().String()

	t.Run("ValidRequest", func(t *testing.T) {
		validated, vErr := newTestValidator().Validate(&PaymentRequest{
			CardUUID:   validCard,
			Amount:     5_000,
			Currency:   "eur",
			MerchantID: " merchant-001 ",
			PIN:        "1234",
		})

		require.Nil(t, vErr)
		assert.Equal(t, validCard, validated.CardUUID.String())
		assert.Equal(t, int64(5_000), validated.Amount)
		assert.Equal(t, "EUR", validated.Currency)
		assert.Equal(t, "merchant-001", validated.MerchantID)
	})

	t.Run("EmptyCurrencyDefaultsToSettlementCurrency", func(t *testing.T) {
		validated, vErr := newTestValidator().Validate(&PaymentRequest{
			CardUUID:   validCard,
			Amount:     5_000,
			MerchantID: "merchant-001",
		})

		require.Nil(t, vErr)
		assert.Equal(t, "USD", validated.Currency)
	})

	t.Run("AmountBelowMinimum", func(t *testing.T) {
		validated, vErr := newTestValidator().Validate(&PaymentRequest{
			CardUUID:   validCard,
			Amount:     50,
			MerchantID: "merchant-001",
		})

		assert.Nil(t, validated)
		require.NotNil(t, vErr)
		require.Len(t, vErr.Fields, 1)
		assert.Equal(t, "amount", vErr.Fields[0].Field)
		assert.Equal(t, shared.CodeInvalidAmount, vErr.Fields[0].Code)
	})

	t.Run("AmountAboveMaximum", func(t *testing.T) {
		_, vErr := newTestValidator().Validate(&PaymentRequest{
			CardUUID:   validCard,
			Amount:     2_000_000,
			MerchantID: "merchant-001",
		})

		require.NotNil(t, vErr)
		require.Len(t, vErr.Fields, 1)
		assert.Equal(t, shared.CodeInvalidAmount, vErr.Fields[0].Code)
	})

	t.Run("AllViolationsAreCollected", func(t *testing.T) {
		_, vErr := newTestValidator().Validate(&PaymentRequest{
			CardUUID:   "not-a-uuid",
			Amount:     -5,
			Currency:   "DOLLARS",
			MerchantID: "   ",
			PIN:        "12ab",
		})

		require.NotNil(t, vErr)
		require.Len(t, vErr.Fields, 5)

		byField := make(map[string]shared.ErrorCode, len(vErr.Fields))
		for _, f := range vErr.Fields {
			byField[f.Field] = f.Code
		}
		assert.Equal(t, shared.CodeInvalidCardUUID, byField["cardUuid"])
		assert.Equal(t, shared.CodeInvalidAmount, byField["amount"])
		assert.Equal(t, shared.CodeInvalidInput, byField["currency"])
		assert.Equal(t, shared.CodeMissingMerchant, byField["merchantId"])
		assert.Equal(t, shared.CodeInvalidPIN, byField["pin"])
	})

	t.Run("PINIsOptional", func(t *testing.T) {
		validated, vErr := newTestValidator().Validate(&PaymentRequest{
			CardUUID:   validCard,
			Amount:     5_000,
			MerchantID: "merchant-001",
		})

		require.Nil(t, vErr)
		assert.Empty(t, validated.PIN)
	})

	t.Run("PINMustBeFourDigits", func(t *testing.T) {
		for _, pin := range []string{"123", "12345", "abcd", "12 4"} {
			_, vErr := newTestValidator().Validate(&PaymentRequest{
				CardUUID:   validCard,
				Amount:     5_000,
				MerchantID: "merchant-001",
				PIN:        pin,
			})

			require.NotNil(t, vErr, "pin %q should be rejected", pin)
			assert.Equal(t, shared.CodeInvalidPIN, vErr.Fields[0].Code)
		}
	})
}

func TestValidationError_Error(t *testing.T) {
	vErr := &ValidationError{Fields: []FieldError{
		{Field: "amount", Code: shared.CodeInvalidAmount},
		{Field: "pin", Code: shared.CodeInvalidPIN},
	}}

	assert.Equal(t, "validation failed: amount, pin", vErr.Error())
}

func TestPaymentError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewPaymentError(shared.CodeDatabaseError, "failed to persist payment", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

package service

import (
	"strings"

	"github.com/google/uuid"

	"github.com/cardpay-pipeline/internal/config"
	"github.com/cardpay-pipeline/internal/domain/shared"
)

// Validator checks payment requests against shape and business rules. It is
// side-effect free and collects every violated field.
type Validator struct {
	minAmount       int64
	maxAmount       int64
	defaultCurrency string
}

func NewValidator(cfg *config.PaymentsConfig) *Validator {
	return &Validator{
		minAmount:       cfg.MinAmount,
		maxAmount:       cfg.MaxAmount,
		defaultCurrency: cfg.SettlementCurrency,
	}
}

// Validate returns the normalized payment or a ValidationError listing all
// violated fields
func (v *Validator) Validate(req *PaymentRequest) (*ValidatedPayment, *ValidationError) {
	var fields []FieldError

	cardUUID, err := uuid.Parse(req.CardUUID)
	if err != nil {
		fields = append(fields, FieldError{
			Field:   "cardUuid",
			Code:    shared.CodeInvalidCardUUID,
			Message: "cardUuid must be a well-formed UUID",
		})
	}

	if req.Amount < v.minAmount {
		fields = append(fields, FieldError{
			Field:   "amount",
			Code:    shared.CodeInvalidAmount,
			Message: "amount is below the minimum transaction amount",
		})
	} else if req.Amount > v.maxAmount {
		fields = append(fields, FieldError{
			Field:   "amount",
			Code:    shared.CodeInvalidAmount,
			Message: "amount exceeds the maximum transaction amount",
		})
	}

	if strings.TrimSpace(req.MerchantID) == "" {
		fields = append(fields, FieldError{
			Field:   "merchantId",
			Code:    shared.CodeMissingMerchant,
			Message: "merchantId is required",
		})
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = v.defaultCurrency
	} else if len(currency) != 3 {
		fields = append(fields, FieldError{
			Field:   "currency",
			Code:    shared.CodeInvalidInput,
			Message: "currency must be a 3-letter code",
		})
	}

	if req.PIN != "" && !validPIN(req.PIN) {
		fields = append(fields, FieldError{
			Field:   "pin",
			Code:    shared.CodeInvalidPIN,
			Message: "pin must be exactly 4 digits",
		})
	}

	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	return &ValidatedPayment{
		CardUUID:   cardUUID,
		Amount:     req.Amount,
		Currency:   currency,
		MerchantID: strings.TrimSpace(req.MerchantID),
		PIN:        req.PIN,
	}, nil
}

func validPIN(pin string) bool {
	if len(pin) != 4 {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

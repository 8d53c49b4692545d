package service

import (
	"strings"

	"github.com/cardpay-pipeline/internal/domain/shared"
)

// PaymentError is a classified orchestration failure. The handler layer maps
// its code onto an HTTP status.
type PaymentError struct {
	Code    shared.ErrorCode
	Message string
	Err     error
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// NewPaymentError creates a classified error. err may be nil.
func NewPaymentError(code shared.ErrorCode, message string, err error) *PaymentError {
	return &PaymentError{Code: code, Message: message, Err: err}
}

// FieldError names one violated validation rule
type FieldError struct {
	Field   string           `json:"field"`
	Code    shared.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

// ValidationError reports every violated field of a request, not just the
// first, so the caller can surface all problems at once
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Field
	}
	return "validation failed: " + strings.Join(names, ", ")
}

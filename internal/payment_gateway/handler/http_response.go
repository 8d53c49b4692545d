package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cardpay-pipeline/internal/domain/shared"
	"github.com/cardpay-pipeline/internal/payment_gateway/middleware"
	"github.com/cardpay-pipeline/internal/payment_gateway/service"
)

// Response represents a standard API response
type Response struct {
	Data          interface{} `json:"data,omitempty"`
	Error         *ErrorInfo  `json:"error,omitempty"`
	CorrelationID string      `json:"correlation_id,omitempty"`
}

// ErrorInfo represents error information in a response. Fields is populated
// for validation failures and lists every violated field.
type ErrorInfo struct {
	Code    string               `json:"code"`
	Message string               `json:"message"`
	Fields  []service.FieldError `json:"fields,omitempty"`
}

// NewResponse creates a new response with data
func NewResponse(data interface{}) *Response {
	return &Response{
		Data: data,
	}
}

// NewErrorResponse creates a new error response
func NewErrorResponse(code, message string) *Response {
	return &Response{
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
	}
}

// RespondWithData sends a JSON response with data
func RespondWithData(c *gin.Context, statusCode int, data interface{}) {
	response := NewResponse(data)
	response.CorrelationID = middleware.GetCorrelationID(c)
	c.JSON(statusCode, response)
}

// RespondWithError sends a JSON response with an error
func RespondWithError(c *gin.Context, statusCode int, code, message string) {
	response := NewErrorResponse(code, message)
	response.CorrelationID = middleware.GetCorrelationID(c)
	c.JSON(statusCode, response)
}

// RespondOK sends a 200 OK response with data
func RespondOK(c *gin.Context, data interface{}) {
	RespondWithData(c, http.StatusOK, data)
}

// RespondAccepted sends a 202 Accepted response with data.
func RespondAccepted(c *gin.Context, data interface{}) {
	RespondWithData(c, http.StatusAccepted, data)
}

// RespondBadRequest sends a 400 Bad Request response with an error
func RespondBadRequest(c *gin.Context, message string) {
	RespondWithError(c, http.StatusBadRequest, string(shared.CodeInvalidInput), message)
}

// RespondNotFound sends a 404 Not Found response with an error
func RespondNotFound(c *gin.Context, message string) {
	if message == "" {
		message = "Resource not found"
	}
	RespondWithError(c, http.StatusNotFound, "NOT_FOUND", message)
}

// RespondInternalError sends a 500 Internal Server Error response with an error
func RespondInternalError(c *gin.Context) {
	RespondWithError(c, http.StatusInternalServerError, string(shared.CodeInternalError), "An internal server error occurred")
}

// RespondServiceError maps a service-layer error onto an HTTP status and
// error envelope. Unknown errors become a 500 without leaking detail.
func RespondServiceError(c *gin.Context, err error) {
	var vErr *service.ValidationError
	if errors.As(err, &vErr) {
		response := &Response{
			Error: &ErrorInfo{
				Code:    string(shared.CodeInvalidInput),
				Message: vErr.Error(),
				Fields:  vErr.Fields,
			},
			CorrelationID: middleware.GetCorrelationID(c),
		}
		c.JSON(http.StatusBadRequest, response)
		return
	}

	var paymentErr *service.PaymentError
	if errors.As(err, &paymentErr) {
		RespondWithError(c, statusForCode(paymentErr.Code), string(paymentErr.Code), paymentErr.Message)
		return
	}

	RespondInternalError(c)
}

// statusForCode maps the stable error codes onto HTTP statuses. Business rule
// refusals that a retry of the same request cannot fix are 422; state
// conflicts that may resolve (or are already resolved differently) are 409.
func statusForCode(code shared.ErrorCode) int {
	switch code {
	case shared.CodeInvalidInput, shared.CodeInvalidCardUUID, shared.CodeInvalidAmount,
		shared.CodeInvalidPIN, shared.CodeMissingMerchant:
		return http.StatusBadRequest
	case shared.CodeCredentialRejected:
		return http.StatusUnauthorized
	case shared.CodeCardNotFound:
		return http.StatusNotFound
	case shared.CodeLimitExceeded, shared.CodeCardState, shared.CodeUnknownHash:
		return http.StatusUnprocessableEntity
	case shared.CodeDuplicateRequest, shared.CodeCancelRefused,
		shared.CodeNotConfirmed, shared.CodeTransactionFailed:
		return http.StatusConflict
	case shared.CodeDatabaseError, shared.CodeQueueError:
		return http.StatusServiceUnavailable
	case shared.CodeBlockchainError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

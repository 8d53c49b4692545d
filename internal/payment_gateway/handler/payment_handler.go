package handler

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cardpay-pipeline/internal/domain/payment"
	"github.com/cardpay-pipeline/internal/payment_gateway/middleware"
	"github.com/cardpay-pipeline/internal/payment_gateway/service"
)

// PaymentHandler handles HTTP requests for payment operations
type PaymentHandler struct {
	paymentService service.PaymentService
	logger         *slog.Logger
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(logger *slog.Logger, paymentService service.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		logger:         logger,
	}
}

// Validate checks a payment request without executing it, reporting every
// violated field
func (h *PaymentHandler) Validate(c *gin.Context) {
	var req ValidatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	validated, err := h.paymentService.Validate(&service.PaymentRequest{
		CardUUID:   req.CardUUID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		MerchantID: req.MerchantID,
		PIN:        req.PIN,
	})
	if err != nil {
		RespondServiceError(c, err)
		return
	}

	RespondOK(c, gin.H{
		"valid":      true,
		"cardUuid":   validated.CardUUID.String(),
		"amount":     validated.Amount,
		"currency":   validated.Currency,
		"merchantId": validated.MerchantID,
	})
}

// Process runs the single-step payment flow and returns the expected chain
// hash; settlement confirmation happens asynchronously
func (h *PaymentHandler) Process(c *gin.Context) {
	var req ProcessPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	result, err := h.paymentService.Process(c.Request.Context(), &service.PaymentRequest{
		CardUUID:       req.CardUUID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		MerchantID:     req.MerchantID,
		PIN:            req.PIN,
		IdempotencyKey: req.IdempotencyKey,
		CorrelationID:  middleware.GetCorrelationID(c),
	})
	if err != nil {
		RespondServiceError(c, err)
		return
	}

	response := mapTransactionToResponse(result.Transaction)
	if response.TxHash == "" {
		response.TxHash = result.TxHash
	}
	RespondOK(c, response)
}

// Sign accepts the first half of the two-step flow: an off-device-signed
// settlement payload plus the payment facts
func (h *PaymentHandler) Sign(c *gin.Context) {
	var req SignPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	payload, err := base64.StdEncoding.DecodeString(req.TransactionBytes)
	if err != nil {
		RespondBadRequest(c, "transactionBytes must be base64-encoded")
		return
	}

	result, err := h.paymentService.Sign(c.Request.Context(), &service.SignRequest{
		CardUUID:         req.CardUUID,
		TransactionBytes: payload,
		Amount:           req.Amount,
		Currency:         req.Currency,
		MerchantID:       req.MerchantID,
		IdempotencyKey:   req.IdempotencyKey,
		CorrelationID:    middleware.GetCorrelationID(c),
	})
	if err != nil {
		RespondServiceError(c, err)
		return
	}

	RespondAccepted(c, gin.H{
		"transactionId": result.Transaction.ID.String(),
		"status":        string(result.Transaction.Status),
		"expectedHash":  result.ExpectedHash,
	})
}

// Complete finalizes a previously submitted payment by its chain hash
func (h *PaymentHandler) Complete(c *gin.Context) {
	var req CompletePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	completeReq := &service.CompleteRequest{
		TxHash:        req.TxHash,
		CorrelationID: middleware.GetCorrelationID(c),
	}
	if req.TransactionID != "" {
		id, err := uuid.Parse(req.TransactionID)
		if err != nil {
			RespondBadRequest(c, "Invalid transaction ID")
			return
		}
		completeReq.TransactionID = &id
	}
	if req.CardUUID != "" {
		id, err := uuid.Parse(req.CardUUID)
		if err != nil {
			RespondBadRequest(c, "Invalid card UUID")
			return
		}
		completeReq.CardUUID = &id
	}

	tx, err := h.paymentService.Complete(c.Request.Context(), completeReq)
	if err != nil {
		var notFound payment.ErrTransactionNotFound
		if completeReq.TransactionID != nil && errors.As(err, &notFound) {
			RespondNotFound(c, "Transaction not found")
			return
		}
		RespondServiceError(c, err)
		return
	}

	RespondOK(c, mapTransactionToResponse(tx))
}

// Cancel withdraws a pending payment whose settlement has not started
func (h *PaymentHandler) Cancel(c *gin.Context) {
	idParam := c.Param("id")
	id, err := uuid.Parse(idParam)
	if err != nil {
		h.logger.Error("Invalid transaction ID", "id", idParam, "error", err)
		RespondBadRequest(c, "Invalid transaction ID")
		return
	}

	if err := h.paymentService.Cancel(c.Request.Context(), id); err != nil {
		var notFound payment.ErrTransactionNotFound
		if errors.As(err, &notFound) {
			RespondNotFound(c, "Transaction not found")
			return
		}
		RespondServiceError(c, err)
		return
	}

	RespondOK(c, gin.H{
		"transactionId": id.String(),
		"status":        string(payment.TransactionStatusCancelled),
	})
}

// GetByID retrieves payment details by transaction ID, returns 404 if not found
func (h *PaymentHandler) GetByID(c *gin.Context) {
	idParam := c.Param("id")
	id, err := uuid.Parse(idParam)
	if err != nil {
		h.logger.Error("Invalid transaction ID", "id", idParam, "error", err)
		RespondBadRequest(c, "Invalid transaction ID")
		return
	}

	tx, err := h.paymentService.GetByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to get transaction", "id", idParam, "error", err)
		RespondServiceError(c, err)
		return
	}

	if tx == nil {
		RespondNotFound(c, "Transaction not found")
		return
	}

	RespondOK(c, mapTransactionToResponse(tx))
}

// mapTransactionToResponse maps a transaction to its response DTO
func mapTransactionToResponse(tx *payment.Transaction) TransactionResponse {
	response := TransactionResponse{
		TransactionID: tx.ID.String(),
		CardUUID:      tx.CardUUID.String(),
		MerchantID:    tx.MerchantID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Status:        string(tx.Status),
		CreatedAt:     tx.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     tx.UpdatedAt.Format(time.RFC3339),
	}

	if tx.ChainTxHash != nil {
		response.TxHash = *tx.ChainTxHash
	}

	return response
}

package handler

// Request DTOs deliberately carry no binding constraints beyond shape: the
// validator collects every violated field in one pass, which gin's binding
// (first failure wins) cannot do.

// ValidatePaymentRequest represents a request to validate a payment without
// executing it
type ValidatePaymentRequest struct {
	CardUUID   string `json:"cardUuid"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency,omitempty"`
	MerchantID string `json:"merchantId"`
	PIN        string `json:"pin,omitempty"`
}

// ProcessPaymentRequest represents a single-step payment request
type ProcessPaymentRequest struct {
	CardUUID       string `json:"cardUuid"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency,omitempty"`
	MerchantID     string `json:"merchantId"`
	PIN            string `json:"pin,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// SignPaymentRequest represents the first half of the two-step flow: a
// settlement payload signed off-device, base64-encoded
type SignPaymentRequest struct {
	CardUUID         string `json:"cardUuid"`
	TransactionBytes string `json:"transactionBytes"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency,omitempty"`
	MerchantID       string `json:"merchantId"`
	IdempotencyKey   string `json:"idempotencyKey,omitempty"`
}

// CompletePaymentRequest finalizes a previously submitted payment by its
// chain hash. The payment is located by transactionId when given, otherwise
// by the card's most recent pending payment.
type CompletePaymentRequest struct {
	TxHash        string `json:"txHash"`
	TransactionID string `json:"transactionId,omitempty"`
	CardUUID      string `json:"cardUuid,omitempty"`
}

// TransactionResponse represents a payment transaction in API responses
type TransactionResponse struct {
	TransactionID string `json:"transactionId"`
	CardUUID      string `json:"cardUuid"`
	MerchantID    string `json:"merchantId"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	TxHash        string `json:"txHash,omitempty"`
	CreatedAt     string `json:"createdAt"`
	UpdatedAt     string `json:"updatedAt"`
}

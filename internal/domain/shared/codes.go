package shared

// ErrorCode classifies failures surfaced to API callers. Codes are stable:
// clients key on them for user-facing messaging.
type ErrorCode string

const (
	// Validation failures (mapped to HTTP 400)
	CodeInvalidInput    ErrorCode = "VAL_INVALID_INPUT"
	CodeInvalidCardUUID ErrorCode = "VAL_INVALID_CARD_UUID"
	CodeInvalidAmount   ErrorCode = "VAL_INVALID_AMOUNT"
	CodeInvalidPIN      ErrorCode = "VAL_INVALID_PIN"
	CodeMissingMerchant ErrorCode = "VAL_MISSING_MERCHANT"

	// Credential failures (mapped to HTTP 401)
	CodeCredentialRejected ErrorCode = "AUTH_CREDENTIAL_REJECTED"

	// Business rule failures (mapped to HTTP 409/422)
	CodeLimitExceeded     ErrorCode = "PAY_LIMIT_EXCEEDED"
	CodeCardState         ErrorCode = "PAY_CARD_STATE"
	CodeCardNotFound      ErrorCode = "PAY_CARD_NOT_FOUND"
	CodeDuplicateRequest  ErrorCode = "PAY_DUPLICATE_REQUEST"
	CodeUnknownHash       ErrorCode = "PAY_UNKNOWN_HASH"
	CodeNotConfirmed      ErrorCode = "PAY_NOT_CONFIRMED"
	CodeCancelRefused     ErrorCode = "PAY_CANCEL_REFUSED"
	CodeTransactionFailed ErrorCode = "PAY_TRANSACTION_FAILED"

	// Infrastructure failures (mapped to HTTP 502/503)
	CodeDatabaseError   ErrorCode = "SYS_DATABASE_ERROR"
	CodeQueueError      ErrorCode = "SYS_QUEUE_ERROR"
	CodeBlockchainError ErrorCode = "SYS_BLOCKCHAIN_ERROR"
	CodeInternalError   ErrorCode = "SYS_INTERNAL_ERROR"
)

package consumer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cardpay-pipeline/internal/domain/shared"
)

type MockSettlementService struct {
	mock.Mock
}

func (m *MockSettlementService) ProcessSettlement(ctx context.Context, request *shared.SettlementRequest) error {
	args := m.Called(ctx, request)
	return args.Error(0)
}

type MockDeadLetterPublisher struct {
	mock.Mock
}

func (m *MockDeadLetterPublisher) PublishToDLQ(ctx context.Context, key string, originalMessageValue []byte, reason string) error {
	args := m.Called(ctx, key, originalMessageValue, reason)
	return args.Error(0)
}

func (m *MockDeadLetterPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSettlementEventHandler_HandleMessage(t *testing.T) {
	ctx := context.Background()

	validRequest := shared.SettlementRequest{
		TransactionID: uuid.New(),
		JobID:         uuid.New(),
		Payload:       []byte{0x01},
		MaxAttempts:   5,
		CorrelationID: "corr-1",
	}
	validValue, err := json.Marshal(validRequest)
	require.NoError(t, err)

	t.Run("ValidMessageIsProcessedAndCommitted", func(t *testing.T) {
		mockService := new(MockSettlementService)
		handler := NewSettlementEventHandler(newTestLogger(), mockService, nil)

		mockService.On("ProcessSettlement", ctx, mock.MatchedBy(func(req *shared.SettlementRequest) bool {
			return req.JobID == validRequest.JobID && req.TransactionID == validRequest.TransactionID
		})).Return(nil)

		err := handler.HandleMessage(ctx, []byte(validRequest.TransactionID.String()), validValue)

		assert.NoError(t, err)
		mockService.AssertExpectations(t)
	})

	t.Run("ProcessingFailureIsReturnedForRedelivery", func(t *testing.T) {
		mockService := new(MockSettlementService)
		handler := NewSettlementEventHandler(newTestLogger(), mockService, nil)

		mockService.On("ProcessSettlement", ctx, mock.Anything).Return(assert.AnError)

		err := handler.HandleMessage(ctx, []byte(validRequest.TransactionID.String()), validValue)

		assert.Error(t, err)
	})

	t.Run("UnparsableMessageGoesToDLQ", func(t *testing.T) {
		mockService := new(MockSettlementService)
		mockDLQ := new(MockDeadLetterPublisher)
		handler := NewSettlementEventHandler(newTestLogger(), mockService, mockDLQ)

		badValue := []byte(`{"transaction_id": not-json`)
		mockDLQ.On("PublishToDLQ", ctx, "key-1", badValue, mock.Anything).Return(nil)

		err := handler.HandleMessage(ctx, []byte("key-1"), badValue)

		assert.NoError(t, err, "message routed to DLQ should be committed")
		mockService.AssertNotCalled(t, "ProcessSettlement", mock.Anything, mock.Anything)
		mockDLQ.AssertExpectations(t)
	})

	t.Run("UnparsableMessageWithFailingDLQIsRedelivered", func(t *testing.T) {
		mockService := new(MockSettlementService)
		mockDLQ := new(MockDeadLetterPublisher)
		handler := NewSettlementEventHandler(newTestLogger(), mockService, mockDLQ)

		badValue := []byte(`{"broken`)
		mockDLQ.On("PublishToDLQ", ctx, "key-1", badValue, mock.Anything).Return(assert.AnError)

		err := handler.HandleMessage(ctx, []byte("key-1"), badValue)

		assert.Error(t, err)
	})

	t.Run("UnparsableMessageWithoutDLQIsRedelivered", func(t *testing.T) {
		mockService := new(MockSettlementService)
		handler := NewSettlementEventHandler(newTestLogger(), mockService, nil)

		err := handler.HandleMessage(ctx, []byte("key-1"), []byte(`garbage`))

		assert.Error(t, err)
	})
}

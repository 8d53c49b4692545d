package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cardpay-pipeline/internal/domain/payment"
)

const (
	// TransitionCollectionName is the name of the transition audit collection in MongoDB
	TransitionCollectionName = "transaction_transitions"
)

// TransitionRepository implements the payment.TransitionRepository interface
// for MongoDB. The collection is append-only: transitions are facts about the
// past and are never updated or deleted.
type TransitionRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewTransitionRepository creates a new MongoDB transition audit repository
func NewTransitionRepository(logger *slog.Logger, db *mongo.Database) payment.TransitionRepository {
	return &TransitionRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends a transition record
func (r *TransitionRepository) Create(ctx context.Context, transition *payment.Transition) error {
	collection := r.db.Collection(TransitionCollectionName)

	_, err := collection.InsertOne(ctx, transition)
	if err != nil {
		r.logger.Error("Failed to record transition",
			"transaction_id", transition.TransactionID.String(),
			"from", string(transition.From),
			"to", string(transition.To),
			"error", err)
		return fmt.Errorf("failed to record transition: %w", err)
	}

	return nil
}

// GetByTransactionID retrieves a transaction's transition history, oldest first
func (r *TransitionRepository) GetByTransactionID(ctx context.Context, transactionID uuid.UUID) ([]*payment.Transition, error) {
	collection := r.db.Collection(TransitionCollectionName)

	filter := bson.M{"transaction_id": transactionID}
	opts := options.Find().SetSort(bson.M{"occurred_at": 1})

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to get transitions",
			"transaction_id", transactionID.String(),
			"error", err)
		return nil, fmt.Errorf("failed to get transitions: %w", err)
	}
	defer cursor.Close(ctx)

	var transitions []*payment.Transition
	if err := cursor.All(ctx, &transitions); err != nil {
		r.logger.Error("Failed to decode transitions",
			"transaction_id", transactionID.String(),
			"error", err)
		return nil, fmt.Errorf("failed to decode transitions: %w", err)
	}

	return transitions, nil
}

// GetByTimeRange retrieves paginated transition records within the specified
// time window, newest first, for audit review.
func (r *TransitionRepository) GetByTimeRange(ctx context.Context, startTime, endTime time.Time, limit, offset int) ([]*payment.Transition, error) {
	collection := r.db.Collection(TransitionCollectionName)

	filter := bson.M{
		"occurred_at": bson.M{
			"$gte": startTime,
			"$lte": endTime,
		},
	}
	opts := options.Find().
		SetSort(bson.M{"occurred_at": -1}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to get transitions by time range",
			"start_time", startTime,
			"end_time", endTime,
			"error", err)
		return nil, fmt.Errorf("failed to get transitions by time range: %w", err)
	}
	defer cursor.Close(ctx)

	var transitions []*payment.Transition
	if err := cursor.All(ctx, &transitions); err != nil {
		r.logger.Error("Failed to decode transitions",
			"start_time", startTime,
			"end_time", endTime,
			"error", err)
		return nil, fmt.Errorf("failed to decode transitions: %w", err)
	}

	return transitions, nil
}

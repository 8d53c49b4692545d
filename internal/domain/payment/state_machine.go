package payment

import (
	"time"

	"github.com/google/uuid"
)

// allowedTransitions is the complete edge set of the transaction lifecycle.
// Terminal states have no outgoing edges.
var allowedTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending:    {TransactionStatusProcessing, TransactionStatusCancelled},
	TransactionStatusProcessing: {TransactionStatusCompleted, TransactionStatusFailed},
}

// ErrInvalidTransition indicates a transition outside the allowed edge set
type ErrInvalidTransition struct {
	TransactionID uuid.UUID
	From          TransactionStatus
	To            TransactionStatus
}

func (e ErrInvalidTransition) Error() string {
	return "invalid transition " + string(e.From) + " -> " + string(e.To) +
		" for transaction: " + e.TransactionID.String()
}

// CanTransition reports whether from -> to is an allowed edge
func CanTransition(from, to TransactionStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition is an audit record of a single status change
type Transition struct {
	TransactionID uuid.UUID         `json:"transaction_id" bson:"transaction_id"`
	From          TransactionStatus `json:"from" bson:"from"`
	To            TransactionStatus `json:"to" bson:"to"`
	Reason        string            `json:"reason,omitempty" bson:"reason,omitempty"`
	ChainTxHash   string            `json:"chain_tx_hash,omitempty" bson:"chain_tx_hash,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty" bson:"correlation_id,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at" bson:"occurred_at"`
}

// TransitionTo moves the transaction to the target status if the edge is
// allowed, returning the audit record of the change. Transitions are the only
// way a transaction's status field changes.
func (t *Transaction) TransitionTo(to TransactionStatus, reason string) (*Transition, error) {
	if !CanTransition(t.Status, to) {
		return nil, ErrInvalidTransition{TransactionID: t.ID, From: t.Status, To: to}
	}

	from := t.Status
	t.Status = to
	t.UpdatedAt = time.Now()

	rec := &Transition{
		TransactionID: t.ID,
		From:          from,
		To:            to,
		Reason:        reason,
		OccurredAt:    t.UpdatedAt,
	}
	if t.ChainTxHash != nil {
		rec.ChainTxHash = *t.ChainTxHash
	}
	return rec, nil
}

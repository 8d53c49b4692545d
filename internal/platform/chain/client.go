// Package chain wraps the blockchain RPC boundary. The chain is treated as an
// opaque service that accepts signed transaction bytes and reports signature
// status; all payload construction and signing happens elsewhere.
package chain

import (
	"context"
	"errors"
)

// ErrConfirmationTimeout indicates the confirmation wait elapsed without the
// submission being confirmed or rejected. The outcome is unknown: the caller
// must probe before any retry.
var ErrConfirmationTimeout = errors.New("confirmation wait elapsed")

// Receipt describes a transaction the chain has seen
type Receipt struct {
	Signature     string
	Slot          uint64
	Confirmations uint64
	Finalized     bool
	Err           string // Non-empty when the transaction landed but failed on-chain
}

// ProbeResult is the outcome of a single signature status check
type ProbeResult struct {
	// Found is true when the chain knows the signature. A submission that was
	// never received reports Found=false and is safe to resubmit.
	Found bool
	// Confirmed is true once the required confirmation depth is reached
	Confirmed bool
	// Failed is true when the transaction landed but its execution failed
	Failed  bool
	Receipt *Receipt
}

// Client is the chain RPC boundary used by the settlement worker and the
// reconciler
type Client interface {
	// ExtractSignature derives the payload's signature without sending it,
	// so the signature can be durably recorded before submission
	ExtractSignature(payload []byte) (string, error)

	// Submit sends the raw signed payload and returns its signature.
	// Transient RPC errors are retried internally within a bounded budget.
	Submit(ctx context.Context, payload []byte) (string, error)

	// AwaitConfirmation polls the signature until it confirms, fails
	// on-chain, or the configured wait elapses (ErrConfirmationTimeout)
	AwaitConfirmation(ctx context.Context, signature string) (*Receipt, error)

	// Probe performs a single status check, searching transaction history,
	// for indeterminate-state resolution
	Probe(ctx context.Context, signature string) (*ProbeResult, error)
}

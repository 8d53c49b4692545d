package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"github.com/cardpay-pipeline/internal/config"
)

// rpcAPI is the subset of the Solana RPC client the settlement path needs.
// Narrowed to an interface so tests can stand in for the network.
type rpcAPI interface {
	SendRawTransactionWithOpts(ctx context.Context, rawTx []byte, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
}

// SolanaClient implements Client against a Solana RPC endpoint
type SolanaClient struct {
	rpc    rpcAPI
	logger *slog.Logger
	cfg    *config.ChainConfig
}

func NewSolanaClient(logger *slog.Logger, cfg *config.ChainConfig) *SolanaClient {
	return &SolanaClient{
		rpc:    rpc.New(cfg.RPCEndpoint),
		logger: logger,
		cfg:    cfg,
	}
}

// ExtractSignature decodes the signed payload and returns its primary
// signature. The payload is never sent.
func (c *SolanaClient) ExtractSignature(payload []byte) (string, error) {
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(payload))
	if err != nil {
		return "", fmt.Errorf("failed to decode settlement payload: %w", err)
	}
	if len(tx.Signatures) == 0 {
		return "", errors.New("settlement payload carries no signature")
	}
	return tx.Signatures[0].String(), nil
}

// Submit sends the raw signed payload. Transient RPC failures are retried
// with exponential backoff within the configured elapsed-time budget; errors
// the chain itself returns are not retried, since the payload cannot change.
func (c *SolanaClient) Submit(ctx context.Context, payload []byte) (string, error) {
	operation := func() (solana.Signature, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
		defer cancel()

		sig, err := c.rpc.SendRawTransactionWithOpts(callCtx, payload, rpc.TransactionOpts{
			SkipPreflight:       false,
			PreflightCommitment: rpc.CommitmentConfirmed,
		})
		if err != nil {
			var rpcErr *jsonrpc.RPCError
			if errors.As(err, &rpcErr) {
				// The node understood the request and rejected the
				// payload; resending the same bytes cannot help
				return solana.Signature{}, backoff.Permanent(err)
			}
			c.logger.Warn("Transient RPC error during submission, will retry",
				"error", err,
			)
			return solana.Signature{}, err
		}
		return sig, nil
	}

	sig, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(c.cfg.MaxElapsedRPCRetry),
	)
	if err != nil {
		return "", fmt.Errorf("failed to submit settlement payload: %w", err)
	}

	c.logger.Debug("Submitted settlement payload", "signature", sig.String())
	return sig.String(), nil
}

// AwaitConfirmation polls the signature status until the transaction reaches
// the required confirmation depth, fails on-chain, or the configured wait
// elapses. A timeout means the outcome is unknown, not that it failed.
func (c *SolanaClient) AwaitConfirmation(ctx context.Context, signature string) (*Receipt, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", signature, err)
	}

	deadline := time.After(c.cfg.ConfirmationWait)
	ticker := time.NewTicker(c.cfg.ConfirmationPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, ErrConfirmationTimeout
		case <-ticker.C:
			statuses, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
			if err != nil {
				c.logger.Warn("Failed to fetch signature status",
					"signature", signature,
					"error", err,
				)
				continue
			}
			if len(statuses.Value) == 0 || statuses.Value[0] == nil {
				continue
			}

			status := statuses.Value[0]
			receipt := receiptFromStatus(signature, status)
			if receipt.Err != "" {
				return receipt, nil
			}
			if c.isConfirmed(status) {
				return receipt, nil
			}
		}
	}
}

// Probe performs a single status check, searching the node's transaction
// history so older submissions are still visible
func (c *SolanaClient) Probe(ctx context.Context, signature string) (*ProbeResult, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", signature, err)
	}

	statuses, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, fmt.Errorf("failed to probe signature %s: %w", signature, err)
	}
	if len(statuses.Value) == 0 || statuses.Value[0] == nil {
		return &ProbeResult{Found: false}, nil
	}

	status := statuses.Value[0]
	receipt := receiptFromStatus(signature, status)
	return &ProbeResult{
		Found:     true,
		Confirmed: receipt.Err == "" && c.isConfirmed(status),
		Failed:    receipt.Err != "",
		Receipt:   receipt,
	}, nil
}

func (c *SolanaClient) isConfirmed(status *rpc.SignatureStatusesResult) bool {
	if status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
		return true
	}
	return status.Confirmations != nil && *status.Confirmations >= uint64(c.cfg.MinConfirmations)
}

func receiptFromStatus(signature string, status *rpc.SignatureStatusesResult) *Receipt {
	receipt := &Receipt{
		Signature: signature,
		Slot:      status.Slot,
		Finalized: status.ConfirmationStatus == rpc.ConfirmationStatusFinalized,
	}
	if status.Confirmations != nil {
		receipt.Confirmations = *status.Confirmations
	}
	if status.Err != nil {
		receipt.Err = fmt.Sprintf("%v", status.Err)
	}
	return receipt
}

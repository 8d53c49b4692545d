package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/cardpay-pipeline/internal/config"
)

// Signer produces a signed settlement payload for the single-step payment
// flow, where the gateway holds signing authority. The two-step flow receives
// payloads signed off-device and never uses this.
type Signer interface {
	// SignSettlement builds and signs a transfer of amount (settlement
	// currency minor units) to the configured settlement account, returning
	// the wire bytes
	SignSettlement(ctx context.Context, amount int64) ([]byte, error)
}

// DisabledSigner rejects every signing request. Wired when no signer key is
// configured, leaving only the two-step flow with off-device signing.
type DisabledSigner struct{}

func (DisabledSigner) SignSettlement(ctx context.Context, amount int64) ([]byte, error) {
	return nil, errors.New("server-side signing is not configured")
}

// LocalSigner signs with a private key held in configuration. Intended for
// development and single-tenant deployments; production points SignerKey at
// an operator-managed key.
type LocalSigner struct {
	rpc        rpcAPI
	key        solana.PrivateKey
	settlement solana.PublicKey
	logger     *slog.Logger
}

func NewLocalSigner(logger *slog.Logger, cfg *config.ChainConfig, client *SolanaClient) (*LocalSigner, error) {
	if cfg.SignerKey == "" {
		return nil, errors.New("CHAIN_SIGNER_KEY is required for server-side signing")
	}
	key, err := solana.PrivateKeyFromBase58(cfg.SignerKey)
	if err != nil {
		return nil, fmt.Errorf("invalid signer key: %w", err)
	}
	settlement, err := solana.PublicKeyFromBase58(cfg.SettlementAccount)
	if err != nil {
		return nil, fmt.Errorf("invalid settlement account: %w", err)
	}
	return &LocalSigner{
		rpc:        client.rpc,
		key:        key,
		settlement: settlement,
		logger:     logger,
	}, nil
}

func (s *LocalSigner) SignSettlement(ctx context.Context, amount int64) ([]byte, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("settlement amount must be positive, got %d", amount)
	}

	blockhash, err := s.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recent blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(uint64(amount), s.key.PublicKey(), s.settlement).Build(),
		},
		blockhash.Value.Blockhash,
		solana.TransactionPayer(s.key.PublicKey()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build settlement transaction: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.key.PublicKey()) {
			return &s.key
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign settlement transaction: %w", err)
	}

	payload, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize settlement transaction: %w", err)
	}

	s.logger.Debug("Signed settlement payload", "amount", amount, "signature", tx.Signatures[0].String())
	return payload, nil
}

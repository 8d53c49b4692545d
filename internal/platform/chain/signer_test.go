package chain

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cardpay-pipeline/internal/config"
)

func newTestSigner(t *testing.T, mockRPC *MockRPC) *LocalSigner {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return &LocalSigner{
		rpc:        mockRPC,
		key:        key,
		settlement: solana.NewWallet().PublicKey(),
		logger:     slog.New(slog.NewJSONHandler(os.Stdout, nil)),
	}
}

func TestNewLocalSigner_Validation(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	client := &SolanaClient{rpc: new(MockRPC), logger: logger, cfg: newTestChainConfig()}

	t.Run("MissingKey", func(t *testing.T) {
		_, err := NewLocalSigner(logger, &config.ChainConfig{}, client)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "CHAIN_SIGNER_KEY")
	})

	t.Run("MalformedKey", func(t *testing.T) {
		_, err := NewLocalSigner(logger, &config.ChainConfig{SignerKey: "not-base58!"}, client)
		require.Error(t, err)
	})

	t.Run("MalformedSettlementAccount", func(t *testing.T) {
		key, err := solana.NewRandomPrivateKey()
		require.NoError(t, err)
		_, err = NewLocalSigner(logger, &config.ChainConfig{
			SignerKey:         key.String(),
			SettlementAccount: "bogus",
		}, client)
		require.Error(t, err)
	})

	t.Run("ValidConfig", func(t *testing.T) {
		key, err := solana.NewRandomPrivateKey()
		require.NoError(t, err)
		signer, err := NewLocalSigner(logger, &config.ChainConfig{
			SignerKey:         key.String(),
			SettlementAccount: solana.NewWallet().PublicKey().String(),
		}, client)
		require.NoError(t, err)
		require.NotNil(t, signer)
	})
}

func TestLocalSigner_SignSettlement(t *testing.T) {
	ctx := context.Background()

	t.Run("ProducesDecodablePayload", func(t *testing.T) {
		mockRPC := new(MockRPC)
		signer := newTestSigner(t, mockRPC)

		mockRPC.On("GetLatestBlockhash", mock.Anything, rpc.CommitmentFinalized).
			Return(&rpc.GetLatestBlockhashResult{
				Value: &rpc.LatestBlockhashResult{Blockhash: solana.Hash{1, 2, 3}},
			}, nil).Once()

		payload, err := signer.SignSettlement(ctx, 10_000)
		require.NoError(t, err)
		require.NotEmpty(t, payload)

		// The payload must carry an extractable signature, since the gateway
		// reports it to the caller as the expected chain hash
		client := newTestClient(new(MockRPC))
		sig, err := client.ExtractSignature(payload)
		require.NoError(t, err)
		assert.NotEmpty(t, sig)
	})

	t.Run("NonPositiveAmount", func(t *testing.T) {
		signer := newTestSigner(t, new(MockRPC))
		_, err := signer.SignSettlement(ctx, 0)
		require.Error(t, err)
	})

	t.Run("BlockhashFailure", func(t *testing.T) {
		mockRPC := new(MockRPC)
		signer := newTestSigner(t, mockRPC)

		mockRPC.On("GetLatestBlockhash", mock.Anything, rpc.CommitmentFinalized).
			Return(nil, assert.AnError).Once()

		_, err := signer.SignSettlement(ctx, 10_000)
		require.Error(t, err)
	})
}

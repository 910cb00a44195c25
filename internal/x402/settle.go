package x402

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/yuchenfeng/TrustGate/internal/logging"
	"github.com/yuchenfeng/TrustGate/internal/monitoring"
)

// Settler records a verified payment on chain. Settlement is advisory:
// verification never waits for it, and a failed settlement never revokes
// a verified payment. The returned hash may be empty.
type Settler interface {
	Settle(ctx context.Context, receipt Receipt) (string, error)
}

// NopSettler skips settlement entirely.
type NopSettler struct{}

func (NopSettler) Settle(context.Context, Receipt) (string, error) {
	return "", nil
}

// EthSettler writes a tiny self-addressed transaction carrying the
// payment receipt as calldata.
type EthSettler struct {
	client  *ethclient.Client
	key     *ecdsa.PrivateKey
	chainID *big.Int
}

// NewEthSettler connects to the RPC endpoint and loads the signing key.
func NewEthSettler(ctx context.Context, rpcURL, privateKeyHex string, chainID int64) (*EthSettler, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to settlement RPC: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid settlement key: %w", err)
	}

	return &EthSettler{client: client, key: key, chainID: big.NewInt(chainID)}, nil
}

func (s *EthSettler) Settle(ctx context.Context, receipt Receipt) (string, error) {
	payload, err := json.Marshal(receipt)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settlement payload: %w", err)
	}

	hash, err := s.WriteProof(ctx, payload)
	if err != nil {
		return "", err
	}
	logging.LogSettlement(receipt.Signer, hash, "sent")
	return hash, nil
}

// WriteProof anchors an arbitrary payload on chain as the calldata of a
// zero-value self-addressed transaction and returns its hash.
func (s *EthSettler) WriteProof(ctx context.Context, payload []byte) (string, error) {
	from := crypto.PubkeyToAddress(s.key.PublicKey)

	nonce, err := s.client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("failed to fetch account nonce: %w", err)
	}

	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch gas price: %w", err)
	}

	gasLimit := uint64(21000 + 16*len(payload))
	tx := types.NewTransaction(nonce, from, big.NewInt(0), gasLimit, gasPrice, payload)

	signed, err := types.SignTx(tx, types.NewEIP155Signer(s.chainID), s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign settlement transaction: %w", err)
	}

	if err := s.client.SendTransaction(ctx, signed); err != nil {
		monitoring.RecordSettlement("send_failed")
		return "", fmt.Errorf("failed to send settlement transaction: %w", err)
	}

	monitoring.RecordSettlement("sent")
	return signed.Hash().Hex(), nil
}

package x402

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	eip712DomainTypeHash = crypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)
	transferWithAuthTypeHash = crypto.Keccak256(
		[]byte("TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)"),
	)
)

// Domain identifies the token contract the authorization is signed for.
type Domain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract string
}

func uint256Bytes(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func addressBytes(addr string) []byte {
	return common.LeftPadBytes(common.HexToAddress(addr).Bytes(), 32)
}

// digest computes the EIP-712 signing hash for an EIP-3009
// TransferWithAuthorization message.
func digest(domain Domain, auth Authorization) ([]byte, error) {
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid authorization value %q", auth.Value)
	}

	nonce, err := hexutil.Decode(ensureHexPrefix(auth.Nonce))
	if err != nil || len(nonce) != 32 {
		return nil, fmt.Errorf("authorization nonce is not a 32-byte hex string")
	}

	domainSeparator := crypto.Keccak256(
		eip712DomainTypeHash,
		crypto.Keccak256([]byte(domain.Name)),
		crypto.Keccak256([]byte(domain.Version)),
		uint256Bytes(big.NewInt(domain.ChainID)),
		addressBytes(domain.VerifyingContract),
	)

	structHash := crypto.Keccak256(
		transferWithAuthTypeHash,
		addressBytes(auth.From),
		addressBytes(auth.To),
		uint256Bytes(value),
		uint256Bytes(big.NewInt(auth.ValidAfter)),
		uint256Bytes(big.NewInt(auth.ValidBefore)),
		nonce,
	)

	return crypto.Keccak256([]byte("\x19\x01"), domainSeparator, structHash), nil
}

// RecoverSigner recovers the address that signed the authorization.
func RecoverSigner(domain Domain, auth Authorization, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(ensureHexPrefix(signature))
	if err != nil {
		return common.Address{}, fmt.Errorf("signature is not valid hex: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}

	// Wallets produce v in {27,28}; crypto expects {0,1}.
	if sig[64] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[64] -= 27
	}

	hash, err := digest(domain, auth)
	if err != nil {
		return common.Address{}, err
	}

	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SignAuthorization signs an authorization with a raw private key.
// Production clients sign in their own wallets; this is the test and
// demo-tooling path.
func SignAuthorization(domain Domain, auth Authorization, privateKeyHex string) (string, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid private key: %w", err)
	}

	hash, err := digest(domain, auth)
	if err != nil {
		return "", err
	}

	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return "", fmt.Errorf("failed to sign authorization: %w", err)
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

func ensureHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s
	}
	return "0x" + s
}

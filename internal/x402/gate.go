package x402

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/yuchenfeng/TrustGate/internal/config"
	"github.com/yuchenfeng/TrustGate/internal/logging"
	"github.com/yuchenfeng/TrustGate/internal/monitoring"
)

// DemoPrefix marks a sentinel payment header accepted only when demo
// mode is enabled.
const DemoPrefix = "demo:"

// Gate implements the x402 challenge/pay/retry protocol. It knows
// nothing about what it protects; verification depends only on the
// proof, the configured receiver and the clock.
type Gate struct {
	cfg     config.X402Config
	nonces  NonceStore
	settler Settler
	sink    Sink
	logger  zerolog.Logger
	now     func() time.Time
}

// NewGate creates a payment gate. A nil settler disables settlement and
// a nil sink discards receipts.
func NewGate(cfg config.X402Config, nonces NonceStore, settler Settler, sink Sink) *Gate {
	if settler == nil {
		settler = NopSettler{}
	}
	if sink == nil {
		sink = NopSink{}
	}
	return &Gate{
		cfg:     cfg,
		nonces:  nonces,
		settler: settler,
		sink:    sink,
		logger:  logging.NewLogger("x402"),
		now:     time.Now,
	}
}

func (g *Gate) price(tier Tier) string {
	if tier == TierVerify {
		return g.cfg.VerifyPrice
	}
	return g.cfg.QueryPrice
}

// BuildRequirement issues a fresh challenge for a resource. The nonce is
// 32 random bytes; single use is enforced at verification time.
func (g *Gate) BuildRequirement(resource string, tier Tier) PaymentRequirement {
	nonce := make([]byte, 32)
	rand.Read(nonce)

	return PaymentRequirement{
		Network:           g.cfg.Network,
		ChainID:           g.cfg.ChainID,
		PayTo:             g.cfg.ReceivingAddress,
		MaxAmountRequired: g.price(tier),
		Asset:             g.cfg.TokenAddress,
		Resource:          resource,
		Nonce:             "0x" + hex.EncodeToString(nonce),
		Deadline:          g.now().Add(g.cfg.ChallengeWindow).Unix(),
	}
}

// Challenge wraps a requirement in the 402 body clients parse.
func (g *Gate) Challenge(resource string, tier Tier) ChallengeBody {
	return ChallengeBody{
		Protocol: Protocol,
		Accepts:  []PaymentRequirement{g.BuildRequirement(resource, tier)},
	}
}

// VerifyHeader verifies an X-Payment header value against the configured
// receiver and the challenge window. Returns a receipt on success and a
// RejectionError with a machine-readable reason on failure. Settlement
// is attempted after verification and never affects the outcome.
func (g *Gate) VerifyHeader(ctx context.Context, header, resource string, tier Tier) (*Receipt, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, Reject(ReasonMalformed)
	}

	if strings.HasPrefix(header, DemoPrefix) || strings.HasPrefix(header, "0x") {
		return g.verifyDemo(ctx, header, resource, tier)
	}

	proof, err := decodeProof(header)
	if err != nil {
		monitoring.RecordPaymentVerification("malformed", false)
		return nil, Reject(ReasonMalformed)
	}

	domain := Domain{
		Name:              g.cfg.TokenName,
		Version:           g.cfg.TokenVersion,
		ChainID:           g.cfg.ChainID,
		VerifyingContract: g.cfg.TokenAddress,
	}

	signer, err := RecoverSigner(domain, proof.Authorization, proof.Signature)
	if err != nil || signer != common.HexToAddress(proof.Authorization.From) {
		monitoring.RecordPaymentVerification("invalid_signature", false)
		return nil, Reject(ReasonBadSignature)
	}

	now := g.now()
	if proof.Authorization.ValidBefore < now.Unix() {
		monitoring.RecordPaymentVerification("expired", false)
		return nil, Reject(ReasonExpired)
	}

	if common.HexToAddress(proof.Authorization.To) != common.HexToAddress(g.cfg.ReceivingAddress) {
		monitoring.RecordPaymentVerification("wrong_receiver", false)
		return nil, Reject(ReasonWrongTo)
	}

	required, err := decimal.NewFromString(g.price(tier))
	if err != nil {
		return nil, Reject(ReasonMalformed)
	}
	offered, err := decimal.NewFromString(proof.Authorization.Value)
	if err != nil || offered.LessThan(required) {
		monitoring.RecordPaymentVerification("underpaid", false)
		return nil, Reject(ReasonUnderpaid)
	}

	// Claim the nonce only after the structural checks pass, so a forged
	// proof cannot burn a nonce the honest payer still holds.
	claimed, err := g.nonces.Claim(ctx, proof.Authorization.Nonce, g.cfg.ChallengeWindow)
	if err == nil && !claimed {
		monitoring.RecordPaymentVerification("nonce_used", false)
		return nil, Reject(ReasonNonceUsed)
	}

	receipt := &Receipt{
		Signer:    signer.Hex(),
		Amount:    proof.Authorization.Value,
		Resource:  resource,
		Timestamp: now.Unix(),
	}
	g.settle(ctx, receipt)

	monitoring.RecordPaymentVerification("verified", false)
	logging.LogPayment("", receipt.Signer, resource, "verified", receipt.Amount, false)
	g.sink.Append(*receipt)
	return receipt, nil
}

// verifyDemo handles the sentinel payment forms: a "demo:<id>" tag or a
// bare transaction hash. Both bypass cryptographic checks and exist for
// environments without funded test accounts.
func (g *Gate) verifyDemo(ctx context.Context, header, resource string, tier Tier) (*Receipt, error) {
	if !g.cfg.DemoMode {
		monitoring.RecordPaymentVerification("demo_disabled", true)
		return nil, Reject(ReasonDemoDisabled)
	}

	receipt := &Receipt{
		Signer:    strings.TrimPrefix(header, DemoPrefix),
		Amount:    g.price(tier),
		Resource:  resource,
		Demo:      true,
		Timestamp: g.now().Unix(),
	}

	monitoring.RecordPaymentVerification("verified", true)
	logging.LogPayment("", receipt.Signer, resource, "verified", receipt.Amount, true)
	g.sink.Append(*receipt)
	return receipt, nil
}

// settle records the payment on chain, best effort. The receipt gains a
// settlement hash only when the write succeeds.
func (g *Gate) settle(ctx context.Context, receipt *Receipt) {
	hash, err := g.settler.Settle(ctx, *receipt)
	if err != nil {
		logging.LogSettlement(receipt.Signer, "", "failed")
		return
	}
	receipt.SettlementHash = hash
}

func decodeProof(header string) (*PaymentProof, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, err
	}
	var proof PaymentProof
	if err := json.Unmarshal(raw, &proof); err != nil {
		return nil, err
	}
	return &proof, nil
}

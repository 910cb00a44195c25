package chainprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/yuchenfeng/TrustGate/internal/config"
	"github.com/yuchenfeng/TrustGate/internal/logging"
	"github.com/yuchenfeng/TrustGate/internal/models"
	"github.com/yuchenfeng/TrustGate/internal/monitoring"
)

var (
	ErrInvalidAddress  = errors.New("invalid account address")
	ErrUnknownCategory = errors.New("no candidate chains for category")
)

// UsageProof is the probe's verdict on whether a wallet has interacted
// with a project's contract. Chain names the first chain that matched;
// empty when Verified is false.
type UsageProof struct {
	Verified         bool   `json:"verified"`
	InteractionCount int    `json:"interaction_count"`
	Chain            string `json:"chain,omitempty"`
}

// ChainOrder maps a project category to the ordered list of chains the
// probe searches. The first chain with a match wins; ordering is part of
// the contract, not a tuning knob.
type ChainOrder struct {
	byCategory map[models.Category][]string
}

// DefaultChainOrder returns the built-in category priority table.
// Agents and merchants live mostly on L2s, so Base is searched first
// for those; DeFi protocols start on Ethereum mainnet.
func DefaultChainOrder() *ChainOrder {
	return &ChainOrder{
		byCategory: map[models.Category][]string{
			models.CategoryAgent:        {"base", "ethereum"},
			models.CategoryDeFiProtocol: {"ethereum", "base", "polygon"},
			models.CategoryMerchant:     {"base", "polygon"},
		},
	}
}

// Chains returns the candidate list for a category.
func (o *ChainOrder) Chains(category models.Category) ([]string, error) {
	chains, ok := o.byCategory[category]
	if !ok || len(chains) == 0 {
		return nil, ErrUnknownCategory
	}
	return chains, nil
}

// Prober checks explorer APIs for wallet/contract interactions.
type Prober struct {
	chains config.ChainsConfig
	order  *ChainOrder
	client *http.Client
	logger zerolog.Logger
}

// NewProber creates an on-chain usage prober
func NewProber(chains config.ChainsConfig, order *ChainOrder) *Prober {
	if order == nil {
		order = DefaultChainOrder()
	}
	return &Prober{
		chains: chains,
		order:  order,
		client: &http.Client{Timeout: chains.Timeout},
		logger: logging.NewLogger("chainprobe"),
	}
}

// explorerResponse is the Etherscan-family envelope. On success result is
// an array of transactions; on error it is a plain string, so it stays
// raw until status is known.
type explorerResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type explorerTx struct {
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	ContractAddress string `json:"contractAddress"`
}

// VerifyUsage reports whether the wallet has transacted with the contract
// on any of the category's candidate chains, first match wins. Explorer
// timeouts and errors count as "no match on this chain" and never surface
// to the caller; only malformed inputs produce an error.
func (p *Prober) VerifyUsage(ctx context.Context, walletAddress, contractAddress string, category models.Category) (*UsageProof, error) {
	if !common.IsHexAddress(walletAddress) || !common.IsHexAddress(contractAddress) {
		return nil, ErrInvalidAddress
	}

	chains, err := p.order.Chains(category)
	if err != nil {
		return nil, err
	}

	wallet := strings.ToLower(walletAddress)
	contract := strings.ToLower(contractAddress)

	for _, chain := range chains {
		chainCfg, ok := p.chainConfig(chain)
		if !ok {
			continue
		}

		count := p.countMatches(ctx, chainCfg, chain, "txlist", wallet, contract)
		if count == 0 {
			count = p.countMatches(ctx, chainCfg, chain, "tokentx", wallet, contract)
		}
		if count > 0 {
			return &UsageProof{Verified: true, InteractionCount: count, Chain: chain}, nil
		}
	}

	return &UsageProof{Verified: false, InteractionCount: 0}, nil
}

func (p *Prober) chainConfig(name string) (config.ChainConfig, bool) {
	switch name {
	case "ethereum":
		return p.chains.Ethereum, p.chains.Ethereum.ExplorerURL != ""
	case "base":
		return p.chains.Base, p.chains.Base.ExplorerURL != ""
	case "polygon":
		return p.chains.Polygon, p.chains.Polygon.ExplorerURL != ""
	}
	return config.ChainConfig{}, false
}

// countMatches queries one explorer action and counts transactions
// touching the contract. Any transport or decode failure is logged and
// reported as zero matches.
func (p *Prober) countMatches(ctx context.Context, chainCfg config.ChainConfig, chain, action, wallet, contract string) int {
	start := time.Now()
	txs, err := p.fetchTransactions(ctx, chainCfg, action, wallet)
	monitoring.RecordProbeLatency("chain", chain, time.Since(start))
	if err != nil {
		logging.LogProbeDegraded("chain", chain, err)
		monitoring.RecordProbeDegraded("chain", "explorer_error")
		return 0
	}

	count := 0
	for _, tx := range txs {
		if strings.EqualFold(tx.To, contract) ||
			strings.EqualFold(tx.From, contract) ||
			strings.EqualFold(tx.ContractAddress, contract) {
			count++
		}
	}
	return count
}

func (p *Prober) fetchTransactions(ctx context.Context, chainCfg config.ChainConfig, action, wallet string) ([]explorerTx, error) {
	q := url.Values{}
	q.Set("module", "account")
	q.Set("action", action)
	q.Set("address", wallet)
	q.Set("startblock", "0")
	q.Set("endblock", "99999999")
	q.Set("sort", "desc")
	if chainCfg.APIKey != "" {
		q.Set("apikey", chainCfg.APIKey)
	}

	reqURL := chainCfg.ExplorerURL + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build explorer request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("explorer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("explorer returned status %d", resp.StatusCode)
	}

	var envelope explorerResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode explorer response: %w", err)
	}

	// Etherscan reports "no transactions found" with status 0 and a
	// string result; that is an empty list, not an error.
	if envelope.Status != "1" {
		if strings.Contains(strings.ToLower(envelope.Message), "no transactions") {
			return nil, nil
		}
		return nil, fmt.Errorf("explorer error: %s", envelope.Message)
	}

	var txs []explorerTx
	if err := json.Unmarshal(envelope.Result, &txs); err != nil {
		return nil, fmt.Errorf("unexpected explorer result shape: %w", err)
	}
	return txs, nil
}

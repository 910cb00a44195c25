package chainprobe

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuchenfeng/TrustGate/internal/config"
	"github.com/yuchenfeng/TrustGate/internal/models"
)

const (
	testWallet   = "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"
	testContract = "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984"
)

func emptyResult() string {
	return `{"status":"0","message":"No transactions found","result":[]}`
}

func matchingTxList() string {
	return fmt.Sprintf(`{"status":"1","message":"OK","result":[
		{"hash":"0x1","from":"%s","to":"%s","contractAddress":""},
		{"hash":"0x2","from":"%s","to":"0x9999999999999999999999999999999999999999","contractAddress":""}
	]}`, testWallet, testContract, testWallet)
}

func matchingTokenTx() string {
	return fmt.Sprintf(`{"status":"1","message":"OK","result":[
		{"hash":"0x3","from":"%s","to":"%s","contractAddress":"%s"}
	]}`, testWallet, testWallet, testContract)
}

// explorerStub serves canned responses per action and counts hits.
type explorerStub struct {
	server  *httptest.Server
	hits    atomic.Int64
	txlist  string
	tokentx string
	delay   time.Duration
}

func newExplorerStub(txlist, tokentx string, delay time.Duration) *explorerStub {
	stub := &explorerStub{txlist: txlist, tokentx: tokentx, delay: delay}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.hits.Add(1)
		if stub.delay > 0 {
			time.Sleep(stub.delay)
		}
		switch r.URL.Query().Get("action") {
		case "txlist":
			fmt.Fprint(w, stub.txlist)
		case "tokentx":
			fmt.Fprint(w, stub.tokentx)
		default:
			http.Error(w, "unknown action", http.StatusBadRequest)
		}
	}))
	return stub
}

func testChains(eth, base, polygon *explorerStub, timeout time.Duration) config.ChainsConfig {
	return config.ChainsConfig{
		Ethereum: config.ChainConfig{Name: "ethereum", ExplorerURL: eth.server.URL},
		Base:     config.ChainConfig{Name: "base", ExplorerURL: base.server.URL},
		Polygon:  config.ChainConfig{Name: "polygon", ExplorerURL: polygon.server.URL},
		Timeout:  timeout,
	}
}

func TestVerifyUsageNoMatchAnywhere(t *testing.T) {
	eth := newExplorerStub(emptyResult(), emptyResult(), 0)
	defer eth.server.Close()
	base := newExplorerStub(emptyResult(), emptyResult(), 0)
	defer base.server.Close()
	// Polygon hangs past the probe timeout; that is "no match", not an
	// error.
	polygon := newExplorerStub(emptyResult(), emptyResult(), 2*time.Second)
	defer polygon.server.Close()

	prober := NewProber(testChains(eth, base, polygon, 200*time.Millisecond), nil)

	proof, err := prober.VerifyUsage(context.Background(), testWallet, testContract, models.CategoryDeFiProtocol)
	require.NoError(t, err)
	assert.False(t, proof.Verified)
	assert.Equal(t, 0, proof.InteractionCount)
	assert.Empty(t, proof.Chain)
}

func TestVerifyUsageFirstChainWins(t *testing.T) {
	eth := newExplorerStub(matchingTxList(), emptyResult(), 0)
	defer eth.server.Close()
	base := newExplorerStub(matchingTxList(), emptyResult(), 0)
	defer base.server.Close()
	polygon := newExplorerStub(emptyResult(), emptyResult(), 0)
	defer polygon.server.Close()

	prober := NewProber(testChains(eth, base, polygon, time.Second), nil)

	proof, err := prober.VerifyUsage(context.Background(), testWallet, testContract, models.CategoryDeFiProtocol)
	require.NoError(t, err)
	assert.True(t, proof.Verified)
	assert.Equal(t, 1, proof.InteractionCount)
	assert.Equal(t, "ethereum", proof.Chain)

	// The later chains in the defi-protocol order were never queried.
	assert.Equal(t, int64(0), base.hits.Load())
	assert.Equal(t, int64(0), polygon.hits.Load())
}

func TestVerifyUsageTokenTransferFallback(t *testing.T) {
	eth := newExplorerStub(emptyResult(), matchingTokenTx(), 0)
	defer eth.server.Close()
	base := newExplorerStub(emptyResult(), emptyResult(), 0)
	defer base.server.Close()
	polygon := newExplorerStub(emptyResult(), emptyResult(), 0)
	defer polygon.server.Close()

	prober := NewProber(testChains(eth, base, polygon, time.Second), nil)

	proof, err := prober.VerifyUsage(context.Background(), testWallet, testContract, models.CategoryDeFiProtocol)
	require.NoError(t, err)
	assert.True(t, proof.Verified)
	assert.Equal(t, "ethereum", proof.Chain)

	// txlist then tokentx on the matching chain.
	assert.Equal(t, int64(2), eth.hits.Load())
}

func TestVerifyUsageCategoryOrder(t *testing.T) {
	eth := newExplorerStub(emptyResult(), emptyResult(), 0)
	defer eth.server.Close()
	base := newExplorerStub(matchingTxList(), emptyResult(), 0)
	defer base.server.Close()
	polygon := newExplorerStub(emptyResult(), emptyResult(), 0)
	defer polygon.server.Close()

	prober := NewProber(testChains(eth, base, polygon, time.Second), nil)

	// Agents search base first, so ethereum is never consulted.
	proof, err := prober.VerifyUsage(context.Background(), testWallet, testContract, models.CategoryAgent)
	require.NoError(t, err)
	assert.True(t, proof.Verified)
	assert.Equal(t, "base", proof.Chain)
	assert.Equal(t, int64(0), eth.hits.Load())
}

func TestVerifyUsageExplorerErrorStringResult(t *testing.T) {
	rateLimited := `{"status":"0","message":"NOTOK","result":"Max rate limit reached"}`
	eth := newExplorerStub(rateLimited, rateLimited, 0)
	defer eth.server.Close()
	base := newExplorerStub(matchingTxList(), emptyResult(), 0)
	defer base.server.Close()
	polygon := newExplorerStub(emptyResult(), emptyResult(), 0)
	defer polygon.server.Close()

	prober := NewProber(testChains(eth, base, polygon, time.Second), nil)

	// A rate-limited chain degrades to no-match and the probe moves on.
	proof, err := prober.VerifyUsage(context.Background(), testWallet, testContract, models.CategoryDeFiProtocol)
	require.NoError(t, err)
	assert.True(t, proof.Verified)
	assert.Equal(t, "base", proof.Chain)
}

func TestVerifyUsageInvalidAddress(t *testing.T) {
	eth := newExplorerStub(emptyResult(), emptyResult(), 0)
	defer eth.server.Close()

	prober := NewProber(testChains(eth, eth, eth, time.Second), nil)

	_, err := prober.VerifyUsage(context.Background(), "not-an-address", testContract, models.CategoryAgent)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = prober.VerifyUsage(context.Background(), testWallet, "", models.CategoryAgent)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestChainOrderTable(t *testing.T) {
	order := DefaultChainOrder()

	for _, category := range []models.Category{models.CategoryAgent, models.CategoryDeFiProtocol, models.CategoryMerchant} {
		chains, err := order.Chains(category)
		require.NoError(t, err)
		assert.NotEmpty(t, chains, "category %s", category)
	}

	_, err := order.Chains(models.Category("unknown"))
	assert.ErrorIs(t, err, ErrUnknownCategory)
}

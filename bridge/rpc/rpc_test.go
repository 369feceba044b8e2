package rpc_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/models"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/prices"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/quoter"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/registry"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/rpc"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/tracker"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/zeebo/assert"
)

const txHash = "0x8c5be1e5ebec7d5bd14f71427d1e84f3dd0314c0f7b2291e5b200ac8c7c3b925"

type chainState struct {
	mu   sync.Mutex
	conf *tracker.Confirmation
}

func (c *chainState) set(conf *tracker.Confirmation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conf = conf
}

func (c *chainState) GetConfirmation(ctx context.Context, txHash string, chain registry.ChainInfo) (tracker.Confirmation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conf == nil {
		return tracker.Confirmation{}, tracker.ErrNoSignal
	}
	return *c.conf, nil
}

type quietRelayer struct{}

func (quietRelayer) GetBridgeStatus(ctx context.Context, txHash string, from, to registry.ChainInfo) (tracker.BridgeStatus, error) {
	return tracker.BridgeStatus{}, tracker.ErrNoSignal
}

type harness struct {
	server *httptest.Server
	client *rpc.BridgeServiceClient
	chain  *chainState
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg, err := registry.Default()
	if err != nil {
		t.Fatalf("failed to load registry: %v", err)
	}
	source := prices.NewStatic(map[string]decimal.Decimal{
		"USDC": decimal.RequireFromString("1"),
		"USDT": decimal.RequireFromString("1"),
		"ETH":  decimal.RequireFromString("2500"),
	})
	engine := quoter.NewEngine(reg, source, prices.NewCache(prices.DefaultTTL), quoter.DefaultConfig())

	chain := &chainState{}
	trk := tracker.New(reg, chain, chain, quietRelayer{}, tracker.Config{ExpectedDuration: engine.ExpectedDuration})

	srv, err := rpc.NewServer(context.Background(), &rpc.ServerConfig{
		AllowedOrigins: []string{"*"},
		StreamInterval: rpc.MinStreamInterval,
	}, rpc.NewBridgeServer(reg, engine, trk))
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &harness{
		server: ts,
		client: rpc.NewBridgeServiceClient(ts.Client(), ts.URL),
		chain:  chain,
	}
}

func assertCode(t *testing.T, err error, want connect.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got nil", want)
	}
	assert.Equal(t, connect.CodeOf(err), want)
}

func TestComputeQuote(t *testing.T) {
	h := newHarness(t)

	quote, err := h.client.ComputeQuote(context.Background(), &models.QuoteRequest{
		FromChain: "sepolia",
		ToChain:   "polygon-amoy",
		Token:     "USDC",
		Amount:    "100",
	})
	assert.NoError(t, err)
	assert.Equal(t, quote.Route, "direct_bridge")
	assert.Equal(t, quote.ToToken, "USDC")
	assert.True(t, quote.OutputAmount.Equal(decimal.RequireFromString("99.5")))
	assert.True(t, quote.MinOutputAmount.Equal(decimal.RequireFromString("99.5")))
	assert.Equal(t, len(quote.Steps), 1)
	assert.True(t, quote.ID != "")
	assert.True(t, quote.ExpiresAt.After(quote.CreatedAt))
}

func TestComputeQuoteErrorCodes(t *testing.T) {
	h := newHarness(t)
	cases := []struct {
		name string
		req  models.QuoteRequest
		code connect.Code
	}{
		{"missing amount", models.QuoteRequest{FromChain: "sepolia", Token: "USDC"}, connect.CodeInvalidArgument},
		{"not a number", models.QuoteRequest{FromChain: "sepolia", Token: "USDC", ToToken: "USDT", Amount: "ten"}, connect.CodeInvalidArgument},
		{"negative", models.QuoteRequest{FromChain: "sepolia", Token: "USDC", ToToken: "USDT", Amount: "-1"}, connect.CodeInvalidArgument},
		{"unknown chain", models.QuoteRequest{FromChain: "solana", Token: "USDC", Amount: "1"}, connect.CodeInvalidArgument},
		{"mixed networks", models.QuoteRequest{FromChain: "sepolia", ToChain: "ethereum", Token: "USDC", Amount: "1"}, connect.CodeInvalidArgument},
		{"no route", models.QuoteRequest{FromChain: "sepolia", Token: "USDC", Amount: "1"}, connect.CodeFailedPrecondition},
		{"no price", models.QuoteRequest{FromChain: "sepolia", Token: "USDC", ToToken: "ARB", Amount: "1"}, connect.CodeUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.client.ComputeQuote(context.Background(), &tc.req)
			assertCode(t, err, tc.code)
		})
	}
}

func TestEstimateFees(t *testing.T) {
	h := newHarness(t)

	fees, err := h.client.EstimateFees(context.Background(), &models.FeeEstimateRequest{
		FromChain: "sepolia",
		ToChain:   "polygon-amoy",
		Token:     "USDC",
		ToToken:   "ETH",
	})
	assert.NoError(t, err)
	assert.Equal(t, fees.Route, "bridge_then_swap")
	assert.Equal(t, len(fees.Steps), 2)

	_, err = h.client.EstimateFees(context.Background(), &models.FeeEstimateRequest{FromChain: "sepolia"})
	assertCode(t, err, connect.CodeInvalidArgument)
}

func TestTrackingLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	started, err := h.client.StartTracking(ctx, &models.StartTrackingRequest{
		TxHash:    txHash,
		FromChain: "sepolia",
		ToChain:   "sepolia",
	})
	assert.NoError(t, err)
	assert.Equal(t, started.Status, "pending")
	assert.Equal(t, started.ETASeconds, int64(60))
	assert.False(t, started.Terminal)

	h.chain.set(&tracker.Confirmation{BlockCount: 2, Required: 6})
	polled, err := h.client.PollTracking(ctx, started.Handle)
	assert.NoError(t, err)
	assert.Equal(t, polled.SourceConfirmations, uint64(2))
	assert.Equal(t, polled.Progress, 0)

	h.chain.set(&tracker.Confirmation{Confirmed: true, BlockCount: 6, Required: 6})
	polled, err = h.client.PollTracking(ctx, started.Handle)
	assert.NoError(t, err)
	assert.Equal(t, polled.Status, "complete")
	assert.Equal(t, polled.Progress, 100)
	assert.True(t, polled.Terminal)

	assert.NoError(t, h.client.StopTracking(ctx, started.Handle))
	assert.NoError(t, h.client.StopTracking(ctx, started.Handle))
	_, err = h.client.PollTracking(ctx, started.Handle)
	assertCode(t, err, connect.CodeNotFound)
}

func TestStartTrackingValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.client.StartTracking(ctx, &models.StartTrackingRequest{FromChain: "sepolia"})
	assertCode(t, err, connect.CodeInvalidArgument)

	_, err = h.client.StartTracking(ctx, &models.StartTrackingRequest{TxHash: "0x12", FromChain: "sepolia"})
	assertCode(t, err, connect.CodeInvalidArgument)

	_, err = h.client.PollTracking(ctx, "")
	assertCode(t, err, connect.CodeInvalidArgument)
}

func TestListChainsAndTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	chains, err := h.client.ListChains(ctx, "testnet")
	assert.NoError(t, err)
	assert.Equal(t, len(chains), 5)
	for _, chain := range chains {
		assert.Equal(t, chain.Network, "testnet")
	}

	all, err := h.client.ListChains(ctx, "")
	assert.NoError(t, err)
	assert.Equal(t, len(all), 10)

	_, err = h.client.ListChains(ctx, "devnet")
	assertCode(t, err, connect.CodeInvalidArgument)

	tokens, err := h.client.ListTokens(ctx)
	assert.NoError(t, err)
	assert.Equal(t, len(tokens), 7)
}

func TestProbes(t *testing.T) {
	h := newHarness(t)

	for path, status := range map[string]string{"/server/health": "healthy", "/server/ready": "ready"} {
		resp, err := http.Get(h.server.URL + path)
		assert.NoError(t, err)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		_ = resp.Body.Close()
		assert.Equal(t, resp.StatusCode, http.StatusOK)
		assert.Equal(t, body["status"], status)
	}
}

func TestTrackStream(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	started, err := h.client.StartTracking(ctx, &models.StartTrackingRequest{TxHash: txHash, FromChain: "sepolia"})
	assert.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/stream/track?handle=" + started.Handle + "&interval=250ms"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	assert.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	var first models.TrackingStatus
	assert.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, first.Status, "pending")

	h.chain.set(&tracker.Confirmation{Confirmed: true, BlockCount: 6, Required: 6})
	var last models.TrackingStatus
	for !last.Terminal {
		if err := conn.ReadJSON(&last); err != nil {
			t.Fatalf("stream ended before completion: %v", err)
		}
	}
	assert.Equal(t, last.Status, "complete")

	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("expected close frame, got %v", err)
	}
	assert.Equal(t, closeErr.Code, websocket.CloseNormalClosure)
}

func TestTrackStreamRejectsBadRequests(t *testing.T) {
	h := newHarness(t)
	base := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/stream/track"

	_, resp, err := websocket.DefaultDialer.Dial(base+"?handle=missing", nil)
	assert.Error(t, err)
	assert.Equal(t, resp.StatusCode, http.StatusNotFound)

	_, resp, err = websocket.DefaultDialer.Dial(base+"?handle=x&interval=1ms", nil)
	assert.Error(t, err)
	assert.Equal(t, resp.StatusCode, http.StatusBadRequest)
}

package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/cli"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/models"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/prices"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/quoter"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/registry"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/rpc"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/tracker"
	"github.com/shopspring/decimal"
	"github.com/zeebo/assert"
)

const txHash = "0x3d6ab7a1f0e4c5b2a8e9d1c7f6b5a4e3d2c1b0a9f8e7d6c5b4a3f2e1d0c9b8a7"

// pollCounter confirms the source transaction on its second query.
type pollCounter struct {
	mu    sync.Mutex
	calls int
}

func (p *pollCounter) GetConfirmation(ctx context.Context, txHash string, chain registry.ChainInfo) (tracker.Confirmation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls < 2 {
		return tracker.Confirmation{BlockCount: 1, Required: chain.RequiredConfirmations}, nil
	}
	return tracker.Confirmation{Confirmed: true, BlockCount: chain.RequiredConfirmations, Required: chain.RequiredConfirmations}, nil
}

func newServer(t *testing.T) (*httptest.Server, *tracker.Tracker) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	reg, err := registry.Default()
	if err != nil {
		t.Fatalf("failed to load registry: %v", err)
	}
	engine := quoter.NewEngine(reg, prices.NewStatic(map[string]decimal.Decimal{
		"USDC": decimal.NewFromInt(1),
		"ETH":  decimal.NewFromInt(2000),
	}), prices.NewCache(0), quoter.DefaultConfig())
	trk := tracker.New(reg, &pollCounter{}, nil, nil, tracker.Config{})

	srv, err := rpc.NewServer(context.Background(), &rpc.ServerConfig{AllowedOrigins: []string{"*"}}, rpc.NewBridgeServer(reg, engine, trk))
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, trk
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := cli.NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestQuoteJSON(t *testing.T) {
	ts, _ := newServer(t)

	out, err := run(t, "quote", "100", "USDC", "--from", "sepolia", "--to", "base-sepolia", "--server", ts.URL, "--json")
	assert.NoError(t, err)

	var quote models.QuoteResponse
	assert.NoError(t, json.Unmarshal([]byte(out), &quote))
	assert.Equal(t, quote.Route, "direct_bridge")
	assert.Equal(t, quote.ToChain, "base-sepolia")
	assert.True(t, quote.OutputAmount.Equal(decimal.RequireFromString("99.5")))
}

func TestQuoteText(t *testing.T) {
	ts, _ := newServer(t)

	out, err := run(t, "quote", "1", "ETH", "--from", "sepolia", "--to-token", "USDC", "--server", ts.URL)
	assert.NoError(t, err)
	assert.True(t, bytes.Contains([]byte(out), []byte("same_chain_swap")))
	assert.True(t, bytes.Contains([]byte(out), []byte("1 ETH = 2000 USDC")))
}

func TestQuoteErrors(t *testing.T) {
	ts, _ := newServer(t)

	_, err := run(t, "quote", "100", "USDC", "--from", "sepolia", "--server", ts.URL)
	assert.Error(t, err)
	assert.Equal(t, connect.CodeOf(err), connect.CodeFailedPrecondition)

	_, err = run(t, "quote", "100", "USDC", "--server", ts.URL)
	assert.Error(t, err)
}

func TestFees(t *testing.T) {
	ts, _ := newServer(t)

	out, err := run(t, "fees", "USDC", "--from", "sepolia", "--to", "polygon-amoy", "--to-token", "ETH", "--server", ts.URL, "--json")
	assert.NoError(t, err)
	var fees models.FeeEstimateResponse
	assert.NoError(t, json.Unmarshal([]byte(out), &fees))
	assert.Equal(t, fees.Route, "bridge_then_swap")
}

func TestTrackWatchUntilComplete(t *testing.T) {
	ts, trk := newServer(t)

	out, err := run(t, "track", txHash, "--from", "sepolia", "--watch", "--interval", "10ms", "--server", ts.URL)
	assert.NoError(t, err)
	assert.True(t, bytes.Contains([]byte(out), []byte("COMPLETE")))
	assert.True(t, bytes.Contains([]byte(out), []byte("100%")))
	assert.Equal(t, trk.Active(), 0)
}

func TestTrackThenStatus(t *testing.T) {
	ts, trk := newServer(t)

	out, err := run(t, "track", txHash, "--from", "sepolia", "--server", ts.URL, "--json")
	assert.NoError(t, err)
	var first models.TrackingStatus
	assert.NoError(t, json.Unmarshal([]byte(out), &first))
	assert.Equal(t, first.Status, "pending")
	assert.Equal(t, first.SourceConfirmations, uint64(1))
	assert.Equal(t, trk.Active(), 1)

	out, err = run(t, "status", first.Handle, "--server", ts.URL, "--json")
	assert.NoError(t, err)
	var second models.TrackingStatus
	assert.NoError(t, json.Unmarshal([]byte(out), &second))
	assert.Equal(t, second.Status, "complete")
	assert.Equal(t, second.Progress, 100)

	_, err = run(t, "stop", first.Handle, "--server", ts.URL)
	assert.NoError(t, err)
	assert.Equal(t, trk.Active(), 0)

	_, err = run(t, "status", first.Handle, "--server", ts.URL)
	assert.Equal(t, connect.CodeOf(err), connect.CodeNotFound)
}

func TestChainsAndTokens(t *testing.T) {
	ts, _ := newServer(t)

	out, err := run(t, "chains", "--network", "mainnet", "--server", ts.URL, "--json")
	assert.NoError(t, err)
	var chains []models.Chain
	assert.NoError(t, json.Unmarshal([]byte(out), &chains))
	assert.Equal(t, len(chains), 5)

	out, err = run(t, "tokens", "--server", ts.URL, "--json")
	assert.NoError(t, err)
	var tokens []models.Token
	assert.NoError(t, json.Unmarshal([]byte(out), &tokens))
	assert.Equal(t, len(tokens), 7)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := cli.LoadConfig("")
	assert.NoError(t, err)
	assert.Equal(t, cfg.ServerURL, "http://localhost:8080")
	assert.Equal(t, cfg.Interval, 5*time.Second)

	t.Setenv("BRIDGECTL_SERVER_URL", "https://bridge.example.com")
	cfg, err = cli.LoadConfig("")
	assert.NoError(t, err)
	assert.Equal(t, cfg.ServerURL, "https://bridge.example.com")

	path := filepath.Join(t.TempDir(), "bridgectl.toml")
	assert.NoError(t, os.WriteFile(path, []byte("interval = \"2s\"\n"), 0o600))
	cfg, err = cli.LoadConfig(path)
	assert.NoError(t, err)
	assert.Equal(t, cfg.Interval, 2*time.Second)

	assert.NoError(t, os.WriteFile(path, []byte("interval = \"-1s\"\n"), 0o600))
	_, err = cli.LoadConfig(path)
	assert.Error(t, err)

	_, err = cli.LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	t.Setenv("BRIDGECTL_SERVER_URL", "not a url")
	_, err = cli.LoadConfig("")
	assert.Error(t, err)
}

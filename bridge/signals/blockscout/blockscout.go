// Package blockscout reads transaction confirmations from Blockscout explorers.
package blockscout

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Cogwheel-Validator/spectra-bridge/bridge/registry"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/tracker"
	"github.com/rs/zerolog"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "blockscout").Logger()
}

// SetLogger allows setting a custom logger
func SetLogger(l zerolog.Logger) {
	log = l.With().Str("component", "blockscout").Logger()
}

// Client is a tracker.ConfirmationSource backed by the Blockscout v2 REST API of
// each chain's explorer.
type Client struct {
	httpClient *http.Client
}

var _ tracker.ConfirmationSource = (*Client)(nil)

// NewClient creates a client. A nil httpClient uses a client with the given timeout.
func NewClient(httpClient *http.Client, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{httpClient: httpClient}
}

type transaction struct {
	Hash string `json:"hash"`
	// Status is "ok" or "error", null while pending.
	Status        *string `json:"status"`
	Result        string  `json:"result"`
	Confirmations uint64  `json:"confirmations"`
	BlockNumber   *uint64 `json:"block_number"`
	Block         *uint64 `json:"block"`
}

func (tx transaction) mined() bool {
	return tx.BlockNumber != nil || tx.Block != nil
}

// GetConfirmation fetches /api/v2/transactions/{hash} from the chain's explorer.
// Unknown and still pending transactions give no signal.
func (c *Client) GetConfirmation(
	ctx context.Context,
	txHash string,
	chain registry.ChainInfo,
) (tracker.Confirmation, error) {
	if chain.ExplorerAPIURL == "" {
		return tracker.Confirmation{}, fmt.Errorf("no explorer api for %s", chain.Key)
	}
	endpoint := strings.TrimRight(chain.ExplorerAPIURL, "/") + "/api/v2/transactions/" + txHash

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return tracker.Confirmation{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return tracker.Confirmation{}, fmt.Errorf("blockscout request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return tracker.Confirmation{}, fmt.Errorf("failed to read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return tracker.Confirmation{}, tracker.ErrNoSignal
	case resp.StatusCode != http.StatusOK:
		return tracker.Confirmation{}, fmt.Errorf("blockscout %s: HTTP %d", chain.Key, resp.StatusCode)
	}

	var tx transaction
	if err := json.Unmarshal(body, &tx); err != nil {
		return tracker.Confirmation{}, fmt.Errorf("failed to parse blockscout response: %w", err)
	}
	if !tx.mined() || tx.Status == nil {
		log.Debug().Str("chain", chain.Key).Str("tx_hash", txHash).Msg("Transaction not mined yet")
		return tracker.Confirmation{}, tracker.ErrNoSignal
	}

	count := tx.Confirmations
	if count == 0 {
		count = 1
	}
	return tracker.Confirmation{
		Confirmed:  count >= chain.RequiredConfirmations,
		Reverted:   *tx.Status == "error",
		BlockCount: count,
		Required:   chain.RequiredConfirmations,
	}, nil
}

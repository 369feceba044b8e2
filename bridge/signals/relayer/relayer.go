// Package relayer asks a bridge relayer service how far a transfer has come.
package relayer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Cogwheel-Validator/spectra-bridge/bridge/failover"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/registry"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/tracker"
	"github.com/rs/zerolog"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "relayer").Logger()
}

// SetLogger allows setting a custom logger
func SetLogger(l zerolog.Logger) {
	log = l.With().Str("component", "relayer").Logger()
}

// Client is a tracker.BridgeStatusSource over the relayer status API. Base urls are
// tried in order.
type Client struct {
	httpClient *http.Client
	endpoints  *failover.List[string]
}

var _ tracker.BridgeStatusSource = (*Client)(nil)

// NewClient validates the base urls. timeout bounds one request to one url.
func NewClient(urls []string, timeout time.Duration) (*Client, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("at least one relayer url is required")
	}
	providers := make([]failover.Provider[string], 0, len(urls))
	for _, u := range urls {
		if _, err := url.ParseRequestURI(u); err != nil {
			return nil, fmt.Errorf("invalid relayer url %q: %w", u, err)
		}
		providers = append(providers, failover.Provider[string]{Name: u, Client: strings.TrimRight(u, "/")})
	}
	return &Client{
		httpClient: &http.Client{},
		endpoints:  failover.NewList(timeout, providers...),
	}, nil
}

type statusResponse struct {
	OverallStatus string `json:"overallStatus"`
	Status        string `json:"status"`
	DestTxHash    string `json:"destTxHash"`
	Reason        string `json:"reason"`
}

// GetBridgeStatus maps the relayer's status vocabulary onto bridge phases. A
// transfer the relayer has not seen yet gives no signal.
func (c *Client) GetBridgeStatus(
	ctx context.Context,
	txHash string,
	from, to registry.ChainInfo,
) (tracker.BridgeStatus, error) {
	query := url.Values{}
	query.Set("txHash", txHash)
	query.Set("fromChainId", strconv.FormatUint(from.ID, 10))
	query.Set("toChainId", strconv.FormatUint(to.ID, 10))

	resp, err := failover.Do(ctx, c.endpoints, func(ctx context.Context, baseURL string) (statusResponse, error) {
		return c.get(ctx, baseURL+"/bridge/status?"+query.Encode())
	})
	if err != nil {
		return tracker.BridgeStatus{}, err
	}

	raw := resp.OverallStatus
	if raw == "" {
		raw = resp.Status
	}
	phase, ok := Phase(raw)
	if !ok {
		log.Debug().Str("tx_hash", txHash).Str("status", raw).Msg("Relayer has no usable status")
		return tracker.BridgeStatus{}, tracker.ErrNoSignal
	}
	return tracker.BridgeStatus{
		Phase:             phase,
		DestinationTxHash: resp.DestTxHash,
		Reason:            resp.Reason,
	}, nil
}

// Phase translates a relayer status word. Unknown words report false.
func Phase(status string) (tracker.BridgePhase, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "initiated", "pending", "bridging":
		return tracker.BridgeInitiated, true
	case "completed", "complete", "success":
		return tracker.BridgeCompleted, true
	case "failed", "error", "refunded":
		return tracker.BridgeFailed, true
	}
	return "", false
}

func (c *Client) get(ctx context.Context, rawURL string) (statusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return statusResponse{}, failover.Final(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return statusResponse{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return statusResponse{}, fmt.Errorf("failed to read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return statusResponse{}, failover.Final(tracker.ErrNoSignal)
	case resp.StatusCode != http.StatusOK:
		return statusResponse{}, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out statusResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return statusResponse{}, fmt.Errorf("failed to parse relayer response: %w", err)
	}
	return out, nil
}

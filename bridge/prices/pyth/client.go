package pyth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Cogwheel-Validator/spectra-bridge/bridge/failover"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/prices"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/registry"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "pyth").Logger()
}

// SetLogger allows setting a custom logger
func SetLogger(l zerolog.Logger) {
	log = l.With().Str("component", "pyth").Logger()
}

const (
	MainnetHermesURL = "https://hermes.pyth.network"
	BetaHermesURL    = "https://hermes-beta.pyth.network"
)

// Config controls the Hermes client.
type Config struct {
	// URLs are Hermes base URLs, tried in order.
	URLs []string
	// Timeout bounds one request to one endpoint.
	Timeout time.Duration
	// MaxAge rejects prices published longer ago than this. Zero disables the check.
	MaxAge time.Duration
}

// DefaultConfig returns the public Hermes endpoint with a 5 second timeout.
func DefaultConfig() Config {
	return Config{
		URLs:    []string{MainnetHermesURL},
		Timeout: 5 * time.Second,
		MaxAge:  5 * time.Minute,
	}
}

// Client is a prices.Source backed by the Pyth Hermes price service.
type Client struct {
	httpClient *http.Client
	endpoints  *failover.List[string]
	feeds      map[string]string
	maxAge     time.Duration
	now        func() time.Time
}

var _ prices.Source = (*Client)(nil)

// NewClient creates a Hermes client. Feed ids come from the token registry; tokens
// without a feed id cannot be priced.
func NewClient(config Config, reg *registry.Registry) (*Client, error) {
	if len(config.URLs) == 0 {
		return nil, fmt.Errorf("at least one hermes url is required")
	}

	providers := make([]failover.Provider[string], 0, len(config.URLs))
	for _, u := range config.URLs {
		if _, err := url.ParseRequestURI(u); err != nil {
			return nil, fmt.Errorf("invalid hermes url %q: %w", u, err)
		}
		providers = append(providers, failover.Provider[string]{
			Name:   u,
			Client: strings.TrimRight(u, "/"),
		})
	}

	feeds := make(map[string]string)
	for _, token := range reg.Tokens() {
		if token.PythFeedID != "" {
			feeds[token.Symbol] = normalizeFeedID(token.PythFeedID)
		}
	}

	return &Client{
		httpClient: &http.Client{},
		endpoints:  failover.NewList(config.Timeout, providers...),
		feeds:      feeds,
		maxAge:     config.MaxAge,
		now:        time.Now,
	}, nil
}

type latestResponse struct {
	Parsed []parsedFeed `json:"parsed"`
}

type parsedFeed struct {
	ID    string    `json:"id"`
	Price feedPrice `json:"price"`
}

type feedPrice struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

// GetPrice returns the latest USD price for a token symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (prices.PriceQuote, error) {
	quotes, err := c.GetPrices(ctx, symbol)
	if err != nil {
		return prices.PriceQuote{}, err
	}
	return quotes[strings.ToUpper(symbol)], nil
}

// GetPrices fetches several symbols in one Hermes request. It fails if any of them
// is missing from the response.
func (c *Client) GetPrices(ctx context.Context, symbols ...string) (map[string]prices.PriceQuote, error) {
	if len(symbols) == 0 {
		return map[string]prices.PriceQuote{}, nil
	}

	query := url.Values{}
	bySymbol := make(map[string]string, len(symbols))
	for _, symbol := range symbols {
		symbol = strings.ToUpper(symbol)
		feed, ok := c.feeds[symbol]
		if !ok {
			return nil, fmt.Errorf("no pyth feed for %s: %w", symbol, prices.ErrUnavailable)
		}
		bySymbol[symbol] = feed
		query.Add("ids[]", "0x"+feed)
	}
	query.Set("parsed", "true")

	body, err := failover.Do(ctx, c.endpoints, func(ctx context.Context, baseURL string) ([]byte, error) {
		return c.get(ctx, baseURL+"/v2/updates/price/latest?"+query.Encode())
	})
	if err != nil {
		return nil, fmt.Errorf("hermes request failed: %w", err)
	}

	var resp latestResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse hermes response: %w", err)
	}

	byFeed := make(map[string]parsedFeed, len(resp.Parsed))
	for _, feed := range resp.Parsed {
		byFeed[normalizeFeedID(feed.ID)] = feed
	}

	out := make(map[string]prices.PriceQuote, len(bySymbol))
	for symbol, feedID := range bySymbol {
		feed, ok := byFeed[feedID]
		if !ok {
			return nil, fmt.Errorf("hermes returned no price for %s: %w", symbol, prices.ErrUnavailable)
		}
		quote, err := c.toQuote(symbol, feed.Price)
		if err != nil {
			return nil, err
		}
		out[symbol] = quote
	}
	return out, nil
}

func (c *Client) toQuote(symbol string, p feedPrice) (prices.PriceQuote, error) {
	price, err := decimal.NewFromString(p.Price)
	if err != nil {
		return prices.PriceQuote{}, fmt.Errorf("%s: bad price %q: %w", symbol, p.Price, err)
	}
	conf := decimal.Zero
	if p.Conf != "" {
		conf, err = decimal.NewFromString(p.Conf)
		if err != nil {
			return prices.PriceQuote{}, fmt.Errorf("%s: bad confidence %q: %w", symbol, p.Conf, err)
		}
	}

	quote := prices.PriceQuote{
		Symbol:      symbol,
		Price:       price.Shift(p.Expo),
		Confidence:  conf.Shift(p.Expo),
		PublishedAt: time.Unix(p.PublishTime, 0).UTC(),
	}
	if err := quote.Validate(); err != nil {
		return prices.PriceQuote{}, err
	}
	if c.maxAge > 0 && p.PublishTime > 0 {
		if age := c.now().Sub(quote.PublishedAt); age > c.maxAge {
			log.Warn().Str("symbol", symbol).Dur("age", age).Msg("Hermes price is stale")
			return prices.PriceQuote{}, fmt.Errorf("%s: price is %s old: %w", symbol, age.Round(time.Second), prices.ErrUnavailable)
		}
	}
	return quote, nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, failover.Final(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		// Hermes answers 404 for unknown feed ids; every mirror would say the same
		if resp.StatusCode == http.StatusNotFound {
			return nil, failover.Final(fmt.Errorf("%w: %w", err, prices.ErrUnavailable))
		}
		return nil, err
	}
	return body, nil
}

func normalizeFeedID(id string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(id), "0x"))
}

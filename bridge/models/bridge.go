package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// QuoteRequest - body of ComputeQuote
type QuoteRequest struct {
	FromChain string `json:"from_chain"`         // e.g., "sepolia"
	ToChain   string `json:"to_chain,omitempty"` // empty means same chain
	Token     string `json:"token"`              // e.g., "USDC"
	ToToken   string `json:"to_token,omitempty"` // empty means same token
	Amount    string `json:"amount"`             // human units, e.g., "100.5"
}

// Validate checks the fields every quote needs before it reaches the engine.
func (r *QuoteRequest) Validate() error {
	if strings.TrimSpace(r.FromChain) == "" {
		return fmt.Errorf("from_chain is required")
	}
	if strings.TrimSpace(r.Token) == "" {
		return fmt.Errorf("token is required")
	}
	if strings.TrimSpace(r.Amount) == "" {
		return fmt.Errorf("amount is required")
	}
	return nil
}

// RouteStep is one leg of a quoted route
type RouteStep struct {
	Kind             string `json:"kind"` // bridge or swap
	FromChain        string `json:"from_chain"`
	ToChain          string `json:"to_chain"`
	FromToken        string `json:"from_token"`
	ToToken          string `json:"to_token"`
	EstimatedMinutes int    `json:"estimated_minutes"`
}

// QuoteResponse is a priced transfer. Decimals are encoded as strings.
type QuoteResponse struct {
	ID        string `json:"id"`
	FromChain string `json:"from_chain"`
	ToChain   string `json:"to_chain"`
	Token     string `json:"token"`
	ToToken   string `json:"to_token"`

	InputAmount     decimal.Decimal `json:"input_amount"`
	OutputAmount    decimal.Decimal `json:"output_amount"`
	MinOutputAmount decimal.Decimal `json:"min_output_amount"` // truncated to token decimals
	FeeAmount       decimal.Decimal `json:"fee_amount"`
	ExchangeRate    decimal.Decimal `json:"exchange_rate"`

	GasCostUSD       decimal.Decimal `json:"gas_cost_usd"`
	BridgeFeePercent decimal.Decimal `json:"bridge_fee_percent"`
	SlippagePercent  decimal.Decimal `json:"slippage_percent"`
	TotalFeePercent  decimal.Decimal `json:"total_fee_percent"`
	EstimatedMinutes int             `json:"estimated_minutes"`

	Route string      `json:"route"`
	Steps []RouteStep `json:"steps"`

	Confidence          float64         `json:"confidence"`
	StalePrices         bool            `json:"stale_prices"`
	SourcePriceUSD      decimal.Decimal `json:"source_price_usd"`
	DestinationPriceUSD decimal.Decimal `json:"destination_price_usd"`
	InputValueUSD       decimal.Decimal `json:"input_value_usd"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// FeeEstimateRequest - body of EstimateFees
type FeeEstimateRequest struct {
	FromChain string `json:"from_chain"`
	ToChain   string `json:"to_chain,omitempty"`
	Token     string `json:"token"`
	ToToken   string `json:"to_token,omitempty"`
}

func (r *FeeEstimateRequest) Validate() error {
	if strings.TrimSpace(r.FromChain) == "" {
		return fmt.Errorf("from_chain is required")
	}
	if strings.TrimSpace(r.Token) == "" {
		return fmt.Errorf("token is required")
	}
	return nil
}

// FeeEstimateResponse holds the price independent fee figures of a route
type FeeEstimateResponse struct {
	Route            string          `json:"route"`
	GasCostUSD       decimal.Decimal `json:"gas_cost_usd"`
	BridgeFeePercent decimal.Decimal `json:"bridge_fee_percent"`
	SlippagePercent  decimal.Decimal `json:"slippage_percent"`
	TotalFeePercent  decimal.Decimal `json:"total_fee_percent"`
	EstimatedMinutes int             `json:"estimated_minutes"`
	Steps            []RouteStep     `json:"steps"`
}

// StartTrackingRequest registers a submitted transaction
type StartTrackingRequest struct {
	TxHash            string `json:"tx_hash"`
	FromChain         string `json:"from_chain"`
	ToChain           string `json:"to_chain,omitempty"`
	DestinationTxHash string `json:"destination_tx_hash,omitempty"`
	// Token and ToToken select the route used for the server estimate.
	Token   string `json:"token,omitempty"`
	ToToken string `json:"to_token,omitempty"`
	// ExpectedSeconds overrides the server estimate, e.g. with a quote's minutes.
	ExpectedSeconds int64 `json:"expected_seconds,omitempty"`
}

func (r *StartTrackingRequest) Validate() error {
	if strings.TrimSpace(r.TxHash) == "" {
		return fmt.Errorf("tx_hash is required")
	}
	if strings.TrimSpace(r.FromChain) == "" {
		return fmt.Errorf("from_chain is required")
	}
	if r.ExpectedSeconds < 0 {
		return fmt.Errorf("expected_seconds must not be negative")
	}
	return nil
}

// TrackingHandle identifies a tracked transaction
type TrackingHandle struct {
	Handle string `json:"handle"`
}

func (r *TrackingHandle) Validate() error {
	if strings.TrimSpace(r.Handle) == "" {
		return fmt.Errorf("handle is required")
	}
	return nil
}

// TrackingStatus is a snapshot of a tracked transaction
type TrackingStatus struct {
	Handle            string `json:"handle"`
	TxHash            string `json:"tx_hash"`
	FromChain         string `json:"from_chain"`
	ToChain           string `json:"to_chain,omitempty"`
	DestinationTxHash string `json:"destination_tx_hash,omitempty"`

	Status        string `json:"status"`
	Progress      int    `json:"progress"`
	Message       string `json:"message"`
	FailureReason string `json:"failure_reason,omitempty"`
	Terminal      bool   `json:"terminal"`

	SourceConfirmations   uint64 `json:"source_confirmations"`
	RequiredConfirmations uint64 `json:"required_confirmations"`
	ETASeconds            int64  `json:"eta_seconds"`

	SourceExplorerURL      string `json:"source_explorer_url,omitempty"`
	DestinationExplorerURL string `json:"destination_explorer_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Polls     int       `json:"polls"`
}

// StopTrackingResponse is empty on purpose; stopping is idempotent
type StopTrackingResponse struct{}

// ListChainsRequest filters chains by network, empty for all
type ListChainsRequest struct {
	Network string `json:"network,omitempty"`
}

// Chain describes a supported chain
type Chain struct {
	Key                   string          `json:"key"`
	ID                    uint64          `json:"id"`
	Name                  string          `json:"name"`
	NativeSymbol          string          `json:"native_symbol"`
	Network               string          `json:"network"`
	ExplorerURL           string          `json:"explorer_url,omitempty"`
	RequiredConfirmations uint64          `json:"required_confirmations"`
	BridgeGasUSD          decimal.Decimal `json:"bridge_gas_usd"`
	SwapGasUSD            decimal.Decimal `json:"swap_gas_usd"`
}

type ListChainsResponse struct {
	Chains []Chain `json:"chains"`
}

type ListTokensRequest struct{}

// Token describes a supported asset
type Token struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int32  `json:"decimals"`
	Stable   bool   `json:"stable"`
}

type ListTokensResponse struct {
	Tokens []Token `json:"tokens"`
}

// StreamError is sent over the tracking stream before it closes abnormally
type StreamError struct {
	Error string `json:"error"`
}

package quoter

import (
	"time"

	"github.com/shopspring/decimal"
)

// RouteType classifies how a transfer is executed.
type RouteType string

const (
	RouteDirectBridge   RouteType = "direct_bridge"
	RouteSameChainSwap  RouteType = "same_chain_swap"
	RouteBridgeThenSwap RouteType = "bridge_then_swap"
)

// StepKind is one leg of a route.
type StepKind string

const (
	StepBridge StepKind = "bridge"
	StepSwap   StepKind = "swap"
)

// TransferRequest is what the caller wants to move. ToChain and ToToken may be
// left empty to mean "same as the source".
type TransferRequest struct {
	FromChain string
	ToChain   string
	Token     string
	ToToken   string
	Amount    decimal.Decimal
}

// RouteStep is a single bridge or swap leg of a quote.
type RouteStep struct {
	Kind             StepKind
	FromChain        string
	ToChain          string
	FromToken        string
	ToToken          string
	EstimatedMinutes int
}

// Quote is an immutable priced answer to a TransferRequest. A changed request needs
// a new quote.
type Quote struct {
	ID        string
	FromChain string
	ToChain   string
	Token     string
	ToToken   string

	InputAmount     decimal.Decimal
	// OutputAmount is amount × rate × (1 − fee) at full precision.
	OutputAmount    decimal.Decimal
	// MinOutputAmount is OutputAmount truncated to the destination token's decimals,
	// what can actually arrive on chain. Always positive.
	MinOutputAmount decimal.Decimal
	// FeeAmount is what the fees took out of the raw output, in destination token units.
	FeeAmount       decimal.Decimal
	ExchangeRate    decimal.Decimal

	GasCostUSD       decimal.Decimal
	BridgeFeePercent decimal.Decimal
	SlippagePercent  decimal.Decimal
	TotalFeePercent  decimal.Decimal
	EstimatedMinutes int

	Route RouteType
	Steps []RouteStep

	// Confidence is in [0, 1]. It drops when a cached price had to stand in for a
	// live one.
	Confidence          float64
	StalePrices         bool
	SourcePriceUSD      decimal.Decimal
	DestinationPriceUSD decimal.Decimal
	InputValueUSD       decimal.Decimal

	CreatedAt time.Time
	ExpiresAt time.Time
}

// FeeEstimate is the price-independent part of a quote.
type FeeEstimate struct {
	Route            RouteType
	GasCostUSD       decimal.Decimal
	BridgeFeePercent decimal.Decimal
	SlippagePercent  decimal.Decimal
	TotalFeePercent  decimal.Decimal
	EstimatedMinutes int
	Steps            []RouteStep
}

// FeeSchedule holds the fixed percentages and timings applied per route leg.
// Percentages are in percent, 0.5 meaning half a percent.
type FeeSchedule struct {
	BridgeFeePercent      decimal.Decimal
	BridgeSlippagePercent decimal.Decimal
	SwapSlippagePercent   decimal.Decimal
	BridgeMinutes         int
	SwapMinutes           int
}

// DefaultFeeSchedule gives a direct bridge 0.5% in total, a swap leg 0.2% more.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		BridgeFeePercent:      decimal.RequireFromString("0.05"),
		BridgeSlippagePercent: decimal.RequireFromString("0.45"),
		SwapSlippagePercent:   decimal.RequireFromString("0.2"),
		BridgeMinutes:         10,
		SwapMinutes:           1,
	}
}

package quoter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Cogwheel-Validator/spectra-bridge/bridge/prices"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/registry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "quoter").Logger()
}

// SetLogger allows setting a custom logger
func SetLogger(l zerolog.Logger) {
	log = l.With().Str("component", "quoter").Logger()
}

var (
	hundred    = decimal.NewFromInt(100)
	tracer     = otel.Tracer("github.com/Cogwheel-Validator/spectra-bridge/bridge/quoter")
	rateScale  = int32(18)
	usdDisplay = int32(2)
)

// Config tunes the engine. Use DefaultConfig and override fields.
type Config struct {
	Fees FeeSchedule
	// ConfidenceCeiling is the confidence of a quote built from fresh, exact prices.
	ConfidenceCeiling float64
	// StaleConfidenceFactor multiplies the confidence when a cached price was used.
	StaleConfidenceFactor float64
	// PriceTimeout bounds each live price lookup.
	PriceTimeout time.Duration
}

// DefaultConfig returns the fee schedule and confidence settings used in production.
func DefaultConfig() Config {
	return Config{
		Fees:                  DefaultFeeSchedule(),
		ConfidenceCeiling:     0.95,
		StaleConfidenceFactor: 0.8,
		PriceTimeout:          5 * time.Second,
	}
}

// Engine computes quotes. It holds no per-request state; the price cache is the only
// thing shared between concurrent calls.
type Engine struct {
	registry *registry.Registry
	source   prices.Source
	cache    *prices.Cache
	config   Config
	now      func() time.Time
}

// NewEngine wires an engine to its registry, price source and cache.
func NewEngine(reg *registry.Registry, source prices.Source, cache *prices.Cache, config Config) *Engine {
	if cache == nil {
		cache = prices.NewCache(prices.DefaultTTL)
	}
	if config.ConfidenceCeiling <= 0 || config.ConfidenceCeiling > 1 {
		config.ConfidenceCeiling = DefaultConfig().ConfidenceCeiling
	}
	if config.StaleConfidenceFactor <= 0 || config.StaleConfidenceFactor > 1 {
		config.StaleConfidenceFactor = DefaultConfig().StaleConfidenceFactor
	}
	return &Engine{
		registry: reg,
		source:   source,
		cache:    cache,
		config:   config,
		now:      time.Now,
	}
}

// WithClock replaces the engine clock. Meant for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// resolvedRequest is a TransferRequest after registry lookups.
type resolvedRequest struct {
	from    registry.ChainInfo
	to      registry.ChainInfo
	token   registry.TokenInfo
	toToken registry.TokenInfo
	amount  decimal.Decimal
	route   RouteType
}

type resolvedPrice struct {
	quote prices.PriceQuote
	stale bool
}

/*
ComputeQuote prices a transfer request.

Parameters:
  - ctx: bounds the price lookups
  - req: the transfer; empty ToChain / ToToken mean "same as source"

Returns:
  - a fully populated Quote with a fresh id
  - *Error of kind InvalidRequest, PriceUnavailable or UnsupportedRoute
*/
func (e *Engine) ComputeQuote(ctx context.Context, req TransferRequest) (*Quote, error) {
	ctx, span := tracer.Start(ctx, "quoter.ComputeQuote")
	defer span.End()

	quote, err := e.computeQuote(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		outcome := string(KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
		quotesTotal.WithLabelValues("none", outcome).Inc()
		log.Debug().Err(err).
			Str("from_chain", req.FromChain).
			Str("to_chain", req.ToChain).
			Str("token", req.Token).
			Msg("Quote rejected")
		return nil, err
	}

	span.SetAttributes(
		attribute.String("route", string(quote.Route)),
		attribute.String("quote_id", quote.ID),
		attribute.Bool("stale_prices", quote.StalePrices),
	)
	quotesTotal.WithLabelValues(string(quote.Route), "ok").Inc()
	log.Info().
		Str("id", quote.ID).
		Str("route", string(quote.Route)).
		Str("input", quote.InputAmount.String()).
		Str("output", quote.OutputAmount.String()).
		Float64("confidence", quote.Confidence).
		Msg("Quote computed")
	return quote, nil
}

func (e *Engine) computeQuote(ctx context.Context, req TransferRequest) (*Quote, error) {
	resolved, err := e.resolve(req)
	if err != nil {
		return nil, err
	}

	srcPrice, dstPrice, err := e.resolvePrices(ctx, resolved.token.Symbol, resolved.toToken.Symbol)
	if err != nil {
		return nil, err
	}

	var rate decimal.Decimal
	if resolved.token.Symbol == resolved.toToken.Symbol {
		rate = decimal.NewFromInt(1)
	} else {
		rate = srcPrice.quote.Price.DivRound(dstPrice.quote.Price, rateScale)
	}
	if !rate.IsPositive() {
		return nil, &Error{Kind: KindPriceUnavailable, Err: fmt.Errorf("exchange rate %s is not positive", rate)}
	}

	fees := e.feesFor(resolved)

	rawOutput := resolved.amount.Mul(rate)
	keep := decimal.NewFromInt(1).Sub(fees.TotalFeePercent.Div(hundred))
	output := rawOutput.Mul(keep)
	minOutput := output.Truncate(resolved.toToken.Decimals)
	if !minOutput.IsPositive() {
		return nil, invalid("amount", "%s %s delivers less than the smallest unit of %s after fees",
			resolved.amount, resolved.token.Symbol, resolved.toToken.Symbol)
	}

	stale := srcPrice.stale || dstPrice.stale
	created := e.now()

	return &Quote{
		ID:                  uuid.NewString(),
		FromChain:           resolved.from.Key,
		ToChain:             resolved.to.Key,
		Token:               resolved.token.Symbol,
		ToToken:             resolved.toToken.Symbol,
		InputAmount:         resolved.amount,
		OutputAmount:        output,
		MinOutputAmount:     minOutput,
		FeeAmount:           rawOutput.Sub(output),
		ExchangeRate:        rate,
		GasCostUSD:          fees.GasCostUSD,
		BridgeFeePercent:    fees.BridgeFeePercent,
		SlippagePercent:     fees.SlippagePercent,
		TotalFeePercent:     fees.TotalFeePercent,
		EstimatedMinutes:    fees.EstimatedMinutes,
		Route:               resolved.route,
		Steps:               fees.Steps,
		Confidence:          e.confidence(stale, srcPrice.quote, dstPrice.quote),
		StalePrices:         stale,
		SourcePriceUSD:      srcPrice.quote.Price,
		DestinationPriceUSD: dstPrice.quote.Price,
		InputValueUSD:       resolved.amount.Mul(srcPrice.quote.Price).Round(usdDisplay),
		CreatedAt:           created,
		ExpiresAt:           created.Add(e.cache.TTL()),
	}, nil
}

// resolve validates the request against the registries. Nothing is fetched until
// every field checks out.
func (e *Engine) resolve(req TransferRequest) (resolvedRequest, error) {
	var out resolvedRequest

	if req.FromChain == "" {
		return out, invalid("from_chain", "source chain is required")
	}
	from, err := e.registry.ResolveChain(req.FromChain)
	if err != nil {
		return out, invalid("from_chain", "%w", err)
	}
	out.from = from

	out.to = from
	if req.ToChain != "" {
		to, err := e.registry.ResolveChain(req.ToChain)
		if err != nil {
			return out, invalid("to_chain", "%w", err)
		}
		if to.Network != from.Network {
			return out, invalid("to_chain", "cannot move funds between %s and %s", from.Network, to.Network)
		}
		out.to = to
	}

	if req.Token == "" {
		return out, invalid("token", "token is required")
	}
	token, err := e.registry.ResolveToken(req.Token)
	if err != nil {
		return out, invalid("token", "%w", err)
	}
	out.token = token

	out.toToken = token
	if req.ToToken != "" {
		toToken, err := e.registry.ResolveToken(req.ToToken)
		if err != nil {
			return out, invalid("to_token", "%w", err)
		}
		out.toToken = toToken
	}

	if !req.Amount.IsPositive() {
		return out, invalid("amount", "amount must be greater than zero, got %s", req.Amount)
	}
	if !req.Amount.Equal(req.Amount.Truncate(token.Decimals)) {
		return out, invalid("amount", "%s supports at most %d decimal places", token.Symbol, token.Decimals)
	}
	out.amount = req.Amount

	route, err := Classify(out.from.Key, out.to.Key, out.token.Symbol, out.toToken.Symbol)
	if err != nil {
		return out, err
	}
	out.route = route
	return out, nil
}

// Classify picks the route for a chain and token pair. When both the chain and the
// token change the route is always bridge first, then swap on the destination; this
// is a fixed policy, no attempt is made to find the cheaper ordering.
func Classify(fromChain, toChain, token, toToken string) (RouteType, error) {
	sameChain := fromChain == toChain
	sameToken := token == toToken
	switch {
	case !sameChain && sameToken:
		return RouteDirectBridge, nil
	case sameChain && !sameToken:
		return RouteSameChainSwap, nil
	case !sameChain && !sameToken:
		return RouteBridgeThenSwap, nil
	default:
		return "", &Error{
			Kind: KindUnsupportedRoute,
			Err:  fmt.Errorf("%s to %s on %s moves nothing", token, toToken, fromChain),
		}
	}
}

// resolvePrices looks both symbols up concurrently. The same symbol is fetched once.
func (e *Engine) resolvePrices(ctx context.Context, srcSymbol, dstSymbol string) (resolvedPrice, resolvedPrice, error) {
	var src, dst resolvedPrice

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		src, err = e.resolvePrice(gctx, srcSymbol)
		return err
	})
	if dstSymbol != srcSymbol {
		g.Go(func() error {
			var err error
			dst, err = e.resolvePrice(gctx, dstSymbol)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return src, dst, err
	}
	if dstSymbol == srcSymbol {
		dst = src
	}
	return src, dst, nil
}

// resolvePrice prefers a live price and only falls back to the cache when the source
// fails. Live prices refresh the cache.
func (e *Engine) resolvePrice(ctx context.Context, symbol string) (resolvedPrice, error) {
	lookupCtx := ctx
	if e.config.PriceTimeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, e.config.PriceTimeout)
		defer cancel()
	}

	quote, err := e.source.GetPrice(lookupCtx, symbol)
	if err == nil {
		err = quote.Validate()
	}
	if err == nil {
		quote.Symbol = symbol
		e.cache.Put(quote)
		return resolvedPrice{quote: quote}, nil
	}

	if cached, age, ok := e.cache.Get(symbol); ok {
		priceFallbacksTotal.WithLabelValues(symbol).Inc()
		log.Warn().Err(err).
			Str("symbol", symbol).
			Dur("age", age).
			Msg("Live price failed, using cached price")
		return resolvedPrice{quote: cached, stale: true}, nil
	}

	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return resolvedPrice{}, err
	}
	return resolvedPrice{}, &Error{Kind: KindPriceUnavailable, Field: symbol, Err: err}
}

// confidence is the ceiling scaled by how tight each price interval is, lowered
// again when a cached price was used.
func (e *Engine) confidence(stale bool, quotes ...prices.PriceQuote) float64 {
	score := e.config.ConfidenceCeiling
	seen := make(map[string]bool, len(quotes))
	for _, q := range quotes {
		if seen[q.Symbol] {
			continue
		}
		seen[q.Symbol] = true
		rel, _ := q.RelativeConfidence().Float64()
		score *= 1 - rel
	}
	if stale {
		score *= e.config.StaleConfidenceFactor
	}
	switch {
	case score < 0:
		return 0
	case score > e.config.ConfidenceCeiling:
		return e.config.ConfidenceCeiling
	}
	return score
}

func (e *Engine) feesFor(r resolvedRequest) FeeEstimate {
	fees := e.config.Fees
	est := FeeEstimate{Route: r.route}

	bridge := RouteStep{
		Kind:             StepBridge,
		FromChain:        r.from.Key,
		ToChain:          r.to.Key,
		FromToken:        r.token.Symbol,
		ToToken:          r.token.Symbol,
		EstimatedMinutes: fees.BridgeMinutes,
	}
	swapOn := func(chain registry.ChainInfo) RouteStep {
		return RouteStep{
			Kind:             StepSwap,
			FromChain:        chain.Key,
			ToChain:          chain.Key,
			FromToken:        r.token.Symbol,
			ToToken:          r.toToken.Symbol,
			EstimatedMinutes: fees.SwapMinutes,
		}
	}

	switch r.route {
	case RouteDirectBridge:
		est.GasCostUSD = r.from.BridgeGasUSD
		est.BridgeFeePercent = fees.BridgeFeePercent
		est.SlippagePercent = fees.BridgeSlippagePercent
		est.EstimatedMinutes = fees.BridgeMinutes
		est.Steps = []RouteStep{bridge}
	case RouteSameChainSwap:
		est.GasCostUSD = r.from.SwapGasUSD
		est.BridgeFeePercent = decimal.Zero
		est.SlippagePercent = fees.SwapSlippagePercent
		est.EstimatedMinutes = fees.SwapMinutes
		est.Steps = []RouteStep{swapOn(r.from)}
	case RouteBridgeThenSwap:
		est.GasCostUSD = r.from.BridgeGasUSD.Add(r.to.SwapGasUSD)
		est.BridgeFeePercent = fees.BridgeFeePercent
		est.SlippagePercent = fees.BridgeSlippagePercent.Add(fees.SwapSlippagePercent)
		est.EstimatedMinutes = fees.BridgeMinutes + fees.SwapMinutes
		est.Steps = []RouteStep{bridge, swapOn(r.to)}
	}
	est.TotalFeePercent = est.BridgeFeePercent.Add(est.SlippagePercent)
	return est
}

// EstimateFees returns the route, gas and fee figures for a transfer without
// looking up prices.
func (e *Engine) EstimateFees(fromChain, toChain, token, toToken string) (FeeEstimate, error) {
	resolved, err := e.resolve(TransferRequest{
		FromChain: fromChain,
		ToChain:   toChain,
		Token:     token,
		ToToken:   toToken,
		Amount:    decimal.NewFromInt(1),
	})
	if err != nil {
		return FeeEstimate{}, err
	}
	return e.feesFor(resolved), nil
}

// ExpectedDuration is the time a transfer is expected to take, used for tracking
// ETAs. It follows the same route minutes a quote reports: an empty or equal
// toChain is a same-chain swap, an empty or equal toToken a direct bridge, and
// anything else a bridge followed by a swap.
func (e *Engine) ExpectedDuration(fromChain, toChain, token, toToken string) time.Duration {
	fees := e.config.Fees
	var minutes int
	switch {
	case toChain == "" || strings.EqualFold(toChain, fromChain):
		minutes = fees.SwapMinutes
	case toToken == "" || strings.EqualFold(toToken, token):
		minutes = fees.BridgeMinutes
	default:
		minutes = fees.BridgeMinutes + fees.SwapMinutes
	}
	return time.Duration(minutes) * time.Minute
}

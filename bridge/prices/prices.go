package prices

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "prices").Logger()
}

// SetLogger allows setting a custom logger
func SetLogger(l zerolog.Logger) {
	log = l.With().Str("component", "prices").Logger()
}

// ErrUnavailable signals that a source has no usable price for a symbol.
var ErrUnavailable = errors.New("price unavailable")

// PriceQuote is a USD price for one token symbol.
type PriceQuote struct {
	Symbol string
	Price  decimal.Decimal
	// Confidence is the absolute half-width of the source's confidence interval, in USD.
	Confidence  decimal.Decimal
	PublishedAt time.Time
}

// Validate rejects prices that must never reach quote math.
func (q PriceQuote) Validate() error {
	if !q.Price.IsPositive() {
		return fmt.Errorf("%s: non-positive price %s: %w", q.Symbol, q.Price, ErrUnavailable)
	}
	if q.Confidence.IsNegative() {
		return fmt.Errorf("%s: negative confidence %s: %w", q.Symbol, q.Confidence, ErrUnavailable)
	}
	return nil
}

// RelativeConfidence returns Confidence/Price, the relative width of the interval.
func (q PriceQuote) RelativeConfidence() decimal.Decimal {
	if !q.Price.IsPositive() {
		return decimal.NewFromInt(1)
	}
	return q.Confidence.DivRound(q.Price, 18)
}

// Source supplies current token prices.
type Source interface {
	GetPrice(ctx context.Context, symbol string) (PriceQuote, error)
}

// Static is an in-memory Source, used in development mode and tests.
type Static struct {
	mu     sync.RWMutex
	quotes map[string]PriceQuote
	now    func() time.Time
}

// NewStatic creates a Static source with USD prices keyed by symbol.
func NewStatic(usd map[string]decimal.Decimal) *Static {
	s := &Static{
		quotes: make(map[string]PriceQuote, len(usd)),
		now:    time.Now,
	}
	for symbol, price := range usd {
		s.Set(symbol, price, decimal.Zero)
	}
	return s
}

// Set stores or replaces the price of a symbol.
func (s *Static) Set(symbol string, price, confidence decimal.Decimal) {
	symbol = strings.ToUpper(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[symbol] = PriceQuote{Symbol: symbol, Price: price, Confidence: confidence}
}

// Remove drops a symbol so that later lookups fail.
func (s *Static) Remove(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.quotes, strings.ToUpper(symbol))
}

// GetPrice implements Source.
func (s *Static) GetPrice(ctx context.Context, symbol string) (PriceQuote, error) {
	if err := ctx.Err(); err != nil {
		return PriceQuote{}, err
	}
	symbol = strings.ToUpper(symbol)
	s.mu.RLock()
	quote, ok := s.quotes[symbol]
	s.mu.RUnlock()
	if !ok {
		return PriceQuote{}, fmt.Errorf("%s: %w", symbol, ErrUnavailable)
	}
	quote.PublishedAt = s.now()
	if err := quote.Validate(); err != nil {
		return PriceQuote{}, err
	}
	return quote, nil
}

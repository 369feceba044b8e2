package prices_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Cogwheel-Validator/spectra-bridge/bridge/prices"
	"github.com/shopspring/decimal"
	"github.com/zeebo/assert"
)

func TestCache_FreshnessWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cache := prices.NewCache(60 * time.Second).WithClock(func() time.Time { return now })

	cache.Put(prices.PriceQuote{Symbol: "usdc", Price: decimal.NewFromInt(1)})

	now = now.Add(10 * time.Second)
	quote, age, ok := cache.Get("USDC")
	assert.True(t, ok)
	assert.Equal(t, age, 10*time.Second)
	assert.True(t, quote.Price.Equal(decimal.NewFromInt(1)))

	now = now.Add(51 * time.Second)
	_, _, ok = cache.Get("USDC")
	assert.False(t, ok)
	assert.Equal(t, cache.Len(), 0)
}

func TestCache_LastWriterWins(t *testing.T) {
	cache := prices.NewCache(0)
	assert.Equal(t, cache.TTL(), prices.DefaultTTL)

	cache.Put(prices.PriceQuote{Symbol: "ETH", Price: decimal.NewFromInt(3000)})
	cache.Put(prices.PriceQuote{Symbol: "ETH", Price: decimal.NewFromInt(3100)})

	quote, _, ok := cache.Get("eth")
	assert.True(t, ok)
	assert.True(t, quote.Price.Equal(decimal.NewFromInt(3100)))
	assert.Equal(t, cache.Len(), 1)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	cache := prices.NewCache(time.Minute)
	done := make(chan struct{})
	for i := range 8 {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			for j := range 100 {
				cache.Put(prices.PriceQuote{Symbol: "USDT", Price: decimal.NewFromInt(int64(i*100 + j + 1))})
				cache.Get("USDT")
			}
		}(i)
	}
	for range 8 {
		<-done
	}
	_, _, ok := cache.Get("USDT")
	assert.True(t, ok)
}

func TestPriceQuote_Validate(t *testing.T) {
	good := prices.PriceQuote{Symbol: "USDC", Price: decimal.NewFromInt(1), Confidence: decimal.RequireFromString("0.001")}
	assert.NoError(t, good.Validate())
	assert.True(t, good.RelativeConfidence().Equal(decimal.RequireFromString("0.001")))

	zero := prices.PriceQuote{Symbol: "USDC"}
	if err := zero.Validate(); !errors.Is(err, prices.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for zero price, got %v", err)
	}

	negConf := prices.PriceQuote{Symbol: "USDC", Price: decimal.NewFromInt(1), Confidence: decimal.NewFromInt(-1)}
	assert.Error(t, negConf.Validate())
}

func TestStatic_GetPrice(t *testing.T) {
	src := prices.NewStatic(map[string]decimal.Decimal{"usdc": decimal.NewFromInt(1)})

	quote, err := src.GetPrice(context.Background(), "USDC")
	assert.NoError(t, err)
	assert.Equal(t, quote.Symbol, "USDC")
	assert.False(t, quote.PublishedAt.IsZero())

	src.Remove("USDC")
	_, err = src.GetPrice(context.Background(), "USDC")
	if !errors.Is(err, prices.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	src.Set("DAI", decimal.Zero, decimal.Zero)
	_, err = src.GetPrice(context.Background(), "DAI")
	if !errors.Is(err, prices.ErrUnavailable) {
		t.Fatalf("expected non-positive price to be rejected, got %v", err)
	}
}

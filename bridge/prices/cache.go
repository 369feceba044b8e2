package prices

import (
	"strings"
	"sync"
	"time"
)

// DefaultTTL is how long a cached price stays usable as a fallback.
const DefaultTTL = 60 * time.Second

type cacheEntry struct {
	quote    PriceQuote
	storedAt time.Time
}

// Cache is a last-writer-wins price store with a freshness window. Entries older
// than the window are invisible to Get and are dropped lazily.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewCache creates a cache. A non-positive ttl falls back to DefaultTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock replaces the cache clock. Meant for tests.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Put stores a quote, replacing whatever was stored for the symbol.
func (c *Cache) Put(quote PriceQuote) {
	key := strings.ToUpper(quote.Symbol)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{quote: quote, storedAt: c.now()}
}

// Get returns the cached quote for a symbol and its age, if it is still within
// the freshness window.
func (c *Cache) Get(symbol string) (PriceQuote, time.Duration, bool) {
	key := strings.ToUpper(symbol)
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return PriceQuote{}, 0, false
	}

	age := c.now().Sub(entry.storedAt)
	if age > c.ttl {
		c.mu.Lock()
		// another writer may have refreshed it meanwhile
		if current, still := c.entries[key]; still && current.storedAt.Equal(entry.storedAt) {
			delete(c.entries, key)
			log.Debug().Str("symbol", key).Dur("age", age).Msg("Dropped expired price")
		}
		c.mu.Unlock()
		return PriceQuote{}, 0, false
	}
	return entry.quote, age, true
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

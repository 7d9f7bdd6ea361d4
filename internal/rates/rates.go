// Package rates defines the currency-conversion collaborator consumed by the
// scoring layer, plus an explicitly owned TTL cache for rate lookups.
package rates

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnavailable is returned when no conversion rate can be obtained. The
// scoring layer degrades the affected feature to unknown instead of failing
// the whole operation.
var ErrUnavailable = fmt.Errorf("conversion rate unavailable")

// Converter supplies conversion rates between ISO-4217 currencies
type Converter interface {
	// Rate returns the multiplier converting an amount in from-currency to
	// to-currency, or ErrUnavailable
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// cacheEntry is one cached rate with its expiry
type cacheEntry struct {
	rate      decimal.Decimal
	fetchedAt time.Time
}

// Cache wraps a Converter with a bounded TTL cache. The cache is an owned
// object passed into the components that need it, with explicit lifetime and
// eviction, rather than process-global state.
type Cache struct {
	upstream Converter
	ttl      time.Duration
	maxSize  int

	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewCache creates a rate cache in front of the upstream converter
func NewCache(upstream Converter, ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if maxSize <= 0 {
		maxSize = 256
	}

	return &Cache{
		upstream: upstream,
		ttl:      ttl,
		maxSize:  maxSize,
		entries:  make(map[string]cacheEntry),
		now:      time.Now,
	}
}

// Rate returns a cached rate when fresh, otherwise consults the upstream
// converter. Failed lookups are not cached so a recovering upstream is
// retried on the next call.
func (c *Cache) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	key := from + "/" + to

	c.mu.Lock()
	if entry, ok := c.entries[key]; ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return entry.rate, nil
	}
	c.mu.Unlock()

	if c.upstream == nil {
		return decimal.Zero, ErrUnavailable
	}

	rate, err := c.upstream.Rate(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}

	c.mu.Lock()
	c.evictLocked()
	c.entries[key] = cacheEntry{rate: rate, fetchedAt: c.now()}
	c.mu.Unlock()

	return rate, nil
}

// evictLocked drops expired entries, then the oldest entry if the cache is
// still full. Caller holds the mutex.
func (c *Cache) evictLocked() {
	if len(c.entries) < c.maxSize {
		return
	}

	cutoff := c.now().Add(-c.ttl)
	for key, entry := range c.entries {
		if entry.fetchedAt.Before(cutoff) {
			delete(c.entries, key)
		}
	}

	if len(c.entries) < c.maxSize {
		return
	}

	var oldestKey string
	var oldest time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.fetchedAt.Before(oldest) {
			oldestKey = key
			oldest = entry.fetchedAt
		}
	}
	delete(c.entries, oldestKey)
}

// Len returns the number of cached rates
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// StaticConverter is a fixed rate table, used in tests and as a fallback for
// deployments without a live rate feed
type StaticConverter struct {
	rates map[string]decimal.Decimal
}

// NewStaticConverter creates a converter over a fixed "FROM/TO" -> rate table
func NewStaticConverter(table map[string]decimal.Decimal) *StaticConverter {
	rates := make(map[string]decimal.Decimal, len(table))
	for key, rate := range table {
		rates[key] = rate
	}
	return &StaticConverter{rates: rates}
}

// Rate implements Converter
func (s *StaticConverter) Rate(_ context.Context, from, to string) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	if rate, ok := s.rates[from+"/"+to]; ok {
		return rate, nil
	}

	// Derive the inverse when only the opposite direction is configured
	if rate, ok := s.rates[to+"/"+from]; ok && !rate.IsZero() {
		return decimal.NewFromInt(1).Div(rate), nil
	}

	return decimal.Zero, ErrUnavailable
}

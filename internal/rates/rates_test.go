package rates

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// countingConverter records how often each pair is fetched
type countingConverter struct {
	table map[string]decimal.Decimal
	calls int
}

func (c *countingConverter) Rate(_ context.Context, from, to string) (decimal.Decimal, error) {
	c.calls++
	if rate, ok := c.table[from+"/"+to]; ok {
		return rate, nil
	}
	return decimal.Zero, ErrUnavailable
}

func TestStaticConverter(t *testing.T) {
	conv := NewStaticConverter(map[string]decimal.Decimal{
		"EUR/USD": decimal.NewFromFloat(1.25),
	})
	ctx := context.Background()

	rate, err := conv.Rate(ctx, "EUR", "USD")
	if err != nil {
		t.Fatalf("Rate failed: %v", err)
	}
	if !rate.Equal(decimal.NewFromFloat(1.25)) {
		t.Errorf("EUR/USD = %s, want 1.25", rate)
	}

	// Inverse direction is derived
	inverse, err := conv.Rate(ctx, "USD", "EUR")
	if err != nil {
		t.Fatalf("inverse Rate failed: %v", err)
	}
	if !inverse.Equal(decimal.NewFromFloat(0.8)) {
		t.Errorf("USD/EUR = %s, want 0.8", inverse)
	}

	same, err := conv.Rate(ctx, "EUR", "EUR")
	if err != nil || !same.Equal(decimal.NewFromInt(1)) {
		t.Errorf("same-currency rate = %s, %v; want 1, nil", same, err)
	}

	if _, err := conv.Rate(ctx, "EUR", "JPY"); err != ErrUnavailable {
		t.Errorf("unknown pair error = %v, want ErrUnavailable", err)
	}
}

func TestCacheServesFreshEntries(t *testing.T) {
	upstream := &countingConverter{table: map[string]decimal.Decimal{
		"EUR/USD": decimal.NewFromFloat(1.1),
	}}
	cache := NewCache(upstream, time.Minute, 10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rate, err := cache.Rate(ctx, "EUR", "USD")
		if err != nil {
			t.Fatalf("Rate failed: %v", err)
		}
		if !rate.Equal(decimal.NewFromFloat(1.1)) {
			t.Errorf("rate = %s, want 1.1", rate)
		}
	}

	if upstream.calls != 1 {
		t.Errorf("upstream consulted %d times, want 1", upstream.calls)
	}
}

func TestCacheExpiry(t *testing.T) {
	upstream := &countingConverter{table: map[string]decimal.Decimal{
		"EUR/USD": decimal.NewFromFloat(1.1),
	}}
	cache := NewCache(upstream, time.Minute, 10)

	current := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return current }

	ctx := context.Background()
	if _, err := cache.Rate(ctx, "EUR", "USD"); err != nil {
		t.Fatal(err)
	}

	// Within TTL: served from cache
	current = current.Add(30 * time.Second)
	if _, err := cache.Rate(ctx, "EUR", "USD"); err != nil {
		t.Fatal(err)
	}
	if upstream.calls != 1 {
		t.Fatalf("upstream consulted %d times before expiry, want 1", upstream.calls)
	}

	// Past TTL: refetched
	current = current.Add(time.Minute)
	if _, err := cache.Rate(ctx, "EUR", "USD"); err != nil {
		t.Fatal(err)
	}
	if upstream.calls != 2 {
		t.Errorf("upstream consulted %d times after expiry, want 2", upstream.calls)
	}
}

func TestCacheBoundedSize(t *testing.T) {
	table := make(map[string]decimal.Decimal)
	for i := 0; i < 10; i++ {
		table[fmt.Sprintf("C%02d/EUR", i)] = decimal.NewFromInt(int64(i + 1))
	}
	upstream := &countingConverter{table: table}
	cache := NewCache(upstream, time.Minute, 4)

	current := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return current }

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		current = current.Add(time.Second)
		if _, err := cache.Rate(ctx, fmt.Sprintf("C%02d", i), "EUR"); err != nil {
			t.Fatal(err)
		}
	}

	if cache.Len() > 4 {
		t.Errorf("cache grew to %d entries, max is 4", cache.Len())
	}
}

func TestCacheDoesNotCacheFailures(t *testing.T) {
	upstream := &countingConverter{table: map[string]decimal.Decimal{}}
	cache := NewCache(upstream, time.Minute, 10)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := cache.Rate(ctx, "EUR", "JPY"); err != ErrUnavailable {
			t.Fatalf("error = %v, want ErrUnavailable", err)
		}
	}

	// Each failed lookup goes back to the upstream
	if upstream.calls != 2 {
		t.Errorf("upstream consulted %d times, want 2", upstream.calls)
	}

	// A recovered upstream is picked up immediately
	upstream.table["EUR/JPY"] = decimal.NewFromInt(160)
	rate, err := cache.Rate(ctx, "EUR", "JPY")
	if err != nil {
		t.Fatalf("Rate after recovery failed: %v", err)
	}
	if !rate.Equal(decimal.NewFromInt(160)) {
		t.Errorf("rate = %s, want 160", rate)
	}
}

func TestCacheNilUpstream(t *testing.T) {
	cache := NewCache(nil, time.Minute, 10)

	if _, err := cache.Rate(context.Background(), "EUR", "USD"); err != ErrUnavailable {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}

	same, err := cache.Rate(context.Background(), "EUR", "EUR")
	if err != nil || !same.Equal(decimal.NewFromInt(1)) {
		t.Errorf("same-currency short circuit failed: %s, %v", same, err)
	}
}

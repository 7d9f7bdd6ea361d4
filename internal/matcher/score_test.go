package matcher

import (
	"context"
	"math"
	"testing"
	"time"

	"inbox-matching-service/internal/features"
	"inbox-matching-service/internal/models"
	"inbox-matching-service/internal/rates"

	"github.com/shopspring/decimal"
)

func int64Ptr(v int64) *int64 { return &v }

func datePtr(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func testConverter() rates.Converter {
	return rates.NewStaticConverter(map[string]decimal.Decimal{
		"USD/EUR": decimal.NewFromFloat(0.9),
	})
}

func TestAmountScore(t *testing.T) {
	scorer := NewScorer(DefaultConfig(), nil)
	ctx := context.Background()

	tests := []struct {
		name      string
		inbox     *features.FeatureSet
		tx        *features.FeatureSet
		wantKnown bool
		want      float64
	}{
		{
			name:      "exact match",
			inbox:     &features.FeatureSet{AmountMinor: int64Ptr(10000), Currency: "EUR"},
			tx:        &features.FeatureSet{AmountMinor: int64Ptr(10000), Currency: "EUR"},
			wantKnown: true,
			want:      1.0,
		},
		{
			name:      "half tolerance",
			inbox:     &features.FeatureSet{AmountMinor: int64Ptr(10000), Currency: "EUR"},
			tx:        &features.FeatureSet{AmountMinor: int64Ptr(10050), Currency: "EUR"},
			wantKnown: true,
			want:      0.5,
		},
		{
			name:      "at tolerance edge",
			inbox:     &features.FeatureSet{AmountMinor: int64Ptr(10000), Currency: "EUR"},
			tx:        &features.FeatureSet{AmountMinor: int64Ptr(10100), Currency: "EUR"},
			wantKnown: true,
			want:      0.0,
		},
		{
			name:      "outside tolerance",
			inbox:     &features.FeatureSet{AmountMinor: int64Ptr(10000), Currency: "EUR"},
			tx:        &features.FeatureSet{AmountMinor: int64Ptr(12000), Currency: "EUR"},
			wantKnown: true,
			want:      0.0,
		},
		{
			name:      "tiny amounts use the tolerance floor",
			inbox:     &features.FeatureSet{AmountMinor: int64Ptr(100), Currency: "EUR"},
			tx:        &features.FeatureSet{AmountMinor: int64Ptr(101), Currency: "EUR"},
			wantKnown: true,
			want:      0.5,
		},
		{
			name:      "missing inbox amount",
			inbox:     &features.FeatureSet{Currency: "EUR"},
			tx:        &features.FeatureSet{AmountMinor: int64Ptr(10000), Currency: "EUR"},
			wantKnown: false,
		},
		{
			name:      "cross currency without converter",
			inbox:     &features.FeatureSet{AmountMinor: int64Ptr(10000), Currency: "EUR"},
			tx:        &features.FeatureSet{AmountMinor: int64Ptr(10000), Currency: "USD"},
			wantKnown: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scorer.AmountScore(ctx, tt.inbox, tt.tx)
			if got.Known != tt.wantKnown {
				t.Fatalf("Known = %v, want %v", got.Known, tt.wantKnown)
			}
			if tt.wantKnown && math.Abs(got.Value-tt.want) > 1e-9 {
				t.Errorf("Value = %f, want %f", got.Value, tt.want)
			}
		})
	}
}

func TestAmountScoreCrossCurrency(t *testing.T) {
	scorer := NewScorer(DefaultConfig(), testConverter())
	ctx := context.Background()

	// 100.00 USD at 0.9 converts to 90.00 EUR, an exact match
	inbox := &features.FeatureSet{AmountMinor: int64Ptr(9000), Currency: "EUR"}
	tx := &features.FeatureSet{AmountMinor: int64Ptr(10000), Currency: "USD"}

	got := scorer.AmountScore(ctx, inbox, tx)
	if !got.Known {
		t.Fatal("cross-currency score should be known with a converter")
	}
	if got.Value != 1.0 {
		t.Errorf("Value = %f, want 1.0", got.Value)
	}
}

func TestAmountScoreZeroTolerance(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AmountTolerancePercent = 0.0
	scorer := NewScorer(cfg, nil)

	inbox := &features.FeatureSet{AmountMinor: int64Ptr(10000), Currency: "EUR"}
	tx := &features.FeatureSet{AmountMinor: int64Ptr(10001), Currency: "EUR"}

	got := scorer.AmountScore(context.Background(), inbox, tx)
	if !got.Known || got.Value != 0.0 {
		t.Errorf("zero tolerance off-by-one = %+v, want known 0.0", got)
	}
}

func TestDateScore(t *testing.T) {
	scorer := NewScorer(DefaultConfig(), nil)

	tests := []struct {
		name      string
		inbox     *features.FeatureSet
		tx        *features.FeatureSet
		wantKnown bool
		want      float64
	}{
		{
			name:      "same day",
			inbox:     &features.FeatureSet{Date: datePtr(2024, 3, 15)},
			tx:        &features.FeatureSet{Date: datePtr(2024, 3, 15)},
			wantKnown: true,
			want:      1.0,
		},
		{
			name:      "three days apart",
			inbox:     &features.FeatureSet{Date: datePtr(2024, 3, 15)},
			tx:        &features.FeatureSet{Date: datePtr(2024, 3, 18)},
			wantKnown: true,
			want:      0.9,
		},
		{
			name:      "at the tolerance edge",
			inbox:     &features.FeatureSet{Date: datePtr(2024, 3, 1)},
			tx:        &features.FeatureSet{Date: datePtr(2024, 3, 31)},
			wantKnown: true,
			want:      0.0,
		},
		{
			name:      "missing date",
			inbox:     &features.FeatureSet{},
			tx:        &features.FeatureSet{Date: datePtr(2024, 3, 15)},
			wantKnown: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scorer.DateScore(tt.inbox, tt.tx)
			if got.Known != tt.wantKnown {
				t.Fatalf("Known = %v, want %v", got.Known, tt.wantKnown)
			}
			if tt.wantKnown && math.Abs(got.Value-tt.want) > 1e-9 {
				t.Errorf("Value = %f, want %f", got.Value, tt.want)
			}
		})
	}
}

func TestTextScore(t *testing.T) {
	scorer := NewScorer(DefaultConfig(), nil)

	identical := &features.FeatureSet{Text: "acme corp"}
	if got := scorer.TextScore(identical, &features.FeatureSet{Text: "acme corp"}); !got.Known || got.Value != 1.0 {
		t.Errorf("identical text = %+v, want known 1.0", got)
	}

	a := &features.FeatureSet{Text: "acme corp"}
	b := &features.FeatureSet{Text: "acme corp ltd"}
	overlapping := scorer.TextScore(a, b)
	if !overlapping.Known {
		t.Fatal("overlapping text should be known")
	}
	if overlapping.Value <= 0.5 || overlapping.Value >= 1.0 {
		t.Errorf("overlapping text = %f, want in (0.5, 1.0)", overlapping.Value)
	}

	unrelated := scorer.TextScore(
		&features.FeatureSet{Text: "acme corp"},
		&features.FeatureSet{Text: "zzq inc"})
	if !unrelated.Known || unrelated.Value >= overlapping.Value {
		t.Errorf("unrelated text = %+v, should score below overlapping %f",
			unrelated, overlapping.Value)
	}

	missing := scorer.TextScore(&features.FeatureSet{}, b)
	if missing.Known {
		t.Error("missing text should be unknown")
	}
}

func TestTextScoreTokenSubsetScoresHigh(t *testing.T) {
	scorer := NewScorer(DefaultConfig(), nil)

	a := &features.FeatureSet{Text: features.NormalizeText("Acme Corp")}
	b := &features.FeatureSet{Text: features.NormalizeText("ACME CORP LTD")}

	got := scorer.TextScore(a, b)
	if !got.Known {
		t.Fatal("score should be known")
	}

	// A merchant name that is a strict token subset of the counterparty
	// text differs only by a legal-form suffix and must score as a strong
	// match despite the extra token
	if got.Value <= 0.8 {
		t.Errorf("text score = %f, want above 0.8", got.Value)
	}
}

func TestTextScoreSymmetry(t *testing.T) {
	scorer := NewScorer(DefaultConfig(), nil)

	pairs := [][2]string{
		{"acme corp", "acme corp ltd"},
		{"coffee house 42", "starbucks coffee"},
		{"a", "completely different words here"},
	}

	for _, p := range pairs {
		a := &features.FeatureSet{Text: p[0]}
		b := &features.FeatureSet{Text: p[1]}

		ab := scorer.TextScore(a, b)
		ba := scorer.TextScore(b, a)
		if math.Abs(ab.Value-ba.Value) > 1e-9 || ab.Known != ba.Known {
			t.Errorf("TextScore(%q, %q) = %+v but reversed = %+v", p[0], p[1], ab, ba)
		}
	}
}

func TestCurrencyScore(t *testing.T) {
	ctx := context.Background()

	withConverter := NewScorer(DefaultConfig(), testConverter())
	withoutConverter := NewScorer(DefaultConfig(), nil)

	eur := &features.FeatureSet{Currency: "EUR"}
	usd := &features.FeatureSet{Currency: "USD"}
	jpy := &features.FeatureSet{Currency: "JPY"}
	none := &features.FeatureSet{}

	if got := withConverter.CurrencyScore(ctx, eur, eur); !got.Known || got.Value != 1.0 {
		t.Errorf("identical currency = %+v, want known 1.0", got)
	}
	if got := withConverter.CurrencyScore(ctx, eur, usd); !got.Known || got.Value != 0.5 {
		t.Errorf("convertible pair = %+v, want known 0.5", got)
	}
	if got := withConverter.CurrencyScore(ctx, eur, jpy); got.Known {
		t.Errorf("unconvertible pair = %+v, want unknown", got)
	}
	if got := withoutConverter.CurrencyScore(ctx, eur, usd); got.Known {
		t.Errorf("cross currency without converter = %+v, want unknown", got)
	}
	if got := withConverter.CurrencyScore(ctx, none, eur); got.Known {
		t.Errorf("missing currency = %+v, want unknown", got)
	}
}

func TestAggregateConfidence(t *testing.T) {
	weights := models.FeatureWeights{Amount: 0.45, Date: 0.25, Text: 0.25, Currency: 0.05}

	tests := []struct {
		name      string
		scores    FeatureScores
		want      float64
		wantKnown bool
	}{
		{
			name: "all known perfect",
			scores: FeatureScores{
				Amount:   KnownScore(1.0),
				Date:     KnownScore(1.0),
				Text:     KnownScore(1.0),
				Currency: KnownScore(1.0),
			},
			want:      1.0,
			wantKnown: true,
		},
		{
			name: "unknown feature excluded from both sides",
			scores: FeatureScores{
				Amount:   KnownScore(1.0),
				Date:     UnknownScore(),
				Text:     KnownScore(1.0),
				Currency: KnownScore(1.0),
			},
			// (0.45 + 0.25 + 0.05) / 0.75 = 1.0, not dragged down by the
			// absent date
			want:      1.0,
			wantKnown: true,
		},
		{
			name: "mixed scores renormalized",
			scores: FeatureScores{
				Amount:   KnownScore(1.0),
				Date:     KnownScore(0.5),
				Text:     UnknownScore(),
				Currency: UnknownScore(),
			},
			// (0.45*1.0 + 0.25*0.5) / 0.70
			want:      (0.45 + 0.125) / 0.70,
			wantKnown: true,
		},
		{
			name:      "all unknown",
			scores:    FeatureScores{},
			wantKnown: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, known := AggregateConfidence(tt.scores, weights)
			if known != tt.wantKnown {
				t.Fatalf("known = %v, want %v", known, tt.wantKnown)
			}
			if tt.wantKnown && math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("confidence = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestAggregateConfidenceBounds(t *testing.T) {
	weights := models.FeatureWeights{Amount: 0.45, Date: 0.25, Text: 0.25, Currency: 0.05}

	grid := []float64{0.0, 0.1, 0.33, 0.5, 0.77, 1.0}
	for _, a := range grid {
		for _, d := range grid {
			scores := FeatureScores{Amount: KnownScore(a), Date: KnownScore(d)}
			got, known := AggregateConfidence(scores, weights)
			if !known {
				t.Fatal("expected a known confidence")
			}
			if got < 0.0 || got > 1.0 {
				t.Fatalf("confidence %f out of [0,1] for amount=%f date=%f", got, a, d)
			}
		}
	}
}

func BenchmarkTextScore(b *testing.B) {
	scorer := NewScorer(DefaultConfig(), nil)
	a := &features.FeatureSet{Text: "acme corporation international holdings"}
	c := &features.FeatureSet{Text: "acme corp intl holding 2024 03 15"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		scorer.TextScore(a, c)
	}
}

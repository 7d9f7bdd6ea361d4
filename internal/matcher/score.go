package matcher

import (
	"context"
	"math"

	"inbox-matching-service/internal/features"
	"inbox-matching-service/internal/models"
	"inbox-matching-service/internal/rates"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"
)

// Score is the result of a single feature scorer. Known is false when the
// feature was absent on either side or a required collaborator (currency
// conversion) was unavailable; an unknown score is excluded from aggregation
// rather than treated as 0.
type Score struct {
	Value float64 `json:"value"`
	Known bool    `json:"known"`
}

// KnownScore creates a known score clamped to [0, 1]
func KnownScore(v float64) Score {
	return Score{Value: math.Min(1.0, math.Max(0.0, v)), Known: true}
}

// UnknownScore creates an unknown score
func UnknownScore() Score {
	return Score{}
}

// FeatureScores collects the per-feature scores of one candidate pairing
type FeatureScores struct {
	Amount   Score `json:"amount"`
	Date     Score `json:"date"`
	Text     Score `json:"text"`
	Currency Score `json:"currency"`
}

// Scorer computes per-feature similarity scores between an inbox item's
// feature set and a transaction's feature set. All methods are pure apart
// from rate lookups, tolerate absent inputs, and never panic.
type Scorer struct {
	config    *Config
	converter rates.Converter
}

// NewScorer creates a scorer. The converter may be nil, in which case
// cross-currency amounts score as unknown.
func NewScorer(config *Config, converter rates.Converter) *Scorer {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scorer{config: config, converter: converter}
}

// ScoreAll computes all feature scores for a candidate pairing
func (s *Scorer) ScoreAll(ctx context.Context, inbox, tx *features.FeatureSet) FeatureScores {
	return FeatureScores{
		Amount:   s.AmountScore(ctx, inbox, tx),
		Date:     s.DateScore(inbox, tx),
		Text:     s.TextScore(inbox, tx),
		Currency: s.CurrencyScore(ctx, inbox, tx),
	}
}

// AmountScore scores amount similarity in minor units. Exact match scores
// 1.0; within the configured tolerance band the score decays linearly to 0.
// A currency mismatch with no conversion available scores unknown so a good
// text/date match is not silently zeroed out.
func (s *Scorer) AmountScore(ctx context.Context, inbox, tx *features.FeatureSet) Score {
	if !inbox.HasAmount() || !tx.HasAmount() {
		return UnknownScore()
	}

	inboxMinor := *inbox.AmountMinor
	txMinor := *tx.AmountMinor

	if inbox.Currency != tx.Currency {
		converted, ok := s.convertMinor(ctx, txMinor, tx.Currency, inbox.Currency)
		if !ok {
			return UnknownScore()
		}
		txMinor = converted
	}

	diff := inboxMinor - txMinor
	if diff < 0 {
		diff = -diff
	}

	if diff == 0 {
		return KnownScore(1.0)
	}

	tolerance := s.amountTolerance(inboxMinor)
	if tolerance == 0 || diff > tolerance {
		return KnownScore(0.0)
	}

	return KnownScore(1.0 - float64(diff)/float64(tolerance))
}

// amountTolerance computes the tolerance band in minor units, with a small
// fixed floor so rounding differences on tiny amounts still fall inside it
func (s *Scorer) amountTolerance(amountMinor int64) int64 {
	if s.config.AmountTolerancePercent == 0.0 {
		return 0
	}

	if amountMinor < 0 {
		amountMinor = -amountMinor
	}

	tolerance := int64(float64(amountMinor) * s.config.AmountTolerancePercent / 100.0)
	if tolerance < 2 {
		tolerance = 2
	}
	return tolerance
}

// convertMinor converts minor units between currencies using the rate
// collaborator; returns false when no rate is available
func (s *Scorer) convertMinor(ctx context.Context, minor int64, from, to string) (int64, bool) {
	if s.converter == nil {
		return 0, false
	}

	rate, err := s.converter.Rate(ctx, from, to)
	if err != nil {
		return 0, false
	}

	converted := decimal.New(minor, 0).Mul(rate).Round(0)
	return converted.IntPart(), true
}

// DateScore scores calendar-date proximity: same day scores 1.0, decaying
// linearly to 0 over DateToleranceDays. Missing dates score unknown.
func (s *Scorer) DateScore(inbox, tx *features.FeatureSet) Score {
	if !inbox.HasDate() || !tx.HasDate() {
		return UnknownScore()
	}

	days := models.DaysBetween(*inbox.Date, *tx.Date)
	if days == 0 {
		return KnownScore(1.0)
	}

	if days >= s.config.DateToleranceDays {
		return KnownScore(0.0)
	}

	return KnownScore(1.0 - float64(days)/float64(s.config.DateToleranceDays))
}

// TextScore scores similarity between normalized merchant text and
// counterparty text by blending token overlap with edit distance. The score
// is symmetric: TextScore(a, b) == TextScore(b, a).
func (s *Scorer) TextScore(inbox, tx *features.FeatureSet) Score {
	if !inbox.HasText() || !tx.HasText() {
		return UnknownScore()
	}

	if inbox.Text == tx.Text {
		return KnownScore(1.0)
	}

	token := tokenOverlap(features.Tokens(inbox.Text), features.Tokens(tx.Text))
	edit := levenshteinSimilarity(inbox.Text, tx.Text)

	// Token overlap dominates: merchant strings share tokens far more
	// reliably than whole-string spelling, and bank counterparty text
	// routinely carries extra tokens ("acme corp" vs "acme corp ltd")
	return KnownScore(0.7*token + 0.3*edit)
}

// CurrencyScore scores currency compatibility: identical codes score 1.0, a
// convertible pair scores a fixed partial value, anything else is unknown.
func (s *Scorer) CurrencyScore(ctx context.Context, inbox, tx *features.FeatureSet) Score {
	if inbox.Currency == "" || tx.Currency == "" {
		return UnknownScore()
	}

	if inbox.Currency == tx.Currency {
		return KnownScore(1.0)
	}

	if s.converter != nil {
		if _, err := s.converter.Rate(ctx, tx.Currency, inbox.Currency); err == nil {
			return KnownScore(s.config.ConvertibleCurrencyScore)
		}
	}

	return UnknownScore()
}

// tokenOverlap computes the overlap coefficient over token sets: shared
// tokens divided by the smaller set. A merchant name that is a strict token
// subset of the counterparty text scores 1.0, so legal-form suffixes on the
// bank side do not dilute the match.
func tokenOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	setA := make(map[string]bool, len(a))
	for _, tok := range a {
		setA[tok] = true
	}

	setB := make(map[string]bool, len(b))
	for _, tok := range b {
		setB[tok] = true
	}

	common := 0
	for tok := range setA {
		if setB[tok] {
			common++
		}
	}

	smaller := len(setA)
	if len(setB) < smaller {
		smaller = len(setB)
	}
	return float64(common) / float64(smaller)
}

// levenshteinSimilarity converts edit distance to a [0,1] similarity
func levenshteinSimilarity(a, b string) float64 {
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1.0
	}

	distance := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(distance)/float64(maxLen)
}

// AggregateConfidence combines per-feature scores into one confidence value
// using the profile's weights. Only known scores participate; the weighted
// sum is renormalized by the weights actually used, so an absent feature is
// excluded from both numerator and denominator. When every score is unknown
// the second return value is false and no confidence is defined.
func AggregateConfidence(scores FeatureScores, weights models.FeatureWeights) (float64, bool) {
	type weighted struct {
		score  Score
		weight float64
	}

	parts := []weighted{
		{scores.Amount, weights.Amount},
		{scores.Date, weights.Date},
		{scores.Text, weights.Text},
		{scores.Currency, weights.Currency},
	}

	var sum, used float64
	for _, p := range parts {
		if !p.score.Known || p.weight == 0 {
			continue
		}
		sum += p.score.Value * p.weight
		used += p.weight
	}

	if used == 0 {
		return 0, false
	}

	confidence := sum / used
	return math.Min(1.0, math.Max(0.0, confidence)), true
}

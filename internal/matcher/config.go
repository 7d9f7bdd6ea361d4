// Package matcher provides the core bidirectional matching engine that
// reconciles inbox items (receipts, invoices, scanned documents) against
// bank transaction records.
//
// The engine uses a multi-stage approach:
//  1. Candidate selection within a tenant-scoped lookback window
//  2. Per-feature scoring: amount, date, text, and currency similarity
//  3. Confidence aggregation over the known features, weighted per the
//     tenant's calibration profile
//  4. Decision: auto-match, suggest for human review, or no match
//
// Scorers are pure functions. A feature that is absent on either side scores
// as unknown and is excluded from aggregation entirely, so a missing date
// neither depresses nor inflates the confidence of an otherwise good pairing.
//
// Example usage:
//
//	config := matcher.DefaultConfig()
//	config.DateToleranceDays = 10
//
//	engine := matcher.NewEngine(config, source, converter)
//	outcome, err := engine.FindMatchesForInbox(ctx, tenantID, inboxID, profile)
package matcher

import (
	"fmt"

	"inbox-matching-service/internal/models"
)

// Config holds the structural tuning parameters of the matching engine.
// Per-tenant thresholds and feature weights live in the CalibrationProfile;
// Config carries the knobs that are operator-set rather than learned.
//
// Use the factory functions for common scenarios:
//   - DefaultConfig(): balanced approach for most tenants
//   - StrictConfig(): tight tolerances for conservative auto-matching
//   - RelaxedConfig(): loose tolerances for exploratory matching
type Config struct {
	// DateToleranceDays is the window over which the date score decays
	// linearly from 1.0 to 0
	DateToleranceDays int `json:"date_tolerance_days"`

	// AmountTolerancePercent is the tolerance band for graded amount
	// matching (0.0 to 100.0); outside the band the amount score is 0
	AmountTolerancePercent float64 `json:"amount_tolerance_percent"`

	// LookbackDays bounds the candidate window around the document date
	LookbackDays int `json:"lookback_days"`

	// MaxSuggestions limits how many ranked candidates are surfaced for
	// human review when no auto-match is possible
	MaxSuggestions int `json:"max_suggestions"`

	// ConvertibleCurrencyScore is the currency score assigned when the
	// codes differ but a conversion rate is available
	ConvertibleCurrencyScore float64 `json:"convertible_currency_score"`

	// MinTextScore discards candidates whose only known feature is a text
	// score below this floor, to keep noise out of the suggestion list
	MinTextScore float64 `json:"min_text_score"`

	// MaxBatchSize bounds the inbox id list accepted by batch processing
	MaxBatchSize int `json:"max_batch_size"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DateToleranceDays:        30,
		AmountTolerancePercent:   1.0,
		LookbackDays:             90,
		MaxSuggestions:           5,
		ConvertibleCurrencyScore: 0.5,
		MinTextScore:             0.2,
		MaxBatchSize:             50,
	}
}

// StrictConfig returns a configuration for conservative matching
func StrictConfig() *Config {
	return &Config{
		DateToleranceDays:        7,
		AmountTolerancePercent:   0.0,
		LookbackDays:             30,
		MaxSuggestions:           3,
		ConvertibleCurrencyScore: 0.25,
		MinTextScore:             0.4,
		MaxBatchSize:             50,
	}
}

// RelaxedConfig returns a configuration for exploratory matching
func RelaxedConfig() *Config {
	return &Config{
		DateToleranceDays:        60,
		AmountTolerancePercent:   2.5,
		LookbackDays:             180,
		MaxSuggestions:           10,
		ConvertibleCurrencyScore: 0.6,
		MinTextScore:             0.1,
		MaxBatchSize:             50,
	}
}

// Validate checks if the matching configuration is valid
func (c *Config) Validate() error {
	if c.DateToleranceDays <= 0 {
		return fmt.Errorf("date tolerance days must be positive: %d", c.DateToleranceDays)
	}

	if c.AmountTolerancePercent < 0.0 || c.AmountTolerancePercent > 100.0 {
		return fmt.Errorf("amount tolerance percent must be between 0.0 and 100.0: %f", c.AmountTolerancePercent)
	}

	if c.LookbackDays <= 0 {
		return fmt.Errorf("lookback days must be positive: %d", c.LookbackDays)
	}

	if c.MaxSuggestions <= 0 {
		return fmt.Errorf("max suggestions must be positive: %d", c.MaxSuggestions)
	}

	if c.ConvertibleCurrencyScore < 0.0 || c.ConvertibleCurrencyScore > 1.0 {
		return fmt.Errorf("convertible currency score must be between 0.0 and 1.0: %f", c.ConvertibleCurrencyScore)
	}

	if c.MinTextScore < 0.0 || c.MinTextScore > 1.0 {
		return fmt.Errorf("min text score must be between 0.0 and 1.0: %f", c.MinTextScore)
	}

	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("max batch size must be positive: %d", c.MaxBatchSize)
	}

	return nil
}

// Clone creates a copy of the matching configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// String returns a human-readable description of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("Config{DateTolerance: %d days, AmountTolerance: %.2f%%, Lookback: %d days, MaxSuggestions: %d}",
		c.DateToleranceDays, c.AmountTolerancePercent, c.LookbackDays, c.MaxSuggestions)
}

// DefaultProfile returns the calibration profile a tenant starts from before
// any outcome history has accumulated
func DefaultProfile(tenantID string) *models.CalibrationProfile {
	return &models.CalibrationProfile{
		TenantID: tenantID,
		Weights: models.FeatureWeights{
			Amount:   0.45,
			Date:     0.25,
			Text:     0.25,
			Currency: 0.05,
		},
		AutoMatchThreshold: 0.90,
		SuggestThreshold:   0.60,
		AmbiguityMargin:    0.05,
	}
}

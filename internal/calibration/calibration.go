// Package calibration recomputes per-tenant matching thresholds from
// accumulated confirm/decline history. It runs as a batch job outside the
// synchronous matching path; the resulting profile is written back by the
// caller in one atomic upsert.
package calibration

import (
	"fmt"
	"math"
	"sort"
	"time"

	"inbox-matching-service/internal/matcher"
	"inbox-matching-service/internal/models"
	"inbox-matching-service/pkg/logger"
)

// Config holds tuning parameters for the calibration job
type Config struct {
	// MinSampleSize is the number of decided suggestions required before
	// thresholds move away from defaults, guarding against over-fitting to
	// a handful of user actions
	MinSampleSize int `json:"min_sample_size"`

	// Smoothing is how far thresholds move toward the freshly computed
	// target on each run (0 = never move, 1 = jump immediately)
	Smoothing float64 `json:"smoothing"`

	// Threshold clamps keep calibration inside sane bounds regardless of
	// how skewed the outcome history is
	MinAutoThreshold    float64 `json:"min_auto_threshold"`
	MaxAutoThreshold    float64 `json:"max_auto_threshold"`
	MinSuggestThreshold float64 `json:"min_suggest_threshold"`
}

// DefaultConfig returns a calibration configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MinSampleSize:       20,
		Smoothing:           0.5,
		MinAutoThreshold:    0.75,
		MaxAutoThreshold:    0.99,
		MinSuggestThreshold: 0.30,
	}
}

// Validate checks if the calibration configuration is valid
func (c *Config) Validate() error {
	if c.MinSampleSize < 2 {
		return fmt.Errorf("min sample size must be at least 2: %d", c.MinSampleSize)
	}

	if c.Smoothing <= 0.0 || c.Smoothing > 1.0 {
		return fmt.Errorf("smoothing must be in (0.0, 1.0]: %f", c.Smoothing)
	}

	if c.MinAutoThreshold >= c.MaxAutoThreshold {
		return fmt.Errorf("min auto threshold (%f) must be below max (%f)",
			c.MinAutoThreshold, c.MaxAutoThreshold)
	}

	if c.MinSuggestThreshold >= c.MinAutoThreshold {
		return fmt.Errorf("min suggest threshold (%f) must be below min auto threshold (%f)",
			c.MinSuggestThreshold, c.MinAutoThreshold)
	}

	return nil
}

// Calibrator recomputes calibration profiles from outcome history
type Calibrator struct {
	config *Config
	log    logger.Logger
	now    func() time.Time
}

// NewCalibrator creates a calibrator
func NewCalibrator(config *Config) *Calibrator {
	if config == nil {
		config = DefaultConfig()
	}

	return &Calibrator{
		config: config,
		log:    logger.GetGlobalLogger().WithComponent("calibration"),
		now:    time.Now,
	}
}

// Recalibrate computes a new profile for the tenant from decided suggestions
// (confirmed or declined). With fewer than MinSampleSize decided outcomes the
// current thresholds are carried through unchanged; a single confirm or
// decline never moves the profile.
//
// The target thresholds are chosen so confirmed outcomes cluster above the
// auto-match threshold and declined ones fall below the suggest threshold:
// the auto threshold sits above the 95th percentile of declined confidences,
// the suggest threshold below the 5th percentile of confirmed ones.
func (c *Calibrator) Recalibrate(
	tenantID string,
	history []*models.MatchSuggestion,
	current *models.CalibrationProfile,
) *models.CalibrationProfile {

	if current == nil {
		current = matcher.DefaultProfile(tenantID)
	}

	var confirmed, declined []float64
	for _, s := range history {
		switch s.Status {
		case models.SuggestionStatusConfirmed:
			confirmed = append(confirmed, s.Confidence)
		case models.SuggestionStatusDeclined:
			declined = append(declined, s.Confidence)
		}
	}

	next := *current
	next.SampleCount = len(confirmed) + len(declined)
	next.UpdatedAt = c.now()

	if next.SampleCount < c.config.MinSampleSize {
		c.log.WithTenant(tenantID).WithFields(logger.Fields{
			"samples":  next.SampleCount,
			"required": c.config.MinSampleSize,
		}).Debug("Insufficient outcome history, keeping current thresholds")
		return &next
	}

	targetAuto := next.AutoMatchThreshold
	if len(declined) > 0 {
		targetAuto = percentile(declined, 0.95) + next.AmbiguityMargin
	}
	targetAuto = clamp(targetAuto, c.config.MinAutoThreshold, c.config.MaxAutoThreshold)

	targetSuggest := next.SuggestThreshold
	if len(confirmed) > 0 {
		targetSuggest = percentile(confirmed, 0.05) - next.AmbiguityMargin
	}
	targetSuggest = clamp(targetSuggest, c.config.MinSuggestThreshold, targetAuto-0.05)

	// Move part of the way toward the targets so one calibration run over a
	// skewed window cannot swing the thresholds wholesale
	next.AutoMatchThreshold = blend(current.AutoMatchThreshold, targetAuto, c.config.Smoothing)
	next.SuggestThreshold = blend(current.SuggestThreshold, targetSuggest, c.config.Smoothing)

	if next.SuggestThreshold > next.AutoMatchThreshold-0.05 {
		next.SuggestThreshold = next.AutoMatchThreshold - 0.05
	}

	c.log.WithTenant(tenantID).WithFields(logger.Fields{
		"samples":         next.SampleCount,
		"confirmed":       len(confirmed),
		"declined":        len(declined),
		"auto_threshold":  next.AutoMatchThreshold,
		"suggest_ts":      next.SuggestThreshold,
		"prev_auto":       current.AutoMatchThreshold,
		"prev_suggest_ts": current.SuggestThreshold,
	}).Info("Recomputed calibration profile")

	return &next
}

// BucketStats summarizes confirm/decline counts per confidence decile,
// used for reporting calibration quality
type BucketStats struct {
	Bucket    string  `json:"bucket"`
	Confirmed int     `json:"confirmed"`
	Declined  int     `json:"declined"`
	Rate      float64 `json:"confirm_rate"`
}

// Buckets groups decided suggestions into confidence deciles
func Buckets(history []*models.MatchSuggestion) []BucketStats {
	confirmed := make([]int, 10)
	declined := make([]int, 10)

	for _, s := range history {
		idx := int(s.Confidence * 10)
		if idx > 9 {
			idx = 9
		}
		switch s.Status {
		case models.SuggestionStatusConfirmed:
			confirmed[idx]++
		case models.SuggestionStatusDeclined:
			declined[idx]++
		}
	}

	stats := make([]BucketStats, 0, 10)
	for i := 0; i < 10; i++ {
		total := confirmed[i] + declined[i]
		rate := 0.0
		if total > 0 {
			rate = float64(confirmed[i]) / float64(total)
		}
		stats = append(stats, BucketStats{
			Bucket:    fmt.Sprintf("%.1f-%.1f", float64(i)/10, float64(i+1)/10),
			Confirmed: confirmed[i],
			Declined:  declined[i],
			Rate:      rate,
		})
	}

	return stats
}

// percentile returns the p-th percentile (0..1) of the values
func percentile(values []float64, p float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if len(sorted) == 0 {
		return 0
	}

	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	return sorted[idx]
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func blend(current, target, smoothing float64) float64 {
	return current + (target-current)*smoothing
}

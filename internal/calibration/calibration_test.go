package calibration

import (
	"math"
	"testing"
	"time"

	"inbox-matching-service/internal/matcher"
	"inbox-matching-service/internal/models"
)

func decided(status models.SuggestionStatus, confidences ...float64) []*models.MatchSuggestion {
	out := make([]*models.MatchSuggestion, 0, len(confidences))
	for i, c := range confidences {
		out = append(out, &models.MatchSuggestion{
			ID:         string(rune('a' + i)),
			TenantID:   "t1",
			Confidence: c,
			Status:     status,
		})
	}
	return out
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestRecalibrateInsufficientHistory(t *testing.T) {
	cal := NewCalibrator(nil)
	current := matcher.DefaultProfile("t1")

	history := append(
		decided(models.SuggestionStatusConfirmed, 0.95, 0.92),
		decided(models.SuggestionStatusDeclined, 0.55)...)

	next := cal.Recalibrate("t1", history, current)

	if next.AutoMatchThreshold != current.AutoMatchThreshold {
		t.Errorf("auto threshold moved with only %d samples", len(history))
	}
	if next.SuggestThreshold != current.SuggestThreshold {
		t.Errorf("suggest threshold moved with only %d samples", len(history))
	}
	if next.SampleCount != 3 {
		t.Errorf("sample count = %d, want 3", next.SampleCount)
	}
	if next.UpdatedAt.IsZero() {
		t.Error("updated_at not set")
	}
}

func TestRecalibrateMovesThresholds(t *testing.T) {
	cal := NewCalibrator(nil)
	current := matcher.DefaultProfile("t1")

	// Users confirm suggestions down to 0.80 and decline everything at 0.40:
	// the auto threshold should relax downward, the suggest threshold rise
	history := append(
		decided(models.SuggestionStatusConfirmed, repeat(0.80, 10)...),
		decided(models.SuggestionStatusDeclined, repeat(0.40, 10)...)...)

	next := cal.Recalibrate("t1", history, current)

	if next.SampleCount != 20 {
		t.Fatalf("sample count = %d, want 20", next.SampleCount)
	}
	if next.AutoMatchThreshold >= current.AutoMatchThreshold {
		t.Errorf("auto threshold did not relax: %f -> %f",
			current.AutoMatchThreshold, next.AutoMatchThreshold)
	}
	if next.SuggestThreshold <= current.SuggestThreshold {
		t.Errorf("suggest threshold did not rise: %f -> %f",
			current.SuggestThreshold, next.SuggestThreshold)
	}

	// Smoothing of 0.5 moves half way toward the clamped targets
	if math.Abs(next.AutoMatchThreshold-0.825) > 1e-6 {
		t.Errorf("auto threshold = %f, want 0.825", next.AutoMatchThreshold)
	}
	if math.Abs(next.SuggestThreshold-0.65) > 1e-6 {
		t.Errorf("suggest threshold = %f, want 0.65", next.SuggestThreshold)
	}

	if err := next.Validate(); err != nil {
		t.Errorf("recalibrated profile invalid: %v", err)
	}
}

func TestRecalibrateClampsAutoThreshold(t *testing.T) {
	cal := NewCalibrator(nil)
	current := matcher.DefaultProfile("t1")

	// Declines at very high confidence would push the target past 1.0
	history := append(
		decided(models.SuggestionStatusConfirmed, repeat(0.99, 10)...),
		decided(models.SuggestionStatusDeclined, repeat(0.97, 10)...)...)

	next := cal.Recalibrate("t1", history, current)

	if next.AutoMatchThreshold > 0.99 {
		t.Errorf("auto threshold %f exceeds the clamp", next.AutoMatchThreshold)
	}
	if next.SuggestThreshold > next.AutoMatchThreshold-0.05+1e-9 {
		t.Errorf("suggest %f not kept below auto %f",
			next.SuggestThreshold, next.AutoMatchThreshold)
	}
}

func TestRecalibrateNilProfileUsesDefaults(t *testing.T) {
	cal := NewCalibrator(nil)

	next := cal.Recalibrate("t1", nil, nil)

	def := matcher.DefaultProfile("t1")
	if next.AutoMatchThreshold != def.AutoMatchThreshold {
		t.Errorf("auto threshold = %f, want default %f",
			next.AutoMatchThreshold, def.AutoMatchThreshold)
	}
	if next.TenantID != "t1" {
		t.Errorf("tenant = %q, want t1", next.TenantID)
	}
	if next.SampleCount != 0 {
		t.Errorf("sample count = %d, want 0", next.SampleCount)
	}
}

func TestRecalibrateDeterministicTimestamp(t *testing.T) {
	cal := NewCalibrator(nil)
	fixed := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	cal.now = func() time.Time { return fixed }

	next := cal.Recalibrate("t1", nil, nil)
	if !next.UpdatedAt.Equal(fixed) {
		t.Errorf("updated_at = %v, want %v", next.UpdatedAt, fixed)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	bad := DefaultConfig()
	bad.Smoothing = 0
	if err := bad.Validate(); err == nil {
		t.Error("zero smoothing should be rejected")
	}

	bad = DefaultConfig()
	bad.MinAutoThreshold = 0.99
	bad.MaxAutoThreshold = 0.90
	if err := bad.Validate(); err == nil {
		t.Error("inverted clamp bounds should be rejected")
	}
}

func TestBuckets(t *testing.T) {
	history := append(
		decided(models.SuggestionStatusConfirmed, 0.95, 0.92, 0.61),
		decided(models.SuggestionStatusDeclined, 0.65, 0.05)...)

	stats := Buckets(history)
	if len(stats) != 10 {
		t.Fatalf("buckets = %d, want 10", len(stats))
	}

	// 0.9-1.0 decile holds both high-confidence confirms
	top := stats[9]
	if top.Confirmed != 2 || top.Declined != 0 {
		t.Errorf("top bucket = %+v, want 2 confirmed", top)
	}
	if top.Rate != 1.0 {
		t.Errorf("top bucket rate = %f, want 1.0", top.Rate)
	}

	// 0.6-0.7 decile holds one of each
	mid := stats[6]
	if mid.Confirmed != 1 || mid.Declined != 1 {
		t.Errorf("0.6-0.7 bucket = %+v, want 1 confirmed / 1 declined", mid)
	}
	if mid.Rate != 0.5 {
		t.Errorf("0.6-0.7 bucket rate = %f, want 0.5", mid.Rate)
	}

	bottom := stats[0]
	if bottom.Declined != 1 {
		t.Errorf("bottom bucket = %+v, want 1 declined", bottom)
	}
}

func TestPercentile(t *testing.T) {
	values := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0}

	if got := percentile(values, 0.95); got != 1.0 {
		t.Errorf("p95 = %f, want 1.0", got)
	}
	if got := percentile(values, 0.05); got != 0.1 {
		t.Errorf("p05 = %f, want 0.1", got)
	}
	if got := percentile(values, 0.5); got != 0.5 {
		t.Errorf("p50 = %f, want 0.5", got)
	}
	if got := percentile(nil, 0.5); got != 0 {
		t.Errorf("empty percentile = %f, want 0", got)
	}
}

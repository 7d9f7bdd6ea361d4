package models

import (
	"testing"
	"time"
)

func TestParseAmountToMinorUnits(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{"plain decimal", "100.00", 10000, false},
		{"no fraction", "42", 4200, false},
		{"single fraction digit", "9.5", 950, false},
		{"negative", "-15.25", -1525, false},
		{"dollar sign", "$1,234.56", 123456, false},
		{"euro sign", "€99.99", 9999, false},
		{"thousand separators", "1,000,000.00", 100000000, false},
		{"whitespace", "  12.30  ", 1230, false},
		{"zero", "0.00", 0, false},
		{"empty", "", 0, true},
		{"garbage", "abc", 0, true},
		{"sub-minor precision", "1.005", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmountToMinorUnits(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAmountToMinorUnits(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseAmountToMinorUnits(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestMinorUnitsToDecimal(t *testing.T) {
	if got := MinorUnitsToDecimal(12345).String(); got != "123.45" {
		t.Errorf("MinorUnitsToDecimal(12345) = %s, want 123.45", got)
	}
	if got := MinorUnitsToDecimal(-50).String(); got != "-0.5" {
		t.Errorf("MinorUnitsToDecimal(-50) = %s, want -0.5", got)
	}
}

func TestNormalizeCurrency(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"eur", "EUR"},
		{" USD ", "USD"},
		{"GBP", "GBP"},
		{"", ""},
		{"EU", ""},
		{"EURO", ""},
		{"e1r", ""},
	}

	for _, tt := range tests {
		if got := NormalizeCurrency(tt.input); got != tt.want {
			t.Errorf("NormalizeCurrency(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"iso date", "2024-03-15", "2024-03-15", false},
		{"rfc3339", "2024-03-15T14:30:00Z", "2024-03-15", false},
		{"datetime", "2024-03-15 14:30:00", "2024-03-15", false},
		{"german", "15.03.2024", "2024-03-15", false},
		{"us", "03/15/2024", "2024-03-15", false},
		{"empty", "", "", true},
		{"garbage", "not-a-date", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDate(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDate(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr {
				if got.Format("2006-01-02") != tt.want {
					t.Errorf("ParseDate(%q) = %s, want %s", tt.input, got.Format("2006-01-02"), tt.want)
				}
				if h, m, s := got.Clock(); h != 0 || m != 0 || s != 0 {
					t.Errorf("ParseDate(%q) kept a clock time: %v", tt.input, got)
				}
			}
		})
	}
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2024, 3, 15, 23, 59, 0, 0, time.UTC)
	b := time.Date(2024, 3, 18, 0, 1, 0, 0, time.UTC)

	if got := DaysBetween(a, b); got != 3 {
		t.Errorf("DaysBetween = %d, want 3", got)
	}
	if got := DaysBetween(b, a); got != 3 {
		t.Errorf("DaysBetween should be symmetric, got %d", got)
	}
	if got := DaysBetween(a, a); got != 0 {
		t.Errorf("DaysBetween same day = %d, want 0", got)
	}
}

func TestInboxStatusTransitions(t *testing.T) {
	tests := []struct {
		from    InboxStatus
		to      InboxStatus
		allowed bool
	}{
		{InboxStatusPending, InboxStatusProcessing, true},
		{InboxStatusPending, InboxStatusMatched, false},
		{InboxStatusProcessing, InboxStatusMatched, true},
		{InboxStatusProcessing, InboxStatusSuggestedMatch, true},
		{InboxStatusProcessing, InboxStatusNoMatch, true},
		{InboxStatusProcessing, InboxStatusError, true},
		{InboxStatusSuggestedMatch, InboxStatusMatched, true},
		{InboxStatusSuggestedMatch, InboxStatusProcessing, true},
		{InboxStatusMatched, InboxStatusSuggestedMatch, true},
		{InboxStatusMatched, InboxStatusPending, true},
		{InboxStatusMatched, InboxStatusNoMatch, false},
		{InboxStatusNoMatch, InboxStatusProcessing, true},
		{InboxStatusError, InboxStatusProcessing, true},
		{InboxStatusError, InboxStatusMatched, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
			t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
		}
	}
}

func TestFeatureWeightsValidate(t *testing.T) {
	valid := FeatureWeights{Amount: 0.45, Date: 0.25, Text: 0.25, Currency: 0.05}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid weights rejected: %v", err)
	}

	badSum := FeatureWeights{Amount: 0.2, Date: 0.2, Text: 0.2, Currency: 0.2}
	if err := badSum.Validate(); err == nil {
		t.Error("weights summing to 0.8 should be rejected")
	}

	negative := FeatureWeights{Amount: -0.1, Date: 0.5, Text: 0.5, Currency: 0.1}
	if err := negative.Validate(); err == nil {
		t.Error("negative weight should be rejected")
	}
}

func TestCalibrationProfileValidate(t *testing.T) {
	base := CalibrationProfile{
		TenantID:           "t1",
		Weights:            FeatureWeights{Amount: 0.45, Date: 0.25, Text: 0.25, Currency: 0.05},
		AutoMatchThreshold: 0.9,
		SuggestThreshold:   0.6,
		AmbiguityMargin:    0.05,
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid profile rejected: %v", err)
	}

	inverted := base
	inverted.SuggestThreshold = 0.95
	if err := inverted.Validate(); err == nil {
		t.Error("suggest threshold above auto-match threshold should be rejected")
	}

	noTenant := base
	noTenant.TenantID = " "
	if err := noTenant.Validate(); err == nil {
		t.Error("empty tenant id should be rejected")
	}
}

func TestMatchSuggestionValidate(t *testing.T) {
	sg := MatchSuggestion{
		ID:            "s1",
		TenantID:      "t1",
		InboxID:       "i1",
		TransactionID: "tx1",
		Confidence:    0.8,
		Status:        SuggestionStatusSuggested,
	}
	if err := sg.Validate(); err != nil {
		t.Fatalf("valid suggestion rejected: %v", err)
	}

	bad := sg
	bad.Confidence = 1.5
	if err := bad.Validate(); err == nil {
		t.Error("confidence above 1.0 should be rejected")
	}

	bad = sg
	bad.Status = "maybe"
	if err := bad.Validate(); err == nil {
		t.Error("unknown status should be rejected")
	}
}

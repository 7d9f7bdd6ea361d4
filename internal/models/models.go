// Package models defines the persistent entities of the matching engine:
// inbox items awaiting reconciliation, bank transactions, match suggestions,
// and per-tenant calibration profiles.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InboxStatus represents the lifecycle state of an inbox item
type InboxStatus string

const (
	InboxStatusPending        InboxStatus = "pending"
	InboxStatusProcessing     InboxStatus = "processing"
	InboxStatusSuggestedMatch InboxStatus = "suggested_match"
	InboxStatusMatched        InboxStatus = "matched"
	InboxStatusNoMatch        InboxStatus = "no_match"
	InboxStatusError          InboxStatus = "error"
)

// String returns the string representation of InboxStatus
func (s InboxStatus) String() string {
	return string(s)
}

// IsValid checks if the inbox status is valid
func (s InboxStatus) IsValid() bool {
	switch s {
	case InboxStatusPending, InboxStatusProcessing, InboxStatusSuggestedMatch,
		InboxStatusMatched, InboxStatusNoMatch, InboxStatusError:
		return true
	}
	return false
}

// CanTransitionTo reports whether the status may legally move to next.
// pending -> processing -> {suggested_match, matched, no_match, error};
// suggested_match -> matched (confirm) or no_match (decline-all);
// matched -> suggested_match or pending (unmatch).
//
// The storage gateway's suggestion writes (confirming a pairing, marking an
// item suggested from the transaction-direction search) collapse the
// intermediate processing hop and guard on "not matched" instead: every
// non-matched status can reach suggested_match through processing, so the
// single-step write lands only on states this predicate could reach anyway.
func (s InboxStatus) CanTransitionTo(next InboxStatus) bool {
	switch s {
	case InboxStatusPending:
		return next == InboxStatusProcessing
	case InboxStatusProcessing:
		return next == InboxStatusSuggestedMatch || next == InboxStatusMatched ||
			next == InboxStatusNoMatch || next == InboxStatusError
	case InboxStatusSuggestedMatch:
		return next == InboxStatusMatched || next == InboxStatusNoMatch ||
			next == InboxStatusProcessing
	case InboxStatusMatched:
		return next == InboxStatusSuggestedMatch || next == InboxStatusPending
	case InboxStatusNoMatch, InboxStatusError:
		return next == InboxStatusProcessing
	}
	return false
}

// ExtractedFields holds the fields produced by the OCR/AI extraction step.
// Every field is optional: absence is modeled explicitly so downstream
// scorers can distinguish "unknown" from "definitely different".
type ExtractedFields struct {
	AmountMinor  *int64     `json:"amount_minor,omitempty"`
	Currency     string     `json:"currency,omitempty"`
	Date         *time.Time `json:"date,omitempty"`
	MerchantName string     `json:"merchant_name,omitempty"`
	FreeText     string     `json:"free_text,omitempty"`
}

// HasAmount reports whether an amount was extracted
func (ef *ExtractedFields) HasAmount() bool {
	return ef.AmountMinor != nil && ef.Currency != ""
}

// HasDate reports whether a date was extracted
func (ef *ExtractedFields) HasDate() bool {
	return ef.Date != nil && !ef.Date.IsZero()
}

// HasText reports whether any merchant or free text was extracted
func (ef *ExtractedFields) HasText() bool {
	return strings.TrimSpace(ef.MerchantName) != "" || strings.TrimSpace(ef.FreeText) != ""
}

// IsEmpty reports whether nothing usable was extracted at all
func (ef *ExtractedFields) IsEmpty() bool {
	return !ef.HasAmount() && !ef.HasDate() && !ef.HasText()
}

// InboxItem represents a captured financial document pending reconciliation
type InboxItem struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenant_id"`
	DisplayName  string          `json:"display_name"`
	Extracted    ExtractedFields `json:"extracted"`
	Status       InboxStatus     `json:"status"`
	StatusReason string          `json:"status_reason,omitempty"`

	// MatchedTransactionID is set while the item is in the matched state
	MatchedTransactionID *string   `json:"matched_transaction_id,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

// Validate performs basic validation on the InboxItem
func (i *InboxItem) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return fmt.Errorf("inbox item ID cannot be empty")
	}

	if strings.TrimSpace(i.TenantID) == "" {
		return fmt.Errorf("inbox item tenant ID cannot be empty")
	}

	if !i.Status.IsValid() {
		return fmt.Errorf("invalid inbox status: %s", i.Status)
	}

	if i.Extracted.AmountMinor != nil && i.Extracted.Currency == "" {
		return fmt.Errorf("extracted amount requires a currency code")
	}

	return nil
}

// String returns a string representation of the InboxItem
func (i *InboxItem) String() string {
	return fmt.Sprintf("InboxItem{ID: %s, Tenant: %s, Status: %s}", i.ID, i.TenantID, i.Status)
}

// Transaction represents a bank-ledger payment record. It is immutable from
// the matching engine's point of view except for the matched-inbox back-reference.
type Transaction struct {
	ID               string    `json:"id"`
	TenantID         string    `json:"tenant_id"`
	AmountMinor      int64     `json:"amount_minor"`
	Currency         string    `json:"currency"`
	Date             time.Time `json:"date"`
	CounterpartyText string    `json:"counterparty_text"`

	// MatchedInboxID is set when a confirmed suggestion pairs this
	// transaction with an inbox item
	MatchedInboxID *string   `json:"matched_inbox_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Validate performs basic validation on the Transaction
func (t *Transaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("transaction ID cannot be empty")
	}

	if strings.TrimSpace(t.TenantID) == "" {
		return fmt.Errorf("transaction tenant ID cannot be empty")
	}

	if t.AmountMinor == 0 {
		return fmt.Errorf("transaction amount cannot be zero")
	}

	if len(t.Currency) != 3 {
		return fmt.Errorf("invalid currency code: %q", t.Currency)
	}

	if t.Date.IsZero() {
		return fmt.Errorf("transaction date cannot be zero")
	}

	return nil
}

// String returns a string representation of the Transaction
func (t *Transaction) String() string {
	return fmt.Sprintf("Transaction{ID: %s, Tenant: %s, Amount: %d %s, Date: %s}",
		t.ID, t.TenantID, t.AmountMinor, t.Currency, t.Date.Format("2006-01-02"))
}

// SuggestionStatus represents the state of a match suggestion
type SuggestionStatus string

const (
	SuggestionStatusSuggested SuggestionStatus = "suggested"
	SuggestionStatusConfirmed SuggestionStatus = "confirmed"
	SuggestionStatusDeclined  SuggestionStatus = "declined"
)

// IsValid checks if the suggestion status is valid
func (s SuggestionStatus) IsValid() bool {
	switch s {
	case SuggestionStatusSuggested, SuggestionStatusConfirmed, SuggestionStatusDeclined:
		return true
	}
	return false
}

// MatchSuggestion is a persisted record of a proposed or confirmed pairing
// between an inbox item and a transaction. For a given inbox item at most one
// suggestion may be confirmed at any time.
type MatchSuggestion struct {
	ID            string           `json:"id"`
	TenantID      string           `json:"tenant_id"`
	InboxID       string           `json:"inbox_id"`
	TransactionID string           `json:"transaction_id"`
	Confidence    float64          `json:"confidence"`
	Status        SuggestionStatus `json:"status"`
	DecidedBy     string           `json:"decided_by,omitempty"`
	DecidedAt     *time.Time       `json:"decided_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Validate performs basic validation on the MatchSuggestion
func (ms *MatchSuggestion) Validate() error {
	if strings.TrimSpace(ms.ID) == "" {
		return fmt.Errorf("suggestion ID cannot be empty")
	}

	if strings.TrimSpace(ms.TenantID) == "" {
		return fmt.Errorf("suggestion tenant ID cannot be empty")
	}

	if strings.TrimSpace(ms.InboxID) == "" || strings.TrimSpace(ms.TransactionID) == "" {
		return fmt.Errorf("suggestion must reference an inbox item and a transaction")
	}

	if ms.Confidence < 0.0 || ms.Confidence > 1.0 {
		return fmt.Errorf("confidence must be between 0.0 and 1.0: %f", ms.Confidence)
	}

	if !ms.Status.IsValid() {
		return fmt.Errorf("invalid suggestion status: %s", ms.Status)
	}

	return nil
}

// FeatureWeights defines the relative importance of the similarity features
type FeatureWeights struct {
	Amount   float64 `json:"amount"`
	Date     float64 `json:"date"`
	Text     float64 `json:"text"`
	Currency float64 `json:"currency"`
}

// Validate checks if the feature weights are valid
func (fw *FeatureWeights) Validate() error {
	for name, w := range map[string]float64{
		"amount": fw.Amount, "date": fw.Date, "text": fw.Text, "currency": fw.Currency,
	} {
		if w < 0.0 || w > 1.0 {
			return fmt.Errorf("%s weight must be between 0.0 and 1.0: %f", name, w)
		}
	}

	total := fw.Amount + fw.Date + fw.Text + fw.Currency
	if total < 0.9 || total > 1.1 {
		return fmt.Errorf("weights should sum to approximately 1.0, got %f", total)
	}

	return nil
}

// CalibrationProfile holds the per-tenant tunable scoring state. Exactly one
// profile is active per tenant (upsert semantics); it is replaced atomically
// by the calibration job so matching calls never observe a partial update.
type CalibrationProfile struct {
	TenantID           string         `json:"tenant_id"`
	Weights            FeatureWeights `json:"weights"`
	AutoMatchThreshold float64        `json:"auto_match_threshold"`
	SuggestThreshold   float64        `json:"suggest_threshold"`
	AmbiguityMargin    float64        `json:"ambiguity_margin"`
	SampleCount        int            `json:"sample_count"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Validate performs basic validation on the CalibrationProfile
func (cp *CalibrationProfile) Validate() error {
	if strings.TrimSpace(cp.TenantID) == "" {
		return fmt.Errorf("calibration profile tenant ID cannot be empty")
	}

	if err := cp.Weights.Validate(); err != nil {
		return fmt.Errorf("invalid weights: %w", err)
	}

	if cp.AutoMatchThreshold < 0.0 || cp.AutoMatchThreshold > 1.0 {
		return fmt.Errorf("auto-match threshold must be between 0.0 and 1.0: %f", cp.AutoMatchThreshold)
	}

	if cp.SuggestThreshold < 0.0 || cp.SuggestThreshold > 1.0 {
		return fmt.Errorf("suggest threshold must be between 0.0 and 1.0: %f", cp.SuggestThreshold)
	}

	if cp.SuggestThreshold > cp.AutoMatchThreshold {
		return fmt.Errorf("suggest threshold (%f) cannot exceed auto-match threshold (%f)",
			cp.SuggestThreshold, cp.AutoMatchThreshold)
	}

	if cp.AmbiguityMargin < 0.0 || cp.AmbiguityMargin > 0.5 {
		return fmt.Errorf("ambiguity margin must be between 0.0 and 0.5: %f", cp.AmbiguityMargin)
	}

	return nil
}

// Utility functions for type conversion and validation

// ParseAmountToMinorUnits parses a display amount string (e.g. "100.00") into
// integer minor units (e.g. 10000). Amounts are carried as integers everywhere
// downstream to avoid floating-point comparison error.
func ParseAmountToMinorUnits(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("amount string cannot be empty")
	}

	// Strip currency symbols and thousand separators
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "€", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount format '%s': %w", s, err)
	}

	minor := d.Shift(2)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("amount '%s' does not round to minor units", s)
	}

	return minor.IntPart(), nil
}

// MinorUnitsToDecimal converts integer minor units back to a display decimal
func MinorUnitsToDecimal(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// NormalizeCurrency canonicalizes an ISO-4217 currency code, returning the
// empty string for anything that is not a three-letter code
func NormalizeCurrency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return ""
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return ""
		}
	}
	return code
}

// DateOnly truncates a timestamp to a calendar date at midnight UTC. Callers
// pass already-localized dates; the matching engine never compares clock times.
func DateOnly(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a calendar date from the formats the extraction step emits
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date string cannot be empty")
	}

	formats := []string{
		"2006-01-02",
		time.RFC3339,
		"2006-01-02 15:04:05",
		"02.01.2006",
		"01/02/2006",
	}

	var lastErr error
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return DateOnly(t), nil
		} else {
			lastErr = err
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date '%s': %w", s, lastErr)
}

// DaysBetween returns the absolute number of calendar days between two dates
func DaysBetween(a, b time.Time) int {
	diff := DateOnly(a).Sub(DateOnly(b))
	if diff < 0 {
		diff = -diff
	}
	return int(diff / (24 * time.Hour))
}

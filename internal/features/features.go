// Package features turns raw inbox items and transaction records into
// canonical comparison units. Validation of the loosely-shaped extraction
// output happens once, here, at the normalization boundary; downstream
// scorers only ever see a FeatureSet with explicit absence markers.
package features

import (
	"strings"
	"time"
	"unicode"

	"inbox-matching-service/internal/models"

	apperrors "inbox-matching-service/pkg/errors"
)

// FeatureSet is the canonical comparison unit produced from either side of a
// candidate pairing. A nil AmountMinor or Date means the field was never
// extracted, which scorers treat as unknown rather than zero.
type FeatureSet struct {
	AmountMinor *int64
	Currency    string
	Date        *time.Time
	Text        string
}

// HasAmount reports whether an amount with currency is present
func (fs *FeatureSet) HasAmount() bool {
	return fs.AmountMinor != nil && fs.Currency != ""
}

// HasDate reports whether a calendar date is present
func (fs *FeatureSet) HasDate() bool {
	return fs.Date != nil
}

// HasText reports whether normalized text is present
func (fs *FeatureSet) HasText() bool {
	return fs.Text != ""
}

// IsScoreable reports whether at least one feature can contribute a score
func (fs *FeatureSet) IsScoreable() bool {
	return fs.HasAmount() || fs.HasDate() || fs.HasText()
}

// FromInboxItem builds a FeatureSet from an inbox item's extracted fields.
// An item with no amount, no date and no text at all cannot be scored and is
// reported as such rather than silently matched against nothing.
func FromInboxItem(item *models.InboxItem) (*FeatureSet, error) {
	fs := &FeatureSet{
		Currency: models.NormalizeCurrency(item.Extracted.Currency),
	}

	if item.Extracted.AmountMinor != nil && fs.Currency != "" {
		amount := *item.Extracted.AmountMinor
		fs.AmountMinor = &amount
	}

	if item.Extracted.HasDate() {
		date := models.DateOnly(*item.Extracted.Date)
		fs.Date = &date
	}

	fs.Text = NormalizeText(item.Extracted.MerchantName + " " + item.Extracted.FreeText)

	if !fs.IsScoreable() {
		return nil, apperrors.ValidationError("extracted", item.ID,
			"no amount, date or text was extracted; the item cannot be scored").
			WithContext("tenant_id", item.TenantID)
	}

	return fs, nil
}

// FromTransaction builds a FeatureSet from a bank transaction record
func FromTransaction(tx *models.Transaction) *FeatureSet {
	fs := &FeatureSet{
		Currency: models.NormalizeCurrency(tx.Currency),
		Text:     NormalizeText(tx.CounterpartyText),
	}

	if tx.AmountMinor != 0 && fs.Currency != "" {
		amount := tx.AmountMinor
		if amount < 0 {
			amount = -amount
		}
		fs.AmountMinor = &amount
	}

	if !tx.Date.IsZero() {
		date := models.DateOnly(tx.Date)
		fs.Date = &date
	}

	return fs
}

// NormalizeText canonicalizes merchant/counterparty text for comparison:
// lowercase, punctuation replaced by spaces, whitespace collapsed. The
// function is idempotent: NormalizeText(NormalizeText(s)) == NormalizeText(s).
func NormalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		default:
			// Punctuation and whitespace both collapse to a single separator
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}

	return strings.TrimRight(b.String(), " ")
}

// Tokens splits normalized text into comparison tokens
func Tokens(normalized string) []string {
	if normalized == "" {
		return nil
	}
	return strings.Fields(normalized)
}

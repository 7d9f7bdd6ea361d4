package features

import (
	"reflect"
	"testing"
	"time"

	"inbox-matching-service/internal/models"
	apperrors "inbox-matching-service/pkg/errors"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercase", "ACME Corp", "acme corp"},
		{"punctuation", "ACME, Corp. Ltd!", "acme corp ltd"},
		{"collapse whitespace", "acme    corp", "acme corp"},
		{"mixed separators", "acme-corp/ltd", "acme corp ltd"},
		{"leading trailing", "  acme corp  ", "acme corp"},
		{"digits kept", "Invoice 2024-001", "invoice 2024 001"},
		{"unicode letters", "Café König", "café könig"},
		{"empty", "", ""},
		{"only punctuation", "-- // --", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeText(tt.input)
			if got != tt.want {
				t.Errorf("NormalizeText(%q) = %q, want %q", tt.input, got, tt.want)
			}

			// Normalization must be idempotent
			if again := NormalizeText(got); again != got {
				t.Errorf("NormalizeText not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestTokens(t *testing.T) {
	if got := Tokens("acme corp ltd"); !reflect.DeepEqual(got, []string{"acme", "corp", "ltd"}) {
		t.Errorf("Tokens = %v", got)
	}
	if got := Tokens(""); got != nil {
		t.Errorf("Tokens of empty string = %v, want nil", got)
	}
}

func TestFromInboxItem(t *testing.T) {
	amount := int64(12550)
	date := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

	item := &models.InboxItem{
		ID:       "doc-1",
		TenantID: "t1",
		Extracted: models.ExtractedFields{
			AmountMinor:  &amount,
			Currency:     "eur",
			Date:         &date,
			MerchantName: "ACME Corp",
			FreeText:     "Invoice #42",
		},
	}

	fs, err := FromInboxItem(item)
	if err != nil {
		t.Fatalf("FromInboxItem failed: %v", err)
	}

	if !fs.HasAmount() || *fs.AmountMinor != 12550 {
		t.Error("amount not carried through")
	}
	if fs.Currency != "EUR" {
		t.Errorf("currency = %q, want EUR", fs.Currency)
	}
	if !fs.HasDate() || !fs.Date.Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("date = %v, want 2024-03-15 midnight UTC", fs.Date)
	}
	if fs.Text != "acme corp invoice 42" {
		t.Errorf("text = %q", fs.Text)
	}
}

func TestFromInboxItemAmountWithoutCurrency(t *testing.T) {
	amount := int64(1000)
	item := &models.InboxItem{
		ID:       "doc-2",
		TenantID: "t1",
		Extracted: models.ExtractedFields{
			AmountMinor:  &amount,
			MerchantName: "acme",
		},
	}

	fs, err := FromInboxItem(item)
	if err != nil {
		t.Fatalf("FromInboxItem failed: %v", err)
	}

	// An amount with no currency cannot be compared and must not be scored
	if fs.HasAmount() {
		t.Error("amount without currency should not be scoreable")
	}
	if !fs.HasText() {
		t.Error("text should still be present")
	}
}

func TestFromInboxItemUnscoreable(t *testing.T) {
	item := &models.InboxItem{ID: "doc-3", TenantID: "t1"}

	_, err := FromInboxItem(item)
	if err == nil {
		t.Fatal("expected an error for an item with no extractable features")
	}
	if !apperrors.HasCode(err, apperrors.CodeValidationError) {
		t.Errorf("expected a validation error, got %v", err)
	}
}

func TestFromTransaction(t *testing.T) {
	tx := &models.Transaction{
		ID:               "tx-1",
		TenantID:         "t1",
		AmountMinor:      -12550,
		Currency:         "EUR",
		Date:             time.Date(2024, 3, 16, 18, 0, 0, 0, time.UTC),
		CounterpartyText: "ACME CORP SEPA-123",
	}

	fs := FromTransaction(tx)

	// Bank debits arrive negative; matching compares magnitudes
	if !fs.HasAmount() || *fs.AmountMinor != 12550 {
		t.Errorf("amount = %v, want 12550", fs.AmountMinor)
	}
	if fs.Text != "acme corp sepa 123" {
		t.Errorf("text = %q", fs.Text)
	}
	if !fs.HasDate() {
		t.Error("date missing")
	}
}

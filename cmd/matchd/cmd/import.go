package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"inbox-matching-service/internal/models"
	apperrors "inbox-matching-service/pkg/errors"

	"github.com/spf13/cobra"
)

var (
	importTenant    string
	importInboxFile string
	importTxFile    string
)

// importCmd loads inbox items and transactions from JSON files
var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import inbox items and transactions from JSON files",
	Long: `Import loads inbox items and/or bank transactions from JSON files into
the database. Records carry display amounts and ISO dates; they are
normalized to minor units and date-only values on load.

Inbox item fields: id, display_name, amount, currency, date, merchant_name, free_text
Transaction fields: id, amount, currency, date, counterparty_text

Example:
  matchd import --tenant acme --inbox items.json --transactions tx.json`,

	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVarP(&importTenant, "tenant", "t", "", "tenant identifier (required)")
	importCmd.Flags().StringVar(&importInboxFile, "inbox", "", "path to inbox items JSON file")
	importCmd.Flags().StringVar(&importTxFile, "transactions", "", "path to transactions JSON file")

	importCmd.MarkFlagRequired("tenant")
}

// inboxRecord is the wire shape of one imported inbox item
type inboxRecord struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Date         string `json:"date"`
	MerchantName string `json:"merchant_name"`
	FreeText     string `json:"free_text"`
}

// txRecord is the wire shape of one imported transaction
type txRecord struct {
	ID               string `json:"id"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	Date             string `json:"date"`
	CounterpartyText string `json:"counterparty_text"`
}

func runImport(cmd *cobra.Command, args []string) error {
	handler := NewCLIErrorHandler()

	if importInboxFile == "" && importTxFile == "" {
		return fmt.Errorf("at least one of --inbox or --transactions is required")
	}

	rt, err := buildRuntime()
	if err != nil {
		os.Exit(handler.HandleError(err))
	}
	defer rt.Close()

	ctx := context.Background()
	var items, txs int

	if importInboxFile != "" {
		items, err = importInboxItems(ctx, rt, importInboxFile)
		if err != nil {
			os.Exit(handler.HandleError(err))
		}
	}
	if importTxFile != "" {
		txs, err = importTransactions(ctx, rt, importTxFile)
		if err != nil {
			os.Exit(handler.HandleError(err))
		}
	}

	fmt.Printf("Imported %d inbox items and %d transactions\n", items, txs)
	return nil
}

func importInboxItems(ctx context.Context, rt *runtime, path string) (int, error) {
	var records []inboxRecord
	if err := readJSONFile(path, &records); err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	for i, r := range records {
		item := &models.InboxItem{
			ID:          r.ID,
			TenantID:    importTenant,
			DisplayName: r.DisplayName,
			Extracted: models.ExtractedFields{
				Currency:     models.NormalizeCurrency(r.Currency),
				MerchantName: r.MerchantName,
				FreeText:     r.FreeText,
			},
			Status:    models.InboxStatusPending,
			CreatedAt: now,
		}

		if r.Amount != "" {
			minor, err := models.ParseAmountToMinorUnits(r.Amount)
			if err != nil {
				return 0, apperrors.ValidationError("amount", r.Amount, err.Error()).
					WithContext("record", i)
			}
			item.Extracted.AmountMinor = &minor
		}
		if r.Date != "" {
			d, err := models.ParseDate(r.Date)
			if err != nil {
				return 0, apperrors.ValidationError("date", r.Date, err.Error()).
					WithContext("record", i)
			}
			item.Extracted.Date = &d
		}

		if err := rt.store.SaveInboxItem(ctx, item); err != nil {
			return 0, err
		}
	}
	return len(records), nil
}

func importTransactions(ctx context.Context, rt *runtime, path string) (int, error) {
	var records []txRecord
	if err := readJSONFile(path, &records); err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	for i, r := range records {
		minor, err := models.ParseAmountToMinorUnits(r.Amount)
		if err != nil {
			return 0, apperrors.ValidationError("amount", r.Amount, err.Error()).
				WithContext("record", i)
		}
		d, err := models.ParseDate(r.Date)
		if err != nil {
			return 0, apperrors.ValidationError("date", r.Date, err.Error()).
				WithContext("record", i)
		}

		tx := &models.Transaction{
			ID:               r.ID,
			TenantID:         importTenant,
			AmountMinor:      minor,
			Currency:         models.NormalizeCurrency(r.Currency),
			Date:             d,
			CounterpartyText: r.CounterpartyText,
			CreatedAt:        now,
		}
		if err := rt.store.SaveTransaction(ctx, tx); err != nil {
			return 0, err
		}
	}
	return len(records), nil
}

func readJSONFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return apperrors.ValidationError("file", path, err.Error())
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.ValidationError("file", path, fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	txTenant string
	txID     string
)

// matchTransactionCmd runs the reverse-direction search for one transaction
var matchTransactionCmd = &cobra.Command{
	Use:   "match-transaction",
	Short: "Find inbox items matching a bank transaction",
	Long: `Match-transaction searches the tenant's inbox items for candidates
matching one bank transaction, the reverse direction of process.

Example:
  matchd match-transaction --tenant acme --transaction-id tx-42`,

	RunE: runMatchTransaction,
}

func init() {
	rootCmd.AddCommand(matchTransactionCmd)

	matchTransactionCmd.Flags().StringVarP(&txTenant, "tenant", "t", "", "tenant identifier (required)")
	matchTransactionCmd.Flags().StringVar(&txID, "transaction-id", "", "bank transaction id (required)")

	matchTransactionCmd.MarkFlagRequired("tenant")
	matchTransactionCmd.MarkFlagRequired("transaction-id")
}

func runMatchTransaction(cmd *cobra.Command, args []string) error {
	handler := NewCLIErrorHandler()

	rt, err := buildRuntime()
	if err != nil {
		os.Exit(handler.HandleError(err))
	}
	defer rt.Close()

	outcome, err := rt.service.ProcessTransactionMatching(context.Background(), txTenant, txID)
	if err != nil {
		os.Exit(handler.HandleError(err))
	}

	out, merr := json.MarshalIndent(outcome, "", "  ")
	if merr != nil {
		return merr
	}
	fmt.Println(string(out))
	return nil
}

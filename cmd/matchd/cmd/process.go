package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the process command
var (
	processTenant   string
	processInboxIDs []string
)

// processCmd runs batch matching over a list of inbox items
var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run matching for a batch of inbox items",
	Long: `Process runs a candidate search for each listed inbox item and applies
the outcome: unambiguous pairings are auto-matched, plausible ones are
stored as suggestions for review, the rest are marked no_match.

Examples:
  # Match three inbox items
  matchd process --tenant acme --inbox-ids doc-1,doc-2,doc-3

  # Looser date window and higher concurrency
  matchd process --tenant acme --inbox-ids doc-1 --date-tolerance 45 --concurrency 8`,

	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().StringVarP(&processTenant, "tenant", "t", "", "tenant identifier (required)")
	processCmd.Flags().StringSliceVar(&processInboxIDs, "inbox-ids", []string{}, "comma-separated inbox item ids (required)")

	processCmd.Flags().Int("date-tolerance", 0, "date matching tolerance in days")
	processCmd.Flags().Float64("amount-tolerance", 0, "amount tolerance percentage (0.0-100.0)")
	processCmd.Flags().Int("lookback-days", 0, "candidate window around the document date")
	processCmd.Flags().Int("max-suggestions", 0, "maximum candidates surfaced per item")
	processCmd.Flags().Int("concurrency", 0, "number of batch workers")
	processCmd.Flags().Duration("item-timeout", 0, "per-item processing timeout")

	processCmd.MarkFlagRequired("tenant")
	processCmd.MarkFlagRequired("inbox-ids")

	viper.BindPFlag("date-tolerance", processCmd.Flags().Lookup("date-tolerance"))
	viper.BindPFlag("amount-tolerance", processCmd.Flags().Lookup("amount-tolerance"))
	viper.BindPFlag("lookback-days", processCmd.Flags().Lookup("lookback-days"))
	viper.BindPFlag("max-suggestions", processCmd.Flags().Lookup("max-suggestions"))
	viper.BindPFlag("concurrency", processCmd.Flags().Lookup("concurrency"))
	viper.BindPFlag("item-timeout", processCmd.Flags().Lookup("item-timeout"))
}

func runProcess(cmd *cobra.Command, args []string) error {
	handler := NewCLIErrorHandler()

	rt, err := buildRuntime()
	if err != nil {
		os.Exit(handler.HandleError(err))
	}
	defer rt.Close()

	report, err := rt.service.BatchProcessMatching(context.Background(), processTenant, processInboxIDs)
	if err != nil {
		os.Exit(handler.HandleError(err))
	}

	out, merr := json.MarshalIndent(report, "", "  ")
	if merr != nil {
		return merr
	}
	fmt.Println(string(out))
	return nil
}

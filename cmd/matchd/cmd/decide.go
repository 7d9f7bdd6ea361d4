package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	decideTenant       string
	decideSuggestionID string
	decideInboxID      string
	decideActor        string
)

var confirmCmd = &cobra.Command{
	Use:   "confirm",
	Short: "Confirm a match suggestion",
	Long: `Confirm marks a suggestion as the match for its inbox item and links
both records. Re-confirming the same suggestion is a no-op; confirming
while a different suggestion is already confirmed fails.

Example:
  matchd confirm --tenant acme --suggestion-id 4f1c... --actor alice`,
	RunE: runConfirm,
}

var declineCmd = &cobra.Command{
	Use:   "decline",
	Short: "Decline a match suggestion",
	Long: `Decline rejects a suggestion. The decision is kept as calibration
feedback. A confirmed suggestion cannot be declined; unmatch the item
instead.

Example:
  matchd decline --tenant acme --suggestion-id 4f1c... --actor alice`,
	RunE: runDecline,
}

var unmatchCmd = &cobra.Command{
	Use:   "unmatch",
	Short: "Reverse a confirmed match",
	Long: `Unmatch reverses the confirmed match on an inbox item, unlinking both
records and recording negative feedback for the reversed pairing.

Example:
  matchd unmatch --tenant acme --inbox-id doc-1 --actor alice`,
	RunE: runUnmatch,
}

func init() {
	rootCmd.AddCommand(confirmCmd)
	rootCmd.AddCommand(declineCmd)
	rootCmd.AddCommand(unmatchCmd)

	for _, c := range []*cobra.Command{confirmCmd, declineCmd} {
		c.Flags().StringVarP(&decideTenant, "tenant", "t", "", "tenant identifier (required)")
		c.Flags().StringVar(&decideSuggestionID, "suggestion-id", "", "suggestion id (required)")
		c.Flags().StringVar(&decideActor, "actor", "", "deciding actor id (required)")
		c.MarkFlagRequired("tenant")
		c.MarkFlagRequired("suggestion-id")
		c.MarkFlagRequired("actor")
	}

	unmatchCmd.Flags().StringVarP(&decideTenant, "tenant", "t", "", "tenant identifier (required)")
	unmatchCmd.Flags().StringVar(&decideInboxID, "inbox-id", "", "inbox item id (required)")
	unmatchCmd.Flags().StringVar(&decideActor, "actor", "", "deciding actor id (required)")
	unmatchCmd.MarkFlagRequired("tenant")
	unmatchCmd.MarkFlagRequired("inbox-id")
	unmatchCmd.MarkFlagRequired("actor")
}

func runConfirm(cmd *cobra.Command, args []string) error {
	handler := NewCLIErrorHandler()

	rt, err := buildRuntime()
	if err != nil {
		os.Exit(handler.HandleError(err))
	}
	defer rt.Close()

	sg, err := rt.service.ConfirmMatch(context.Background(), decideTenant, decideSuggestionID, decideActor)
	if err != nil {
		os.Exit(handler.HandleError(err))
	}
	return printJSON(sg)
}

func runDecline(cmd *cobra.Command, args []string) error {
	handler := NewCLIErrorHandler()

	rt, err := buildRuntime()
	if err != nil {
		os.Exit(handler.HandleError(err))
	}
	defer rt.Close()

	sg, err := rt.service.DeclineMatch(context.Background(), decideTenant, decideSuggestionID, decideActor)
	if err != nil {
		os.Exit(handler.HandleError(err))
	}
	return printJSON(sg)
}

func runUnmatch(cmd *cobra.Command, args []string) error {
	handler := NewCLIErrorHandler()

	rt, err := buildRuntime()
	if err != nil {
		os.Exit(handler.HandleError(err))
	}
	defer rt.Close()

	if err := rt.service.Unmatch(context.Background(), decideTenant, decideInboxID, decideActor); err != nil {
		os.Exit(handler.HandleError(err))
	}
	fmt.Printf("Unmatched inbox item %s\n", decideInboxID)
	return nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

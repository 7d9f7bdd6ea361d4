package cmd

import (
	"context"
	"os"

	"inbox-matching-service/internal/calibration"

	"github.com/spf13/cobra"
)

var (
	recalTenant string
	showBuckets bool
)

// recalibrateCmd recomputes a tenant's calibration profile
var recalibrateCmd = &cobra.Command{
	Use:   "recalibrate",
	Short: "Recompute a tenant's calibration profile",
	Long: `Recalibrate recomputes the tenant's thresholds from its confirmed and
declined suggestion history. With too little history the current
thresholds are kept.

Examples:
  matchd recalibrate --tenant acme
  matchd recalibrate --tenant acme --buckets`,

	RunE: runRecalibrate,
}

func init() {
	rootCmd.AddCommand(recalibrateCmd)

	recalibrateCmd.Flags().StringVarP(&recalTenant, "tenant", "t", "", "tenant identifier (required)")
	recalibrateCmd.Flags().BoolVar(&showBuckets, "buckets", false, "also print confirm rates per confidence decile")

	recalibrateCmd.MarkFlagRequired("tenant")
}

func runRecalibrate(cmd *cobra.Command, args []string) error {
	handler := NewCLIErrorHandler()

	rt, err := buildRuntime()
	if err != nil {
		os.Exit(handler.HandleError(err))
	}
	defer rt.Close()

	ctx := context.Background()
	profile, err := rt.service.Recalibrate(ctx, recalTenant)
	if err != nil {
		os.Exit(handler.HandleError(err))
	}

	if showBuckets {
		history, herr := rt.store.ListDecidedSuggestions(ctx, recalTenant)
		if herr != nil {
			os.Exit(handler.HandleError(herr))
		}
		return printJSON(struct {
			Profile interface{} `json:"profile"`
			Buckets interface{} `json:"buckets"`
		}{profile, calibration.Buckets(history)})
	}
	return printJSON(profile)
}

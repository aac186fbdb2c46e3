package cli

import (
	"github.com/spf13/cobra"

	"chain-tracker/internal/app"
)

var (
	backfillFrom   string
	backfillTo     string
	backfillDryRun bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Regenerate analysis packages for stored dates",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Backfill(cmd.Context(), app.BackfillOptions{
			From:   backfillFrom,
			To:     backfillTo,
			DryRun: backfillDryRun,
		})
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "First date (YYYY-MM-DD, inclusive)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "Last date (YYYY-MM-DD, inclusive)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Classify without writing artifacts")
}

package cli

import (
	"github.com/spf13/cobra"

	"chain-tracker/internal/app"
)

var (
	generateDate   string
	generateNotify bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Build the daily analysis package from stored snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Generate(cmd.Context(), app.GenerateOptions{
			Date:   generateDate,
			Notify: generateNotify,
		})
	},
}

func init() {
	generateCmd.Flags().StringVar(&generateDate, "date", "", "Snapshot date (YYYY-MM-DD, defaults to today)")
	generateCmd.Flags().BoolVar(&generateNotify, "notify", false, "Send the alert when the worst layer is notable")
}

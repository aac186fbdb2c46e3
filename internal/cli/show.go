package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"chain-tracker/internal/app"
)

var (
	showDate   string
	showRecent int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display a stored snapshot and its chain state",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showRecent < 0 {
			return fmt.Errorf("--recent must not be negative")
		}

		return getApp().Show(cmd.Context(), app.ShowOptions{
			Date:   showDate,
			Recent: showRecent,
		})
	},
}

func init() {
	showCmd.Flags().StringVar(&showDate, "date", "", "Snapshot date (YYYY-MM-DD, defaults to latest)")
	showCmd.Flags().IntVar(&showRecent, "recent", 0, "List the newest N mirrored payloads from the database")
}

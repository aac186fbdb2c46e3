package cli

import (
	"github.com/spf13/cobra"
)

var trimKeep int

var trimCmd = &cobra.Command{
	Use:   "trim",
	Short: "Delete snapshot directories beyond the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Trim(cmd.Context(), trimKeep)
	},
}

func init() {
	trimCmd.Flags().IntVar(&trimKeep, "keep-days", 0, "Number of newest dates to keep (defaults to config)")
}

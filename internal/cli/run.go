package cli

import (
	"github.com/spf13/cobra"

	"chain-tracker/internal/app"
)

var runOnce bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduled daily pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context(), app.RunOptions{Once: runOnce})
	},
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Run the daily pipeline for today and exit")
}

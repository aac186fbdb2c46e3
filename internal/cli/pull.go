package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"chain-tracker/internal/app"
	"chain-tracker/internal/source"
)

var (
	pullDate    string
	pullSources string
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull sources once and store their payloads",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Pull(cmd.Context(), app.PullOptions{
			Date:    pullDate,
			Sources: splitList(pullSources),
		})
	},
}

func init() {
	pullCmd.Flags().StringVar(&pullDate, "date", "", "Snapshot date (YYYY-MM-DD, defaults to today)")
	pullCmd.Flags().StringVar(&pullSources, "source", "", "Comma separated source ids ("+strings.Join(source.IDs(), ", ")+"), defaults to all enabled")
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package cli

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"chain-tracker/internal/analysis"
	"chain-tracker/internal/app"
	"chain-tracker/internal/source"
)

type metricFlags struct {
	blue, oficial, reserves, base, spread, y10 float64
}

var (
	simulatePrev metricFlags
	simulateCurr metricFlags
	simulateSend bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Classify hypothetical readings and optionally send the alert",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		prev := simulatePrev.metrics(flags, "prev-")
		curr := simulateCurr.metrics(flags, "")
		if !curr.HasCore() {
			return errors.New("at least one of --blue, --reserves or --y10 is required")
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Previous: prev,
			Current:  curr,
			Send:     simulateSend,
		})
	},
}

// metrics keeps only the flags set on the command line. The spread is
// derived from blue and oficial when it is not given.
func (m metricFlags) metrics(flags *pflag.FlagSet, prefix string) analysis.DayMetrics {
	pick := func(name string, v float64) *float64 {
		if !flags.Changed(prefix + name) {
			return nil
		}
		return &v
	}

	out := analysis.DayMetrics{
		BlueVenta:    pick("blue", m.blue),
		OficialVenta: pick("oficial", m.oficial),
		Reserves:     pick("reserves", m.reserves),
		MonetaryBase: pick("base", m.base),
		Spread:       pick("spread", m.spread),
		US10Y:        pick("y10", m.y10),
	}
	if out.Spread == nil && out.BlueVenta != nil && out.OficialVenta != nil {
		if v, ok := source.SpreadPct([]float64{*out.BlueVenta, *out.OficialVenta}); ok {
			out.Spread = &v
		}
	}
	return out
}

func bindMetricFlags(flags *pflag.FlagSet, m *metricFlags, prefix, day string) {
	flags.Float64Var(&m.blue, prefix+"blue", 0, "Dólar blue venta "+day)
	flags.Float64Var(&m.oficial, prefix+"oficial", 0, "Dólar oficial venta "+day)
	flags.Float64Var(&m.reserves, prefix+"reserves", 0, "BCRA reserves in USD M "+day)
	flags.Float64Var(&m.base, prefix+"base", 0, "Monetary base in ARS M "+day)
	flags.Float64Var(&m.spread, prefix+"spread", 0, "Blue/oficial spread % "+day)
	flags.Float64Var(&m.y10, prefix+"y10", 0, "US 10Y yield % "+day)
}

func init() {
	bindMetricFlags(simulateCmd.Flags(), &simulatePrev, "prev-", "(previous day)")
	bindMetricFlags(simulateCmd.Flags(), &simulateCurr, "", "(current day)")
	simulateCmd.Flags().BoolVar(&simulateSend, "send", false, "Send the result through the configured alert channels")
}

package app

import (
	"context"
	"errors"
	"fmt"

	"chain-tracker/internal/analysis"
	"chain-tracker/internal/storage"
)

// SimulateOptions carry hypothetical readings for two consecutive days.
type SimulateOptions struct {
	Previous analysis.DayMetrics
	Current  analysis.DayMetrics
	// Send dispatches the result through the configured notifier.
	Send bool
}

// SimulateAlert classifies the given readings, prints the digest and
// optionally runs the normal notification path with the result.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if opts.Send && !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}

	now := a.now()
	date := now.In(a.Config.Location()).Format(storage.DateLayout)
	pkg := analysis.Assemble(date, now, opts.Current, opts.Previous, analysis.Sparklines{
		Reserves: []float64{},
		Spread:   []float64{},
		Yield:    []float64{},
	}, opts.Previous != (analysis.DayMetrics{}), analysis.OptionsFromConfig(a.Config.Analysis))

	for _, w := range pkg.Warnings {
		fmt.Fprintf(a.Out, "warning: %s\n", w)
	}
	a.printLayers(pkg.Analysis.ChainState[:])
	fmt.Fprintln(a.Out)
	fmt.Fprint(a.Out, pkg.Digest)

	if !opts.Send {
		return nil
	}

	svc, closer, err := a.newService(ctx, serviceOptions{})
	if err != nil {
		return err
	}
	defer closer()

	sent, err := svc.Notify(ctx, pkg, true)
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	if !sent {
		fmt.Fprintln(a.Out, "no notification sent (no channel configured or below min_status)")
	}
	return nil
}

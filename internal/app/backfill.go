package app

import (
	"context"
	"errors"
	"fmt"

	"chain-tracker/internal/storage"
)

// Backfill regenerates the daily package of every stored date in [From, To]
// in ascending order. Dry runs classify without writing artifacts.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	for _, d := range []string{opts.From, opts.To} {
		if d != "" && !storage.IsDate(d) {
			return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", d)
		}
	}
	if opts.From != "" && opts.To != "" && opts.From > opts.To {
		return errors.New("--from must not be after --to")
	}

	dates, err := a.fileStore().Dates(ctx)
	if err != nil {
		return err
	}
	var selected []string
	for _, d := range dates {
		if (opts.From == "" || d >= opts.From) && (opts.To == "" || d <= opts.To) {
			selected = append(selected, d)
		}
	}
	if len(selected) == 0 {
		return errors.New("no stored snapshots in backfill range, check --from/--to")
	}

	if opts.DryRun {
		a.Logger.Warn().Msg("backfill dry-run: no artifacts will be written")
	}

	svc, closer, err := a.newService(ctx, serviceOptions{})
	if err != nil {
		return err
	}
	defer closer()

	processed := 0
	failed := 0
	for _, date := range selected {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		generate := svc.Generate
		if opts.DryRun {
			generate = svc.Preview
		}
		pkg, err := generate(ctx, date)
		if err != nil {
			failed++
			a.Logger.Error().Err(err).Str("date", date).Msg("backfill failed")
			continue
		}
		processed++
		fmt.Fprintf(a.Out, "%s\t%s\n", date, pkg.Analysis.WorstStatus())
	}

	a.Logger.Info().Int("processed", processed).Int("failed", failed).Msg("backfill complete")
	if failed > 0 {
		return errors.New("some dates failed to backfill, check the logs")
	}
	return nil
}

package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"chain-tracker/internal/analysis"
	"chain-tracker/internal/source"
	"chain-tracker/internal/storage"
)

// Show prints the payload statuses and chain state of one stored date, or the
// newest mirrored payload rows when opts.Recent is set.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	if opts.Recent > 0 {
		return a.showRecent(ctx, opts.Recent)
	}

	files := a.fileStore()
	date := opts.Date
	if date == "" {
		dates, err := files.Dates(ctx)
		if err != nil {
			return err
		}
		if len(dates) == 0 {
			fmt.Fprintln(a.Out, "no snapshots found")
			return nil
		}
		date = dates[len(dates)-1]
	}

	snap, err := files.LoadSnapshot(ctx, date)
	if err != nil {
		return err
	}
	if len(snap.Payloads) == 0 {
		fmt.Fprintf(a.Out, "no payloads stored for %s\n", date)
		return nil
	}

	fmt.Fprintf(a.Out, "Snapshot %s\n\n", date)
	ids := make([]string, 0, len(snap.Payloads))
	for id := range snap.Payloads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	payloads := make([]storage.SourcePayload, 0, len(ids))
	for _, id := range ids {
		payloads = append(payloads, snap.Payloads[id])
	}
	a.printPayloads(payloads)

	var stored analysis.ChainAnalysis
	err = files.ReadAnalysis(ctx, date, &stored)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		fmt.Fprintf(a.Out, "\nno analysis generated for %s\n", date)
		return nil
	case err != nil:
		return err
	}

	fmt.Fprintln(a.Out)
	a.printLayers(stored.ChainState[:])
	fmt.Fprintln(a.Out)
	a.printChanges(stored.DailyChanges)
	return nil
}

func (a *App) showRecent(ctx context.Context, limit int) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show mirrored payloads")
	}
	defer closeStore()

	rows, err := store.ListRecentPayloads(ctx, limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(a.Out, "no payloads found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tSource\tStatus\tPulled (UTC)\tErrors")
	for _, row := range rows {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			row.Date,
			row.Payload.SourceID,
			row.Payload.Status,
			row.Payload.PulledAt,
			sanitizeInline(strings.Join(row.Payload.Errors, "; ")),
		)
	}
	return writer.Flush()
}

func (a *App) printPulls(results []source.Result) {
	payloads := make([]storage.SourcePayload, len(results))
	for i, res := range results {
		payloads[i] = res.Payload
	}
	a.printPayloads(payloads)
}

func (a *App) printPayloads(payloads []storage.SourcePayload) {
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Source\tStatus\tFields\tData date\tErrors")
	for _, p := range payloads {
		present := 0
		for _, v := range p.Data {
			if v != nil {
				present++
			}
		}
		dataDate := p.DataDate
		if dataDate == "" {
			dataDate = "-"
		}
		fmt.Fprintf(writer, "%s\t%s\t%d/%d\t%s\t%s\n",
			p.SourceID,
			p.Status,
			present,
			len(p.Data),
			dataDate,
			sanitizeInline(strings.Join(p.Errors, "; ")),
		)
	}
	writer.Flush()
}

func (a *App) printLayers(layers []analysis.LayerState) {
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Layer\tName\tStatus\tLabel\tDescription")
	for _, layer := range layers {
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\n", layer.Layer, layer.Name, layer.Status, layer.Label, layer.Description)
	}
	writer.Flush()
}

func (a *App) printChanges(changes []analysis.DailyChange) {
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Type\tLabel\tDetail")
	for _, c := range changes {
		fmt.Fprintf(writer, "%s\t%s\t%s\n", c.Type, c.Label, c.Detail)
	}
	writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

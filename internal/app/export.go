package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"chain-tracker/internal/analysis"
	"chain-tracker/internal/storage"
)

// exportSeries is one sparkline series over the export window.
type exportSeries struct {
	name   string
	points []analysis.SeriesPoint
}

// Export renders the sparkline series of stored snapshots as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	for _, d := range []string{opts.From, opts.To} {
		if d != "" && !storage.IsDate(d) {
			return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", d)
		}
	}
	if opts.From != "" && opts.To != "" && opts.From > opts.To {
		return errors.New("from must not be after to")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	history, err := a.fileStore().History(ctx)
	if err != nil {
		return err
	}
	history = windowed(history, opts.From, opts.To)
	if len(history) == 0 {
		a.Logger.Info().Msg("no snapshots found for export window")
		return nil
	}

	dates := make([]string, len(history))
	for i, snap := range history {
		dates[i] = snap.Date
	}
	kept := downsample(dates, opts.MaxPoints)

	series := make([]exportSeries, 0, len(analysis.SparklineCatalog))
	for _, s := range analysis.SparklineCatalog {
		points := analysis.CollectPoints(history, s.SourceID, s.Field, len(history))
		series = append(series, exportSeries{name: s.Name, points: onDates(points, kept)})
	}
	a.Logger.Info().Int("total", len(dates)).Int("exported", len(kept)).Msg("exporting series")

	if opts.CSVPath != "" {
		if err := writeSeriesCSV(opts.CSVPath, kept, series); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeSeriesPNG(opts.PNGPath, series); err != nil {
			return err
		}
	}
	return nil
}

func windowed(history []storage.Snapshot, from, to string) []storage.Snapshot {
	out := history[:0:0]
	for _, snap := range history {
		if from != "" && snap.Date < from {
			continue
		}
		if to != "" && snap.Date > to {
			continue
		}
		out = append(out, snap)
	}
	return out
}

// downsample keeps max evenly spaced items including both ends.
func downsample[T any](items []T, max int) []T {
	if max <= 0 || len(items) <= max {
		return items
	}
	if max == 1 {
		return items[len(items)-1:]
	}

	result := make([]T, 0, max)
	step := float64(len(items)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(items) {
			idx = len(items) - 1
		}
		result = append(result, items[idx])
	}
	return result
}

func onDates(points []analysis.SeriesPoint, dates []string) []analysis.SeriesPoint {
	keep := make(map[string]bool, len(dates))
	for _, d := range dates {
		keep[d] = true
	}
	out := points[:0:0]
	for _, p := range points {
		if keep[p.Date] {
			out = append(out, p)
		}
	}
	return out
}

func writeSeriesCSV(path string, dates []string, series []exportSeries) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"date"}
	byDate := make([]map[string]float64, len(series))
	for i, s := range series {
		header = append(header, s.name)
		byDate[i] = make(map[string]float64, len(s.points))
		for _, p := range s.points {
			byDate[i][p.Date] = p.Value
		}
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, date := range dates {
		record := []string{date}
		for i := range series {
			cell := ""
			if v, ok := byDate[i][date]; ok {
				cell = decimal.NewFromFloat(v).String()
			}
			record = append(record, cell)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeSeriesPNG(path string, series []exportSeries) error {
	var plotted []chart.Series
	for _, s := range series {
		// go-chart cannot range a single point
		if len(s.points) < 2 {
			continue
		}
		x := make([]time.Time, len(s.points))
		y := make([]float64, len(s.points))
		for i, p := range s.points {
			day, err := time.Parse(storage.DateLayout, p.Date)
			if err != nil {
				return fmt.Errorf("parse date %q: %w", p.Date, err)
			}
			x[i] = day
			y[i] = p.Value
		}
		ts := chart.TimeSeries{Name: seriesTitle(s.name), XValues: x, YValues: y}
		if s.name == "reserves" {
			ts.YAxis = chart.YAxisSecondary
		}
		plotted = append(plotted, ts)
	}
	if len(plotted) == 0 {
		return errors.New("not enough points to render a chart")
	}

	if err := ensureDir(path); err != nil {
		return err
	}

	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Spread / 10Y yield (%)",
			ValueFormatter: pctFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name: "Reserves (USD M)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Series: plotted,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func seriesTitle(name string) string {
	switch name {
	case "reserves":
		return "Reserves (USD M)"
	case "spread":
		return "Blue spread %"
	case "yield":
		return "US 10Y %"
	default:
		return name
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

package analysis

import (
	"sort"

	"chain-tracker/internal/source"
	"chain-tracker/internal/storage"
)

// SeriesPoint is one non-null historical reading.
type SeriesPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// CollectPoints scans history in ascending date order, skips dates where the
// field is missing, and keeps the most recent limit points in chronological
// order.
func CollectPoints(history []storage.Snapshot, sourceID, field string, limit int) []SeriesPoint {
	if limit <= 0 {
		return []SeriesPoint{}
	}
	ordered := make([]storage.Snapshot, len(history))
	copy(ordered, history)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Date < ordered[j].Date })

	points := make([]SeriesPoint, 0, len(ordered))
	for _, snap := range ordered {
		if v := snap.Value(sourceID, field); v != nil {
			points = append(points, SeriesPoint{Date: snap.Date, Value: *v})
		}
	}
	if len(points) > limit {
		points = points[len(points)-limit:]
	}
	return points
}

// Collect is CollectPoints without the dates.
func Collect(history []storage.Snapshot, sourceID, field string, limit int) []float64 {
	points := CollectPoints(history, sourceID, field, limit)
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	return values
}

// SparklineLimits bounds each sparkline.
type SparklineLimits struct {
	Reserves int
	Spread   int
	Yield    int
}

// DefaultSparklineLimits are 30 days of reserves, 90 of spread and 30 of the
// 10Y yield.
func DefaultSparklineLimits() SparklineLimits {
	return SparklineLimits{Reserves: 30, Spread: 90, Yield: 30}
}

// Sparklines are the bounded recent series shipped with an analysis.
type Sparklines struct {
	Reserves []float64 `json:"reserves"`
	Spread   []float64 `json:"spread"`
	Yield    []float64 `json:"yield"`
}

// SparklineSeries names a sparkline and the payload field behind it.
type SparklineSeries struct {
	Name     string
	SourceID string
	Field    string
}

// SparklineCatalog lists the sparklines in display order.
var SparklineCatalog = []SparklineSeries{
	{Name: "reserves", SourceID: source.BCRAID, Field: source.FieldReserves},
	{Name: "spread", SourceID: source.DolarHoyID, Field: source.FieldSpread},
	{Name: "yield", SourceID: source.FREDID, Field: source.FieldUS10Y},
}

// Limit returns the configured bound for a named sparkline.
func (l SparklineLimits) Limit(name string) int {
	switch name {
	case "reserves":
		return l.Reserves
	case "spread":
		return l.Spread
	case "yield":
		return l.Yield
	default:
		return 0
	}
}

// BuildSparklines collects every sparkline from history.
func BuildSparklines(history []storage.Snapshot, limits SparklineLimits) Sparklines {
	series := make(map[string][]float64, len(SparklineCatalog))
	for _, s := range SparklineCatalog {
		series[s.Name] = Collect(history, s.SourceID, s.Field, limits.Limit(s.Name))
	}
	return Sparklines{
		Reserves: series["reserves"],
		Spread:   series["spread"],
		Yield:    series["yield"],
	}
}

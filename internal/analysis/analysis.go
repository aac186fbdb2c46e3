package analysis

import (
	"time"

	"chain-tracker/internal/config"
	"chain-tracker/internal/storage"
)

// Generation warnings.
const (
	WarnNoPrevious = "No previous date snapshot found; day-over-day changes may be incomplete."
	WarnNoCore     = "No core source metrics were found in today's files."
)

// ChainAnalysis is the persisted daily analysis artifact.
type ChainAnalysis struct {
	Date         string                 `json:"date"`
	GeneratedAt  storage.Timestamp      `json:"generated_at_utc"`
	ChainState   [LayerCount]LayerState `json:"chain_state"`
	DailyChanges []DailyChange          `json:"daily_changes"`
	PreviousDay  DayMetrics             `json:"previous_day"`
	Sparklines   Sparklines             `json:"sparklines"`
}

// WorstStatus returns the most severe layer status.
func (a ChainAnalysis) WorstStatus() Status {
	worst := StatusNeutral
	for _, layer := range a.ChainState {
		if layer.Status.Rank() > worst.Rank() {
			worst = layer.Status
		}
	}
	return worst
}

// Options tune generation.
type Options struct {
	Thresholds Thresholds
	Limits     SparklineLimits
}

// DefaultOptions uses the standard thresholds and sparkline limits.
func DefaultOptions() Options {
	return Options{Thresholds: DefaultThresholds(), Limits: DefaultSparklineLimits()}
}

// OptionsFromConfig maps configuration onto Options.
func OptionsFromConfig(c config.AnalysisConfig) Options {
	return Options{
		Thresholds: ThresholdsFromConfig(c.Thresholds),
		Limits: SparklineLimits{
			Reserves: c.Sparklines.Reserves,
			Spread:   c.Sparklines.Spread,
			Yield:    c.Sparklines.Yield,
		},
	}
}

// Input is everything one day's generation reads. Previous is nil when no
// earlier snapshot exists; History is every stored snapshot.
type Input struct {
	Date        string
	Current     storage.Snapshot
	Previous    *storage.Snapshot
	History     []storage.Snapshot
	GeneratedAt time.Time
}

// Package is the result of generating one day.
type Package struct {
	Analysis ChainAnalysis
	Digest   string
	Current  DayMetrics
	Deltas   DeltaSet
	Warnings []string
}

// Generate runs the full daily pipeline over already loaded snapshots.
func Generate(in Input, opts Options) Package {
	curr := ReadMetrics(in.Current)
	var prev DayMetrics
	if in.Previous != nil {
		prev = ReadMetrics(*in.Previous)
	}
	return Assemble(in.Date, in.GeneratedAt, curr, prev, BuildSparklines(in.History, opts.Limits), in.Previous != nil, opts)
}

// Assemble builds a package from metrics directly. It also serves
// simulations where no snapshots exist.
func Assemble(date string, generatedAt time.Time, curr, prev DayMetrics, sparklines Sparklines, hasPrevious bool, opts Options) Package {
	deltas := ComputeDeltas(curr, prev)
	layers := Classify(curr, deltas, opts.Thresholds)

	var warnings []string
	if !hasPrevious {
		warnings = append(warnings, WarnNoPrevious)
	}
	if !curr.HasCore() {
		warnings = append(warnings, WarnNoCore)
	}

	return Package{
		Analysis: ChainAnalysis{
			Date:         date,
			GeneratedAt:  storage.NewTimestamp(generatedAt),
			ChainState:   layers,
			DailyChanges: BuildDailyChanges(curr, prev, deltas),
			PreviousDay:  prev,
			Sparklines:   sparklines,
		},
		Digest:   ComposeDigest(date, curr, deltas, layers),
		Current:  curr,
		Deltas:   deltas,
		Warnings: warnings,
	}
}

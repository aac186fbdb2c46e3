package analysis

import (
	"fmt"
	"math"

	"chain-tracker/internal/config"
)

// Status is the qualitative state of one layer.
type Status string

const (
	StatusNeutral  Status = "neutral"
	StatusElevated Status = "elevated"
	StatusStressed Status = "stressed"
)

// Rank orders statuses from calm (0) to stressed (2).
func (s Status) Rank() int {
	switch s {
	case StatusStressed:
		return 2
	case StatusElevated:
		return 1
	default:
		return 0
	}
}

// Notable reports whether the status warrants attention.
func (s Status) Notable() bool {
	return s == StatusElevated || s == StatusStressed
}

// Layer labels.
const (
	LabelNoData           = "no data"
	LabelStable           = "stable"
	LabelModerateMove     = "moderate move"
	LabelStrongMove       = "strong move"
	LabelModeratePressure = "moderate pressure"
	LabelHighPressure     = "high pressure"
	LabelCautious         = "cautious"
	LabelHighTension      = "high tension"
	LabelManual           = "manual"
)

// LayerCount is the fixed number of layers in a chain state.
const LayerCount = 5

// LayerState is the classification of one layer for one day.
type LayerState struct {
	Layer       int    `json:"layer"`
	Name        string `json:"layer_name"`
	Status      Status `json:"status"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// NoData reports whether the layer lacked its current reading.
func (l LayerState) NoData() bool {
	return l.Label == LabelNoData
}

// Thresholds are the layer cut-offs. Boundaries resolve toward the worse
// state.
type Thresholds struct {
	GlobalElevatedBps     float64
	GlobalStressedBps     float64
	ReservesElevatedMM    float64
	ReservesStressedMM    float64
	MonetaryElevatedMM    float64
	SpreadElevatedPct     float64
	SpreadStressedPct     float64
	SpreadDeltaElevatedPP float64
	SpreadDeltaStressedPP float64
}

// DefaultThresholds returns the standard cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		GlobalElevatedBps:     4,
		GlobalStressedBps:     10,
		ReservesElevatedMM:    -50,
		ReservesStressedMM:    -200,
		MonetaryElevatedMM:    300000,
		SpreadElevatedPct:     15,
		SpreadStressedPct:     25,
		SpreadDeltaElevatedPP: 0.5,
		SpreadDeltaStressedPP: 2,
	}
}

// ThresholdsFromConfig maps configuration onto Thresholds.
func ThresholdsFromConfig(c config.ThresholdConfig) Thresholds {
	return Thresholds{
		GlobalElevatedBps:     c.GlobalElevatedBps,
		GlobalStressedBps:     c.GlobalStressedBps,
		ReservesElevatedMM:    c.ReservesElevatedMM,
		ReservesStressedMM:    c.ReservesStressedMM,
		MonetaryElevatedMM:    c.MonetaryElevatedMM,
		SpreadElevatedPct:     c.SpreadElevatedPct,
		SpreadStressedPct:     c.SpreadStressedPct,
		SpreadDeltaElevatedPP: c.SpreadDeltaElevatedPP,
		SpreadDeltaStressedPP: c.SpreadDeltaStressedPP,
	}
}

// Classify derives the five layer states. Each layer is computed
// independently from the current metrics and the raw deltas.
func Classify(curr DayMetrics, d DeltaSet, th Thresholds) [LayerCount]LayerState {
	return [LayerCount]LayerState{
		ClassifyGlobal(curr, d, th),
		ClassifyTransmission(curr, d, th),
		ClassifyMonetary(curr, d, th),
		ClassifyMarkets(curr, d, th),
		ClassifyRegulatory(),
	}
}

// ClassifyGlobal grades the 10Y yield move in basis points.
func ClassifyGlobal(curr DayMetrics, d DeltaSet, th Thresholds) LayerState {
	state := LayerState{Layer: 1, Name: "Global"}
	switch {
	case curr.US10Y == nil:
		return state.noData("No global yield reading in the current snapshot.")
	case d.Y10Bps == nil:
		return state.stable(fmt.Sprintf("US 10Y at %s%%, no daily comparison.", FormatAR(*curr.US10Y, 2)))
	}

	move := math.Abs(*d.Y10Bps)
	switch {
	case move >= th.GlobalStressedBps:
		state.Status, state.Label = StatusStressed, LabelStrongMove
	case move >= th.GlobalElevatedBps:
		state.Status, state.Label = StatusElevated, LabelModerateMove
	default:
		state.Status, state.Label = StatusNeutral, LabelStable
	}
	state.Description = fmt.Sprintf("US 10Y %s %s bp to close at %s%%.",
		direction(*d.Y10Bps), FormatAR(move, 0), FormatAR(*curr.US10Y, 2))
	return state
}

// ClassifyTransmission grades the reserve change in USD millions.
func ClassifyTransmission(curr DayMetrics, d DeltaSet, th Thresholds) LayerState {
	state := LayerState{Layer: 2, Name: "Transmission"}
	switch {
	case curr.Reserves == nil:
		return state.noData("No reserves reading to assess transmission.")
	case d.ReservesMM == nil:
		return state.stable(fmt.Sprintf("Reserves at USD %s M, no daily comparison.", FormatAR(*curr.Reserves, 0)))
	}

	delta := *d.ReservesMM
	switch {
	case delta <= th.ReservesStressedMM:
		state.Status, state.Label = StatusStressed, LabelHighPressure
	case delta <= th.ReservesElevatedMM:
		state.Status, state.Label = StatusElevated, LabelModeratePressure
	default:
		state.Status, state.Label = StatusNeutral, LabelStable
	}
	state.Description = fmt.Sprintf("Reserves %s %s M to USD %s M.",
		direction(delta), FormatAR(math.Abs(delta), 0), FormatAR(*curr.Reserves, 0))
	return state
}

// ClassifyMonetary grades the monetary base change. It has no stressed tier.
func ClassifyMonetary(curr DayMetrics, d DeltaSet, th Thresholds) LayerState {
	state := LayerState{Layer: 3, Name: "Monetary"}
	switch {
	case curr.MonetaryBase == nil:
		return state.noData("No monetary base reading for this snapshot.")
	case d.MonetaryBaseMM == nil:
		return state.stable(fmt.Sprintf("Monetary base at ARS %s M, no daily comparison.", FormatAR(*curr.MonetaryBase, 0)))
	}

	delta := *d.MonetaryBaseMM
	if math.Abs(delta) >= th.MonetaryElevatedMM {
		state.Status, state.Label = StatusElevated, LabelModerateMove
	} else {
		state.Status, state.Label = StatusNeutral, LabelStable
	}
	state.Description = fmt.Sprintf("Monetary base %s %s M to ARS %s M.",
		direction(delta), FormatAR(math.Abs(delta), 0), FormatAR(*curr.MonetaryBase, 0))
	return state
}

// ClassifyMarkets grades the FX spread level and its daily change. Without a
// prior day only the level is graded.
func ClassifyMarkets(curr DayMetrics, d DeltaSet, th Thresholds) LayerState {
	state := LayerState{Layer: 4, Name: "Markets"}
	if curr.Spread == nil {
		return state.noData("No FX spread available to read local markets.")
	}

	spread := *curr.Spread
	moved := func(limit float64) bool { return d.SpreadPP != nil && *d.SpreadPP >= limit }
	switch {
	case spread >= th.SpreadStressedPct || moved(th.SpreadDeltaStressedPP):
		state.Status, state.Label = StatusStressed, LabelHighTension
	case spread >= th.SpreadElevatedPct || moved(th.SpreadDeltaElevatedPP):
		state.Status, state.Label = StatusElevated, LabelCautious
	default:
		state.Status, state.Label = StatusNeutral, LabelStable
	}

	desc := fmt.Sprintf("Spread at %s%%", FormatAR(spread, 1))
	if d.SpreadPP != nil {
		desc += fmt.Sprintf(" (%s pp, %s)", FormatSigned(*d.SpreadPP, 1), direction(*d.SpreadPP))
	} else {
		desc += ", no daily comparison"
	}
	if d.BluePct != nil {
		desc += fmt.Sprintf(", Blue %s%% d/d", FormatSigned(*d.BluePct, 1))
	}
	state.Description = desc + "."
	return state
}

// ClassifyRegulatory is a fixed manual-monitoring state until an automated
// regulatory feed exists.
func ClassifyRegulatory() LayerState {
	return LayerState{
		Layer:       5,
		Name:        "Regulatory",
		Status:      StatusNeutral,
		Label:       LabelManual,
		Description: "No automated regulatory feed yet. Review the Boletín Oficial and BCRA communications manually.",
	}
}

func (l LayerState) noData(desc string) LayerState {
	l.Status, l.Label, l.Description = StatusNeutral, LabelNoData, desc
	return l
}

func (l LayerState) stable(desc string) LayerState {
	l.Status, l.Label, l.Description = StatusNeutral, LabelStable, desc
	return l
}

func direction(delta float64) string {
	switch {
	case delta > 0:
		return "rose"
	case delta < 0:
		return "fell"
	default:
		return "unchanged"
	}
}

package analysis

import (
	"fmt"
	"strings"
)

const (
	digestNoData     = "Not enough data for a numeric summary today."
	digestNoAlerts   = "- No strong alerts from automated rules in this snapshot."
	digestManualNote = "- Regulatory layer stays under manual monitoring until regulatory sources are automated."
)

// ComposeDigest renders the markdown brief. Identical inputs always produce
// identical text.
func ComposeDigest(date string, curr DayMetrics, d DeltaSet, layers [LayerCount]LayerState) string {
	var lines []string
	lines = append(lines, fmt.Sprintf("Automated summary for %s from active sources (FRED, BCRA, DolarHoy).", date), "")

	if headline := headlineMetrics(curr, d); len(headline) > 0 {
		lines = append(lines, strings.Join(headline, " | ")+".")
	} else {
		lines = append(lines, digestNoData)
	}

	lines = append(lines, "", "**Watch points:**")
	alerts := 0
	for _, layer := range layers {
		if layer.Status.Notable() {
			lines = append(lines, fmt.Sprintf("- %s: %s", layer.Name, layer.Description))
			alerts++
		}
	}
	if alerts == 0 {
		lines = append(lines, digestNoAlerts)
	}
	lines = append(lines, digestManualNote)

	return strings.Join(lines, "\n") + "\n"
}

func headlineMetrics(curr DayMetrics, d DeltaSet) []string {
	var out []string
	if curr.BlueVenta != nil && curr.OficialVenta != nil {
		out = append(out, fmt.Sprintf("Blue %s vs Official %s", FormatAR(*curr.BlueVenta, 0), FormatAR(*curr.OficialVenta, 0)))
	}
	if curr.Spread != nil {
		out = append(out, fmt.Sprintf("Spread %s%%%s", FormatAR(*curr.Spread, 1), dayOverDay(d.SpreadPP, 1, "pp")))
	}
	if curr.Reserves != nil {
		out = append(out, fmt.Sprintf("Reserves USD %s M%s", FormatAR(*curr.Reserves, 0), dayOverDay(d.ReservesMM, 0, "M")))
	}
	if curr.US10Y != nil {
		out = append(out, fmt.Sprintf("US 10Y %s%%%s", FormatAR(*curr.US10Y, 2), dayOverDay(d.Y10Bps, 0, "bp")))
	}
	return out
}

func dayOverDay(delta *float64, decimals int32, unit string) string {
	if delta == nil {
		return ""
	}
	return fmt.Sprintf(" (%s %s d/d)", FormatSigned(*delta, decimals), unit)
}

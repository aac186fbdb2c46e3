package analysis

import "fmt"

// ChangeType classifies a daily change row.
type ChangeType string

const (
	ChangeUp   ChangeType = "up"
	ChangeDown ChangeType = "dn"
	ChangeFlat ChangeType = "eq"

	// ChangeRegulatory marks regulatory events. Nothing emits it yet.
	ChangeRegulatory ChangeType = "rg"
)

// changeEpsilon absorbs float noise so a zero move reads as flat.
const changeEpsilon = 1e-4

// DailyChange is one row of the day-over-day summary.
type DailyChange struct {
	Type   ChangeType `json:"type"`
	Label  string     `json:"label"`
	Detail string     `json:"detail"`
	// Delta is the raw change behind Type; not serialized.
	Delta *float64 `json:"-"`
}

// ChangeTypeOf maps a raw delta to up, dn or eq. A nil delta is eq.
func ChangeTypeOf(delta *float64) ChangeType {
	switch {
	case delta == nil:
		return ChangeFlat
	case *delta > changeEpsilon:
		return ChangeUp
	case *delta < -changeEpsilon:
		return ChangeDown
	default:
		return ChangeFlat
	}
}

// BuildDailyChanges lists the Blue, Reservas, Brecha and 10Y Yield moves for
// every metric present on both days. With none comparable it returns a single
// flat status row.
func BuildDailyChanges(curr, prev DayMetrics, d DeltaSet) []DailyChange {
	var rows []DailyChange

	if curr.BlueVenta != nil && prev.BlueVenta != nil {
		detail := fmt.Sprintf("$ %s -> %s", FormatAR(*prev.BlueVenta, 0), FormatAR(*curr.BlueVenta, 0))
		if d.BluePct != nil {
			detail += fmt.Sprintf(" (%s%%)", FormatSigned(*d.BluePct, 1))
		}
		rows = append(rows, DailyChange{Type: ChangeTypeOf(d.BluePct), Label: "Blue", Detail: detail, Delta: d.BluePct})
	}

	if curr.Reserves != nil && prev.Reserves != nil {
		detail := fmt.Sprintf("USD %s -> %s M", FormatAR(*prev.Reserves, 0), FormatAR(*curr.Reserves, 0))
		if d.ReservesMM != nil {
			detail += fmt.Sprintf(" (%s M)", FormatSigned(*d.ReservesMM, 0))
		}
		rows = append(rows, DailyChange{Type: ChangeTypeOf(d.ReservesMM), Label: "Reservas", Detail: detail, Delta: d.ReservesMM})
	}

	if curr.Spread != nil && prev.Spread != nil {
		detail := fmt.Sprintf("%s%% -> %s%%", FormatAR(*prev.Spread, 1), FormatAR(*curr.Spread, 1))
		if d.SpreadPP != nil {
			detail += fmt.Sprintf(" (%s pp)", FormatSigned(*d.SpreadPP, 1))
		}
		rows = append(rows, DailyChange{Type: ChangeTypeOf(d.SpreadPP), Label: "Brecha", Detail: detail, Delta: d.SpreadPP})
	}

	if curr.US10Y != nil && prev.US10Y != nil {
		detail := fmt.Sprintf("%s%% -> %s%%", FormatAR(*prev.US10Y, 2), FormatAR(*curr.US10Y, 2))
		if d.Y10Bps != nil {
			detail += fmt.Sprintf(" (%s bp)", FormatSigned(*d.Y10Bps, 0))
		}
		rows = append(rows, DailyChange{Type: ChangeTypeOf(d.Y10Bps), Label: "10Y Yield", Detail: detail, Delta: d.Y10Bps})
	}

	if len(rows) == 0 {
		rows = append(rows, DailyChange{Type: ChangeFlat, Label: "Estado", Detail: "Not enough history for daily changes."})
	}
	return rows
}

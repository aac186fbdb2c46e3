package analysis

// DeltaSet holds raw day-over-day changes. A nil entry means an operand was
// missing or, for ratios, the denominator was zero.
type DeltaSet struct {
	BluePct        *float64 `json:"blue_pct"`
	SpreadPP       *float64 `json:"brecha_pp"`
	ReservesMM     *float64 `json:"reserves_mm"`
	MonetaryBaseMM *float64 `json:"monetary_base_mm"`
	Y10Bps         *float64 `json:"y10_bps"`
}

// PercentChange is ((curr/prev) - 1) * 100.
func PercentChange(curr, prev *float64) *float64 {
	if curr == nil || prev == nil || *prev == 0 {
		return nil
	}
	v := (*curr / *prev - 1) * 100
	return &v
}

// AbsoluteDelta is curr - prev.
func AbsoluteDelta(curr, prev *float64) *float64 {
	if curr == nil || prev == nil {
		return nil
	}
	v := *curr - *prev
	return &v
}

// BasisPointDelta is (curr - prev) * 100 for values quoted in percent.
func BasisPointDelta(curr, prev *float64) *float64 {
	d := AbsoluteDelta(curr, prev)
	if d == nil {
		return nil
	}
	v := *d * 100
	return &v
}

// ComputeDeltas compares two days of headline metrics.
func ComputeDeltas(curr, prev DayMetrics) DeltaSet {
	return DeltaSet{
		BluePct:        PercentChange(curr.BlueVenta, prev.BlueVenta),
		SpreadPP:       AbsoluteDelta(curr.Spread, prev.Spread),
		ReservesMM:     AbsoluteDelta(curr.Reserves, prev.Reserves),
		MonetaryBaseMM: AbsoluteDelta(curr.MonetaryBase, prev.MonetaryBase),
		Y10Bps:         BasisPointDelta(curr.US10Y, prev.US10Y),
	}
}

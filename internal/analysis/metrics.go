// Package analysis turns stored snapshots into the daily chain analysis:
// day-over-day deltas, the five layer states, change rows, sparklines and the
// narrative digest. Everything here is pure; callers load and persist.
package analysis

import (
	"chain-tracker/internal/source"
	"chain-tracker/internal/storage"
)

// DayMetrics are the headline readings of one snapshot.
type DayMetrics struct {
	BlueVenta    *float64 `json:"dolar_blue_venta"`
	OficialVenta *float64 `json:"dolar_oficial_venta"`
	MEP          *float64 `json:"dolar_mep"`
	CCL          *float64 `json:"dolar_ccl"`
	Spread       *float64 `json:"brecha_pct"`
	Reserves     *float64 `json:"reservas_usd_mm"`
	MonetaryBase *float64 `json:"base_monetaria_ars_mm"`
	US2Y         *float64 `json:"us_2y_yield"`
	US10Y        *float64 `json:"us_10y_yield"`
	US30Y        *float64 `json:"us_30y_yield"`
}

// ReadMetrics extracts the headline readings from a snapshot. Missing
// payloads or fields stay nil.
func ReadMetrics(s storage.Snapshot) DayMetrics {
	return DayMetrics{
		BlueVenta:    s.Value(source.DolarHoyID, source.FieldBlueVenta),
		OficialVenta: s.Value(source.DolarHoyID, source.FieldOficialVenta),
		MEP:          s.Value(source.DolarHoyID, source.FieldMEP),
		CCL:          s.Value(source.DolarHoyID, source.FieldCCL),
		Spread:       s.Value(source.DolarHoyID, source.FieldSpread),
		Reserves:     s.Value(source.BCRAID, source.FieldReserves),
		MonetaryBase: s.Value(source.BCRAID, source.FieldMonetaryBase),
		US2Y:         s.Value(source.FREDID, source.FieldUS2Y),
		US10Y:        s.Value(source.FREDID, source.FieldUS10Y),
		US30Y:        s.Value(source.FREDID, source.FieldUS30Y),
	}
}

// HasCore reports whether any of blue, reserves or the 10Y yield is present.
func (m DayMetrics) HasCore() bool {
	return m.BlueVenta != nil || m.Reserves != nil || m.US10Y != nil
}

package analysis

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatAR renders v with Argentine separators: "." groups thousands and ","
// marks decimals, e.g. 27500.5 with 1 decimal is "27.500,5".
func FormatAR(v float64, decimals int32) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}
	fixed := decimal.NewFromFloat(math.Abs(v)).StringFixed(decimals)
	integer, fraction, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	if v < 0 && strings.Trim(fixed, "0.") != "" {
		b.WriteByte('-')
	}
	for i, r := range integer {
		if i > 0 && (len(integer)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	if fraction != "" {
		b.WriteByte(',')
		b.WriteString(fraction)
	}
	return b.String()
}

// FormatSigned is FormatAR with an explicit "+" for positive values.
func FormatSigned(v float64, decimals int32) string {
	s := FormatAR(v, decimals)
	if v > 0 && strings.Trim(s, "0,.") != "" {
		return "+" + s
	}
	return s
}

// Package numeric canonicalizes locale-ambiguous numeric text as published by
// Argentine sources, where "." usually groups thousands and "," marks decimals.
package numeric

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

var tokenPattern = regexp.MustCompile(`\d[\d.,]*`)

// Parse converts a numeric token into a float.
//
// Separator rules, in priority order:
//   - both "," and "." present: "." groups thousands, "," is the decimal point
//   - only ",": "," is the decimal point
//   - only ".": thousands grouping when every segment after the first has
//     exactly three digits, otherwise "." is the decimal point
//
// The second return value is false for empty tokens, tokens without digits
// and anything that does not reduce to a plain decimal number.
func Parse(token string) (float64, bool) {
	cleaned := strip(token)
	if cleaned == "" || !hasDigit(cleaned) {
		return 0, false
	}

	hasComma := strings.Contains(cleaned, ",")
	hasDot := strings.Contains(cleaned, ".")

	switch {
	case hasComma && hasDot:
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	case hasComma:
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	case hasDot:
		parts := strings.Split(cleaned, ".")
		if len(parts) > 1 && groupedByThousands(parts[1:]) {
			cleaned = strings.Join(parts, "")
		}
	}

	value, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, false
	}
	return value.InexactFloat64(), true
}

// ParsePtr is Parse returning nil for unparseable input.
func ParsePtr(token string) *float64 {
	v, ok := Parse(token)
	if !ok {
		return nil
	}
	return &v
}

// Canonical renders v in the form Parse reads back to the same value: no
// grouping and "," as the decimal point.
func Canonical(v float64) string {
	return strings.Replace(strconv.FormatFloat(v, 'f', -1, 64), ".", ",", 1)
}

// Numbers returns every parseable number in text, in order of appearance.
func Numbers(text string) []float64 {
	matches := tokenPattern.FindAllString(text, -1)
	numbers := make([]float64, 0, len(matches))
	for _, match := range matches {
		if v, ok := Parse(strings.TrimRight(match, ".,")); ok {
			numbers = append(numbers, v)
		}
	}
	return numbers
}

func strip(token string) string {
	var b strings.Builder
	b.Grow(len(token))
	for _, r := range token {
		if r == '$' || r == '%' || unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	// currency codes such as "USD", "ARS" or the "US" left of "US$"
	cleaned := strings.TrimLeftFunc(b.String(), unicode.IsLetter)
	return strings.TrimPrefix(cleaned, "+")
}

func hasDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

func groupedByThousands(groups []string) bool {
	for _, g := range groups {
		if len(g) != 3 {
			return false
		}
	}
	return true
}

package sor

import (
	"strings"

	"github.com/shopspring/decimal"
)

func trimAndLower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func stringsToUpperTrim(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// mustParseDecimalOrZero parses s as a decimal, returning zero on a parse
// failure rather than propagating an error — used only when reading back
// values this package itself wrote via Decimal.String().
func mustParseDecimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

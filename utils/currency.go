package utils

import (
	"fmt"
	"math"
	"strings"
)

// FormatCurrencyIDR renders an amount as Indonesian Rupiah, e.g.
// 15000.50 -> "Rp 15.000,50". Whole amounts omit the decimal part.
func FormatCurrencyIDR(amount float64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}

	cents := int64(math.Round(amount * 100))
	whole := cents / 100
	frac := cents % 100

	digits := fmt.Sprintf("%d", whole)
	var groups []string
	for len(digits) > 3 {
		groups = append([]string{digits[len(digits)-3:]}, groups...)
		digits = digits[:len(digits)-3]
	}
	groups = append([]string{digits}, groups...)

	out := "Rp " + sign + strings.Join(groups, ".")
	if frac > 0 {
		out += fmt.Sprintf(",%02d", frac)
	}
	return out
}

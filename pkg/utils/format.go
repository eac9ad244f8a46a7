// Package utils provides shared utility functions.
package utils

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// PricePrecision returns the number of decimal places used for a price of the
// given magnitude. Smaller prices keep more digits.
func PricePrecision(value float64) int32 {
	switch {
	case value >= 1000:
		return 0
	case value >= 100:
		return 2
	case value >= 1:
		return 3
	case value >= 0.1:
		return 5
	default:
		return 6
	}
}

// RoundPrice rounds a price half away from zero to PricePrecision(value) places.
func RoundPrice(value float64) float64 {
	rounded, _ := decimal.NewFromFloat(value).Round(PricePrecision(value)).Float64()
	return rounded
}

// FormatPrice renders a price without trailing zeros, the way it was rounded.
func FormatPrice(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// FormatPercent renders a percentage with two decimals.
func FormatPercent(value float64) string {
	return strconv.FormatFloat(value, 'f', 2, 64) + "%"
}

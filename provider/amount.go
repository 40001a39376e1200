package provider

import (
	"math"
	"strconv"
)

// ToMinorUnits converts a major-unit amount to integer minor units (cents,
// bani). The amount is rounded half away from zero to 2 decimals exactly
// once, so repeated conversions cannot drift.
func ToMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// FromMinorUnits converts integer minor units back to a major-unit amount.
func FromMinorUnits(minor int64) float64 {
	return float64(minor) / 100
}

// FormatAmount renders an amount as a gateway decimal string with exactly
// two decimals, applying the same rounding as ToMinorUnits.
func FormatAmount(amount float64) string {
	return strconv.FormatFloat(FromMinorUnits(ToMinorUnits(amount)), 'f', 2, 64)
}

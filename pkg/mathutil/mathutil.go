// Package mathutil provides common mathematical utility functions.
package mathutil

import (
	"math"

	"github.com/promopilot/promopilot/pkg/constants"
)

// Round rounds a value to two decimals for display purposes.
func Round(val float64) float64 {
	return math.Round(val*constants.DecimalPrecision) / constants.DecimalPrecision
}

// WithinTolerance checks if two values are within a specified tolerance
func WithinTolerance(val1, val2, tolerance float64) bool {
	return math.Abs(val1-val2) <= tolerance
}

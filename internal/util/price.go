// Package util provides small shared helpers for price grids and
// exchange-local time.
package util

import "math"

// RoundToStep rounds x to the nearest multiple of step. With step=50,
// 24233.4 becomes 24250 and 24224.9 becomes 24200.
func RoundToStep(x float64, step int) int {
	if step <= 0 {
		return int(math.Round(x))
	}
	return int(math.Round(x/float64(step))) * step
}

// FloorToStep rounds x down to a multiple of step.
func FloorToStep(x float64, step int) int {
	if step <= 0 {
		return int(math.Floor(x))
	}
	return int(math.Floor(x/float64(step))) * step
}

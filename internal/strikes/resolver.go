// Package strikes resolves option strikes on the NSE strike grid.
package strikes

import (
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/models"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/util"
)

// Mode selects moneyness relative to spot.
type Mode string

const (
	// ModeATM picks the grid strike nearest spot.
	ModeATM Mode = "ATM"
	// ModeITM moves the strike into the money by the offset.
	ModeITM Mode = "ITM"
	// ModeOTM moves the strike out of the money by the offset.
	ModeOTM Mode = "OTM"
)

// GridStep returns the strike grid step for a symbol: 50 points for
// NIFTY, 100 for BANKNIFTY and anything else.
func GridStep(symbol string) int {
	if symbol == "NIFTY" {
		return 50
	}
	return 100
}

// Resolve computes the requested strike from spot. The offset is
// applied signed by side: calls subtract for ITM and add for OTM,
// puts the reverse.
func Resolve(spot float64, side models.Side, mode Mode, offset, step int) int {
	base := util.RoundToStep(spot, step)
	if mode == ModeATM || offset <= 0 {
		return base
	}
	in := offset
	if mode == ModeOTM {
		in = -offset
	}
	if side == models.SideCE {
		return base - in
	}
	return base + in
}

// NearestListed picks the listed strike closest to requested, breaking
// ties toward the lower strike so backtests are deterministic. Returns
// false only for an empty list.
func NearestListed(listed []int, requested int) (int, bool) {
	if len(listed) == 0 {
		return 0, false
	}
	best := listed[0]
	bestDiff := absInt(listed[0] - requested)
	for _, s := range listed[1:] {
		d := absInt(s - requested)
		if d < bestDiff || (d == bestDiff && s < best) {
			best, bestDiff = s, d
		}
	}
	return best, true
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

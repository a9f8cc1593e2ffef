package pattern

import (
	"time"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/models"
)

// FirstBreakout returns the first candle strictly after the inside bar
// whose close breaches the signal range, with direction: CE when the
// close exceeds rangeHigh, PE when it undercuts rangeLow.
//
// The scan cursors by timestamp rather than slice index so it stays
// correct across day boundaries and fetch windows of different sizes.
// Callers must pass complete candles only; a forming bar would fire on
// intra-hour moves.
func FirstBreakout(cs []models.Candle, rangeHigh, rangeLow float64, insideBarTime time.Time) (models.BreakoutEvent, bool) {
	for _, c := range cs {
		if !c.Time.After(insideBarTime) {
			continue
		}
		if c.Close > rangeHigh {
			return models.BreakoutEvent{Direction: models.SideCE, CandleTime: c.Time, Close: c.Close}, true
		}
		if c.Close < rangeLow {
			return models.BreakoutEvent{Direction: models.SidePE, CandleTime: c.Time, Close: c.Close}, true
		}
	}
	return models.BreakoutEvent{}, false
}

// BreakoutAt reports the breakout direction of a single candle against
// a range, if any. Used by the backtester's walk-forward scan.
func BreakoutAt(c models.Candle, rangeHigh, rangeLow float64) (models.Side, bool) {
	switch {
	case c.Close > rangeHigh:
		return models.SideCE, true
	case c.Close < rangeLow:
		return models.SidePE, true
	default:
		return "", false
	}
}

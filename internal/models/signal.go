package models

import (
	"fmt"
	"time"
)

// InsideBar is a pair of adjacent complete 1h candles where the child is
// strictly contained in the parent's range. The parent is the signal
// candle; its range defines the breakout bounds.
type InsideBar struct {
	Parent Candle `json:"parent"`
	Child  Candle `json:"child"`
}

// RangeHigh returns the upper breakout bound (parent high).
func (ib InsideBar) RangeHigh() float64 { return ib.Parent.High }

// RangeLow returns the lower breakout bound (parent low).
func (ib InsideBar) RangeLow() float64 { return ib.Parent.Low }

// IsInsideBar reports whether child is strictly contained in parent.
// Equal highs or lows do not count: they produce ambiguous breakout
// levels, so containment must be strict on both sides.
func IsInsideBar(parent, child Candle) bool {
	return child.High < parent.High && child.Low > parent.Low
}

// ActiveSignal is an armed inside-bar signal awaiting a confirming
// hourly close outside its range. At most one exists per symbol; a
// newer inside bar supersedes an older one. Uniquely identified by
// InsideBarTime.
type ActiveSignal struct {
	RangeHigh        float64   `json:"range_high"`
	RangeLow         float64   `json:"range_low"`
	InsideBarTime    time.Time `json:"inside_bar_time"`
	SignalCandleTime time.Time `json:"signal_candle_time"`
	CreatedAt        time.Time `json:"created_at"`
}

// BreakoutEvent is produced when a complete 1h candle closes outside an
// active signal's range.
type BreakoutEvent struct {
	Direction  Side      `json:"direction"`
	CandleTime time.Time `json:"candle_time"`
	Close      float64   `json:"close"`
}

// Fingerprint identifies a trade signal for duplicate suppression. Two
// runner cycles that derive the same fingerprint within the cooldown
// window place at most one order.
type Fingerprint struct {
	Direction    Side
	Strike       int
	RangeHigh    float64
	RangeLow     float64
	BreakoutTime time.Time // truncated to second
}

// NewFingerprint builds the suppression key for a consumed signal.
func NewFingerprint(dir Side, strike int, rangeHigh, rangeLow float64, breakoutTime time.Time) Fingerprint {
	return Fingerprint{
		Direction:    dir,
		Strike:       strike,
		RangeHigh:    rangeHigh,
		RangeLow:     rangeLow,
		BreakoutTime: breakoutTime.Truncate(time.Second),
	}
}

// String renders the fingerprint as a stable map key.
func (f Fingerprint) String() string {
	return fmt.Sprintf("%s-%d-%.2f-%.2f-%d", f.Direction, f.Strike, f.RangeHigh, f.RangeLow, f.BreakoutTime.Unix())
}

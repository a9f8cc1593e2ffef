// Package models provides the core data structures shared by the live
// engine and the backtester.
package models

import "time"

// Candle is a single OHLC bar. Volume is zero for index candles, which
// carry no traded volume on NSE.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume,omitempty"`
}

// CloseTime returns the instant an NSE-aligned 1h candle closes.
// Only meaningful for candles produced by the aligner, whose Time is
// the bucket open (always at minute 15 IST).
func (c Candle) CloseTime() time.Time {
	return c.Time.Add(time.Hour)
}

// IsComplete reports whether the candle has fully closed as of now.
func (c Candle) IsComplete(now time.Time) bool {
	return !now.Before(c.CloseTime())
}

// Side is the option side traded on a breakout: CE above the range,
// PE below it.
type Side string

const (
	// SideCE is a call option (breakout above the signal range).
	SideCE Side = "CE"
	// SidePE is a put option (breakout below the signal range).
	SidePE Side = "PE"
)

// Valid returns true if the side is one of the defined constants.
func (s Side) Valid() bool {
	return s == SideCE || s == SidePE
}

// Package expiry provides the NSE weekly option expiry calendar and
// the expiry-day trading cutoffs.
package expiry

import (
	"sort"
	"time"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/util"
)

// NIFTY weekly contracts currently expire on Tuesdays at market close.
// The broker adapter may override the weekday when the exchange moves
// it again.
const (
	DefaultWeekday = time.Tuesday

	expiryHour   = 15
	expiryMinute = 30
)

// Expiry-day cutoffs (minutes into the IST day).
const (
	// BacktestEntryBlackoutMinutes blocks new backtest entries on
	// expiry day after 11:30 IST.
	BacktestEntryBlackoutMinutes = 11*60 + 30
	// HalfBookMinutes optionally books half the remaining quantity at
	// 13:00 IST on expiry day.
	HalfBookMinutes = 13 * 60
	// ForceExitMinutes force-exits everything at 14:45 IST on expiry day.
	ForceExitMinutes = 14*60 + 45
)

// NextWeekly returns the next n weekly expiries on weekday at market
// close IST, starting from the first expiry at or after from.
func NextWeekly(from time.Time, n int, weekday time.Weekday) []time.Time {
	lt := from.In(util.IST())
	cand := time.Date(lt.Year(), lt.Month(), lt.Day(), expiryHour, expiryMinute, 0, 0, util.IST())
	for cand.Weekday() != weekday || cand.Before(lt) {
		cand = cand.AddDate(0, 0, 1)
		cand = time.Date(cand.Year(), cand.Month(), cand.Day(), expiryHour, expiryMinute, 0, 0, util.IST())
	}
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, cand.AddDate(0, 0, 7*i))
	}
	return out
}

// NextOnOrAfter returns the earliest calendar entry at or after t.
// Used by the backtester's expiry resolution.
func NextOnOrAfter(calendar []time.Time, t time.Time) (time.Time, bool) {
	sorted := make([]time.Time, len(calendar))
	copy(sorted, calendar)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	for _, e := range sorted {
		if !e.Before(t) {
			return e, true
		}
	}
	return time.Time{}, false
}

// DaysTo returns whole calendar days between now and the expiry, in
// exchange-local dates. Same-day expiry yields 0.
func DaysTo(now, expiry time.Time) int {
	ln := now.In(util.IST())
	le := expiry.In(util.IST())
	nd := time.Date(ln.Year(), ln.Month(), ln.Day(), 0, 0, 0, 0, util.IST())
	ed := time.Date(le.Year(), le.Month(), le.Day(), 0, 0, 0, 0, util.IST())
	return int(ed.Sub(nd).Hours() / 24)
}

// IsExpiryDay reports whether now falls on the expiry's calendar date.
func IsExpiryDay(now, expiry time.Time) bool {
	return util.SameISTDate(now, expiry)
}

// Format renders an expiry as the broker-facing DDMMMYY token, e.g.
// 28OCT25.
func Format(expiry time.Time) string {
	le := expiry.In(util.IST())
	mon := [...]string{"JAN", "FEB", "MAR", "APR", "MAY", "JUN", "JUL", "AUG", "SEP", "OCT", "NOV", "DEC"}[le.Month()-1]
	return le.Format("02") + mon + le.Format("06")
}

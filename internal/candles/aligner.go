// Package candles converts raw OHLC bars into NSE-aligned hourly
// candles. NSE index candles open on XX:15 IST boundaries: the first
// bucket of a session is 09:15-10:15 and the last is 14:15-15:15.
package candles

import (
	"errors"
	"sort"
	"time"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/models"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/util"
)

// ErrInsufficientData is returned when fewer complete hourly candles are
// available than the configured minimum. The runner reacts by widening
// the fetch window once and otherwise skipping the cycle.
var ErrInsufficientData = errors.New("insufficient aligned candles")

// DefaultMinCandles is the complete-candle floor applied when the
// caller does not override it.
const DefaultMinCandles = 20

// AlignOptions controls hourly alignment.
type AlignOptions struct {
	// Now is the completeness reference; zero means time.Now().
	Now time.Time
	// IncludeForming keeps the still-open trailing bucket (live mode).
	// Backtests and pattern detection always work on complete candles.
	IncludeForming bool
	// MinCandles is the minimum number of complete candles required;
	// 0 applies DefaultMinCandles, negative disables the check.
	MinCandles int
}

// AlignHourly buckets raw bars of any nominative interval (1m, 15m, 1h)
// into NSE-aligned hourly candles. Within a bucket open is the first
// observation, high the max, low the min, close the last, volume the
// sum. Buckets with no observations are dropped, never imputed.
func AlignHourly(raw []models.Candle, opts AlignOptions) ([]models.Candle, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	minCandles := opts.MinCandles
	if minCandles == 0 {
		minCandles = DefaultMinCandles
	}

	bars := make([]models.Candle, len(raw))
	copy(bars, raw)
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })

	byBucket := make(map[time.Time]*models.Candle)
	var order []time.Time
	for _, b := range bars {
		open, ok := bucketOpen(b.Time)
		if !ok {
			continue
		}
		agg, seen := byBucket[open]
		if !seen {
			c := b
			c.Time = open
			byBucket[open] = &c
			order = append(order, open)
			continue
		}
		if b.High > agg.High {
			agg.High = b.High
		}
		if b.Low < agg.Low {
			agg.Low = b.Low
		}
		agg.Close = b.Close
		agg.Volume += b.Volume
	}

	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })

	aligned := make([]models.Candle, 0, len(order))
	complete := 0
	for _, open := range order {
		c := *byBucket[open]
		if c.IsComplete(now) {
			aligned = append(aligned, c)
			complete++
			continue
		}
		if opts.IncludeForming {
			aligned = append(aligned, c)
		}
	}

	if minCandles > 0 && complete < minCandles {
		return aligned, ErrInsufficientData
	}
	return aligned, nil
}

// bucketOpen maps an observation timestamp to its NSE-aligned hourly
// bucket open, rejecting buckets outside the intraday session (opens
// 09:15 through 14:15 IST).
func bucketOpen(t time.Time) (time.Time, bool) {
	lt := t.In(util.IST())
	anchor := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 15, 0, 0, util.IST())
	if lt.Before(anchor) {
		return time.Time{}, false
	}
	idx := int(lt.Sub(anchor) / time.Hour)
	open := anchor.Add(time.Duration(idx) * time.Hour)
	if open.Hour() < 9 || open.Hour() > 14 {
		return time.Time{}, false
	}
	return open, true
}

// Snapshot is a live OHLC quote merged into the forming bucket.
type Snapshot struct {
	Open   float64
	High   float64
	Low    float64
	LTP    float64
	Volume int64
}

// MergeSnapshot folds a live quote into the forming trailing candle:
// high is raised to max(high, ltp), low lowered to min(low, ltp), and
// close set to ltp. Complete candles are never touched. The input
// slice is returned unchanged when no forming candle is present.
func MergeSnapshot(aligned []models.Candle, snap Snapshot, now time.Time) []models.Candle {
	if len(aligned) == 0 || snap.LTP <= 0 {
		return aligned
	}
	last := &aligned[len(aligned)-1]
	if last.IsComplete(now) {
		return aligned
	}
	if snap.LTP > last.High {
		last.High = snap.LTP
	}
	if snap.LTP < last.Low {
		last.Low = snap.LTP
	}
	last.Close = snap.LTP
	return aligned
}

// CompleteOnly filters a candle sequence down to candles that have
// closed as of now. Pattern detection and breakout checks run on this
// view so intra-hour moves never fire a signal.
func CompleteOnly(aligned []models.Candle, now time.Time) []models.Candle {
	out := make([]models.Candle, 0, len(aligned))
	for _, c := range aligned {
		if c.IsComplete(now) {
			out = append(out, c)
		}
	}
	return out
}

// LastClosedHourEnd returns the most recent NSE-aligned hourly boundary
// at or before now, i.e. the close time of the latest complete candle.
func LastClosedHourEnd(now time.Time) time.Time {
	lt := now.In(util.IST())
	anchor := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 15, 0, 0, util.IST())
	if lt.Before(anchor) {
		anchor = anchor.AddDate(0, 0, -1)
	}
	idx := int(lt.Sub(anchor) / time.Hour)
	return anchor.Add(time.Duration(idx) * time.Hour)
}

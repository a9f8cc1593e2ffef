package util

import (
	"sync"
	"time"
)

var (
	istOnce sync.Once
	istLoc  *time.Location
)

// IST returns the NSE trading timezone. Falls back to a fixed +05:30
// zone on minimal containers without tzdata.
func IST() *time.Location {
	istOnce.Do(func() {
		loc, err := time.LoadLocation("Asia/Kolkata")
		if err != nil {
			loc = time.FixedZone("IST", 5*3600+1800)
		}
		istLoc = loc
	})
	return istLoc
}

// SameISTDate reports whether a and b fall on the same calendar date in
// exchange-local time.
func SameISTDate(a, b time.Time) bool {
	ay, am, ad := a.In(IST()).Date()
	by, bm, bd := b.In(IST()).Date()
	return ay == by && am == bm && ad == bd
}

// MinutesIntoDay returns minutes since midnight IST for t.
func MinutesIntoDay(t time.Time) int {
	lt := t.In(IST())
	return lt.Hour()*60 + lt.Minute()
}

package expiry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/util"
)

func ist(day, hour, min int) time.Time {
	return time.Date(2025, 10, day, hour, min, 0, 0, util.IST())
}

func TestNextWeeklyFromMonday(t *testing.T) {
	// Monday 2025-10-20: the next Tuesday expiry is the 21st.
	got := NextWeekly(ist(20, 10, 0), 3, time.Tuesday)
	require.Len(t, got, 3)
	assert.True(t, got[0].Equal(ist(21, 15, 30)))
	assert.True(t, got[1].Equal(ist(28, 15, 30)))
	assert.True(t, got[2].Equal(time.Date(2025, 11, 4, 15, 30, 0, 0, util.IST())))
}

func TestNextWeeklySameDayBeforeClose(t *testing.T) {
	// On expiry day before 15:30 the same-day contract is still first.
	got := NextWeekly(ist(21, 11, 0), 1, time.Tuesday)
	require.Len(t, got, 1)
	assert.True(t, got[0].Equal(ist(21, 15, 30)))

	// After the close it rolls to next week.
	got = NextWeekly(ist(21, 16, 0), 1, time.Tuesday)
	assert.True(t, got[0].Equal(ist(28, 15, 30)))
}

func TestNextOnOrAfter(t *testing.T) {
	cal := []time.Time{ist(28, 15, 30), ist(21, 15, 30)} // unsorted on purpose

	exp, ok := NextOnOrAfter(cal, ist(20, 10, 0))
	require.True(t, ok)
	assert.True(t, exp.Equal(ist(21, 15, 30)))

	exp, ok = NextOnOrAfter(cal, ist(22, 10, 0))
	require.True(t, ok)
	assert.True(t, exp.Equal(ist(28, 15, 30)))

	_, ok = NextOnOrAfter(cal, ist(29, 10, 0))
	assert.False(t, ok)
}

func TestDaysTo(t *testing.T) {
	assert.Equal(t, 1, DaysTo(ist(20, 14, 0), ist(21, 15, 30)))
	assert.Equal(t, 0, DaysTo(ist(21, 9, 30), ist(21, 15, 30)))
	assert.Equal(t, 8, DaysTo(ist(20, 14, 0), ist(28, 15, 30)))
}

func TestIsExpiryDay(t *testing.T) {
	assert.True(t, IsExpiryDay(ist(21, 9, 30), ist(21, 15, 30)))
	assert.False(t, IsExpiryDay(ist(20, 9, 30), ist(21, 15, 30)))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "21OCT25", Format(ist(21, 15, 30)))
	assert.Equal(t, "04NOV25", Format(time.Date(2025, 11, 4, 15, 30, 0, 0, util.IST())))
}

func TestCutoffOrdering(t *testing.T) {
	// The expiry-day protocol runs the entry blackout, then half-book,
	// then force exit, all before the close.
	assert.Less(t, BacktestEntryBlackoutMinutes, HalfBookMinutes)
	assert.Less(t, HalfBookMinutes, ForceExitMinutes)
	assert.Less(t, ForceExitMinutes, 15*60+30)
}

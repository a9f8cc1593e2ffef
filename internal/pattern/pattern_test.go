package pattern

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/models"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/util"
)

func candleAt(day, hour int, h, l float64) models.Candle {
	return models.Candle{
		Time: time.Date(2025, 10, day, hour, 15, 0, 0, util.IST()),
		Open: (h + l) / 2, High: h, Low: l, Close: (h + l) / 2,
	}
}

func TestIsInsideBarStrictContainment(t *testing.T) {
	parent := candleAt(20, 9, 24500, 24300)
	tests := []struct {
		name   string
		child  models.Candle
		inside bool
	}{
		{"strictly inside", candleAt(20, 10, 24480, 24350), true},
		{"equal high", candleAt(20, 10, 24500, 24350), false},
		{"equal low", candleAt(20, 10, 24480, 24300), false},
		{"high pokes out", candleAt(20, 10, 24510, 24350), false},
		{"low pokes out", candleAt(20, 10, 24480, 24290), false},
		{"engulfing", candleAt(20, 10, 24600, 24200), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.inside, models.IsInsideBar(parent, tc.child))
		})
	}
}

func TestLatestActivePicksNewest(t *testing.T) {
	cs := []models.Candle{
		candleAt(20, 9, 24500, 24300),
		candleAt(20, 10, 24480, 24350), // inside bar of 09:15
		candleAt(20, 11, 24700, 24250), // wide bar resets
		candleAt(20, 12, 24650, 24300), // inside bar of 11:15
	}
	ib, ok := LatestActive(cs)
	require.True(t, ok)
	assert.True(t, ib.Parent.Time.Equal(cs[2].Time))
	assert.True(t, ib.Child.Time.Equal(cs[3].Time))
	assert.Equal(t, 24700.0, ib.RangeHigh())
	assert.Equal(t, 24250.0, ib.RangeLow())
}

func TestLatestActiveNone(t *testing.T) {
	cs := []models.Candle{
		candleAt(20, 9, 24500, 24300),
		candleAt(20, 10, 24600, 24400),
	}
	_, ok := LatestActive(cs)
	assert.False(t, ok)
}

func TestScanAllIndexesPostInsideBar(t *testing.T) {
	cs := []models.Candle{
		candleAt(20, 9, 24500, 24300),
		candleAt(20, 10, 24480, 24350),
		candleAt(20, 11, 24700, 24250),
		candleAt(20, 12, 24650, 24300),
	}
	assert.Equal(t, []int{2, 4}, ScanAll(cs))
}

func TestFirstBreakoutDirectionAndCursor(t *testing.T) {
	ibTime := time.Date(2025, 10, 20, 10, 15, 0, 0, util.IST())
	cs := []models.Candle{
		// Candles at or before the inside bar never count, even when
		// their close breaches the range.
		{Time: ibTime.Add(-time.Hour), Close: 24600},
		{Time: ibTime, Close: 24400},
		{Time: ibTime.Add(time.Hour), Close: 24450},  // inside the range
		{Time: ibTime.Add(2 * time.Hour), Close: 24550}, // first breach
	}

	bo, ok := FirstBreakout(cs, 24500, 24300, ibTime)
	require.True(t, ok)
	assert.Equal(t, models.SideCE, bo.Direction)
	assert.True(t, bo.CandleTime.Equal(ibTime.Add(2*time.Hour)))
	assert.Equal(t, 24550.0, bo.Close)

	bo, ok = FirstBreakout([]models.Candle{
		{Time: ibTime.Add(time.Hour), Close: 24250},
	}, 24500, 24300, ibTime)
	require.True(t, ok)
	assert.Equal(t, models.SidePE, bo.Direction)

	// Closing exactly on a bound is not a breakout.
	_, ok = FirstBreakout([]models.Candle{
		{Time: ibTime.Add(time.Hour), Close: 24500},
		{Time: ibTime.Add(2 * time.Hour), Close: 24300},
	}, 24500, 24300, ibTime)
	assert.False(t, ok)
}

func newTestMachine(grace time.Duration) *Machine {
	return NewMachine(grace, log.New(io.Discard, "", 0))
}

func TestMachineArmAndPersist(t *testing.T) {
	m := newTestMachine(5 * time.Minute)
	cs := []models.Candle{
		candleAt(20, 9, 24500, 24300),
		candleAt(20, 10, 24480, 24350),
	}
	now := time.Date(2025, 10, 20, 11, 20, 0, 0, util.IST())

	tr := m.Step(cs, now)
	require.Equal(t, KindArmed, tr.Kind)
	assert.Equal(t, 24500.0, tr.Signal.RangeHigh)
	assert.Equal(t, 24300.0, tr.Signal.RangeLow)

	// Same candles next cycle: still armed, CreatedAt preserved.
	tr2 := m.Step(cs, now.Add(30*time.Second))
	assert.Equal(t, KindArmed, tr2.Kind)
	assert.True(t, tr2.Signal.CreatedAt.Equal(tr.Signal.CreatedAt))
}

func TestMachineSupersede(t *testing.T) {
	m := newTestMachine(5 * time.Minute)
	now := time.Date(2025, 10, 20, 13, 20, 0, 0, util.IST())

	m.Step([]models.Candle{
		candleAt(20, 9, 24500, 24300),
		candleAt(20, 10, 24480, 24350),
	}, now)
	tr := m.Step([]models.Candle{
		candleAt(20, 9, 24500, 24300),
		candleAt(20, 10, 24480, 24350),
		candleAt(20, 11, 24700, 24250),
		candleAt(20, 12, 24650, 24300),
	}, now)

	require.Equal(t, KindArmed, tr.Kind)
	assert.Equal(t, 24700.0, tr.Signal.RangeHigh, "newer inside bar replaces the armed signal")
}

func TestMachineConsumedWithinGrace(t *testing.T) {
	m := newTestMachine(5 * time.Minute)
	cs := []models.Candle{
		candleAt(20, 9, 24500, 24300),
		candleAt(20, 10, 24480, 24350),
		{Time: time.Date(2025, 10, 20, 11, 15, 0, 0, util.IST()), Open: 24450, High: 24580, Low: 24420, Close: 24560},
	}
	// The 11:15 candle closes at 12:15; one minute later is fresh.
	now := time.Date(2025, 10, 20, 12, 16, 0, 0, util.IST())

	tr := m.Step(cs, now)
	require.Equal(t, KindConsumed, tr.Kind)
	assert.Equal(t, models.SideCE, tr.Breakout.Direction)
	assert.Equal(t, 24560.0, tr.Breakout.Close)

	_, armed := m.Current()
	assert.False(t, armed, "consumed signal is cleared")
}

func TestMachineMissedPastGrace(t *testing.T) {
	m := newTestMachine(5 * time.Minute)
	cs := []models.Candle{
		candleAt(20, 9, 24500, 24300),
		candleAt(20, 10, 24480, 24350),
		{Time: time.Date(2025, 10, 20, 11, 15, 0, 0, util.IST()), Open: 24450, High: 24580, Low: 24420, Close: 24560},
	}
	now := time.Date(2025, 10, 20, 12, 25, 0, 0, util.IST())

	tr := m.Step(cs, now)
	require.Equal(t, KindMissed, tr.Kind)
	assert.Equal(t, models.SideCE, tr.Breakout.Direction)
	_, armed := m.Current()
	assert.False(t, armed)
}

func TestMachineRestore(t *testing.T) {
	m := newTestMachine(5 * time.Minute)
	sig := models.ActiveSignal{
		RangeHigh:     24500,
		RangeLow:      24300,
		InsideBarTime: time.Date(2025, 10, 20, 10, 15, 0, 0, util.IST()),
	}
	m.Restore(sig)

	got, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, sig.RangeHigh, got.RangeHigh)

	// A breakout against the restored range is honored.
	tr := m.Step([]models.Candle{
		{Time: time.Date(2025, 10, 20, 11, 15, 0, 0, util.IST()), Open: 24450, High: 24580, Low: 24420, Close: 24560},
	}, time.Date(2025, 10, 20, 12, 16, 0, 0, util.IST()))
	assert.Equal(t, KindConsumed, tr.Kind)
}

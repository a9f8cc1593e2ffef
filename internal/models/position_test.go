package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFillAccounting(t *testing.T) {
	p := NewOpenPosition("ORD1", "NIFTY28OCT2524500CE", "NIFTY", 24500, SideCE,
		100, 4, 75, 20, time.Now().Add(48*time.Hour))
	assert.Equal(t, 80.0, p.StopLoss)
	assert.Equal(t, 100.0, p.TrailAnchor)

	p.RecordFill(2, 140)
	assert.Equal(t, 2, p.RemainingLots)
	assert.False(t, p.Closed)
	assert.InDelta(t, 40.0*150, p.RealizedPnL, 1e-9)

	p.RecordFill(2, 120)
	assert.True(t, p.Closed)
	assert.InDelta(t, 40.0*150+20.0*150, p.RealizedPnL, 1e-9)
	assert.InDelta(t, 130, p.ExitVWAP(), 1e-9, "equal-size fills average evenly")
}

func TestExitVWAPEmpty(t *testing.T) {
	p := NewOpenPosition("ORD1", "X", "NIFTY", 24500, SideCE, 100, 2, 75, 20, time.Now())
	assert.Zero(t, p.ExitVWAP())
}

func TestPositionValidate(t *testing.T) {
	good := NewOpenPosition("ORD1", "X", "NIFTY", 24500, SideCE, 100, 2, 75, 20, time.Now())
	require.NoError(t, good.Validate())

	over := *good
	over.RemainingLots = 3
	assert.Error(t, over.Validate())

	mismatch := *good
	mismatch.Closed = true
	assert.Error(t, mismatch.Validate())

	badEntry := *good
	badEntry.EntryPrice = 0
	assert.Error(t, badEntry.Validate())
}

func TestFingerprintStability(t *testing.T) {
	ts := time.Date(2025, 10, 20, 12, 15, 0, 500_000_000, time.UTC)
	a := NewFingerprint(SideCE, 24550, 24500, 24300, ts)
	b := NewFingerprint(SideCE, 24550, 24500, 24300, ts.Truncate(time.Second))
	assert.Equal(t, a.String(), b.String(), "sub-second jitter does not change the key")

	c := NewFingerprint(SidePE, 24550, 24500, 24300, ts)
	assert.NotEqual(t, a.String(), c.String())
}

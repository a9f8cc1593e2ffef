package statestore

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/models"
)

func discard() *log.Logger { return log.New(io.Discard, "", 0) }

func TestSnapshotAndRestore(t *testing.T) {
	dir := t.TempDir()

	s, err := New(dir, 10, discard())
	require.NoError(t, err)

	pos := models.NewOpenPosition("ORD1", "NIFTY28OCT2524500CE", "NIFTY", 24500,
		models.SideCE, 100, 2, 75, 20, time.Date(2025, 10, 28, 15, 30, 0, 0, time.UTC))
	require.NoError(t, s.Update(func(st *State) {
		st.OpenPositions[pos.OrderID] = pos
		st.DailyDate = "2025-10-27"
		st.DailyPnL = -1500
		st.ExecutionArmed = true
	}))

	// A fresh store over the same directory restores the snapshot.
	s2, err := New(dir, 10, discard())
	require.NoError(t, err)
	st := s2.Get()
	require.Contains(t, st.OpenPositions, "ORD1")
	assert.Equal(t, 100.0, st.OpenPositions["ORD1"].EntryPrice)
	assert.Equal(t, -1500.0, st.DailyPnL)
	assert.True(t, st.ExecutionArmed)
	assert.False(t, st.UpdatedAt.IsZero())
}

func TestGetReturnsCopies(t *testing.T) {
	s, err := New(t.TempDir(), 10, discard())
	require.NoError(t, err)

	pos := models.NewOpenPosition("ORD1", "TS", "NIFTY", 24500, models.SideCE, 100, 2, 75, 20, time.Time{})
	require.NoError(t, s.Update(func(st *State) { st.OpenPositions["ORD1"] = pos }))

	got := s.Get()
	got.OpenPositions["ORD1"].StopLoss = 999
	got.Fingerprints["x"] = time.Now()

	fresh := s.Get()
	assert.Equal(t, 80.0, fresh.OpenPositions["ORD1"].StopLoss)
	assert.Empty(t, fresh.Fingerprints)
}

func TestSnapshotRetention(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 3, discard())
	require.NoError(t, err)

	// Force distinct snapshot names per write.
	for i := 0; i < 6; i++ {
		require.NoError(t, s.Update(func(st *State) { st.DailyPnL = float64(i) }))
		s.mu.Lock()
		s.state.UpdatedAt = s.state.UpdatedAt.Add(time.Duration(i+1) * time.Second)
		require.NoError(t, s.snapshotLocked())
		require.NoError(t, s.pruneLocked())
		s.mu.Unlock()
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var snaps []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "snapshot_") {
			snaps = append(snaps, e.Name())
		}
	}
	assert.LessOrEqual(t, len(snaps), 3)
}

func TestEventLogRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 10, discard())
	require.NoError(t, err)

	base := time.Date(2025, 10, 27, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.AppendEvents([]models.Event{
		{Type: models.EventTradeExecuted, Data: map[string]any{"order_id": "ORD1"}, Timestamp: base},
		{Type: models.EventPositionClosed, Data: map[string]any{"order_id": "ORD1"}, Timestamp: base.Add(time.Hour)},
	}))

	all, err := s.EventsSince(time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	since, err := s.EventsSince(base)
	require.NoError(t, err)
	require.Len(t, since, 1)
	assert.Equal(t, models.EventPositionClosed, since[0].Type)
}

func TestEventLogSkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 10, discard())
	require.NoError(t, err)

	require.NoError(t, s.AppendEvents([]models.Event{
		{Type: models.EventStateChanged, Timestamp: time.Now().UTC()},
	}))
	f, err := os.OpenFile(filepath.Join(dir, eventLogName), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, s.AppendEvents([]models.Event{
		{Type: models.EventStateStale, Timestamp: time.Now().UTC()},
	}))

	events, err := s.EventsSince(time.Time{})
	require.NoError(t, err)
	assert.Len(t, events, 2, "corrupt line skipped, valid lines kept")
}

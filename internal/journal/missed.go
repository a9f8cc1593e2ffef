package journal

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/models"
)

var missedHeader = []string{
	"id", "timestamp", "symbol", "direction", "strike",
	"range_high", "range_low", "breakout_time", "reason",
}

// MissedJournal is the append-only log of signals the engine saw but
// refused to trade, with the gate that refused them.
type MissedJournal struct {
	mu     sync.Mutex
	path   string
	logger *log.Logger
}

// NewMissed opens (or creates) the missed-trade journal at path.
func NewMissed(path string, logger *log.Logger) (*MissedJournal, error) {
	m := &MissedJournal{path: path, logger: logger}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := m.writeHeader(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Record appends one missed trade. An ID is assigned if missing.
func (m *MissedJournal) Record(mt models.MissedTrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if mt.ID == "" {
		mt.ID = ulid.Make().String()
	}
	if mt.Timestamp.IsZero() {
		mt.Timestamp = time.Now().UTC()
	}

	f, err := os.OpenFile(m.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening missed journal: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{
		mt.ID,
		mt.Timestamp.UTC().Format(time.RFC3339),
		mt.Symbol,
		string(mt.Direction),
		strconv.Itoa(mt.Strike),
		formatFloat(mt.RangeHigh),
		formatFloat(mt.RangeLow),
		mt.BreakoutTime.UTC().Format(time.RFC3339),
		mt.Reason,
	}); err != nil {
		return fmt.Errorf("writing missed row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing missed journal: %w", err)
	}
	m.logger.Printf("Missed trade: %s %s strike %d (%s)", mt.Direction, mt.Symbol, mt.Strike, mt.Reason)
	return nil
}

// All returns every missed trade, oldest first.
func (m *MissedJournal) All() ([]models.MissedTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := os.Open(m.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening missed journal: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading missed journal: %w", err)
	}
	var out []models.MissedTrade
	for i, row := range rows {
		if i == 0 {
			continue
		}
		mt, err := parseMissedRow(row)
		if err != nil {
			return nil, fmt.Errorf("missed row %d: %w", i+1, err)
		}
		out = append(out, mt)
	}
	return out, nil
}

func (m *MissedJournal) writeHeader() error {
	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating missed journal dir: %w", err)
		}
	}
	f, err := os.Create(m.path)
	if err != nil {
		return fmt.Errorf("creating missed journal: %w", err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(missedHeader); err != nil {
		return fmt.Errorf("writing missed header: %w", err)
	}
	w.Flush()
	return w.Error()
}

func parseMissedRow(row []string) (models.MissedTrade, error) {
	var mt models.MissedTrade
	if len(row) != len(missedHeader) {
		return mt, fmt.Errorf("expected %d columns, got %d", len(missedHeader), len(row))
	}
	ts, err := time.Parse(time.RFC3339, row[1])
	if err != nil {
		return mt, fmt.Errorf("timestamp: %w", err)
	}
	strike, err := strconv.Atoi(row[4])
	if err != nil {
		return mt, fmt.Errorf("strike: %w", err)
	}
	high, err := strconv.ParseFloat(row[5], 64)
	if err != nil {
		return mt, fmt.Errorf("range_high: %w", err)
	}
	low, err := strconv.ParseFloat(row[6], 64)
	if err != nil {
		return mt, fmt.Errorf("range_low: %w", err)
	}
	bt, err := time.Parse(time.RFC3339, row[7])
	if err != nil {
		return mt, fmt.Errorf("breakout_time: %w", err)
	}
	mt = models.MissedTrade{
		ID:           row[0],
		Timestamp:    ts,
		Symbol:       row[2],
		Direction:    models.Side(row[3]),
		Strike:       strike,
		RangeHigh:    high,
		RangeLow:     low,
		BreakoutTime: bt,
		Reason:       row[8],
	}
	return mt, nil
}

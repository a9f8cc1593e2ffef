// Package journal persists trade and missed-trade records as CSV files
// that survive restarts and feed the dashboard and backtest reports.
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
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/util"
)

var tradeHeader = []string{
	"id", "timestamp", "symbol", "tradingsymbol", "strike", "direction",
	"order_id", "entry", "sl", "tp", "exit", "pnl", "status",
	"pre_reason", "post_outcome", "quantity",
}

// Journal is the append-mostly trade log. Rows are added on entry and
// updated in place on exit, keyed by order ID; updates are idempotent
// so a crash between SELL fill and journal write cannot double-close a
// row on replay.
type Journal struct {
	mu      sync.Mutex
	path    string
	logger  *log.Logger
	records []models.TradeRecord
}

// New opens (or creates) the journal at path and loads existing rows.
func New(path string, logger *log.Logger) (*Journal, error) {
	j := &Journal{path: path, logger: logger}
	if err := j.load(); err != nil {
		return nil, err
	}
	return j, nil
}

// RecordEntry appends a new open trade row. A ULID is assigned when the
// record has no ID yet.
func (j *Journal) RecordEntry(rec models.TradeRecord) (models.TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = models.TradeOpen
	}
	j.records = append(j.records, rec)
	if err := j.persist(); err != nil {
		return rec, err
	}
	j.logger.Printf("Journal: %s %s %d lots @ %.2f (%s)",
		rec.Status, rec.TradingSymbol, rec.Quantity, rec.Entry, rec.OrderID)
	return rec, nil
}

// RecordExit closes the open row with the given order ID. Closing an
// already-closed row is a no-op so replays stay safe.
func (j *Journal) RecordExit(orderID string, exitPrice, pnl float64, outcome string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	for i := range j.records {
		if j.records[i].OrderID != orderID {
			continue
		}
		if j.records[i].Status == models.TradeClosed {
			j.logger.Printf("Journal: exit for %s already recorded, skipping", orderID)
			return nil
		}
		j.records[i].Exit = exitPrice
		j.records[i].PnL = pnl
		j.records[i].Status = models.TradeClosed
		j.records[i].PostOutcome = outcome
		if err := j.persist(); err != nil {
			return err
		}
		j.logger.Printf("Journal: closed %s exit %.2f pnl %.2f (%s)", orderID, exitPrice, pnl, outcome)
		return nil
	}
	return fmt.Errorf("journal: no row for order %s", orderID)
}

// All returns a copy of every row, oldest first.
func (j *Journal) All() []models.TradeRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]models.TradeRecord(nil), j.records...)
}

// OpenRows returns the rows whose positions are still live.
func (j *Journal) OpenRows() []models.TradeRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []models.TradeRecord
	for _, r := range j.records {
		if r.Status == models.TradeOpen {
			out = append(out, r)
		}
	}
	return out
}

// RealizedPnLOn sums closed-row PnL for trades entered on the given IST
// date. The daily loss gate reads this at startup after a same-day
// restart.
func (j *Journal) RealizedPnLOn(date time.Time) float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	var total float64
	for _, r := range j.records {
		if r.Status == models.TradeClosed && util.SameISTDate(r.Timestamp, date) {
			total += r.PnL
		}
	}
	return total
}

func (j *Journal) load() error {
	f, err := os.Open(j.path)
	if os.IsNotExist(err) {
		return j.persistLocked()
	}
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return fmt.Errorf("reading journal: %w", err)
	}
	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		rec, err := parseTradeRow(row)
		if err != nil {
			return fmt.Errorf("journal row %d: %w", i+1, err)
		}
		j.records = append(j.records, rec)
	}
	return nil
}

func (j *Journal) persist() error {
	return j.persistLocked()
}

// persistLocked writes the whole journal to a temp file and renames it
// into place, so a crash mid-write never truncates history.
func (j *Journal) persistLocked() error {
	if dir := filepath.Dir(j.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating journal dir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(j.path), ".journal-*.tmp")
	if err != nil {
		return fmt.Errorf("creating journal temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(tradeHeader); err != nil {
		tmp.Close()
		return fmt.Errorf("writing journal header: %w", err)
	}
	for _, rec := range j.records {
		if err := w.Write(formatTradeRow(rec)); err != nil {
			tmp.Close()
			return fmt.Errorf("writing journal row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flushing journal: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing journal temp file: %w", err)
	}
	return os.Rename(tmp.Name(), j.path)
}

func formatTradeRow(r models.TradeRecord) []string {
	return []string{
		r.ID,
		r.Timestamp.UTC().Format(time.RFC3339),
		r.Symbol,
		r.TradingSymbol,
		strconv.Itoa(r.Strike),
		string(r.Direction),
		r.OrderID,
		formatFloat(r.Entry),
		formatFloat(r.SL),
		formatFloat(r.TP),
		formatFloat(r.Exit),
		formatFloat(r.PnL),
		string(r.Status),
		r.PreReason,
		r.PostOutcome,
		strconv.Itoa(r.Quantity),
	}
}

func parseTradeRow(row []string) (models.TradeRecord, error) {
	var rec models.TradeRecord
	if len(row) != len(tradeHeader) {
		return rec, fmt.Errorf("expected %d columns, got %d", len(tradeHeader), len(row))
	}
	ts, err := time.Parse(time.RFC3339, row[1])
	if err != nil {
		return rec, fmt.Errorf("timestamp: %w", err)
	}
	strike, err := strconv.Atoi(row[4])
	if err != nil {
		return rec, fmt.Errorf("strike: %w", err)
	}
	qty, err := strconv.Atoi(row[15])
	if err != nil {
		return rec, fmt.Errorf("quantity: %w", err)
	}
	floats := make([]float64, 5)
	for i, col := range []int{7, 8, 9, 10, 11} {
		v, err := strconv.ParseFloat(row[col], 64)
		if err != nil {
			return rec, fmt.Errorf("column %s: %w", tradeHeader[col], err)
		}
		floats[i] = v
	}
	rec = models.TradeRecord{
		ID:            row[0],
		Timestamp:     ts,
		Symbol:        row[2],
		TradingSymbol: row[3],
		Strike:        strike,
		Direction:     models.Side(row[5]),
		OrderID:       row[6],
		Entry:         floats[0],
		SL:            floats[1],
		TP:            floats[2],
		Exit:          floats[3],
		PnL:           floats[4],
		Status:        models.TradeStatus(row[12]),
		PreReason:     row[13],
		PostOutcome:   row[14],
		Quantity:      qty,
	}
	return rec, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

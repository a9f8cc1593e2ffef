package histdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/models"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/util"
)

// Accepted timestamp layouts. Bare layouts are parsed as IST wall time.
var csvTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ImportCSV reads candles from r and upserts them for (symbol, kind).
// The expected header is timestamp,open,high,low,close[,volume];
// column order is taken from the header, extra columns are ignored.
// Returns the number of rows imported.
func (s *Store) ImportCSV(r io.Reader, symbol string, kind Kind) (int, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return 0, fmt.Errorf("reading csv header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, col := range header {
		idx[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, required := range []string{"timestamp", "open", "high", "low", "close"} {
		if _, ok := idx[required]; !ok {
			return 0, fmt.Errorf("csv missing column %q", required)
		}
	}

	var batch []models.Candle
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return 0, fmt.Errorf("csv line %d: %w", line, err)
		}

		ts, err := parseCSVTime(rec[idx["timestamp"]])
		if err != nil {
			return 0, fmt.Errorf("csv line %d: %w", line, err)
		}
		c := models.Candle{Time: ts}
		for col, dst := range map[string]*float64{
			"open": &c.Open, "high": &c.High, "low": &c.Low, "close": &c.Close,
		} {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[idx[col]]), 64)
			if err != nil {
				return 0, fmt.Errorf("csv line %d, column %s: %w", line, col, err)
			}
			*dst = v
		}
		if vi, ok := idx["volume"]; ok && vi < len(rec) && strings.TrimSpace(rec[vi]) != "" {
			v, err := strconv.ParseInt(strings.TrimSpace(rec[vi]), 10, 64)
			if err != nil {
				return 0, fmt.Errorf("csv line %d, column volume: %w", line, err)
			}
			c.Volume = v
		}
		if c.High < c.Low {
			return 0, fmt.Errorf("csv line %d: high %.2f below low %.2f", line, c.High, c.Low)
		}
		batch = append(batch, c)
	}

	if len(batch) == 0 {
		return 0, nil
	}
	if err := s.Upsert(symbol, kind, batch); err != nil {
		return 0, err
	}
	return len(batch), nil
}

func parseCSVTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for i, layout := range csvTimeLayouts {
		var t time.Time
		var err error
		if i == 0 {
			t, err = time.Parse(layout, s)
		} else {
			t, err = time.ParseInLocation(layout, s, util.IST())
		}
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

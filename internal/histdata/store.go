// Package histdata stores historical spot and option candles in sqlite
// for the backtester and for warm-starting the live aligner.
package histdata

import (
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/models"
)

// Kind separates index candles from option premium candles.
type Kind string

const (
	// KindSpot marks index (underlying) candles.
	KindSpot Kind = "spot"
	// KindOption marks option premium candles, keyed by tradingsymbol.
	KindOption Kind = "option"
)

const schema = `
CREATE TABLE IF NOT EXISTS candles (
	symbol TEXT    NOT NULL,
	kind   TEXT    NOT NULL,
	ts     INTEGER NOT NULL,
	open   REAL    NOT NULL,
	high   REAL    NOT NULL,
	low    REAL    NOT NULL,
	close  REAL    NOT NULL,
	volume INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (symbol, kind, ts)
);
CREATE INDEX IF NOT EXISTS idx_candles_window ON candles (symbol, kind, ts);
`

// Store is a sqlite-backed candle archive. Timestamps are stored as
// unix seconds of the bucket open.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the archive at path. Use ":memory:"
// for throwaway stores.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert writes candles for (symbol, kind), replacing rows with the
// same bucket open so re-imports are idempotent.
func (s *Store) Upsert(symbol string, kind Kind, cs []models.Candle) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO candles
		(symbol, kind, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range cs {
		if _, err := stmt.Exec(symbol, string(kind), c.Time.Unix(),
			c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			tx.Rollback()
			return fmt.Errorf("upsert candle %s: %w", c.Time.Format(time.RFC3339), err)
		}
	}
	return tx.Commit()
}

// Window returns candles for (symbol, kind) with bucket opens in
// [from, to), ascending.
func (s *Store) Window(symbol string, kind Kind, from, to time.Time) ([]models.Candle, error) {
	rows, err := s.db.Query(`SELECT ts, open, high, low, close, volume FROM candles
		WHERE symbol = ? AND kind = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC`,
		symbol, string(kind), from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("query window: %w", err)
	}
	defer rows.Close()

	var out []models.Candle
	for rows.Next() {
		var ts int64
		var c models.Candle
		if err := rows.Scan(&ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Time = time.Unix(ts, 0).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// OptionStrikes returns the distinct strikes archived for one
// underlying, expiry token (DDMMMYY) and side, ascending.
// Tradingsymbols that do not parse are skipped.
func (s *Store) OptionStrikes(symbol, expiryToken string, side models.Side) ([]int, error) {
	prefix := symbol + expiryToken
	suffix := string(side)
	rows, err := s.db.Query(`SELECT DISTINCT symbol FROM candles
		WHERE kind = ? AND symbol LIKE ?`, string(KindOption), prefix+"%"+suffix)
	if err != nil {
		return nil, fmt.Errorf("querying strikes: %w", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var ts string
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("scanning strike row: %w", err)
		}
		if len(ts) <= len(prefix)+len(suffix) {
			continue
		}
		strike, err := strconv.Atoi(ts[len(prefix) : len(ts)-len(suffix)])
		if err != nil {
			continue
		}
		out = append(out, strike)
	}
	sort.Ints(out)
	return out, rows.Err()
}

// Bounds returns the first and last bucket opens stored for
// (symbol, kind), or ok=false when the archive has none.
func (s *Store) Bounds(symbol string, kind Kind) (first, last time.Time, ok bool, err error) {
	var minTS, maxTS sql.NullInt64
	err = s.db.QueryRow(`SELECT MIN(ts), MAX(ts) FROM candles WHERE symbol = ? AND kind = ?`,
		symbol, string(kind)).Scan(&minTS, &maxTS)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("query bounds: %w", err)
	}
	if !minTS.Valid {
		return time.Time{}, time.Time{}, false, nil
	}
	return time.Unix(minTS.Int64, 0).UTC(), time.Unix(maxTS.Int64, 0).UTC(), true, nil
}

// Count returns the number of stored candles for (symbol, kind).
func (s *Store) Count(symbol string, kind Kind) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM candles WHERE symbol = ? AND kind = ?`,
		symbol, string(kind)).Scan(&n)
	return n, err
}

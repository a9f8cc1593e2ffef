// Package statestore persists the engine's runtime state as timestamped
// JSON snapshots plus a JSONL event log, so a restart can restore the
// last snapshot and replay events recorded after it.
package statestore

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/models"
)

const snapshotPrefix = "snapshot_"

// State is the full persisted runtime state tree.
type State struct {
	UpdatedAt time.Time `json:"updated_at"`

	// ActiveSignal is the armed inside-bar signal, if any.
	ActiveSignal *models.ActiveSignal `json:"active_signal,omitempty"`
	// OpenPositions is keyed by entry order ID.
	OpenPositions map[string]*models.OpenPosition `json:"open_positions"`
	// Fingerprints maps executed signal fingerprints to their breakout
	// close times, for duplicate suppression.
	Fingerprints map[string]time.Time `json:"fingerprints"`

	// DailyDate is the IST date (2006-01-02) DailyPnL belongs to.
	DailyDate string `json:"daily_date"`
	// DailyPnL is realized PnL for DailyDate, in rupees.
	DailyPnL float64 `json:"daily_pnl"`
	// LossBreakerTripped latches once DailyPnL breaches the limit.
	LossBreakerTripped bool `json:"loss_breaker_tripped"`

	// ExecutionArmed gates real order placement.
	ExecutionArmed bool `json:"execution_armed"`
}

func newState() State {
	return State{
		OpenPositions: make(map[string]*models.OpenPosition),
		Fingerprints:  make(map[string]time.Time),
	}
}

// Store owns the on-disk state directory. All mutations go through
// Update, which snapshots atomically after applying the change.
type Store struct {
	mu        sync.Mutex
	dir       string
	retention int
	logger    *log.Logger
	state     State
}

// New opens the state directory and restores the newest snapshot found
// there, if any.
func New(dir string, retention int, logger *log.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	s := &Store{dir: dir, retention: retention, logger: logger, state: newState()}

	path, ok, err := s.latestSnapshotPath()
	if err != nil {
		return nil, err
	}
	if ok {
		data, err := os.ReadFile(path) // #nosec G304 -- path comes from our own directory listing
		if err != nil {
			return nil, fmt.Errorf("reading snapshot: %w", err)
		}
		var restored State
		if err := json.Unmarshal(data, &restored); err != nil {
			return nil, fmt.Errorf("parsing snapshot %s: %w", filepath.Base(path), err)
		}
		if restored.OpenPositions == nil {
			restored.OpenPositions = make(map[string]*models.OpenPosition)
		}
		if restored.Fingerprints == nil {
			restored.Fingerprints = make(map[string]time.Time)
		}
		s.state = restored
		logger.Printf("State restored from %s (%d open positions)", filepath.Base(path), len(restored.OpenPositions))
	}
	return s, nil
}

// Get returns a deep-enough copy of the state: maps are copied, position
// values are cloned.
func (s *Store) Get() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

// Update applies fn under the lock, stamps UpdatedAt and writes a new
// snapshot. The state on disk therefore always reflects the last
// completed mutation.
func (s *Store) Update(fn func(*State)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(&s.state)
	s.state.UpdatedAt = time.Now().UTC()
	if err := s.snapshotLocked(); err != nil {
		return err
	}
	return s.pruneLocked()
}

// UpdatedAt returns the last mutation time, for staleness checks.
func (s *Store) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.UpdatedAt
}

func (s *Store) copyLocked() State {
	cp := s.state
	cp.OpenPositions = make(map[string]*models.OpenPosition, len(s.state.OpenPositions))
	for k, v := range s.state.OpenPositions {
		pv := *v
		cp.OpenPositions[k] = &pv
	}
	cp.Fingerprints = make(map[string]time.Time, len(s.state.Fingerprints))
	for k, v := range s.state.Fingerprints {
		cp.Fingerprints[k] = v
	}
	if s.state.ActiveSignal != nil {
		sig := *s.state.ActiveSignal
		cp.ActiveSignal = &sig
	}
	return cp
}

// snapshotLocked writes snapshot_<YYYYMMDD_HHMMSS>.json via temp file
// and rename. Two mutations in the same second reuse the file name; the
// later write wins, which is fine since snapshots are cumulative.
func (s *Store) snapshotLocked() error {
	name := snapshotPrefix + s.state.UpdatedAt.Format("20060102_150405") + ".json"

	data, err := json.MarshalIndent(&s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("creating snapshot temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing snapshot temp file: %w", err)
	}
	return os.Rename(tmp.Name(), filepath.Join(s.dir, name))
}

func (s *Store) pruneLocked() error {
	names, err := s.snapshotNames()
	if err != nil {
		return err
	}
	for len(names) > s.retention {
		victim := names[0]
		if err := os.Remove(filepath.Join(s.dir, victim)); err != nil {
			return fmt.Errorf("pruning snapshot %s: %w", victim, err)
		}
		names = names[1:]
	}
	return nil
}

func (s *Store) latestSnapshotPath() (string, bool, error) {
	names, err := s.snapshotNames()
	if err != nil || len(names) == 0 {
		return "", false, err
	}
	return filepath.Join(s.dir, names[len(names)-1]), true, nil
}

// snapshotNames returns snapshot file names sorted oldest first. The
// timestamp format sorts lexically.
func (s *Store) snapshotNames() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing state dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), snapshotPrefix) && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

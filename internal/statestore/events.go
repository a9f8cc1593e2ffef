package statestore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/models"
)

const eventLogName = "events.jsonl"

// AppendEvents appends drained bus events to the JSONL event log. One
// JSON object per line, append-only.
func (s *Store) AppendEvents(events []models.Event) error {
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(s.dir, eventLogName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, evt := range events {
		if err := enc.Encode(evt); err != nil {
			return fmt.Errorf("writing event: %w", err)
		}
	}
	return w.Flush()
}

// EventsSince returns logged events with timestamps strictly after t,
// oldest first. Restart recovery replays these over the restored
// snapshot. Lines that fail to parse are skipped with a log line
// rather than aborting recovery.
func (s *Store) EventsSince(t time.Time) ([]models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(filepath.Join(s.dir, eventLogName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close()

	var out []models.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		var evt models.Event
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			s.logger.Printf("Event log line %d unreadable, skipping: %v", line, err)
			continue
		}
		if evt.Timestamp.After(t) {
			out = append(out, evt)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning event log: %w", err)
	}
	return out, nil
}

// Package bus is the in-process event fanout: gate refusals, fills,
// closes and reconciliation findings are published here and consumed by
// the state store's event log and the websocket hub.
package bus

import (
	"log"
	"sync"
	"time"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/models"
)

// Bus queues events and fans them out to subscribers. Publishing never
// blocks: a subscriber that falls behind loses events (with a log line)
// rather than stalling the trading loop. The queue side is drained by
// the state store, which needs every event for replay.
type Bus struct {
	mu     sync.Mutex
	queue  []models.Event
	subs   map[int]chan models.Event
	nextID int
	logger *log.Logger
}

// New creates an empty bus.
func New(logger *log.Logger) *Bus {
	return &Bus{
		subs:   make(map[int]chan models.Event),
		logger: logger,
	}
}

// Publish enqueues an event and offers it to every subscriber.
func (b *Bus) Publish(t models.EventType, data any) {
	evt := models.Event{Type: t, Data: data, Timestamp: time.Now().UTC()}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, evt)
	for id, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.logger.Printf("Event bus: subscriber %d full, dropping %s", id, t)
		}
	}
}

// Drain returns the queued events since the last drain and clears the
// queue. Exactly one consumer (the state store) should drain.
func (b *Bus) Drain() []models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil
	}
	out := b.queue
	b.queue = nil
	return out
}

// Subscribe registers a buffered listener. The returned cancel func
// unregisters and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan models.Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan models.Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

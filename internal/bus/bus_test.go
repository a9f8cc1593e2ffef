package bus

import (
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/models"
)

func newTestBus() *Bus { return New(log.New(io.Discard, "", 0)) }

func TestDrainReturnsAndClears(t *testing.T) {
	b := newTestBus()
	b.Publish(models.EventTradeExecuted, "a")
	b.Publish(models.EventPositionClosed, "b")

	events := b.Drain()
	require.Len(t, events, 2)
	assert.Equal(t, models.EventTradeExecuted, events[0].Type)
	assert.Equal(t, models.EventPositionClosed, events[1].Type)
	assert.False(t, events[0].Timestamp.IsZero())

	assert.Nil(t, b.Drain(), "second drain is empty")
}

func TestSubscribeReceivesAndCancelCloses(t *testing.T) {
	b := newTestBus()
	ch, cancel := b.Subscribe(4)

	b.Publish(models.EventStateChanged, 42)
	evt := <-ch
	assert.Equal(t, models.EventStateChanged, evt.Type)
	assert.Equal(t, 42, evt.Data)

	cancel()
	_, open := <-ch
	assert.False(t, open)
	cancel() // double cancel is safe
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := newTestBus()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish(models.EventTradeExecuted, 1)
	b.Publish(models.EventTradeExecuted, 2) // dropped, buffer full

	evt := <-ch
	assert.Equal(t, 1, evt.Data)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected event %v", extra)
	default:
	}

	// The queue side still has both for the state store.
	assert.Len(t, b.Drain(), 2)
}

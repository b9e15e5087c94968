package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEventBusSince verifies incremental event reads by sequence.
func TestEventBusSince(t *testing.T) {
	bus := NewEventBus(3)
	bus.Publish(Event{Type: EventTypeStatus, Message: "1"})
	bus.Publish(Event{Type: EventTypeStatus, Message: "2"})
	bus.Publish(Event{Type: EventTypeStatus, Message: "3"})

	events := bus.Since(1)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].Seq)
	assert.Equal(t, int64(3), events[1].Seq)
}

// TestEventBusCapsHistory verifies buffer limit trimming behavior.
func TestEventBusCapsHistory(t *testing.T) {
	bus := NewEventBus(2)
	bus.Publish(Event{Message: "1"})
	bus.Publish(Event{Message: "2"})
	bus.Publish(Event{Message: "3"})

	events := bus.Since(0)
	require.Len(t, events, 2)
	assert.Equal(t, "2", events[0].Message)
	assert.Equal(t, "3", events[1].Message)
}

// TestEventBusSubscribe verifies live fan-out and cancellation.
func TestEventBusSubscribe(t *testing.T) {
	bus := NewEventBus(10)
	ch, cancel := bus.Subscribe()

	published := bus.Publish(Event{Type: EventTypeProgress, Progress: 10})

	select {
	case got := <-ch:
		assert.Equal(t, published.Seq, got.Seq)
		assert.InDelta(t, 10.0, got.Progress, 0.001)
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the event")
	}

	cancel()
	_, open := <-ch
	assert.False(t, open)
}

// TestEventBusPublishNeverBlocks verifies a saturated subscriber does
// not stall the publisher.
func TestEventBusPublishNeverBlocks(t *testing.T) {
	bus := NewEventBus(10)
	_, cancel := bus.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			bus.Publish(Event{Type: EventTypeLog, Message: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

package jobs

import (
	"sync"
	"time"

	"media-encoder/internal/domain"
)

// EventType classifies messages emitted during batch execution.
type EventType string

const (
	EventTypeStatus   EventType = "status"
	EventTypeProgress EventType = "progress"
	EventTypeLog      EventType = "log"
	EventTypeWarning  EventType = "warning"
	EventTypeError    EventType = "error"
	EventTypeSummary  EventType = "summary"
)

// Event is a sequenced payload consumed by UI and CLI subscribers.
type Event struct {
	Seq        int64            `json:"seq"`
	Timestamp  time.Time        `json:"timestamp"`
	JobID      string           `json:"jobId,omitempty"`
	Type       EventType        `json:"type"`
	Status     domain.JobStatus `json:"status,omitempty"`
	Progress   float64          `json:"progress,omitempty"`
	Message    string           `json:"message,omitempty"`
	SourcePath string           `json:"sourcePath,omitempty"`
	OutputPath string           `json:"outputPath,omitempty"`
	Stderr     string           `json:"stderr,omitempty"`

	// Summary counters, set on EventTypeSummary only.
	Succeeded int `json:"succeeded,omitempty"`
	Failed    int `json:"failed,omitempty"`
	Cancelled int `json:"cancelled,omitempty"`
}

// subscriberBuffer sizes each subscription channel; slow consumers
// lose events rather than stalling the runner.
const subscriberBuffer = 256

// EventBus stores recent events, provides incremental reads, and fans
// events out to live subscribers without ever blocking the publisher.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
	subs      map[int]chan Event
	nextSub   int
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
		subs:      make(map[int]chan Event),
	}
}

// Publish appends one event, assigns sequence and timestamp, and
// fans it out to subscribers.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
	b.mu.Unlock()

	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// Subscribe registers a live event channel. The returned cancel
// function must be called to release the subscription.
func (b *EventBus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

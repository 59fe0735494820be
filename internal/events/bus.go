// Package events provides an in-memory event bus using Go channels.
package events

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrBusClosed = errors.New("event bus is closed")
)

// EventType represents the type of event.
type EventType string

const (
	// User → Assistant
	EventUserMessage EventType = "user.message"

	// Assistant → Client
	EventAssistantStream  EventType = "assistant.stream"
	EventAssistantMessage EventType = "assistant.message"

	// Mode / session lifecycle
	EventModeChanged    EventType = "mode.changed"
	EventSessionCreated EventType = "session.created"
	EventSessionClosed  EventType = "session.closed"

	// Internal (analytics/tracing)
	EventLLMCall EventType = "internal.llm.call"
)

// EventSource identifies the component that emitted an event.
type EventSource string

const (
	SourceChat EventSource = "chat"
	SourceWS   EventSource = "ws"
	SourceCLI  EventSource = "cli"
)

// Event represents an event in the system.
type Event struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id,omitempty"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    EventSource    `json:"source"`
	Payload   map[string]any `json:"payload"`
}

var eventSeq atomic.Uint64

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType, source EventSource, payload map[string]any) Event {
	return Event{
		ID:        generateEventID(),
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    source,
		Payload:   payload,
	}
}

// NewEventWithSession creates a new event with session context.
func NewEventWithSession(eventType EventType, source EventSource, payload map[string]any, sessionID string) Event {
	e := NewEvent(eventType, source, payload)
	e.SessionID = sessionID
	return e
}

func generateEventID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), eventSeq.Add(1))
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// subscription feeds one handler from its own goroutine. A handler sees events in
// publish order, and a slow handler only delays itself.
type subscription struct {
	types   []EventType
	handler Subscriber
	queue   chan Event
	done    chan struct{}
	once    sync.Once
}

func (s *subscription) wants(t EventType) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

func (s *subscription) run() {
	for {
		select {
		case e := <-s.queue:
			s.handler(e)
		case <-s.done:
			return
		}
	}
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// Bus is an in-memory event bus. Published events go through one dispatch goroutine
// that records them in the history and hands them to matching subscriptions.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]*subscription
	nextID  int
	queueSz int

	in      chan Event
	history *history
	closed  atomic.Bool
	done    chan struct{}
}

// NewBus creates a bus whose inbound queue, per-subscriber queues and history all hold
// bufferSize events.
func NewBus(bufferSize int) *Bus {
	bufferSize = max(bufferSize, 1)
	b := &Bus{
		subs:    make(map[int]*subscription),
		queueSz: bufferSize,
		in:      make(chan Event, bufferSize),
		history: newHistory(bufferSize),
		done:    make(chan struct{}),
	}
	go b.dispatch()
	return b
}

func (b *Bus) dispatch() {
	for {
		select {
		case e := <-b.in:
			b.history.add(e)
			b.deliver(e)
		case <-b.done:
			return
		}
	}
}

func (b *Bus) deliver(e Event) {
	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.wants(e.Type) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.queue <- e:
		case <-sub.done:
		case <-b.done:
			return
		}
	}
}

// Publish sends an event to the bus. The event is dropped if the bus is saturated.
func (b *Bus) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.in <- event:
	default:
	}
}

// PublishAsync sends an event, waiting for room in the bus until ctx is done.
func (b *Bus) PublishAsync(ctx context.Context, event Event) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	select {
	case b.in <- event:
		return nil
	case <-b.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a handler for the given event types, or for every type when
// none are given. It returns the unsubscribe function.
func (b *Bus) Subscribe(handler Subscriber, eventTypes ...EventType) func() {
	sub := &subscription{
		types:   eventTypes,
		handler: handler,
		queue:   make(chan Event, b.queueSz),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	go sub.run()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		sub.stop()
	}
}

// SubscribeChan returns a channel that receives events. Events are dropped while the
// channel is full. The returned function unsubscribes and closes the channel.
func (b *Bus) SubscribeChan(bufSize int, eventTypes ...EventType) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	var (
		mu     sync.Mutex
		closed bool
	)

	unsubscribe := b.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- e:
		default:
		}
	}, eventTypes...)

	return ch, func() {
		unsubscribe()
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(ch)
		}
	}
}

// History returns up to limit of the most recent events, oldest first.
func (b *Bus) History(limit int) []Event {
	return b.history.last(limit)
}

// Close stops dispatching and every subscription. Later publishes are ignored.
func (b *Bus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	close(b.done)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		sub.stop()
	}
}

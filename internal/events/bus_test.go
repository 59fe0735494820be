package events

import (
	"context"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus(64)
	defer bus.Close()

	var mu sync.Mutex
	var received []Event

	bus.Subscribe(func(e Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	}, EventUserMessage)

	bus.Publish(NewTypedEvent(SourceChat, UserMessagePayload{Content: "hello"}))
	bus.Publish(NewTypedEvent(SourceChat, AssistantStreamPayload{Phase: StreamPhaseStart}))

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if len(received) != 1 {
		t.Fatalf("expected 1 event, got %d", len(received))
	}
	if received[0].Type != EventUserMessage {
		t.Errorf("expected user.message, got %s", received[0].Type)
	}
}

func TestBusSubscribeAll(t *testing.T) {
	bus := NewBus(64)
	defer bus.Close()

	var mu sync.Mutex
	count := 0

	bus.Subscribe(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish(NewTypedEvent(SourceChat, UserMessagePayload{Content: "hello"}))
	bus.Publish(NewTypedEvent(SourceChat, AssistantStreamPayload{Phase: StreamPhaseStart}))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 2
	})
}

func TestBusPreservesOrderPerSubscriber(t *testing.T) {
	bus := NewBus(256)
	defer bus.Close()

	var mu sync.Mutex
	var got []int

	bus.Subscribe(func(e Event) {
		p, _ := GetAssistantStreamPayload(e)
		mu.Lock()
		got = append(got, p.Index)
		mu.Unlock()
	}, EventAssistantStream)

	const n = 100
	ctx := context.Background()
	for i := 0; i < n; i++ {
		evt := NewTypedEvent(SourceChat, AssistantStreamPayload{Phase: StreamPhaseDelta, Index: i})
		if err := bus.PublishAsync(ctx, evt); err != nil {
			t.Fatalf("PublishAsync: %v", err)
		}
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	})

	mu.Lock()
	defer mu.Unlock()
	for i, idx := range got {
		if idx != i {
			t.Fatalf("event %d delivered out of order (index %d)", i, idx)
		}
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	var mu sync.Mutex
	count := 0
	unsub := bus.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	unsub()

	bus.Publish(NewTypedEvent(SourceChat, UserMessagePayload{Content: "ignored"}))
	waitFor(t, func() bool { return len(bus.History(10)) == 1 })
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Fatalf("unsubscribed handler received %d events", count)
	}
}

func TestPublishAsyncAfterClose(t *testing.T) {
	bus := NewBus(4)
	bus.Close()

	err := bus.PublishAsync(context.Background(), NewTypedEvent(SourceChat, UserMessagePayload{}))
	if err != ErrBusClosed {
		t.Fatalf("expected ErrBusClosed, got %v", err)
	}
}

func TestHistoryKeepsMostRecent(t *testing.T) {
	h := newHistory(3)

	for i := 0; i < 5; i++ {
		h.add(NewEvent(EventUserMessage, SourceChat, map[string]any{"i": i}))
	}

	if got := h.last(0); got != nil {
		t.Fatalf("expected nil for n=0, got %d events", len(got))
	}
	if got := h.last(1); len(got) != 1 || got[0].Payload["i"] != 4 {
		t.Fatalf("expected newest event i=4, got %+v", got)
	}

	events := h.last(10)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Payload["i"] != 2 {
		t.Fatalf("expected oldest retained event i=2, got %v", events[0].Payload["i"])
	}
}

func TestSubscribeChan(t *testing.T) {
	bus := NewBus(64)
	defer bus.Close()

	ch, unsub := bus.SubscribeChan(8, EventUserMessage)
	defer unsub()

	bus.Publish(NewTypedEvent(SourceChat, UserMessagePayload{Content: "hello"}))

	select {
	case e := <-ch:
		if e.Type != EventUserMessage {
			t.Errorf("expected user.message, got %s", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dohr-michael/neorix/internal/events"
)

func TestEventLogger_WriteAndReadBack(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus(64)
	defer bus.Close()

	el := NewEventLogger(dir, bus)
	defer el.Close()

	bus.Publish(events.Event{
		ID:        "evt-1",
		Type:      events.EventUserMessage,
		Timestamp: time.Now(),
		Source:    events.SourceWS,
		Payload:   map[string]any{"content": "salom"},
	})

	// Give the async subscriber time to process.
	time.Sleep(100 * time.Millisecond)

	data, err := os.ReadFile(filepath.Join(dir, "_global.jsonl"))
	if err != nil {
		t.Fatalf("read JSONL: %v", err)
	}

	var got events.Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != "evt-1" {
		t.Errorf("got ID %q, want %q", got.ID, "evt-1")
	}
	if got.Type != events.EventUserMessage {
		t.Errorf("got type %q, want %q", got.Type, events.EventUserMessage)
	}
}

func TestEventLogger_SessionRouting(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus(64)
	defer bus.Close()

	el := NewEventLogger(dir, bus)
	defer el.Close()

	bus.Publish(events.NewTypedEvent(events.SourceWS, events.UserMessagePayload{Content: "global"}))
	bus.Publish(events.NewTypedEventWithSession(events.SourceChat,
		events.AssistantMessagePayload{Content: "Salom!"}, "conv_abc123"))

	time.Sleep(100 * time.Millisecond)

	if _, err := os.Stat(filepath.Join(dir, "_global.jsonl")); err != nil {
		t.Fatalf("_global.jsonl missing: %v", err)
	}

	got, err := ReadEvents(dir, "conv_abc123")
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	p, ok := events.GetAssistantMessagePayload(got[0])
	if !ok || p.Content != "Salom!" {
		t.Errorf("payload = %+v", p)
	}
}

func TestEventLogger_SkipsDeltas(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus(64)
	defer bus.Close()

	el := NewEventLogger(dir, bus)
	defer el.Close()

	const id = "conv_stream"
	for _, p := range []events.AssistantStreamPayload{
		{Phase: events.StreamPhaseStart},
		{Phase: events.StreamPhaseDelta, Content: "Sal", Index: 0},
		{Phase: events.StreamPhaseDelta, Content: "om", Index: 1},
		{Phase: events.StreamPhaseEnd, Index: 2},
	} {
		bus.Publish(events.NewTypedEventWithSession(events.SourceChat, p, id))
	}

	time.Sleep(100 * time.Millisecond)

	got, err := ReadEvents(dir, id)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want start and end only", len(got))
	}
	for _, e := range got {
		p, _ := events.GetAssistantStreamPayload(e)
		if p.Phase == events.StreamPhaseDelta {
			t.Errorf("delta persisted: %+v", p)
		}
	}
}

func TestEventLogger_DirectoryAutoCreation(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	bus := events.NewBus(64)
	defer bus.Close()

	el := NewEventLogger(dir, bus)
	defer el.Close()

	bus.Publish(events.NewTypedEvent(events.SourceWS, events.ModeChangedPayload{From: "general", To: "fast"}))

	time.Sleep(100 * time.Millisecond)

	if _, err := os.Stat(filepath.Join(dir, "_global.jsonl")); err != nil {
		t.Fatalf("directory not auto-created: %v", err)
	}
}

func TestReadEvents_Missing(t *testing.T) {
	got, err := ReadEvents(t.TempDir(), "conv_none")
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no events, got %d", len(got))
	}
}

func TestReadEvents_SkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	content := `{"id":"a","type":"user.message"}` + "\nnot json\n" + `{"id":"b","type":"mode.changed"}` + "\n"
	if err := os.WriteFile(filepath.Join(dir, "conv_x.jsonl"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ReadEvents(dir, "conv_x")
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("got %+v", got)
	}
}

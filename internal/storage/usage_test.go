package storage

import (
	"testing"
	"time"

	"github.com/dohr-michael/neorix/internal/events"
	"github.com/dohr-michael/neorix/internal/sessions"
)

func publishLLMEvent(bus *events.Bus, sessionID, phase string, tokensIn, tokensOut int) {
	payload := events.LLMCallPayload{
		Phase:        phase,
		Model:        "gemini-3-flash-preview",
		Provider:     "gemini",
		TokensInput:  tokensIn,
		TokensOutput: tokensOut,
	}
	bus.Publish(events.NewTypedEventWithSession(events.SourceChat, payload, sessionID))
}

func TestUsageTracker_Accumulation(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()

	store := sessions.NewFileStore(t.TempDir())
	sess, err := store.Create("")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	ut := NewUsageTracker(bus, store)
	defer ut.Close()

	publishLLMEvent(bus, sess.ID, "response", 100, 50)
	publishLLMEvent(bus, sess.ID, "response", 200, 80)

	time.Sleep(150 * time.Millisecond)

	got, err := store.Get(sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.TokenUsage.Input != 300 {
		t.Errorf("input tokens: got %d, want 300", got.TokenUsage.Input)
	}
	if got.TokenUsage.Output != 130 {
		t.Errorf("output tokens: got %d, want 130", got.TokenUsage.Output)
	}

	total := ut.Totals()["gemini-3-flash-preview"]
	if total.Calls != 2 || total.Input != 300 || total.Output != 130 {
		t.Errorf("totals = %+v", total)
	}
}

func TestUsageTracker_ErrorsCounted(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()

	store := sessions.NewFileStore(t.TempDir())
	sess, err := store.Create("")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	ut := NewUsageTracker(bus, store)
	defer ut.Close()

	publishLLMEvent(bus, sess.ID, "error", 100, 0)
	publishLLMEvent(bus, sess.ID, "request", 100, 0)

	time.Sleep(150 * time.Millisecond)

	got, err := store.Get(sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.TokenUsage.Input != 0 {
		t.Errorf("input tokens: got %d, want 0", got.TokenUsage.Input)
	}

	total := ut.Totals()["gemini-3-flash-preview"]
	if total.Errors != 1 || total.Calls != 1 {
		t.Errorf("totals = %+v", total)
	}
}

func TestUsageTracker_NoStore(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()

	ut := NewUsageTracker(bus, nil)
	defer ut.Close()

	publishLLMEvent(bus, "conv_x", "response", 10, 5)
	publishLLMEvent(bus, "", "response", 1, 1)

	time.Sleep(150 * time.Millisecond)

	total := ut.Totals()["gemini-3-flash-preview"]
	if total.Input != 11 || total.Output != 6 {
		t.Errorf("totals = %+v", total)
	}
}

func TestUsageTracker_UnknownSession(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()

	ut := NewUsageTracker(bus, sessions.NewFileStore(t.TempDir()))
	defer ut.Close()

	// Must not panic.
	publishLLMEvent(bus, "conv_missing", "response", 10, 5)
	time.Sleep(100 * time.Millisecond)
}

// Package storage holds bus subscribers that keep derived records: token usage
// totals and the JSONL event log.
package storage

import (
	"log/slog"
	"maps"
	"sync"

	"github.com/dohr-michael/neorix/internal/events"
	"github.com/dohr-michael/neorix/internal/sessions"
)

// ModelUsage is the accumulated usage of one model.
type ModelUsage struct {
	Calls  int `json:"calls"`
	Errors int `json:"errors"`
	Input  int `json:"input"`
	Output int `json:"output"`
}

// UsageTracker subscribes to LLM call events. It keeps per-model totals in memory and,
// when a store is set, adds token counts to the archived session.
type UsageTracker struct {
	mu          sync.Mutex
	store       sessions.Store
	totals      map[string]ModelUsage
	unsubscribe func()
}

// NewUsageTracker creates a UsageTracker. store may be nil.
func NewUsageTracker(bus *events.Bus, store sessions.Store) *UsageTracker {
	ut := &UsageTracker{
		store:  store,
		totals: make(map[string]ModelUsage),
	}
	ut.unsubscribe = bus.Subscribe(ut.handleEvent, events.EventLLMCall)
	return ut
}

// Close unsubscribes the tracker from the event bus.
func (ut *UsageTracker) Close() {
	if ut.unsubscribe != nil {
		ut.unsubscribe()
	}
}

// Totals returns a copy of the per-model totals.
func (ut *UsageTracker) Totals() map[string]ModelUsage {
	ut.mu.Lock()
	defer ut.mu.Unlock()
	return maps.Clone(ut.totals)
}

func (ut *UsageTracker) handleEvent(e events.Event) {
	payload, ok := events.GetLLMCallPayload(e)
	if !ok {
		return
	}

	ut.mu.Lock()
	defer ut.mu.Unlock()

	total := ut.totals[payload.Model]
	total.Calls++
	switch payload.Phase {
	case "response":
		total.Input += payload.TokensInput
		total.Output += payload.TokensOutput
	case "error":
		total.Errors++
	default:
		return
	}
	ut.totals[payload.Model] = total

	if ut.store == nil || e.SessionID == "" || payload.Phase != "response" {
		return
	}
	if payload.TokensInput == 0 && payload.TokensOutput == 0 {
		return
	}

	sess, err := ut.store.Get(e.SessionID)
	if err != nil {
		slog.Debug("usage tracker: session not found", "session_id", e.SessionID, "error", err)
		return
	}

	sess.TokenUsage.Input += payload.TokensInput
	sess.TokenUsage.Output += payload.TokensOutput

	if err := ut.store.UpdateMeta(sess); err != nil {
		slog.Error("usage tracker: update meta", "session_id", e.SessionID, "error", err)
	}
}

package sessions

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dohr-michael/neorix/internal/events"
)

// Recorder archives conversations from bus events: session lifecycle, user
// messages, completed replies and mode-change notices.
type Recorder struct {
	mu          sync.Mutex
	store       Store
	unsubscribe func()
}

// NewRecorder subscribes a recorder writing to store.
func NewRecorder(bus *events.Bus, store Store) *Recorder {
	r := &Recorder{store: store}
	r.unsubscribe = bus.Subscribe(r.handleEvent,
		events.EventSessionCreated,
		events.EventSessionClosed,
		events.EventUserMessage,
		events.EventAssistantMessage,
		events.EventModeChanged,
	)
	return r
}

// Close unsubscribes the recorder from the event bus.
func (r *Recorder) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
}

func (r *Recorder) handleEvent(e events.Event) {
	if e.SessionID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	switch e.Type {
	case events.EventSessionCreated:
		p, _ := events.GetSessionCreatedPayload(e)
		err = r.onCreated(e.SessionID, p)
	case events.EventSessionClosed:
		p, _ := events.GetSessionClosedPayload(e)
		if p.Reason == "closed" {
			err = r.store.Close(e.SessionID)
		}
	case events.EventUserMessage:
		p, _ := events.GetUserMessagePayload(e)
		err = r.store.AppendMessage(e.SessionID, Message{Role: "user", Content: p.Content, Mode: p.Mode, Ts: e.Timestamp})
	case events.EventAssistantMessage:
		p, _ := events.GetAssistantMessagePayload(e)
		err = r.store.AppendMessage(e.SessionID, Message{
			Role:    "model",
			Content: p.Content,
			Mode:    p.Mode,
			Errored: p.Error != "",
			Ts:      e.Timestamp,
		})
	case events.EventModeChanged:
		p, _ := events.GetModeChangedPayload(e)
		err = r.store.AppendMessage(e.SessionID, Message{Role: "model", Content: p.Notice, Mode: p.To, Ts: e.Timestamp})
	}
	if err != nil {
		slog.Error("session recorder", "session_id", e.SessionID, "type", e.Type, "error", err)
	}
}

func (r *Recorder) onCreated(id string, p events.SessionCreatedPayload) error {
	sess, err := r.store.Create(id)
	if err != nil {
		return err
	}
	sess.Mode = p.Mode
	sess.Model = p.Model
	sess.Status = SessionActive
	sess.UpdatedAt = time.Now()
	return r.store.UpdateMeta(sess)
}

package events

import (
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// =============================================================================
// USER EVENTS
// =============================================================================

type UserMessagePayload struct {
	Content string `json:"content"`
	Mode    string `json:"mode,omitempty"`
}

func (UserMessagePayload) EventType() EventType { return EventUserMessage }

// =============================================================================
// ASSISTANT EVENTS
// =============================================================================

type StreamPhase string

const (
	StreamPhaseStart StreamPhase = "start"
	StreamPhaseDelta StreamPhase = "delta"
	StreamPhaseEnd   StreamPhase = "end"
)

type AssistantStreamPayload struct {
	Phase   StreamPhase `json:"phase"`
	Content string      `json:"content"`
	Index   int         `json:"index"`
}

func (AssistantStreamPayload) EventType() EventType { return EventAssistantStream }

// AssistantMessagePayload closes a turn. Content holds whatever streamed in, even when
// Error is set.
type AssistantMessagePayload struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
	Mode    string `json:"mode,omitempty"`
}

func (AssistantMessagePayload) EventType() EventType { return EventAssistantMessage }

// =============================================================================
// MODE / SESSION EVENTS
// =============================================================================

type ModeChangedPayload struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Notice string `json:"notice"`
}

func (ModeChangedPayload) EventType() EventType { return EventModeChanged }

// SessionCreatedPayload announces a new chat session. Event.SessionID carries the
// conversation id; ID is the chat session bound to one mode.
type SessionCreatedPayload struct {
	ID         string `json:"id"`
	Mode       string `json:"mode"`
	Model      string `json:"model"`
	Generation uint64 `json:"generation"`
}

func (SessionCreatedPayload) EventType() EventType { return EventSessionCreated }

type SessionClosedPayload struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

func (SessionClosedPayload) EventType() EventType { return EventSessionClosed }

// =============================================================================
// INTERNAL EVENTS
// =============================================================================

type LLMCallPayload struct {
	Phase        string        `json:"phase"`
	Model        string        `json:"model"`
	Provider     string        `json:"provider,omitempty"`
	TokensInput  int           `json:"tokens_input,omitempty"`
	TokensOutput int           `json:"tokens_output,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	Error        string        `json:"error,omitempty"`
}

func (LLMCallPayload) EventType() EventType { return EventLLMCall }

// =============================================================================
// TYPED EVENT CONSTRUCTORS
// =============================================================================

func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return Event{
		ID:        generateEventID(),
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func NewTypedEventWithSession(source EventSource, payload EventPayload, sessionID string) Event {
	e := NewTypedEvent(source, payload)
	e.SessionID = sessionID
	return e
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// =============================================================================
// TYPED PAYLOAD EXTRACTORS
// =============================================================================

func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	if e.Type != result.EventType() {
		return result, false
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}

func GetUserMessagePayload(e Event) (UserMessagePayload, bool) {
	return ExtractPayload[UserMessagePayload](e)
}

func GetAssistantStreamPayload(e Event) (AssistantStreamPayload, bool) {
	return ExtractPayload[AssistantStreamPayload](e)
}

func GetAssistantMessagePayload(e Event) (AssistantMessagePayload, bool) {
	return ExtractPayload[AssistantMessagePayload](e)
}

func GetModeChangedPayload(e Event) (ModeChangedPayload, bool) {
	return ExtractPayload[ModeChangedPayload](e)
}

func GetSessionCreatedPayload(e Event) (SessionCreatedPayload, bool) {
	return ExtractPayload[SessionCreatedPayload](e)
}

func GetSessionClosedPayload(e Event) (SessionClosedPayload, bool) {
	return ExtractPayload[SessionClosedPayload](e)
}

func GetLLMCallPayload(e Event) (LLMCallPayload, bool) {
	return ExtractPayload[LLMCallPayload](e)
}

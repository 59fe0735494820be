// Package sessions archives conversation transcripts. Archived transcripts are for
// reading back only; a live chat never resumes from them.
package sessions

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for an unknown session id.
var ErrNotFound = errors.New("session not found")

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// TokenUsage tracks cumulative token consumption for a session.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Session holds metadata about an archived conversation.
type Session struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Status       SessionStatus     `json:"status"`
	Mode         string            `json:"mode,omitempty"`
	Model        string            `json:"model,omitempty"`
	MessageCount int               `json:"message_count"`
	TokenUsage   TokenUsage        `json:"token_usage"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Message is a single turn in a conversation, serializable to JSONL.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	Mode    string    `json:"mode,omitempty"`
	Errored bool      `json:"errored,omitempty"`
	Ts      time.Time `json:"ts"`
}

// Store defines the persistence interface for sessions.
type Store interface {
	// Create registers a session. An empty id gets a generated one.
	Create(id string) (*Session, error)
	Get(id string) (*Session, error)
	List() ([]*Session, error)
	UpdateMeta(s *Session) error
	Close(id string) error
	AppendMessage(sessionID string, msg Message) error
	LoadMessages(sessionID string) ([]Message, error)
}

func generateSessionID() string {
	return "sess_" + uuid.New().String()[:8]
}

func newSession(id string) *Session {
	if id == "" {
		id = generateSessionID()
	}
	now := time.Now()
	return &Session{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    SessionActive,
	}
}

// titleFrom derives a list title from the first user message.
func titleFrom(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	if r := []rune(title); len(r) > 60 {
		title = string(r[:57]) + "..."
	}
	return title
}

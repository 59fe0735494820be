// Package chat holds the conversation core: the single active chat session, the
// streaming coordinator that relays reply fragments, and the transcript built on top.
package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dohr-michael/neorix/internal/models"
	"github.com/dohr-michael/neorix/internal/modes"
)

// Session is one live conversation with the hosted service, bound to a single mode.
// It is never reused after a mode change.
type Session struct {
	ID         string
	Mode       modes.Mode
	Config     modes.Config
	Generation uint64
	CreatedAt  time.Time

	ctx    context.Context
	cancel context.CancelFunc
	busy   atomic.Bool

	mu   sync.Mutex
	chat models.Chat
}

func newSession(generation uint64, mode modes.Mode) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:         newID("sess_"),
		Mode:       mode,
		Config:     modes.ConfigFor(mode),
		Generation: generation,
		CreatedAt:  time.Now(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func newID(prefix string) string {
	return prefix + uuid.New().String()[:8]
}

// Done is closed once the session has been replaced or the manager closed.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// handle returns the service chat, opening it on first use. A failed open is not
// remembered.
func (s *Session) handle(ctx context.Context, service models.Service) (models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.chat != nil {
		return s.chat, nil
	}
	c, err := service.Open(ctx, s.Config)
	if err != nil {
		return nil, err
	}
	s.chat = c
	return c, nil
}

func (s *Session) close() {
	s.cancel()
}

package chat

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dohr-michael/neorix/internal/events"
	"github.com/dohr-michael/neorix/internal/models"
	"github.com/dohr-michael/neorix/internal/modes"
)

// Role is the author of a transcript message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one transcript entry. Timestamp is in epoch milliseconds.
type Message struct {
	Role      Role       `json:"role"`
	Text      string     `json:"text"`
	Timestamp int64      `json:"timestamp"`
	Mode      modes.Mode `json:"mode"`
	Errored   bool       `json:"errored,omitempty"`
}

// State is a point-in-time copy of a conversation.
type State struct {
	ID       string     `json:"id"`
	Mode     modes.Mode `json:"mode"`
	Name     string     `json:"name"`
	Loading  bool       `json:"loading"`
	Error    string     `json:"error,omitempty"`
	Messages []Message  `json:"messages"`
}

// ConversationOption configures a Conversation.
type ConversationOption func(*Conversation)

// WithBus publishes the conversation's events on bus.
func WithBus(bus *events.Bus) ConversationOption {
	return func(c *Conversation) { c.bus = bus }
}

// WithSource sets the source stamped on published events.
func WithSource(src events.EventSource) ConversationOption {
	return func(c *Conversation) { c.source = src }
}

// WithMode starts the conversation in m.
func WithMode(m modes.Mode) ConversationOption {
	return func(c *Conversation) { c.initial = m }
}

// WithID sets the conversation id instead of generating one.
func WithID(id string) ConversationOption {
	return func(c *Conversation) { c.id = id }
}

// Conversation is the transcript a user sees. It spans mode changes: the chat session
// is replaced, the message list keeps growing.
type Conversation struct {
	id      string
	bus     *events.Bus
	source  events.EventSource
	initial modes.Mode

	manager *Manager
	coord   *Coordinator

	mu       sync.Mutex
	messages []Message
	loading  bool
	errText  string
}

// NewConversation creates a conversation on service, opening with the greeting.
func NewConversation(service models.Service, opts ...ConversationOption) *Conversation {
	c := &Conversation{
		source:  events.SourceChat,
		initial: modes.General,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.id == "" {
		c.id = NewConversationID()
	}

	c.manager = NewManager(service, WithInitialMode(c.initial))
	c.coord = NewCoordinator(c.manager, WithCallHook(c.onCall))
	c.manager.OnSessionChange(c.onSessionChange)

	c.messages = []Message{{
		Role:      RoleModel,
		Text:      modes.Greeting(),
		Timestamp: nowMillis(),
		Mode:      c.manager.Mode(),
	}}

	c.onSessionChange(nil, c.manager.Current())
	return c
}

// NewConversationID returns a fresh "conv_" id.
func NewConversationID() string {
	return newID("conv_")
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// ID returns the conversation id. Events carry it as their session id.
func (c *Conversation) ID() string { return c.id }

// Manager returns the session manager backing the conversation.
func (c *Conversation) Manager() *Manager { return c.manager }

// Mode returns the active mode.
func (c *Conversation) Mode() modes.Mode { return c.manager.Mode() }

// Messages returns a copy of the transcript.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.messages)
}

// Loading reports whether a reply is being streamed.
func (c *Conversation) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Err returns the user-facing error of the last turn, or "".
func (c *Conversation) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errText
}

// Snapshot returns the whole conversation state.
func (c *Conversation) Snapshot() State {
	mode := c.manager.Mode()
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		ID:       c.id,
		Mode:     mode,
		Name:     modes.DisplayName(mode),
		Loading:  c.loading,
		Error:    c.errText,
		Messages: slices.Clone(c.messages),
	}
}

// ChangeMode switches mode and appends the mode-changed notice. It returns false when
// m is already active.
func (c *Conversation) ChangeMode(m modes.Mode) bool {
	from := c.manager.Mode()
	if !c.manager.SetMode(m) {
		return false
	}

	notice := modes.ModeChangedNotice(m)
	c.mu.Lock()
	c.messages = append(c.messages, Message{
		Role:      RoleModel,
		Text:      notice,
		Timestamp: nowMillis(),
		Mode:      m,
	})
	c.mu.Unlock()

	c.publish(context.Background(), events.ModeChangedPayload{
		From:   string(from),
		To:     string(m),
		Notice: notice,
	})
	return true
}

// Turn is a user message accepted by Begin whose reply has not been streamed yet.
type Turn struct {
	conv  *Conversation
	ctx   context.Context
	text  string
	mode  modes.Mode
	reply int
}

// Begin accepts text as the next user message and reserves the conversation for its
// reply: the user message and an empty model placeholder are appended at once. It
// returns (nil, nil) for whitespace-only text and ErrBusy while another reply is
// pending. A returned Turn must be streamed exactly once.
func (c *Conversation) Begin(ctx context.Context, text string) (*Turn, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	mode := c.manager.Mode()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loading {
		return nil, ErrBusy
	}
	c.loading = true
	c.errText = ""
	now := nowMillis()
	c.messages = append(c.messages,
		Message{Role: RoleUser, Text: text, Timestamp: now, Mode: mode},
		Message{Role: RoleModel, Timestamp: now, Mode: mode},
	)
	return &Turn{
		conv:  c,
		ctx:   events.ContextWithSessionID(ctx, c.id),
		text:  text,
		mode:  mode,
		reply: len(c.messages) - 1,
	}, nil
}

// Submit is Begin followed by Stream without a fragment callback.
func (c *Conversation) Submit(ctx context.Context, text string) error {
	t, err := c.Begin(ctx, text)
	if t == nil {
		return err
	}
	return t.Stream(nil)
}

// Stream sends the turn's message and streams the reply into its model message,
// calling onFragment, when set, for every fragment as it arrives. It returns a
// *SendError when the service fails; the partial reply then stays in the transcript,
// marked errored, and Err holds the generic notice. A reply cut short by a mode change
// ends silently. A cancelled ctx returns ctx.Err() and keeps the partial reply
// unmarked.
func (t *Turn) Stream(onFragment func(string)) error {
	c, ctx, mode := t.conv, t.ctx, t.mode
	defer func() {
		c.mu.Lock()
		c.loading = false
		c.mu.Unlock()
	}()

	c.publish(ctx, events.UserMessagePayload{Content: t.text, Mode: string(mode)})
	c.publish(ctx, events.AssistantStreamPayload{Phase: events.StreamPhaseStart})

	var full strings.Builder
	index := 0
	err := c.coord.Send(ctx, t.text, func(fragment string) {
		full.WriteString(fragment)
		c.mu.Lock()
		c.messages[t.reply].Text += fragment
		c.mu.Unlock()
		if onFragment != nil {
			onFragment(fragment)
		}
		c.publish(ctx, events.AssistantStreamPayload{
			Phase:   events.StreamPhaseDelta,
			Content: fragment,
			Index:   index,
		})
		index++
	})

	// The closing events go out even when the caller has gone away.
	ctx = context.WithoutCancel(ctx)
	c.publish(ctx, events.AssistantStreamPayload{Phase: events.StreamPhaseEnd, Index: index})

	switch {
	case err == nil:
		c.publish(ctx, events.AssistantMessagePayload{Content: full.String(), Mode: string(mode)})
		return nil
	case errors.Is(err, ErrSuperseded):
		events.Logger(ctx).Debug("reply abandoned after mode change", "mode", mode)
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.publish(ctx, events.AssistantMessagePayload{Content: full.String(), Mode: string(mode)})
		return err
	default:
		notice := modes.ErrorNotice()
		c.mu.Lock()
		c.messages[t.reply].Errored = true
		c.errText = notice
		c.mu.Unlock()
		c.publish(ctx, events.AssistantMessagePayload{
			Content: full.String(),
			Error:   notice,
			Mode:    string(mode),
		})
		return err
	}
}

// Close ends the active session. The transcript stays readable.
func (c *Conversation) Close() {
	c.manager.Close()
}

func (c *Conversation) onSessionChange(prev, cur *Session) {
	ctx := context.Background()
	if prev != nil {
		reason := "mode_changed"
		if cur == nil {
			reason = "closed"
		}
		c.publish(ctx, events.SessionClosedPayload{ID: prev.ID, Reason: reason})
	}
	if cur != nil {
		_, model := c.describe(cur.Config)
		c.publish(ctx, events.SessionCreatedPayload{
			ID:         cur.ID,
			Mode:       string(cur.Mode),
			Model:      model,
			Generation: cur.Generation,
		})
	}
}

func (c *Conversation) onCall(r CallReport) {
	provider, model := c.describe(r.Session.Config)
	p := events.LLMCallPayload{
		Phase:    "response",
		Model:    model,
		Provider: provider,
		Duration: r.Duration,
	}
	if r.Usage != nil {
		p.TokensInput = r.Usage.Input
		p.TokensOutput = r.Usage.Output
	}
	switch {
	case r.Err == nil:
	case errors.Is(r.Err, ErrSuperseded), errors.Is(r.Err, context.Canceled), errors.Is(r.Err, context.DeadlineExceeded):
		p.Phase = "cancelled"
	default:
		p.Phase = "error"
		p.Error = r.Err.Error()
	}
	c.publish(context.Background(), p)
}

func (c *Conversation) describe(cfg modes.Config) (string, string) {
	if d, ok := c.manager.Service().(models.Describer); ok {
		return d.Describe(cfg)
	}
	return "", cfg.Model
}

func (c *Conversation) publish(ctx context.Context, payload events.EventPayload) {
	if c.bus == nil {
		return
	}
	ev := events.NewTypedEventWithSession(c.source, payload, c.id)
	if err := c.bus.PublishAsync(ctx, ev); err != nil {
		slog.Debug("event not published", "type", ev.Type, "session_id", c.id, "error", err)
	}
}

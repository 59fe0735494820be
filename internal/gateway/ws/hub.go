package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/dohr-michael/neorix/internal/chat"
	"github.com/dohr-michael/neorix/internal/events"
	"github.com/dohr-michael/neorix/internal/models"
	"github.com/dohr-michael/neorix/internal/modes"
)

// Client represents a connected WebSocket client. Each client owns one conversation.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
	conv *chat.Conversation
}

// Hub manages WebSocket clients and bridges them to the event bus.
type Hub struct {
	mu          sync.RWMutex
	clients     map[string]*Client // by conversation id
	bus         *events.Bus
	service     models.Service
	unsubscribe func()
}

// NewHub creates a new WebSocket hub connected to an event bus. Conversations opened by
// clients talk to service.
func NewHub(bus *events.Bus, service models.Service) *Hub {
	h := &Hub{
		clients: make(map[string]*Client),
		bus:     bus,
		service: service,
	}

	// Route conversation events to the client owning the conversation
	h.unsubscribe = bus.Subscribe(func(e events.Event) {
		if e.SessionID == "" {
			return
		}
		frame, err := NewEventFrame(string(e.Type), e.SessionID, e.Payload)
		if err != nil {
			slog.Error("marshal event frame", "error", err)
			return
		}
		data, err := MarshalFrame(frame)
		if err != nil {
			slog.Error("marshal frame", "error", err)
			return
		}
		h.deliver(e.SessionID, data)
	})

	return h
}

// deliver sends data to the client owning conversation id.
func (h *Hub) deliver(id string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.clients[id]
	if !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		// Client too slow, skip
		slog.Debug("ws client slow, frame dropped", "conversation_id", id)
	}
}

// register adds a client to the hub.
func (h *Hub) register(id string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[id] = c
	slog.Info("ws client connected", "conversation_id", id, "clients", len(h.clients))
}

// unregister removes a client from the hub.
func (h *Hub) unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(c.send)
		slog.Info("ws client disconnected", "conversation_id", id, "clients", len(h.clients))
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS handles a WebSocket upgrade and manages the client lifecycle. The optional
// "mode" query parameter selects the starting mode.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	mode := modes.General
	if q := r.URL.Query().Get("mode"); q != "" {
		m, err := modes.Parse(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mode = m
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow any origin for dev
	})
	if err != nil {
		slog.Error("ws accept", "error", err)
		return
	}

	id := chat.NewConversationID()
	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}
	h.register(id, client)

	client.conv = chat.NewConversation(h.service,
		chat.WithID(id),
		chat.WithBus(h.bus),
		chat.WithSource(events.SourceWS),
		chat.WithMode(mode),
	)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go client.writePump(ctx)
	client.readPump(ctx)
}

// readPump reads frames from the WS connection and dispatches them.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.conv.Close()
		c.hub.unregister(c.conv.ID())
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("ws read closed", "status", websocket.CloseStatus(err))
			} else {
				slog.Debug("ws read error", "error", err)
			}
			return
		}

		frame, err := UnmarshalFrame(data)
		if err != nil {
			slog.Error("ws unmarshal frame", "error", err)
			continue
		}

		c.handleFrame(ctx, frame)
	}
}

// handleFrame processes an incoming WS frame.
func (c *Client) handleFrame(ctx context.Context, frame Frame) {
	switch frame.Type {
	case FrameTypeRequest:
		c.handleRequest(ctx, frame)
	default:
		slog.Debug("ws unknown frame type", "type", frame.Type)
	}
}

// handleRequest processes a request frame (method dispatch).
func (c *Client) handleRequest(ctx context.Context, frame Frame) {
	switch Method(frame.Method) {
	case MethodSetMode:
		var params SetModeParams
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			c.sendError(frame.ID, "invalid params")
			return
		}
		m, err := modes.Parse(params.Mode)
		if err != nil {
			c.sendError(frame.ID, err.Error())
			return
		}
		res := SetModeResult{Mode: string(m), Changed: c.conv.ChangeMode(m)}
		if res.Changed {
			res.Notice = modes.ModeChangedNotice(m)
		}
		c.sendOK(frame.ID, res)

	case MethodSendMessage:
		var params SendMessageParams
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			c.sendError(frame.ID, "invalid params")
			return
		}
		turn, err := c.conv.Begin(ctx, params.Content)
		if err != nil {
			c.sendError(frame.ID, err.Error())
			return
		}
		if turn == nil {
			c.sendOK(frame.ID, SendMessageResult{Status: "ignored"})
			return
		}

		// The reply streams back as events
		go func() {
			err := turn.Stream(nil)
			switch {
			case err == nil:
			case errors.Is(err, context.Canceled):
				slog.Debug("ws send cancelled", "conversation_id", c.conv.ID())
			default:
				slog.Warn("ws send failed", "conversation_id", c.conv.ID(), "error", err)
			}
		}()
		c.sendOK(frame.ID, SendMessageResult{Status: "sent"})

	case MethodGetState:
		c.sendOK(frame.ID, c.conv.Snapshot())

	case MethodListModes:
		c.sendOK(frame.ID, ListModes())

	default:
		c.sendError(frame.ID, "unknown method: "+frame.Method)
	}
}

// writePump writes queued messages to the WS connection.
func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) sendOK(id string, payload any) {
	f, err := NewResponseFrame(id, true, payload, "")
	if err != nil {
		return
	}
	c.enqueue(f)
}

func (c *Client) sendError(id string, errMsg string) {
	f, err := NewResponseFrame(id, false, nil, errMsg)
	if err != nil {
		return
	}
	c.enqueue(f)
}

func (c *Client) enqueue(f Frame) {
	data, err := MarshalFrame(f)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// Close shuts down the hub and all client connections.
func (h *Hub) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		delete(h.clients, id)
	}
}

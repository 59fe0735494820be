package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dohr-michael/neorix/internal/actors"
	"github.com/dohr-michael/neorix/internal/events"
	"github.com/dohr-michael/neorix/internal/gateway/ws"
	"github.com/dohr-michael/neorix/internal/models"
	"github.com/dohr-michael/neorix/internal/sessions"
	"github.com/dohr-michael/neorix/internal/storage"
)

// Option configures optional server features.
type Option func(*Server)

// WithStore enables the archived session endpoints.
func WithStore(store sessions.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithUsage enables the usage endpoint.
func WithUsage(usage *storage.UsageTracker) Option {
	return func(s *Server) { s.usage = usage }
}

// WithCapacity reports the provider slot usage of pool in the health endpoint.
func WithCapacity(pool *actors.Pool) Option {
	return func(s *Server) { s.pool = pool }
}

// Server is the Neorix gateway HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	bus        *events.Bus
	store      sessions.Store
	usage      *storage.UsageTracker
	pool       *actors.Pool
	host       string
	port       int
	started    time.Time
	ln         net.Listener
}

// NewServer creates a new gateway server. Each WebSocket client gets its own
// conversation on service.
func NewServer(bus *events.Bus, service models.Service, host string, port int, opts ...Option) *Server {
	hub := ws.NewHub(bus, service)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	s := &Server{
		hub:     hub,
		bus:     bus,
		host:    host,
		port:    port,
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Routes
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ws", hub.ServeWS)
	r.Get("/api/modes", s.handleModes)
	r.Get("/api/events", s.handleEvents)
	r.Get("/api/usage", s.handleUsage)

	// API: archived sessions
	r.Get("/api/sessions", s.handleSessions)
	r.Get("/api/sessions/{id}", s.handleSession)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: r,
	}

	return s
}

// Listen binds the listening socket without serving.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	return nil
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	slog.Info("Neorix gateway listening", "addr", s.Addr())
	return s.httpServer.Serve(s.ln)
}

// Addr returns the bound address after Listen, or the configured one before.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.httpServer.Addr
}

// Clients returns the number of connected WebSocket clients.
func (s *Server) Clients() int {
	return s.hub.Count()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("encode response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"clients": s.hub.Count(),
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	}
	if s.pool != nil {
		body["capacity"] = s.pool.Stats()
	}
	writeJSON(w, body)
}

func (s *Server) handleModes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, ws.ListModes())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limitStr := r.URL.Query().Get("limit")
	limit := 50
	if limitStr != "" {
		fmt.Sscanf(limitStr, "%d", &limit)
	}

	history := s.bus.History(limit)

	// Format timestamps nicely
	type eventJSON struct {
		ID        string             `json:"id"`
		SessionID string             `json:"session_id,omitempty"`
		Type      string             `json:"type"`
		Timestamp string             `json:"timestamp"`
		Source    events.EventSource `json:"source"`
		Payload   map[string]any     `json:"payload"`
	}

	result := make([]eventJSON, len(history))
	for i, e := range history {
		result[i] = eventJSON{
			ID:        e.ID,
			SessionID: e.SessionID,
			Type:      string(e.Type),
			Timestamp: e.Timestamp.Format(time.RFC3339Nano),
			Source:    e.Source,
			Payload:   e.Payload,
		}
	}

	writeJSON(w, result)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		http.Error(w, "usage tracking not available", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, s.usage.Totals())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "session archive not available", http.StatusServiceUnavailable)
		return
	}

	list, err := s.store.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*sessions.Session{}
	}

	writeJSON(w, list)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "session archive not available", http.StatusServiceUnavailable)
		return
	}

	id := chi.URLParam(r, "id")
	sess, err := s.store.Get(id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, sessions.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	msgs, err := s.store.LoadMessages(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []sessions.Message{}
	}

	writeJSON(w, struct {
		*sessions.Session
		Messages []sessions.Message `json:"messages"`
	}{sess, msgs})
}

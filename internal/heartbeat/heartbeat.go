// Package heartbeat provides liveness detection for the Neorix gateway.
package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Status represents the liveness state of the gateway.
type Status string

const (
	StatusAlive Status = "alive"
	StatusStale Status = "stale"
	StatusDead  Status = "dead"
)

// DefaultInterval is the write period of a Writer.
const DefaultInterval = 30 * time.Second

// Heartbeat is the data written to the heartbeat file.
type Heartbeat struct {
	PID           int       `json:"pid"`
	Addr          string    `json:"addr,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	Timestamp     time.Time `json:"timestamp"`
	Uptime        string    `json:"uptime"`
	Conversations int       `json:"conversations"`
}

// Option configures a Writer.
type Option func(*Writer)

// WithAddr records the gateway listen address, used by clients to find it.
func WithAddr(addr string) Option {
	return func(w *Writer) { w.addr = addr }
}

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(w *Writer) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithConversations sets the function reporting the number of open conversations.
func WithConversations(fn func() int) Option {
	return func(w *Writer) { w.conversations = fn }
}

// Writer periodically writes a heartbeat file to disk.
type Writer struct {
	path          string
	addr          string
	interval      time.Duration
	conversations func() int
	started       time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWriter creates a heartbeat writer for path.
func NewWriter(path string, opts ...Option) *Writer {
	w := &Writer{
		path:     path,
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins writing heartbeat files in a background goroutine.
func (w *Writer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return // already running
	}

	w.started = time.Now()
	w.done = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.write()

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				w.write()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops writing and removes the heartbeat file.
func (w *Writer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel == nil {
		return
	}

	w.cancel()
	<-w.done
	w.cancel = nil

	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("remove heartbeat", "path", w.path, "error", err)
	}
}

func (w *Writer) write() {
	hb := Heartbeat{
		PID:       os.Getpid(),
		Addr:      w.addr,
		StartedAt: w.started,
		Timestamp: time.Now(),
		Uptime:    time.Since(w.started).Truncate(time.Second).String(),
	}
	if w.conversations != nil {
		hb.Conversations = w.conversations()
	}

	data, err := json.MarshalIndent(hb, "", "  ")
	if err != nil {
		return
	}

	// Atomic write: tmp + rename
	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		slog.Warn("write heartbeat", "path", w.path, "error", err)
		return
	}
	if err := os.Rename(tmp, w.path); err != nil {
		slog.Warn("write heartbeat", "path", w.path, "error", err)
	}
}

// Check reads a heartbeat file and returns the liveness status.
// A heartbeat older than maxAge is stale.
func Check(path string, maxAge time.Duration) (Status, *Heartbeat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return StatusDead, nil, nil
		}
		return StatusDead, nil, fmt.Errorf("read heartbeat: %w", err)
	}

	var hb Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return StatusDead, nil, fmt.Errorf("unmarshal heartbeat: %w", err)
	}

	if time.Since(hb.Timestamp) > maxAge {
		return StatusStale, &hb, nil
	}

	return StatusAlive, &hb, nil
}

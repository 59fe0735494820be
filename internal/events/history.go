package events

import "sync"

// history keeps the most recent events in a fixed-size ring.
type history struct {
	mu    sync.RWMutex
	ring  []Event
	next  int
	count int
}

func newHistory(size int) *history {
	return &history{ring: make([]Event, size)}
}

func (h *history) add(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.ring[h.next] = e
	h.next = (h.next + 1) % len(h.ring)
	h.count = min(h.count+1, len(h.ring))
}

// last returns up to n events, oldest first.
func (h *history) last(n int) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n = min(n, h.count)
	if n <= 0 {
		return nil
	}
	out := make([]Event, 0, n)
	for i := h.next - n; i < h.next; i++ {
		out = append(out, h.ring[(i+len(h.ring))%len(h.ring)])
	}
	return out
}

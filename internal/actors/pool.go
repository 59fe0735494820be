package actors

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/dohr-michael/neorix/internal/config"
)

// slotSet is the idle queue of one provider. A resized provider gets a new set; actors
// of the old set return to it and are dropped with it.
type slotSet struct {
	size int
	idle chan *Actor
}

func newSlotSet(provider string, size int) *slotSet {
	s := &slotSet{size: size, idle: make(chan *Actor, size)}
	for i := 0; i < size; i++ {
		s.idle <- &Actor{
			ID:           fmt.Sprintf("%s-%d", provider, i),
			ProviderName: provider,
			Status:       ActorIdle,
			slots:        s,
		}
	}
	return s
}

// Pool manages capacity slots per provider. Providers without a limit are unbounded.
type Pool struct {
	mu   sync.Mutex
	sets map[string]*slotSet
	busy map[*Actor]struct{}
}

// NewPool creates a Pool from provider configurations.
func NewPool(providers map[string]config.ProviderConfig) *Pool {
	p := &Pool{
		sets: make(map[string]*slotSet),
		busy: make(map[*Actor]struct{}),
	}
	p.Update(providers)
	return p
}

// Update applies new limits. Providers whose limit is unchanged keep their slots;
// streams holding a slot of a replaced set finish normally.
func (p *Pool) Update(providers map[string]config.ProviderConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sets := make(map[string]*slotSet, len(providers))
	for name, prov := range providers {
		n := prov.MaxConcurrent
		if n <= 0 {
			continue
		}
		if old, ok := p.sets[name]; ok && old.size == n {
			sets[name] = old
			continue
		}
		sets[name] = newSlotSet(name, n)
		slog.Debug("actor slots configured", "provider", name, "slots", n)
	}
	p.sets = sets
}

// Acquire waits for an idle slot of provider until ctx is done. It returns a nil actor
// when the provider is unbounded.
func (p *Pool) Acquire(ctx context.Context, provider, owner string) (*Actor, error) {
	p.mu.Lock()
	set, ok := p.sets[provider]
	p.mu.Unlock()
	if !ok {
		return nil, nil
	}

	select {
	case a := <-set.idle:
		p.mu.Lock()
		a.Status = ActorBusy
		a.Owner = owner
		p.busy[a] = struct{}{}
		p.mu.Unlock()
		return a, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s capacity: %w", provider, ctx.Err())
	}
}

// Release frees a slot. A nil actor is ignored.
func (p *Pool) Release(a *Actor) {
	if a == nil {
		return
	}
	p.mu.Lock()
	a.Status = ActorIdle
	a.Owner = ""
	delete(p.busy, a)
	p.mu.Unlock()

	a.slots.idle <- a
}

// Stats describes the slots of one provider.
type Stats struct {
	Slots  int      `json:"slots"`
	Busy   int      `json:"busy"`
	Owners []string `json:"owners,omitempty"`
}

// Stats returns the current slot usage per limited provider.
func (p *Pool) Stats() map[string]Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]Stats, len(p.sets))
	for name, set := range p.sets {
		st := Stats{Slots: set.size}
		for a := range p.busy {
			if a.slots == set {
				st.Busy++
				st.Owners = append(st.Owners, a.Owner)
			}
		}
		slices.Sort(st.Owners)
		out[name] = st
	}
	return out
}

package models

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/dohr-michael/neorix/internal/actors"
	"github.com/dohr-michael/neorix/internal/config"
	"github.com/dohr-michael/neorix/internal/events"
	"github.com/dohr-michael/neorix/internal/modes"
)

// FactoryFunc builds the service of a named provider.
type FactoryFunc func(ctx context.Context, name string, cfg config.ProviderConfig) (Service, error)

// providerEntry holds a lazily-initialized service. Failed initializations are not
// cached, so a later call can succeed once credentials appear.
type providerEntry struct {
	config  config.ProviderConfig
	mu      sync.Mutex
	service Service
}

// Registry manages named model providers with lazy initialization. It implements
// Service by delegating to the default provider.
type Registry struct {
	mu          sync.RWMutex
	providers   map[string]*providerEntry
	defaultName string
	factory     FactoryFunc
	pool        *actors.Pool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithFactory replaces CreateService as the provider constructor.
func WithFactory(f FactoryFunc) RegistryOption {
	return func(r *Registry) { r.factory = f }
}

// WithPool bounds concurrent streams per provider with pool. The registry keeps the
// pool's limits in sync with the provider config.
func WithPool(pool *actors.Pool) RegistryOption {
	return func(r *Registry) { r.pool = pool }
}

// NewRegistry creates a model registry from config.
func NewRegistry(cfg config.ModelsConfig, opts ...RegistryOption) *Registry {
	r := &Registry{factory: CreateService}
	for _, opt := range opts {
		opt(r)
	}
	r.Update(cfg)
	return r
}

// Update replaces the provider set. Services already built for providers whose
// configuration is unchanged are kept.
func (r *Registry) Update(cfg config.ModelsConfig) {
	providers := make(map[string]*providerEntry, len(cfg.Providers))

	r.mu.Lock()
	defer r.mu.Unlock()

	for name, provCfg := range cfg.Providers {
		if old, ok := r.providers[name]; ok && sameProvider(old.config, provCfg) {
			providers[name] = old
			continue
		}
		providers[name] = &providerEntry{config: provCfg}
	}
	r.providers = providers
	r.defaultName = cfg.Default
	if r.pool != nil {
		r.pool.Update(cfg.Providers)
	}
}

// Get returns the named service, initializing it lazily.
func (r *Registry) Get(ctx context.Context, name string) (Service, error) {
	r.mu.RLock()
	entry, ok := r.providers[name]
	factory := r.factory
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("model provider %q not found", name)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.service != nil {
		return entry.service, nil
	}

	svc, err := factory(ctx, name, entry.config)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", name, err)
	}
	entry.service = svc
	return svc, nil
}

// Default returns the default service.
func (r *Registry) Default(ctx context.Context) (Service, error) {
	name := r.DefaultName()
	if name == "" {
		return nil, fmt.Errorf("no default model configured")
	}
	return r.Get(ctx, name)
}

// DefaultName returns the name of the default provider.
func (r *Registry) DefaultName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultName
}

// Names returns the configured provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// Open implements Service on the default provider.
func (r *Registry) Open(ctx context.Context, mc modes.Config) (Chat, error) {
	name := r.DefaultName()
	svc, err := r.Default(ctx)
	if err != nil {
		return nil, err
	}
	c, err := svc.Open(ctx, mc)
	if err != nil || r.pool == nil {
		return c, err
	}
	return &pooledChat{Chat: c, pool: r.pool, provider: name}, nil
}

// pooledChat holds one capacity slot of its provider for the duration of each stream.
type pooledChat struct {
	Chat
	pool     *actors.Pool
	provider string
}

func (c *pooledChat) Stream(ctx context.Context, text string) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		slot, err := c.pool.Acquire(ctx, c.provider, events.SessionIDFromContext(ctx))
		if err != nil {
			yield(Chunk{}, err)
			return
		}
		defer c.pool.Release(slot)

		for chunk, err := range c.Chat.Stream(ctx, text) {
			if !yield(chunk, err) {
				return
			}
		}
	}
}

// Describe implements Describer without initializing the provider.
func (r *Registry) Describe(mc modes.Config) (string, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.providers[r.defaultName]
	if !ok {
		return r.defaultName, mc.Model
	}
	return r.defaultName, ResolveModel(entry.config, mc)
}

func sameProvider(a, b config.ProviderConfig) bool {
	if a.Driver != b.Driver || a.Model != b.Model || a.BaseURL != b.BaseURL ||
		a.Auth != b.Auth || a.MaxTokens != b.MaxTokens || a.Timeout != b.Timeout ||
		a.Project != b.Project || a.Location != b.Location {
		return false
	}
	if len(a.ModeModels) != len(b.ModeModels) {
		return false
	}
	for k, v := range a.ModeModels {
		if b.ModeModels[k] != v {
			return false
		}
	}
	return fmt.Sprint(a.Options) == fmt.Sprint(b.Options)
}

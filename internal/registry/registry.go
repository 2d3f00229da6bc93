// Package registry holds one ChatBackend implementation per provider
// identifier. Backends are registered under their provider type; provider
// instances (user-configured accounts) of the same type share the one
// registration, resolved lazily into the instance-id slot.
package registry

import (
	"sync"

	"novel-ai-core/internal/domain/model"
	"novel-ai-core/internal/domain/ports/adapter"
)

type Registry struct {
	mu       sync.RWMutex
	backends map[string]adapter.ChatBackend
}

func New() *Registry {
	return &Registry{backends: make(map[string]adapter.ChatBackend)}
}

// Register binds a backend to a provider identifier (a type key such as
// "openai", or a concrete instance id). Re-registering replaces.
func (r *Registry) Register(providerID string, b adapter.ChatBackend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[providerID] = b
}

// Get returns the backend registered under providerID, or nil.
func (r *Registry) Get(providerID string) adapter.ChatBackend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backends[providerID]
}

// ResolveInstance returns the backend for a provider instance. When the
// instance id has no slot yet, the type-keyed registration is copied into
// it, so later lookups by instance id hit directly.
func (r *Registry) ResolveInstance(instanceID string, typ model.ProviderType) adapter.ChatBackend {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.backends[instanceID]; ok {
		return b
	}
	b, ok := r.backends[string(typ)]
	if !ok {
		return nil
	}
	r.backends[instanceID] = b
	return b
}

// IDs returns the registered provider identifiers, for diagnostics.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.backends))
	for id := range r.backends {
		out = append(out, id)
	}
	return out
}

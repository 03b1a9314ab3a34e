package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/voxwire/voxbridge/pkg/realtime"
)

// ErrProviderNotRegistered is returned by [Registry.Create] when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider together with its default session profile.
type Factory func() (realtime.Provider, realtime.Profile)

// Registry maps provider names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register registers a provider factory under name. Subsequent calls with
// the same name overwrite the previous registration.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates the provider registered under entry.Name and overlays
// the entry's endpoint, model, and key onto its default profile. Returns
// [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) Create(entry ProviderEntry) (realtime.Provider, realtime.Profile, error) {
	r.mu.RLock()
	factory, ok := r.factories[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, realtime.Profile{}, fmt.Errorf("%w: %q", ErrProviderNotRegistered, entry.Name)
	}

	provider, profile := factory()
	if entry.BaseURL != "" {
		profile.BaseURL = entry.BaseURL
	}
	if entry.Model != "" {
		profile.Model = entry.Model
	}
	if entry.APIKey != "" {
		profile.Key = entry.APIKey
	}
	return provider, profile, nil
}

// Names returns the registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

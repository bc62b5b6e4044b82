package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Factory builds a fresh computer. Each decision loop gets its own
// instances so per-window state is never shared.
type Factory func() Computer

// Registry manages the named computer factories available to decision
// loops. It is safe for concurrent use.
type Registry struct {
	factories map[domain.SignalSource]Factory
	mu        sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[domain.SignalSource]Factory),
	}
}

// Register adds a factory under source, replacing any existing one.
func (r *Registry) Register(source domain.SignalSource, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[source] = f
}

// Get retrieves a factory by source.
func (r *Registry) Get(source domain.SignalSource) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[source]
	if !ok {
		return nil, fmt.Errorf("signal computer %q: not registered", source)
	}
	return f, nil
}

// List returns the registered sources in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, string(n))
	}
	sort.Strings(names)
	return names
}

// Build instantiates every registered computer in priority order.
func (r *Registry) Build() []Computer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Computer, 0, len(r.factories))
	for _, src := range domain.AllSources {
		if f, ok := r.factories[src]; ok {
			out = append(out, f())
		}
	}
	return out
}

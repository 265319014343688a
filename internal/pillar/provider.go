// Package pillar implements the external data provider pipeline that
// assembles per-agent pillar data. The core ships the chain mechanism:
// providers are registered by name at startup and invoked in configured
// order, and their partial outputs are deep-merged with later providers
// overriding earlier ones. Provider variants (file lookups, remote
// sources, templates) live behind the Provider interface.
package pillar

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/muster-io/muster/pkg/fleet"
)

// Provider produces a partial pillar mapping for one agent. Invocations
// are stateless from the pipeline's perspective; implementations may keep
// private caches. A provider must respect the context deadline: a
// timed-out call is treated as a provider failure.
type Provider interface {
	Produce(ctx context.Context, id fleet.AgentID, grains fleet.GrainSet, config map[string]any) (map[string]any, error)
}

// ProviderFunc adapts a plain function to the Provider interface.
type ProviderFunc func(ctx context.Context, id fleet.AgentID, grains fleet.GrainSet, config map[string]any) (map[string]any, error)

// Produce implements Provider.
func (f ProviderFunc) Produce(ctx context.Context, id fleet.AgentID, grains fleet.GrainSet, config map[string]any) (map[string]any, error) {
	return f(ctx, id, grains, config)
}

// ProviderError wraps a single provider's failure with its identity and
// position in the chain. A ProviderError is isolated per refresh: it is
// recorded, and the remaining providers still run.
type ProviderError struct {
	Provider string
	Rank     int
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("pillar provider %q (rank %d) failed: %v", e.Provider, e.Rank, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Registry maps provider names to implementations. It is populated once
// at startup by explicit registration; there is no runtime discovery.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under the given name. Registering a duplicate
// name is a configuration mistake and fails loudly.
func (r *Registry) Register(name string, p Provider) error {
	if name == "" {
		return fmt.Errorf("provider name cannot be empty")
	}
	if p == nil {
		return fmt.Errorf("provider %q cannot be nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = p
	return nil
}

// Lookup returns the provider registered under name.
func (r *Registry) Lookup(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

package pillar

import (
	"context"
	"fmt"
	"log"
	"time"

	"dario.cat/mergo"

	"github.com/muster-io/muster/pkg/fleet"
)

// DefaultProviderTimeout caps a single provider invocation when the
// pipeline is built without an explicit timeout.
const DefaultProviderTimeout = 10 * time.Second

// Pipeline runs an ordered provider chain and merges the outputs into one
// pillar mapping per agent. Chain order is merge precedence: later
// providers override earlier ones.
type Pipeline struct {
	chain    []fleet.ProviderSpec
	registry *Registry
	timeout  time.Duration
}

// NewPipeline builds a pipeline over the configured chain. Every spec
// name must resolve in the registry; an unknown provider is a startup
// error, not a per-refresh one.
func NewPipeline(registry *Registry, chain []fleet.ProviderSpec, timeout time.Duration) (*Pipeline, error) {
	if registry == nil {
		return nil, fmt.Errorf("provider registry cannot be nil")
	}
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}

	for rank, spec := range chain {
		if _, ok := registry.Lookup(spec.Name); !ok {
			return nil, fmt.Errorf("unknown pillar provider %q at rank %d (registered: %v)",
				spec.Name, rank, registry.Names())
		}
	}

	return &Pipeline{
		chain:    chain,
		registry: registry,
		timeout:  timeout,
	}, nil
}

// Len returns the number of providers in the chain.
func (p *Pipeline) Len() int {
	return len(p.chain)
}

// Refresh invokes every configured provider in chain order for one agent
// and deep-merges their outputs. A failing provider contributes nothing:
// its error is returned alongside the merged result and the remaining
// providers still run. Refresh only fails wholesale when the merge itself
// is impossible, which deterministic map outputs never trigger.
func (p *Pipeline) Refresh(ctx context.Context, id fleet.AgentID, grains fleet.GrainSet) (fleet.PillarMap, []error) {
	merged := fleet.PillarMap{}
	var errs []error

	for rank, spec := range p.chain {
		provider, ok := p.registry.Lookup(spec.Name)
		if !ok {
			// Unreachable after NewPipeline validation unless the registry
			// was mutated; treated as a provider failure, not a panic.
			errs = append(errs, &ProviderError{Provider: spec.Name, Rank: rank, Err: fmt.Errorf("provider not registered")})
			continue
		}

		out, err := p.produce(ctx, provider, spec, id, grains)
		if err != nil {
			perr := &ProviderError{Provider: spec.Name, Rank: rank, Err: err}
			log.Printf("[Pillar] %v (agent=%s)", perr, id)
			errs = append(errs, perr)
			continue
		}
		if len(out) == 0 {
			continue
		}

		// The merge grafts nested maps into the accumulator and mutates
		// them on later overrides, so each contribution is copied first to
		// keep provider-owned structures pristine.
		contribution := fleet.PillarMap(deepCopyMap(out))
		if err := mergo.Merge(&merged, contribution, mergo.WithOverride); err != nil {
			errs = append(errs, &ProviderError{Provider: spec.Name, Rank: rank, Err: fmt.Errorf("merge failed: %w", err)})
		}
	}

	return merged, errs
}

// produce runs one provider under the per-provider timeout.
func (p *Pipeline) produce(ctx context.Context, provider Provider, spec fleet.ProviderSpec, id fleet.AgentID, grains fleet.GrainSet) (map[string]any, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return provider.Produce(callCtx, id, grains, spec.Config)
}

// deepCopyMap copies a mapping recursively. Nested maps and slices are
// duplicated; scalar values are shared.
func deepCopyMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = deepCopyValue(v)
	}
	return dst
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

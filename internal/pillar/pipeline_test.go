package pillar

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muster-io/muster/pkg/fleet"
)

// constant returns a provider that always yields the given mapping.
func constant(out map[string]any) Provider {
	return ProviderFunc(func(context.Context, fleet.AgentID, fleet.GrainSet, map[string]any) (map[string]any, error) {
		return out, nil
	})
}

// failing returns a provider that always fails.
func failing(msg string) Provider {
	return ProviderFunc(func(context.Context, fleet.AgentID, fleet.GrainSet, map[string]any) (map[string]any, error) {
		return nil, fmt.Errorf("%s", msg)
	})
}

func buildPipeline(t *testing.T, providers map[string]Provider, chain []fleet.ProviderSpec) *Pipeline {
	t.Helper()
	registry := NewRegistry()
	for name, p := range providers {
		require.NoError(t, registry.Register(name, p))
	}
	pipeline, err := NewPipeline(registry, chain, time.Second)
	require.NoError(t, err)
	return pipeline
}

func TestRegistry(t *testing.T) {
	t.Run("rejects duplicate registration", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register("static", constant(nil)))
		assert.Error(t, r.Register("static", constant(nil)))
	})

	t.Run("rejects empty name and nil provider", func(t *testing.T) {
		r := NewRegistry()
		assert.Error(t, r.Register("", constant(nil)))
		assert.Error(t, r.Register("x", nil))
	})

	t.Run("lists names sorted", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register("zeta", constant(nil)))
		require.NoError(t, r.Register("alpha", constant(nil)))
		assert.Equal(t, []string{"alpha", "zeta"}, r.Names())
	})
}

func TestNewPipeline(t *testing.T) {
	t.Run("rejects unknown provider at construction", func(t *testing.T) {
		registry := NewRegistry()
		require.NoError(t, registry.Register("known", constant(nil)))

		_, err := NewPipeline(registry, []fleet.ProviderSpec{{Name: "missing"}}, time.Second)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing")
	})

	t.Run("empty chain is valid", func(t *testing.T) {
		pipeline, err := NewPipeline(NewRegistry(), nil, 0)
		require.NoError(t, err)
		assert.Equal(t, 0, pipeline.Len())

		pillar, errs := pipeline.Refresh(context.Background(), "node-1", fleet.GrainSet{})
		assert.Empty(t, errs)
		assert.Empty(t, pillar)
	})
}

func TestRefreshMergePrecedence(t *testing.T) {
	t.Run("later provider overrides earlier", func(t *testing.T) {
		// The scenario from the design discussion: a base provider sets
		// role=web, an override provider sets role=db; the override wins.
		pipeline := buildPipeline(t,
			map[string]Provider{
				"base":     constant(map[string]any{"role": "web"}),
				"override": constant(map[string]any{"role": "db"}),
			},
			[]fleet.ProviderSpec{{Name: "base"}, {Name: "override"}},
		)

		pillar, errs := pipeline.Refresh(context.Background(), "node-1", fleet.GrainSet{"os": "linux"})
		assert.Empty(t, errs)
		assert.Equal(t, fleet.PillarMap{"role": "db"}, pillar)
	})

	t.Run("nested maps merge key-wise", func(t *testing.T) {
		pipeline := buildPipeline(t,
			map[string]Provider{
				"base": constant(map[string]any{
					"tuning": map[string]any{"workers": 4, "debug": false},
				}),
				"override": constant(map[string]any{
					"tuning": map[string]any{"debug": true},
				}),
			},
			[]fleet.ProviderSpec{{Name: "base"}, {Name: "override"}},
		)

		pillar, errs := pipeline.Refresh(context.Background(), "node-1", nil)
		assert.Empty(t, errs)
		assert.Equal(t, fleet.PillarMap{
			"tuning": map[string]any{"workers": 4, "debug": true},
		}, pillar)
	})

	t.Run("lists replace wholesale", func(t *testing.T) {
		pipeline := buildPipeline(t,
			map[string]Provider{
				"base":     constant(map[string]any{"roles": []any{"web", "cache"}}),
				"override": constant(map[string]any{"roles": []any{"db"}}),
			},
			[]fleet.ProviderSpec{{Name: "base"}, {Name: "override"}},
		)

		pillar, errs := pipeline.Refresh(context.Background(), "node-1", nil)
		assert.Empty(t, errs)
		assert.Equal(t, []any{"db"}, pillar["roles"])
	})

	t.Run("merge does not mutate provider output", func(t *testing.T) {
		baseOut := map[string]any{"tuning": map[string]any{"workers": 4}}
		pipeline := buildPipeline(t,
			map[string]Provider{
				"base":     constant(baseOut),
				"override": constant(map[string]any{"tuning": map[string]any{"workers": 8}}),
			},
			[]fleet.ProviderSpec{{Name: "base"}, {Name: "override"}},
		)

		_, errs := pipeline.Refresh(context.Background(), "node-1", nil)
		assert.Empty(t, errs)
		assert.Equal(t, 4, baseOut["tuning"].(map[string]any)["workers"],
			"provider-owned config must stay pristine across refreshes")
	})
}

func TestRefreshFailureIsolation(t *testing.T) {
	t.Run("failing provider contributes nothing, chain continues", func(t *testing.T) {
		pipeline := buildPipeline(t,
			map[string]Provider{
				"first":  constant(map[string]any{"a": 1}),
				"broken": failing("upstream down"),
				"last":   constant(map[string]any{"b": 2}),
			},
			[]fleet.ProviderSpec{{Name: "first"}, {Name: "broken"}, {Name: "last"}},
		)

		pillar, errs := pipeline.Refresh(context.Background(), "node-1", nil)
		require.Len(t, errs, 1)

		var perr *ProviderError
		require.ErrorAs(t, errs[0], &perr)
		assert.Equal(t, "broken", perr.Provider)
		assert.Equal(t, 1, perr.Rank)

		assert.Equal(t, fleet.PillarMap{"a": 1, "b": 2}, pillar)
	})

	t.Run("timed-out provider is a provider failure", func(t *testing.T) {
		slow := ProviderFunc(func(ctx context.Context, _ fleet.AgentID, _ fleet.GrainSet, _ map[string]any) (map[string]any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return map[string]any{"late": true}, nil
			}
		})

		registry := NewRegistry()
		require.NoError(t, registry.Register("slow", slow))
		require.NoError(t, registry.Register("fast", constant(map[string]any{"ok": true})))
		pipeline, err := NewPipeline(registry, []fleet.ProviderSpec{{Name: "slow"}, {Name: "fast"}}, 20*time.Millisecond)
		require.NoError(t, err)

		pillar, errs := pipeline.Refresh(context.Background(), "node-1", nil)
		require.Len(t, errs, 1)
		assert.ErrorIs(t, errs[0], context.DeadlineExceeded)
		assert.Equal(t, fleet.PillarMap{"ok": true}, pillar)
	})
}

func TestRefreshIdempotence(t *testing.T) {
	pipeline := buildPipeline(t,
		map[string]Provider{
			"base":     constant(map[string]any{"role": "web", "tier": map[string]any{"name": "frontend"}}),
			"override": constant(map[string]any{"role": "db"}),
		},
		[]fleet.ProviderSpec{{Name: "base"}, {Name: "override"}},
	)

	grains := fleet.GrainSet{"os": "linux"}
	first, errs := pipeline.Refresh(context.Background(), "node-1", grains)
	require.Empty(t, errs)
	second, errs := pipeline.Refresh(context.Background(), "node-1", grains)
	require.Empty(t, errs)

	assert.Equal(t, first, second)
}

func TestStaticProvider(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, RegisterBuiltins(registry))

	pipeline, err := NewPipeline(registry, []fleet.ProviderSpec{
		{Name: StaticName, Config: map[string]any{"role": "web"}},
	}, time.Second)
	require.NoError(t, err)

	pillar, errs := pipeline.Refresh(context.Background(), "node-1", nil)
	assert.Empty(t, errs)
	assert.Equal(t, fleet.PillarMap{"role": "web"}, pillar)
}

func TestFileProvider(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "node-1.yaml"),
		[]byte("role: db\ntuning:\n  max_connections: 200\n"),
		0o644,
	))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "node-bad.yaml"),
		[]byte("{invalid: ["),
		0o644,
	))

	registry := NewRegistry()
	require.NoError(t, RegisterBuiltins(registry))
	pipeline, err := NewPipeline(registry, []fleet.ProviderSpec{
		{Name: FileName, Config: map[string]any{"dir": dir}},
	}, time.Second)
	require.NoError(t, err)

	t.Run("reads per-agent yaml", func(t *testing.T) {
		pillar, errs := pipeline.Refresh(context.Background(), "node-1", nil)
		assert.Empty(t, errs)
		assert.Equal(t, "db", pillar["role"])
		assert.Equal(t, map[string]any{"max_connections": 200}, pillar["tuning"])
	})

	t.Run("missing file contributes nothing", func(t *testing.T) {
		pillar, errs := pipeline.Refresh(context.Background(), "node-unknown", nil)
		assert.Empty(t, errs)
		assert.Empty(t, pillar)
	})

	t.Run("malformed file is a provider failure", func(t *testing.T) {
		_, errs := pipeline.Refresh(context.Background(), "node-bad", nil)
		assert.Len(t, errs, 1)
	})

	t.Run("missing dir config is a provider failure", func(t *testing.T) {
		badPipeline, err := NewPipeline(registry, []fleet.ProviderSpec{{Name: FileName}}, time.Second)
		require.NoError(t, err)
		_, errs := badPipeline.Refresh(context.Background(), "node-1", nil)
		assert.Len(t, errs, 1)
	})
}

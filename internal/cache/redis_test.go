package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muster-io/muster/pkg/fleet"
)

// setupRedisStore creates a store backed by a miniredis instance.
func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	store, err := NewRedisStore(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store, mr
}

func TestNewRedisStore(t *testing.T) {
	t.Run("rejects empty instance name", func(t *testing.T) {
		_, err := NewRedisStore(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
	})

	t.Run("ping succeeds against live server", func(t *testing.T) {
		store, _ := setupRedisStore(t)
		assert.NoError(t, store.Ping(context.Background()))
	})
}

func TestRedisStorePutGet(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()

	entry := &fleet.CacheEntry{
		AgentID: "node-1",
		Grains:  fleet.GrainSet{"os": "linux"},
		Pillar: fleet.PillarMap{
			"role":   "db",
			"tuning": map[string]any{"max_connections": float64(200)},
		},
		UpdatedAtMs: 1700000000000,
	}

	require.NoError(t, store.Put(ctx, entry))

	got, err := store.Get(ctx, "node-1")
	require.NoError(t, err)
	assert.Equal(t, entry, got)
}

func TestRedisStoreGetAbsent(t *testing.T) {
	store, _ := setupRedisStore(t)

	_, err := store.Get(context.Background(), "never-reported")
	assert.True(t, IsNotFound(err))
}

func TestRedisStorePutReplaces(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &fleet.CacheEntry{
		AgentID:     "node-1",
		Grains:      fleet.GrainSet{"os": "linux", "cpus": float64(8)},
		Pillar:      fleet.PillarMap{},
		UpdatedAtMs: 1,
	}))
	require.NoError(t, store.Put(ctx, &fleet.CacheEntry{
		AgentID:     "node-1",
		Grains:      fleet.GrainSet{"os": "freebsd"},
		Pillar:      fleet.PillarMap{},
		UpdatedAtMs: 2,
	}))

	got, err := store.Get(ctx, "node-1")
	require.NoError(t, err)
	assert.Equal(t, fleet.GrainSet{"os": "freebsd"}, got.Grains)
	assert.Equal(t, int64(2), got.UpdatedAtMs)
}

func TestRedisStoreScan(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()

	for _, id := range []fleet.AgentID{"node-1", "node-2", "node-3"} {
		require.NoError(t, store.Put(ctx, &fleet.CacheEntry{
			AgentID:     id,
			Grains:      fleet.GrainSet{},
			Pillar:      fleet.PillarMap{},
			UpdatedAtMs: 1,
		}))
	}

	// Unrelated keys in the same database must not leak into the scan.
	mr.Set("muster:other-instance:agent:node-9", "x")
	mr.Set("unrelated", "y")

	entries, err := store.Scan(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestRedisStorePersistsAcrossClients(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	defer mr.Close()
	ctx := context.Background()

	first, err := NewRedisStore(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, &fleet.CacheEntry{
		AgentID:     "node-1",
		Grains:      fleet.GrainSet{"os": "linux"},
		Pillar:      fleet.PillarMap{},
		UpdatedAtMs: 1,
	}))
	require.NoError(t, first.Close())

	// A fresh client sees the committed entry, as a restarted coordinator
	// would.
	second, err := NewRedisStore(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	defer second.Close()

	got, err := second.Get(ctx, "node-1")
	require.NoError(t, err)
	assert.Equal(t, fleet.GrainSet{"os": "linux"}, got.Grains)
}

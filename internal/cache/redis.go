package cache

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/muster-io/muster/pkg/fleet"
)

// RedisStore persists cache entries as Redis hashes so they survive
// coordinator restarts. One hash per agent, all fields written in a
// single HSET so readers never observe a torn entry.
type RedisStore struct {
	rdb          *redis.Client
	instanceName string
}

// NewRedisStore creates a store namespaced to the given instance.
func NewRedisStore(redisOpts *redis.Options, instanceName string) (*RedisStore, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	return &RedisStore{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for startup health checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Put writes an entry through to Redis synchronously.
func (s *RedisStore) Put(ctx context.Context, entry *fleet.CacheEntry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid cache entry: %w", err)
	}

	hash, err := fleet.EntryToHash(entry)
	if err != nil {
		return fmt.Errorf("failed to serialize cache entry: %w", err)
	}

	key := fleet.AgentEntryKey(s.instanceName, entry.AgentID)
	if err := s.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("failed to write cache entry to Redis: %w", err)
	}
	return nil
}

// Get reads one agent's entry. Returns ErrNotFound for unknown agents.
func (s *RedisStore) Get(ctx context.Context, id fleet.AgentID) (*fleet.CacheEntry, error) {
	key := fleet.AgentEntryKey(s.instanceName, id)

	hashData, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry from Redis: %w", err)
	}

	// HGetAll returns an empty map for a missing key.
	if len(hashData) == 0 {
		return nil, ErrNotFound
	}

	entry, err := fleet.HashToEntry(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize cache entry: %w", err)
	}
	return entry, nil
}

// Scan iterates every agent entry for the instance using Redis SCAN, so
// large fleets never block the server. Malformed entries are skipped with
// a warning rather than failing the whole scan.
func (s *RedisStore) Scan(ctx context.Context) ([]*fleet.CacheEntry, error) {
	pattern := fleet.AgentEntryPattern(s.instanceName)
	prefix := fleet.AgentEntryPrefix(s.instanceName)
	iter := s.rdb.Scan(ctx, 0, pattern, 0).Iterator()

	var entries []*fleet.CacheEntry
	for iter.Next(ctx) {
		key := iter.Val()
		id := fleet.AgentID(key[len(prefix):])

		entry, err := s.Get(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			log.Printf("[Cache] Skipping unreadable entry for agent '%s': %v", id, err)
			continue
		}
		entries = append(entries, entry)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan cache entries: %w", err)
	}

	return entries, nil
}

// Package cache implements the coordinator's authoritative view of the
// fleet: per-agent grains and pillar snapshots, durably stored and served
// to targeting queries. Updates for one agent are serialized; distinct
// agents update concurrently.
package cache

import (
	"context"
	"errors"

	"github.com/muster-io/muster/pkg/fleet"
)

// ErrNotFound means no entry exists for the agent. An absent entry is an
// unknown agent, distinct from an agent that reported empty grains.
var ErrNotFound = errors.New("cache entry not found")

// ErrStoreUnavailable means the durable store could not commit a write.
// Report surfaces it to the caller rather than silently losing data.
var ErrStoreUnavailable = errors.New("cache store unavailable")

// Store is the durable key/value backend holding cache entries, keyed by
// agent identity. Writes to one key are never issued concurrently: the
// Cache funnels them through a per-agent critical section.
type Store interface {
	// Put commits an entry, replacing any previous one for the same agent.
	Put(ctx context.Context, entry *fleet.CacheEntry) error

	// Get returns the entry for one agent, or ErrNotFound.
	Get(ctx context.Context, id fleet.AgentID) (*fleet.CacheEntry, error)

	// Scan returns every stored entry. Each entry is individually
	// consistent; no cross-entry transaction is implied.
	Scan(ctx context.Context) ([]*fleet.CacheEntry, error)
}

// IsNotFound returns true if the error means "no entry for this agent".
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

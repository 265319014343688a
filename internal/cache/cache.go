package cache

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/muster-io/muster/pkg/fleet"
)

// Refresher re-computes an agent's pillar from its grains. Satisfied by
// pillar.Pipeline; returned errors are per-provider failures, already
// isolated, so the refresh result is always usable.
type Refresher interface {
	Refresh(ctx context.Context, id fleet.AgentID, grains fleet.GrainSet) (fleet.PillarMap, []error)
}

// Cache coordinates agent check-ins: it replaces the stored grains
// wholesale, re-runs the pillar pipeline, and commits the resulting entry
// write-through to the durable store before acknowledging.
//
// Caching is optional system-wide. A disabled cache accepts every call:
// Report is a no-op and Get/All report absent/empty, so targeting callers
// must treat cache results as best-effort.
type Cache struct {
	store     Store
	refresher Refresher
	enabled   bool

	// Per-agent critical sections. The map grows with the known fleet,
	// which is bounded by the number of distinct agent identities seen.
	mu    sync.Mutex
	locks map[fleet.AgentID]*sync.Mutex
}

// New creates a cache over the given store and pillar refresher.
func New(store Store, refresher Refresher, enabled bool) *Cache {
	return &Cache{
		store:     store,
		refresher: refresher,
		enabled:   enabled,
		locks:     make(map[fleet.AgentID]*sync.Mutex),
	}
}

// Enabled reports whether caching is active.
func (c *Cache) Enabled() bool {
	return c.enabled
}

// lock acquires the critical section for one agent and returns its
// release function. Distinct agents proceed in parallel.
func (c *Cache) lock(id fleet.AgentID) func() {
	c.mu.Lock()
	m, ok := c.locks[id]
	if !ok {
		m = &sync.Mutex{}
		c.locks[id] = m
	}
	c.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Report handles one agent check-in: the stored grains are replaced
// wholesale (never merged), the pillar pipeline runs against the new
// grains, and the entry is committed in a single write. The entire
// operation is serialized per agent.
//
// A store failure is returned wrapped in ErrStoreUnavailable; nothing is
// committed in that case, so the prior entry (if any) stays intact.
// Provider failures do not fail the report: the merged pillar from the
// surviving providers is committed.
func (c *Cache) Report(ctx context.Context, id fleet.AgentID, grains fleet.GrainSet) error {
	if !c.enabled {
		return nil
	}
	if id == "" {
		return fmt.Errorf("agent ID cannot be empty")
	}
	if grains == nil {
		grains = fleet.GrainSet{}
	}

	unlock := c.lock(id)
	defer unlock()

	return c.commit(ctx, id, grains)
}

// RefreshPillar re-runs the pillar pipeline for an agent using its cached
// grains, without a new grains report. Fails with ErrNotFound for agents
// that never reported.
func (c *Cache) RefreshPillar(ctx context.Context, id fleet.AgentID) error {
	if !c.enabled {
		return nil
	}

	unlock := c.lock(id)
	defer unlock()

	entry, err := c.store.Get(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return err
		}
		return fmt.Errorf("%w: reading entry for agent %s: %v", ErrStoreUnavailable, id, err)
	}

	return c.commit(ctx, id, entry.Grains)
}

// commit runs the pipeline and writes the new entry. Callers hold the
// per-agent lock.
func (c *Cache) commit(ctx context.Context, id fleet.AgentID, grains fleet.GrainSet) error {
	pillar, perrs := c.refresher.Refresh(ctx, id, grains)
	if len(perrs) > 0 {
		log.Printf("[Cache] Pillar refresh for agent '%s' completed with %d provider failure(s)", id, len(perrs))
	}

	entry := &fleet.CacheEntry{
		AgentID:     id,
		Grains:      grains,
		Pillar:      pillar,
		UpdatedAtMs: time.Now().UnixMilli(),
	}

	if err := c.store.Put(ctx, entry); err != nil {
		return fmt.Errorf("%w: committing entry for agent %s: %v", ErrStoreUnavailable, id, err)
	}
	return nil
}

// Get is a read-only lookup. It never triggers a refresh and never blocks
// on an in-progress report for another agent. Store failures degrade to
// absent, keeping targeting best-effort.
func (c *Cache) Get(ctx context.Context, id fleet.AgentID) (*fleet.CacheEntry, bool) {
	if !c.enabled {
		return nil, false
	}

	entry, err := c.store.Get(ctx, id)
	if err != nil {
		if !IsNotFound(err) {
			log.Printf("[Cache] Degrading get for agent '%s' to absent: %v", id, err)
		}
		return nil, false
	}
	return entry, true
}

// All returns a snapshot of every cached entry for targeting scans. Each
// entry is individually consistent. Store failures degrade to an empty
// result.
func (c *Cache) All(ctx context.Context) []*fleet.CacheEntry {
	if !c.enabled {
		return nil
	}

	entries, err := c.store.Scan(ctx)
	if err != nil {
		log.Printf("[Cache] Degrading scan to empty: %v", err)
		return nil
	}
	return entries
}

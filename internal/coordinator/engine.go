// Package coordinator contains the engine that drives the coordinator's
// cache update path: it consumes coordinator-bound agent events off the
// bus and turns check-ins into cache commits. Arbitrary event traffic
// flows past it untouched; only the reserved report/refresh tags are
// acted on.
package coordinator

import (
	"context"
	"log"
	"sync"

	"github.com/muster-io/muster/internal/bus"
	"github.com/muster-io/muster/internal/cache"
	"github.com/muster-io/muster/pkg/fleet"
)

// workerQueueSize bounds each per-agent intake queue. Check-ins arriving
// faster than the cache can commit them are dropped; the next report
// carries a fresh snapshot anyway.
const workerQueueSize = 16

// Engine subscribes to coordinator-bound events and applies them to the
// agent data cache. Events from one agent are handled in order by a
// dedicated worker; distinct agents proceed in parallel, matching the
// cache's per-agent serialization.
type Engine struct {
	bus   *bus.Bus
	cache *cache.Cache

	mu      sync.Mutex
	workers map[string]chan *fleet.Event
	wg      sync.WaitGroup
}

// New creates an engine over the given bus and cache.
func New(b *bus.Bus, c *cache.Cache) *Engine {
	return &Engine{
		bus:     b,
		cache:   c,
		workers: make(map[string]chan *fleet.Event),
	}
}

// Start consumes events until the context is cancelled, then waits for
// the per-agent workers to drain. Returns nil on a clean shutdown.
func (e *Engine) Start(ctx context.Context) error {
	sub, err := e.bus.Subscribe(fleet.CoordPrefix + "*")
	if err != nil {
		return err
	}
	defer sub.Close()

	log.Printf("[Coordinator] Engine started (cache enabled: %v)", e.cache.Enabled())

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Coordinator] Shutting down...")
			e.stopWorkers()
			log.Printf("[Coordinator] All workers exited, shutdown complete")
			return nil

		case ev, ok := <-sub.Events():
			if !ok {
				e.stopWorkers()
				return nil
			}
			e.dispatch(ctx, ev)
		}
	}
}

// dispatch hands an event to its origin's worker, starting the worker on
// first contact. A full worker queue drops the event: check-in handling
// is best-effort and a newer snapshot supersedes a stale one.
func (e *Engine) dispatch(ctx context.Context, ev *fleet.Event) {
	e.mu.Lock()
	queue, ok := e.workers[ev.Origin]
	if !ok {
		queue = make(chan *fleet.Event, workerQueueSize)
		e.workers[ev.Origin] = queue
		e.wg.Add(1)
		go e.worker(ctx, ev.Origin, queue)
	}
	e.mu.Unlock()

	select {
	case queue <- ev:
	default:
		log.Printf("[Coordinator] Dropping event %s for '%s': worker queue full", ev.ID, ev.Origin)
	}
}

func (e *Engine) stopWorkers() {
	e.mu.Lock()
	for _, queue := range e.workers {
		close(queue)
	}
	e.workers = make(map[string]chan *fleet.Event)
	e.mu.Unlock()
	e.wg.Wait()
}

// worker applies one agent's events in arrival order.
func (e *Engine) worker(ctx context.Context, origin string, queue chan *fleet.Event) {
	defer e.wg.Done()
	for ev := range queue {
		e.handle(ctx, ev)
	}
	log.Printf("[Coordinator] Worker for '%s' exited", origin)
}

// handle applies a single event. Failures are logged and contained; one
// agent's bad check-in never affects another's.
func (e *Engine) handle(ctx context.Context, ev *fleet.Event) {
	id := fleet.AgentID(ev.Origin)

	switch ev.Tag {
	case fleet.TagAgentReport:
		grains, ok := ev.Data["grains"].(map[string]any)
		if !ok {
			log.Printf("[Coordinator] Ignoring report %s from '%s': missing grains payload", ev.ID, id)
			return
		}

		if err := e.cache.Report(ctx, id, fleet.GrainSet(grains)); err != nil {
			log.Printf("[Coordinator] Failed to commit report from '%s': %v", id, err)
			return
		}
		log.Printf("[Coordinator] Cache entry committed for '%s' (%d grains)", id, len(grains))
		e.bus.Publish(fleet.TagCacheUpdated, map[string]any{"agent_id": string(id)}, fleet.OriginCoordinator)

	case fleet.TagAgentRefresh:
		if err := e.cache.RefreshPillar(ctx, id); err != nil {
			if cache.IsNotFound(err) {
				log.Printf("[Coordinator] Ignoring pillar refresh from unknown agent '%s'", id)
				return
			}
			log.Printf("[Coordinator] Failed to refresh pillar for '%s': %v", id, err)
			return
		}
		log.Printf("[Coordinator] Pillar refreshed for '%s'", id)
		e.bus.Publish(fleet.TagCacheUpdated, map[string]any{"agent_id": string(id)}, fleet.OriginCoordinator)

	default:
		// Other coordinator-bound tags are application traffic for bus
		// subscribers, not cache updates.
	}
}

// Package watch provides blocking waits over the agent data cache.
package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/muster-io/muster/internal/cache"
	"github.com/muster-io/muster/pkg/fleet"
)

// PollForEntry polls the cache store until an entry for the given agent
// appears. Returns the entry or an error if the timeout elapses.
// Polls every 200ms for the specified timeout duration.
func PollForEntry(ctx context.Context, store cache.Store, id fleet.AgentID, timeout time.Duration) (*fleet.CacheEntry, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for agent '%s' to check in after %v", id, timeout)

		case <-ticker.C:
			entry, err := store.Get(ctx, id)
			if err != nil {
				if cache.IsNotFound(err) {
					// Not cached yet, continue polling
					continue
				}
				return nil, fmt.Errorf("failed to query cache: %w", err)
			}

			return entry, nil
		}
	}
}

// PollForUpdate polls until the agent's entry is newer than the given
// timestamp. Used after requesting a pillar refresh to observe the
// recomputed entry.
func PollForUpdate(ctx context.Context, store cache.Store, id fleet.AgentID, afterMs int64, timeout time.Duration) (*fleet.CacheEntry, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for agent '%s' entry to update after %v", id, timeout)

		case <-ticker.C:
			entry, err := store.Get(ctx, id)
			if err != nil {
				if cache.IsNotFound(err) {
					continue
				}
				return nil, fmt.Errorf("failed to query cache: %w", err)
			}
			if entry.UpdatedAtMs <= afterMs {
				continue
			}

			return entry, nil
		}
	}
}

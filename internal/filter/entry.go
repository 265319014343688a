// Package filter narrows cache entry listings by time and identity.
package filter

import (
	"path/filepath"

	"github.com/muster-io/muster/pkg/fleet"
)

// Criteria defines filtering criteria for cache entries.
// All filters are ANDed together - an entry must match ALL criteria to pass.
type Criteria struct {
	SinceTimestampMs int64  // Unix timestamp in milliseconds, 0 = no filter
	UntilTimestampMs int64  // Unix timestamp in milliseconds, 0 = no filter
	IDGlob           string // Glob pattern for agent ID, empty = no filter
}

// Matches returns true if the entry matches all filter criteria.
// Empty/zero criteria values are treated as "match all" for that criterion.
func (c *Criteria) Matches(entry *fleet.CacheEntry) bool {
	// Time filtering - check UpdatedAtMs field
	if c.SinceTimestampMs > 0 && entry.UpdatedAtMs < c.SinceTimestampMs {
		return false
	}
	if c.UntilTimestampMs > 0 && entry.UpdatedAtMs > c.UntilTimestampMs {
		return false
	}

	// Identity filtering - glob pattern matching
	if c.IDGlob != "" {
		matched, err := filepath.Match(c.IDGlob, string(entry.AgentID))
		if err != nil || !matched {
			return false
		}
	}

	return true
}

// HasFilters returns true if any filters are active.
func (c *Criteria) HasFilters() bool {
	return c.SinceTimestampMs > 0 ||
		c.UntilTimestampMs > 0 ||
		c.IDGlob != ""
}

package target

import (
	"context"
	"fmt"
	"sort"

	"github.com/muster-io/muster/pkg/fleet"
)

// Snapshot supplies point-in-time cache entries for targeting scans.
// Satisfied by cache.Cache.
type Snapshot interface {
	All(ctx context.Context) []*fleet.CacheEntry
}

// Resolver evaluates targeting expressions against cache snapshots.
// Results are deterministic: the same cache state and expression always
// yield the same sorted identity set, regardless of iteration order.
//
// The known-identity set is itself derived from the cache, so agents that
// never reported are invisible even to pure identity globs. When the
// cache is disabled every resolution is empty; callers fall back to live
// agent queries.
type Resolver struct {
	cache   Snapshot
	matcher Matcher
}

// NewResolver creates a resolver. A nil matcher selects the default
// compound grammar.
func NewResolver(cache Snapshot, matcher Matcher) *Resolver {
	if matcher == nil {
		matcher = NewCompoundMatcher()
	}
	return &Resolver{cache: cache, matcher: matcher}
}

// Resolve returns the sorted identities of every cached agent matching
// the expression. Expression errors fail the whole resolution; they are
// never silently treated as "no match".
func (r *Resolver) Resolve(ctx context.Context, expr string) ([]fleet.AgentID, error) {
	var matched []fleet.AgentID

	for _, entry := range r.cache.All(ctx) {
		ok, err := r.matcher.Matches(expr, entry.AgentID, entryFacts(entry))
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate target expression: %w", err)
		}
		if ok {
			matched = append(matched, entry.AgentID)
		}
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i] < matched[j] })
	return matched, nil
}

// entryFacts combines an entry's grains and pillar into the fact set
// expressions match against, with pillar keys taking precedence.
func entryFacts(entry *fleet.CacheEntry) fleet.GrainSet {
	facts := make(fleet.GrainSet, len(entry.Grains)+len(entry.Pillar))
	for k, v := range entry.Grains {
		facts[k] = v
	}
	for k, v := range entry.Pillar {
		facts[k] = v
	}
	return facts
}

// Package fleet provides the shared type definitions and Redis schema
// patterns for the Muster coordination core. Every Muster component
// (coordinator, agents, CLI) exchanges state through these well-defined
// structures: events flowing over the bus, and grain/pillar snapshots
// held in the agent data cache.
//
// All Redis keys and channels are namespaced by instance name so that
// multiple Muster instances can safely coexist on a single Redis server.
package fleet

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OriginCoordinator is the reserved origin for events published by the
// coordinator process itself. Every other origin is an AgentID.
const OriginCoordinator = "coordinator"

// CoordPrefix is the reserved tag namespace for agent-local events that
// must be forwarded across the transport to the coordinator. It is the
// only namespace that ever crosses a process boundary.
const CoordPrefix = "coord."

// TagAgentReport carries a full grains snapshot from an agent check-in.
// Event data: {"grains": map[string]any}.
const TagAgentReport = "coord.agent.report"

// TagAgentRefresh asks the coordinator to re-run the pillar pipeline for
// the originating agent using its cached grains.
const TagAgentRefresh = "coord.agent.refresh"

// TagForwardFailed is the local diagnostic event published in place of a
// coordinator-bound event that could not be forwarded after retries ran
// out. It is outside the "coord." namespace so it never crosses the wire.
const TagForwardFailed = "muster.forward.failed"

// TagCacheUpdated is the coordinator-local diagnostic event published
// after an agent's cache entry has been committed.
// Event data: {"agent_id": string}.
const TagCacheUpdated = "muster.cache.updated"

// AgentID is the opaque stable identity of a single agent. It is unique
// across the fleet and keys the agent data cache.
type AgentID string

// GrainSet holds an agent's self-reported facts. A GrainSet is a
// point-in-time snapshot: each report replaces the previous set wholesale,
// grains are never merged across reports.
type GrainSet map[string]any

// PillarMap holds the per-agent configuration data produced by merging
// provider outputs. Like grains, a pillar is replaced wholesale on each
// refresh, never partially mutated.
type PillarMap map[string]any

// Event is one immutable message on the bus. Subscribers match on the
// hierarchical dotted Tag, either exactly or by prefix wildcard.
type Event struct {
	ID          string         `json:"id"`           // UUID assigned at publish time
	Tag         string         `json:"tag"`          // Hierarchical dotted tag, e.g. "coord.agent.report"
	Data        map[string]any `json:"data"`         // Arbitrary structured payload
	TimestampMs int64          `json:"timestamp_ms"` // Unix milliseconds at publish time
	Origin      string         `json:"origin"`       // AgentID or OriginCoordinator
}

// NewEvent builds an event with a fresh ID and the current timestamp.
// The data map is used as-is; callers must not mutate it after publishing.
func NewEvent(tag string, data map[string]any, origin string) *Event {
	return &Event{
		ID:          uuid.New().String(),
		Tag:         tag,
		Data:        data,
		TimestampMs: time.Now().UnixMilli(),
		Origin:      origin,
	}
}

// Validate checks the event has the fields the bus requires.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event ID cannot be empty")
	}
	if err := ValidateTag(e.Tag); err != nil {
		return err
	}
	if e.Origin == "" {
		return fmt.Errorf("event origin cannot be empty")
	}
	return nil
}

// ValidateTag checks that a tag is a well-formed dotted hierarchy.
func ValidateTag(tag string) error {
	if tag == "" {
		return fmt.Errorf("event tag cannot be empty")
	}
	if strings.ContainsAny(tag, " \t\n") {
		return fmt.Errorf("event tag cannot contain whitespace: %q", tag)
	}
	if strings.HasPrefix(tag, ".") || strings.HasSuffix(tag, ".") {
		return fmt.Errorf("event tag cannot start or end with a dot: %q", tag)
	}
	return nil
}

// MatchTag reports whether a subscription pattern matches a tag.
// A pattern is either an exact tag, the universal wildcard "*", or a
// prefix followed by a trailing ".*" wildcard segment. The wildcard
// matches the prefix itself and any tag nested under it, so "coord.*"
// matches "coord.agent.report" but not "coordinated.thing".
func MatchTag(pattern, tag string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return tag == prefix || strings.HasPrefix(tag, prefix+".")
	}
	return pattern == tag
}

// CoordinatorBound reports whether a tag sits in the reserved
// to-coordinator namespace and must be forwarded across the transport.
func CoordinatorBound(tag string) bool {
	return strings.HasPrefix(tag, CoordPrefix)
}

// ProviderSpec is one ordered entry in the configured pillar provider
// chain. Name selects the implementation from the provider registry;
// the position in the chain is the merge precedence (later wins).
type ProviderSpec struct {
	Name   string         `yaml:"name" json:"name"`
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// CacheEntry is the coordinator's cached view of one agent: the latest
// grains snapshot, the merged pillar, and when they were committed.
// An entry exists only after at least one successful grains report;
// "no entry" means unknown agent, distinct from an agent with empty grains.
type CacheEntry struct {
	AgentID     AgentID   `json:"agent_id"`
	Grains      GrainSet  `json:"grains"`
	Pillar      PillarMap `json:"pillar"`
	UpdatedAtMs int64     `json:"updated_at_ms"`
}

// Validate checks the entry has the fields the cache requires.
func (c *CacheEntry) Validate() error {
	if c.AgentID == "" {
		return fmt.Errorf("cache entry agent ID cannot be empty")
	}
	if c.UpdatedAtMs < 0 {
		return fmt.Errorf("cache entry timestamp cannot be negative, got %d", c.UpdatedAtMs)
	}
	return nil
}

// Options carries the process-start configuration the core consumes:
// whether the agent data cache is enabled, and the ordered provider chain.
type Options struct {
	CacheEnabled bool
	Providers    []ProviderSpec
}

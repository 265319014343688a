package fleet

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). The nested grain
// and pillar mappings are JSON-encoded into single hash fields. This keeps
// the scalar fields individually queryable while preserving arbitrary
// structure in the snapshots.

// EntryToHash converts a CacheEntry to a Redis hash format.
// The grains and pillar mappings are JSON-encoded.
func EntryToHash(e *CacheEntry) (map[string]interface{}, error) {
	grainsJSON, err := json.Marshal(e.Grains)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal grains: %w", err)
	}

	pillarJSON, err := json.Marshal(e.Pillar)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal pillar: %w", err)
	}

	hash := map[string]interface{}{
		"agent_id":      string(e.AgentID),
		"grains":        string(grainsJSON),
		"pillar":        string(pillarJSON),
		"updated_at_ms": e.UpdatedAtMs,
	}

	return hash, nil
}

// HashToEntry converts a Redis hash back to a CacheEntry.
// JSON fields are decoded back to Go maps.
func HashToEntry(hash map[string]string) (*CacheEntry, error) {
	var grains GrainSet
	if grainsJSON := hash["grains"]; grainsJSON != "" {
		if err := json.Unmarshal([]byte(grainsJSON), &grains); err != nil {
			return nil, fmt.Errorf("failed to unmarshal grains: %w", err)
		}
	}

	var pillar PillarMap
	if pillarJSON := hash["pillar"]; pillarJSON != "" {
		if err := json.Unmarshal([]byte(pillarJSON), &pillar); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pillar: %w", err)
		}
	}

	// Empty snapshots round-trip as empty maps, not nil, so "agent with
	// empty grains" stays distinct from a missing field.
	if grains == nil {
		grains = GrainSet{}
	}
	if pillar == nil {
		pillar = PillarMap{}
	}

	updatedAtMs, err := strconv.ParseInt(hash["updated_at_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid updated_at_ms field: %w", err)
	}

	entry := &CacheEntry{
		AgentID:     AgentID(hash["agent_id"]),
		Grains:      grains,
		Pillar:      pillar,
		UpdatedAtMs: updatedAtMs,
	}

	return entry, nil
}

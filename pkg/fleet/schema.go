package fleet

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name to
// enable multiple Muster instances to safely coexist on a single Redis
// server.
//
// Key pattern: muster:{instance_name}:{entity}:{id}
// Channel pattern: muster:{instance_name}:wire:{destination}

// AgentEntryKey returns the Redis key for one agent's cache entry.
// Pattern: muster:{instance_name}:agent:{agent_id}
func AgentEntryKey(instanceName string, id AgentID) string {
	return fmt.Sprintf("muster:%s:agent:%s", instanceName, id)
}

// AgentEntryPattern returns the SCAN pattern matching every agent cache
// entry for an instance.
// Pattern: muster:{instance_name}:agent:*
func AgentEntryPattern(instanceName string) string {
	return fmt.Sprintf("muster:%s:agent:*", instanceName)
}

// AgentEntryPrefix returns the key prefix cache entries share, used to
// recover the agent ID from a scanned key.
func AgentEntryPrefix(instanceName string) string {
	return fmt.Sprintf("muster:%s:agent:", instanceName)
}

// WireChannel returns the Pub/Sub channel carrying forwarded events for
// a destination. The coordinator listens on its own wire channel; agents
// would listen on theirs if the coordinator ever pushed events back.
// Pattern: muster:{instance_name}:wire:{destination}
func WireChannel(instanceName, destination string) string {
	return fmt.Sprintf("muster:%s:wire:%s", instanceName, destination)
}

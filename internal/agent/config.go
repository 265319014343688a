// Package agent implements the agent-side engine: it collects grains,
// publishes periodic check-in reports on the agent's local bus, and
// leaves the forwarding to the coordinator to the bus's Forwarder.
package agent

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// DefaultReportInterval is the grains check-in cadence when
// MUSTER_REPORT_INTERVAL is unset.
const DefaultReportInterval = 60 * time.Second

// Config holds the agent daemon's runtime configuration loaded from
// environment variables. Required fields are validated at startup for
// fail-fast behavior.
type Config struct {
	// InstanceName is the Muster instance identifier (from MUSTER_INSTANCE_NAME)
	InstanceName string

	// AgentID is this agent's stable fleet identity (from MUSTER_AGENT_ID,
	// defaulting to the hostname)
	AgentID string

	// RedisURL is the Redis connection string (from REDIS_URL)
	RedisURL string

	// ReportInterval is the grains check-in cadence (from MUSTER_REPORT_INTERVAL)
	ReportInterval time.Duration

	// StaticGrains are operator-assigned grains layered over the collected
	// ones (from MUSTER_GRAINS, comma-separated key=value pairs)
	StaticGrains map[string]any
}

// LoadConfig reads and validates configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		InstanceName:   os.Getenv("MUSTER_INSTANCE_NAME"),
		AgentID:        os.Getenv("MUSTER_AGENT_ID"),
		RedisURL:       os.Getenv("REDIS_URL"),
		ReportInterval: DefaultReportInterval,
	}

	if cfg.AgentID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("MUSTER_AGENT_ID is unset and hostname lookup failed: %w", err)
		}
		cfg.AgentID = hostname
	}

	if raw := os.Getenv("MUSTER_REPORT_INTERVAL"); raw != "" {
		interval, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse MUSTER_REPORT_INTERVAL: %w", err)
		}
		cfg.ReportInterval = interval
	}

	if raw := os.Getenv("MUSTER_GRAINS"); raw != "" {
		grains, err := parseStaticGrains(raw)
		if err != nil {
			return nil, err
		}
		cfg.StaticGrains = grains
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are present and
// valid.
func (c *Config) Validate() error {
	if c.InstanceName == "" {
		return fmt.Errorf("MUSTER_INSTANCE_NAME environment variable is required")
	}
	if c.AgentID == "" {
		return fmt.Errorf("agent ID cannot be empty")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL environment variable is required")
	}
	if c.ReportInterval <= 0 {
		return fmt.Errorf("report interval must be positive, got %v", c.ReportInterval)
	}
	return nil
}

// parseStaticGrains parses "key=value,key2=value2" into a grain mapping.
func parseStaticGrains(raw string) (map[string]any, error) {
	grains := make(map[string]any)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("malformed MUSTER_GRAINS entry %q (expected key=value)", pair)
		}
		grains[key] = value
	}
	return grains, nil
}

// Package config loads and validates the coordinator's muster.yml
// configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/muster-io/muster/pkg/fleet"
)

// CoordinatorConfig represents the top-level muster.yml configuration
type CoordinatorConfig struct {
	Version      string        `yaml:"version"`
	InstanceName string        `yaml:"instance_name"`
	RedisURL     string        `yaml:"redis_url,omitempty"` // Overridden by REDIS_URL when set
	Bus          *BusConfig    `yaml:"bus,omitempty"`
	Cache        *CacheConfig  `yaml:"cache,omitempty"`
	Pillar       *PillarConfig `yaml:"pillar,omitempty"`
}

// BusConfig specifies event bus behavior
type BusConfig struct {
	QueueCapacity int `yaml:"queue_capacity,omitempty"` // Per-subscription queue size (default 64)
}

// CacheConfig specifies the agent data cache
type CacheConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"` // Default: true
	Store   string `yaml:"store,omitempty"`   // "redis" or "memory" (default: redis)
}

// PillarConfig specifies the data provider chain
type PillarConfig struct {
	ProviderTimeout time.Duration      `yaml:"provider_timeout,omitempty"` // Per-provider time limit (default 10s)
	Providers       []ProviderSpecYAML `yaml:"providers"`
}

// ProviderSpecYAML is one ranked entry in the provider chain
type ProviderSpecYAML struct {
	Name   string         `yaml:"name"`
	Config map[string]any `yaml:"config,omitempty"`
}

// Validate performs strict validation on the configuration and applies
// defaults for omitted sections.
func (c *CoordinatorConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	// Required: instance name
	if c.InstanceName == "" {
		return fmt.Errorf("instance_name is required")
	}

	if c.Bus == nil {
		c.Bus = &BusConfig{}
	}
	if c.Bus.QueueCapacity < 0 {
		return fmt.Errorf("bus.queue_capacity must be >= 0 (0 = default), got %d", c.Bus.QueueCapacity)
	}

	if c.Cache == nil {
		c.Cache = &CacheConfig{}
	}
	if c.Cache.Enabled == nil {
		enabled := true
		c.Cache.Enabled = &enabled
	}
	if c.Cache.Store == "" {
		c.Cache.Store = "redis"
	}
	if c.Cache.Store != "redis" && c.Cache.Store != "memory" {
		return fmt.Errorf("invalid cache.store: %s (must be 'redis' or 'memory')", c.Cache.Store)
	}

	if c.Pillar == nil {
		c.Pillar = &PillarConfig{}
	}
	if c.Pillar.ProviderTimeout < 0 {
		return fmt.Errorf("pillar.provider_timeout must be >= 0 (0 = default), got %v", c.Pillar.ProviderTimeout)
	}
	for i, spec := range c.Pillar.Providers {
		if spec.Name == "" {
			return fmt.Errorf("pillar.providers[%d]: name is required", i)
		}
	}

	return nil
}

// ProviderChain converts the configured provider entries into the
// pipeline's spec form, preserving rank order.
func (c *CoordinatorConfig) ProviderChain() []fleet.ProviderSpec {
	chain := make([]fleet.ProviderSpec, 0, len(c.Pillar.Providers))
	for _, spec := range c.Pillar.Providers {
		chain = append(chain, fleet.ProviderSpec{Name: spec.Name, Config: spec.Config})
	}
	return chain
}

// Options returns the core runtime options this configuration selects.
// Call only after Validate has applied defaults.
func (c *CoordinatorConfig) Options() fleet.Options {
	return fleet.Options{
		CacheEnabled: *c.Cache.Enabled,
		Providers:    c.ProviderChain(),
	}
}

// Load reads and validates muster.yml from the specified path. The
// REDIS_URL environment variable, when set, overrides the file's value.
func Load(path string) (*CoordinatorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config CoordinatorConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if url := os.Getenv("REDIS_URL"); url != "" {
		config.RedisURL = url
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

package pillar

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/muster-io/muster/pkg/fleet"
)

// Reference providers
//
// These two providers cover the common cases out of the box and double as
// the canonical examples for writing new variants. Deployments register
// additional providers alongside them at startup.

// StaticName is the registry name of the static reference provider.
const StaticName = "static"

// FileName is the registry name of the file-backed reference provider.
const FileName = "file"

// RegisterBuiltins adds the reference providers to a registry.
func RegisterBuiltins(r *Registry) error {
	if err := r.Register(StaticName, ProviderFunc(staticProduce)); err != nil {
		return err
	}
	return r.Register(FileName, ProviderFunc(fileProduce))
}

// staticProduce returns the provider's own configuration as the pillar
// contribution for every agent. Useful for fleet-wide defaults and as the
// base layer of a chain.
func staticProduce(_ context.Context, _ fleet.AgentID, _ fleet.GrainSet, config map[string]any) (map[string]any, error) {
	return config, nil
}

// fileProduce looks up a per-agent YAML document under the configured
// directory: {dir}/{agent_id}.yaml. A missing file contributes nothing;
// an unreadable or malformed file is a provider failure.
func fileProduce(_ context.Context, id fleet.AgentID, _ fleet.GrainSet, config map[string]any) (map[string]any, error) {
	dir, _ := config["dir"].(string)
	if dir == "" {
		return nil, fmt.Errorf("file provider requires a 'dir' config entry")
	}

	path := filepath.Join(dir, string(id)+".yaml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pillar file %s: %w", path, err)
	}

	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse pillar file %s: %w", path, err)
	}
	return out, nil
}

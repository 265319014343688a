package agent

import (
	"os"
	"runtime"
)

// CollectGrains gathers the host's baseline grains and layers the
// operator-assigned static grains over them. Static grains win on
// key collision so operators can override detected values.
func CollectGrains(static map[string]any) map[string]any {
	grains := map[string]any{
		"os":   runtime.GOOS,
		"arch": runtime.GOARCH,
		"cpus": runtime.NumCPU(),
	}
	if hostname, err := os.Hostname(); err == nil {
		grains["hostname"] = hostname
	}
	for key, value := range static {
		grains[key] = value
	}
	return grains
}

package agent

import (
	"context"
	"log"
	"time"

	"github.com/muster-io/muster/internal/bus"
	"github.com/muster-io/muster/pkg/fleet"
)

// Engine is the agent's check-in loop. It publishes a grains report on
// the local bus immediately at startup and then on every tick of the
// configured interval; the bus Forwarder ships the reports to the
// coordinator.
type Engine struct {
	cfg *Config
	bus *bus.Bus
}

// NewEngine creates an agent engine publishing on the given local bus.
func NewEngine(cfg *Config, b *bus.Bus) *Engine {
	return &Engine{cfg: cfg, bus: b}
}

// Run reports once immediately, then every ReportInterval until the
// context is cancelled. It blocks until cancellation.
func (e *Engine) Run(ctx context.Context) {
	log.Printf("[Agent %s] starting check-in loop (interval %v)", e.cfg.AgentID, e.cfg.ReportInterval)

	e.Report()

	ticker := time.NewTicker(e.cfg.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Agent %s] check-in loop stopped", e.cfg.AgentID)
			return
		case <-ticker.C:
			e.Report()
		}
	}
}

// Report collects the current grains and publishes one check-in event.
func (e *Engine) Report() {
	grains := CollectGrains(e.cfg.StaticGrains)
	ev := e.bus.Publish(fleet.TagAgentReport, map[string]any{"grains": grains}, e.cfg.AgentID)
	log.Printf("[Agent %s] published grains report %s", e.cfg.AgentID, ev.ID)
}

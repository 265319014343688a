package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/muster-io/muster/internal/cache"
	"github.com/muster-io/muster/internal/printer"
	"github.com/muster-io/muster/internal/transport"
	"github.com/muster-io/muster/internal/watch"
	"github.com/muster-io/muster/pkg/fleet"
)

const refreshSendTimeout = 10 * time.Second

var (
	refreshWait        bool
	refreshWaitTimeout time.Duration
)

var refreshCmd = &cobra.Command{
	Use:   "refresh AGENT_ID",
	Short: "Request a pillar refresh for an agent",
	Long: `Ask the coordinator to re-run the data provider chain for one agent,
reusing its last reported grains.

The refresh is delivered as a coordinator-bound event over the instance's
Redis wire. It is best-effort: if the agent has never checked in, the
coordinator ignores the request. With --wait, the command blocks until
the recomputed entry lands in the cache and prints it.

Examples:
  muster refresh web-01
  muster refresh web-01 --wait`,
	Args: cobra.ExactArgs(1),
	RunE: runRefresh,
}

func init() {
	refreshCmd.Flags().BoolVar(&refreshWait, "wait", false, "Wait for the refreshed entry and print it")
	refreshCmd.Flags().DurationVar(&refreshWaitTimeout, "timeout", time.Minute, "How long --wait blocks before giving up")
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	agentID := fleet.AgentID(args[0])
	ctx := context.Background()

	name, err := resolveInstance()
	if err != nil {
		return err
	}
	opts, err := redisOptions()
	if err != nil {
		return err
	}

	// Snapshot the entry's current timestamp so --wait can detect the
	// recomputed one.
	var beforeMs int64
	var store *cache.RedisStore
	if refreshWait {
		store, err = openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		if entry, err := store.Get(ctx, agentID); err == nil {
			beforeMs = entry.UpdatedAtMs
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, refreshSendTimeout)
	defer cancel()

	// A throwaway endpoint: the CLI only sends, it never receives.
	tr, err := transport.NewRedis(sendCtx, opts, name, "cli-"+uuid.New().String()[:8])
	if err != nil {
		return fmt.Errorf("failed to connect transport: %w", err)
	}
	defer tr.Close()

	// The event carries the agent as its origin so the coordinator
	// refreshes that agent's entry.
	ev := fleet.NewEvent(fleet.TagAgentRefresh, nil, string(agentID))
	payload, err := transport.EncodeEvent(ev)
	if err != nil {
		return fmt.Errorf("failed to encode refresh event: %w", err)
	}

	if err := tr.Send(sendCtx, fleet.OriginCoordinator, payload); err != nil {
		return printer.Error(
			"refresh request failed",
			fmt.Sprintf("Could not deliver the refresh event: %v", err),
			[]string{"Check that Redis is reachable and the coordinator is running"},
		)
	}

	printer.Success("Refresh requested for agent '%s' (event %s)\n", agentID, ev.ID)

	if !refreshWait {
		return nil
	}

	entry, err := watch.PollForUpdate(ctx, store, agentID, beforeMs, refreshWaitTimeout)
	if err != nil {
		return printer.Error(
			"refresh not observed",
			err.Error(),
			[]string{
				"The agent may never have checked in; see:\n  muster cache",
				"Or the coordinator may be down",
			},
		)
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	printer.Println(string(data))
	return nil
}

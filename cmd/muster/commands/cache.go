package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/muster-io/muster/internal/cache"
	"github.com/muster-io/muster/internal/filter"
	"github.com/muster-io/muster/internal/printer"
	"github.com/muster-io/muster/internal/timespec"
	"github.com/muster-io/muster/internal/watch"
	"github.com/muster-io/muster/pkg/fleet"
)

var (
	cacheOutputFormat string
	cacheSince        string
	cacheUntil        string
	cacheIDGlob       string
	cacheWait         bool
	cacheWaitTimeout  time.Duration
)

var cacheCmd = &cobra.Command{
	Use:   "cache [AGENT_ID]",
	Short: "Inspect cached agent data",
	Long: `Inspect the coordinator's agent data cache in list or get mode.

List Mode (no AGENT_ID):
  Displays an overview of every cached agent as a table or line-delimited
  JSON. Use this to see which agents have checked in. Results can be
  narrowed by update time and by an agent ID glob.

Get Mode (with AGENT_ID):
  Displays one agent's complete cache entry (grains and pillar) as
  pretty-printed JSON. With --wait, blocks until the agent's first
  check-in lands.

Examples:
  # List all cached agents
  muster cache

  # Web hosts updated in the last 10 minutes
  muster cache --match 'web-*' --since 10m

  # List as JSON for scripting
  muster cache --output=json | jq -r '.agent_id'

  # Get one agent's full entry
  muster cache web-01

  # Block until a freshly provisioned host checks in
  muster cache web-07 --wait --timeout 2m`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCache,
}

func init() {
	cacheCmd.Flags().StringVarP(&cacheOutputFormat, "output", "o", "default", "Output format: default or json (ignored in get mode)")
	cacheCmd.Flags().StringVar(&cacheSince, "since", "", "Only list entries updated after this time (duration like '10m' or RFC3339)")
	cacheCmd.Flags().StringVar(&cacheUntil, "until", "", "Only list entries updated before this time (duration like '10m' or RFC3339)")
	cacheCmd.Flags().StringVar(&cacheIDGlob, "match", "", "Only list agents whose ID matches this glob")
	cacheCmd.Flags().BoolVar(&cacheWait, "wait", false, "Get mode: wait for the agent's entry to appear")
	cacheCmd.Flags().DurationVar(&cacheWaitTimeout, "timeout", time.Minute, "How long --wait blocks before giving up")
	rootCmd.AddCommand(cacheCmd)
}

// openStore connects to the instance's Redis cache store and verifies
// connectivity.
func openStore(ctx context.Context) (*cache.RedisStore, error) {
	name, err := resolveInstance()
	if err != nil {
		return nil, err
	}
	opts, err := redisOptions()
	if err != nil {
		return nil, err
	}

	store, err := cache.NewRedisStore(opts, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache store: %w", err)
	}
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, printer.Error(
			"Redis not accessible",
			fmt.Sprintf("Could not reach Redis: %v", err),
			[]string{"Check that the coordinator's Redis is running and REDIS_URL points at it"},
		)
	}
	return store, nil
}

func runCache(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) > 0 {
		return getEntry(ctx, store, fleet.AgentID(args[0]))
	}
	return listEntries(ctx, store)
}

// getEntry prints one agent's full cache entry.
func getEntry(ctx context.Context, store *cache.RedisStore, id fleet.AgentID) error {
	var entry *fleet.CacheEntry
	var err error

	if cacheWait {
		entry, err = watch.PollForEntry(ctx, store, id, cacheWaitTimeout)
		if err != nil {
			return printer.Error(
				"agent did not check in",
				err.Error(),
				[]string{"Check that the agent daemon is running and can reach Redis"},
			)
		}
	} else {
		entry, err = store.Get(ctx, id)
		if err != nil {
			if cache.IsNotFound(err) {
				return printer.Error(
					"agent not cached",
					fmt.Sprintf("No cache entry exists for agent '%s'.", id),
					[]string{
						"The agent may not have checked in yet; list cached agents with:\n  muster cache",
						"Or block until it appears:\n  muster cache " + string(id) + " --wait",
					},
				)
			}
			return fmt.Errorf("failed to read cache entry: %w", err)
		}
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	printer.Println(string(data))
	return nil
}

// listEntries prints the filtered cache overview.
func listEntries(ctx context.Context, store *cache.RedisStore) error {
	if cacheOutputFormat != "default" && cacheOutputFormat != "json" {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", cacheOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	sinceMS, untilMS, err := timespec.ParseRange(cacheSince, cacheUntil)
	if err != nil {
		return printer.Error(
			"invalid time range",
			err.Error(),
			[]string{"Use a duration like '10m' or an RFC3339 timestamp"},
		)
	}
	criteria := &filter.Criteria{
		SinceTimestampMs: sinceMS,
		UntilTimestampMs: untilMS,
		IDGlob:           cacheIDGlob,
	}

	all, err := store.Scan(ctx)
	if err != nil {
		return fmt.Errorf("failed to scan cache: %w", err)
	}

	var entries []*fleet.CacheEntry
	for _, entry := range all {
		if criteria.Matches(entry) {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].AgentID < entries[j].AgentID })

	if cacheOutputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		for _, entry := range entries {
			if err := encoder.Encode(entry); err != nil {
				return fmt.Errorf("failed to encode cache entry: %w", err)
			}
		}
		return nil
	}

	if len(entries) == 0 {
		if criteria.HasFilters() {
			printer.Info("No cached agents match the given filters.\n")
		} else {
			printer.Info("No agents cached yet.\n")
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tGRAINS\tPILLAR\tUPDATED")
	for _, entry := range entries {
		updated := time.UnixMilli(entry.UpdatedAtMs).UTC().Format(time.RFC3339)
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", entry.AgentID, len(entry.Grains), len(entry.Pillar), updated)
	}
	return w.Flush()
}

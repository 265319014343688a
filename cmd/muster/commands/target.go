package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muster-io/muster/internal/cache"
	"github.com/muster-io/muster/internal/printer"
	"github.com/muster-io/muster/internal/target"
	"github.com/muster-io/muster/pkg/fleet"
)

var targetOutputFormat string

var targetCmd = &cobra.Command{
	Use:   "target EXPRESSION",
	Short: "Resolve a targeting expression against the cache",
	Long: `Resolve a targeting expression to the set of matching agent IDs.

Expressions match against cached agent data only; agents that have never
checked in are invisible. The grammar supports:

  web-*                  identity glob
  G@role:db              fact match (grains or pillar; pillar wins)
  G@role:web and G@env:prod
  G@role:web or G@role:db
  not G@role:db          negation ('and' binds tighter than 'or')

Examples:
  # Every cached agent
  muster target '*'

  # Database hosts in production
  muster target 'G@role:db and G@env:prod'

  # Agent IDs as JSON for scripting
  muster target --output=json 'web-*'`,
	Args: cobra.ExactArgs(1),
	RunE: runTarget,
}

func init() {
	targetCmd.Flags().StringVarP(&targetOutputFormat, "output", "o", "default", "Output format: default or json")
	rootCmd.AddCommand(targetCmd)
}

// snapshot adapts a cache store to the resolver's snapshot view,
// degrading scan failures to empty the same way the coordinator's cache
// does.
type snapshot struct {
	store cache.Store
}

func (s snapshot) All(ctx context.Context) []*fleet.CacheEntry {
	entries, err := s.store.Scan(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Cache scan failed, treating as empty: %v\n", err)
		return nil
	}
	return entries
}

func runTarget(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	expr := args[0]

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	resolver := target.NewResolver(snapshot{store}, nil)
	matched, err := resolver.Resolve(ctx, expr)
	if err != nil {
		return printer.Error(
			"invalid target expression",
			fmt.Sprintf("Could not evaluate %q: %v", expr, err),
			[]string{"See 'muster target --help' for the expression grammar"},
		)
	}

	if targetOutputFormat == "json" {
		if matched == nil {
			matched = []fleet.AgentID{}
		}
		data, err := json.Marshal(matched)
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		printer.Println(string(data))
		return nil
	}

	if len(matched) == 0 {
		fmt.Fprintln(os.Stderr, "No agents matched.")
		return nil
	}
	for _, id := range matched {
		printer.Println(string(id))
	}
	return nil
}

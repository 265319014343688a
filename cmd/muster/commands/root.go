package commands

import (
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/muster-io/muster/internal/printer"
)

var (
	version string
	commit  string
	date    string
)

// Global flags shared by every subcommand
var (
	instanceName string
	redisURL     string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "muster",
	Short: "Muster - Fleet coordination and targeting",
	Long: `Muster is a fleet coordination toolkit built around a central
coordinator and lightweight per-host agents.

Agents check in with their grains (host facts) over Redis; the coordinator
caches grains and pillar (centrally computed configuration data) per agent,
and targeting expressions resolve against that cache. The muster CLI
inspects the cache, resolves targets, and tails fleet event traffic.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&instanceName, "name", "n", "", "Target instance name (defaults to MUSTER_INSTANCE_NAME)")
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis", "", "Redis connection URL (defaults to REDIS_URL)")
}

// resolveInstance picks the instance name from the flag or environment.
func resolveInstance() (string, error) {
	name := instanceName
	if name == "" {
		name = os.Getenv("MUSTER_INSTANCE_NAME")
	}
	if name == "" {
		return "", printer.Error(
			"no instance specified",
			"Muster needs to know which instance to talk to.",
			[]string{
				"Pass the instance explicitly:\n  muster --name <instance-name> ...",
				"Or set the MUSTER_INSTANCE_NAME environment variable",
			},
		)
	}
	return name, nil
}

// redisOptions parses the Redis URL from the flag or environment.
func redisOptions() (*redis.Options, error) {
	url := redisURL
	if url == "" {
		url = os.Getenv("REDIS_URL")
	}
	if url == "" {
		return nil, printer.Error(
			"no Redis URL specified",
			"Muster needs the coordinator's Redis to inspect fleet state.",
			[]string{
				"Pass it explicitly:\n  muster --redis redis://localhost:6379 ...",
				"Or set the REDIS_URL environment variable",
			},
		)
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	return opts, nil
}

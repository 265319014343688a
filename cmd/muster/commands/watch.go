package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/muster-io/muster/internal/printer"
	"github.com/muster-io/muster/internal/transport"
	"github.com/muster-io/muster/pkg/fleet"
)

var watchCmd = &cobra.Command{
	Use:   "watch [PATTERN]",
	Short: "Tail fleet event traffic",
	Long: `Tail events flowing over the instance's Redis wire in real time.

Without a pattern, every event is shown. With a pattern, only events
whose tag matches are shown (exact tag, "*", or a "prefix.*" wildcard).

Press Ctrl+C to stop.

Examples:
  # Everything
  muster watch

  # Only agent check-ins
  muster watch coord.agent.report

  # The whole coordinator-bound namespace
  muster watch 'coord.*'`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	pattern := "*"
	if len(args) > 0 {
		pattern = args[0]
	}

	name, err := resolveInstance()
	if err != nil {
		return err
	}
	opts, err := redisOptions()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		cancel()
	}()

	rdb := redis.NewClient(opts)
	defer rdb.Close()

	// Tail every wire channel for the instance; each message is an
	// envelope wrapping one encoded event.
	pubsub := rdb.PSubscribe(ctx, fleet.WireChannel(name, "*"))
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to wire channels: %w", err)
	}

	printer.Step("Watching events on instance '%s' (pattern: %s)\n", name, pattern)

	for {
		select {
		case <-ctx.Done():
			printer.Info("\nStopped.\n")
			return nil
		case msg, ok := <-pubsub.Channel():
			if !ok {
				return nil
			}
			printWireMessage(msg.Payload, pattern)
		}
	}
}

// printWireMessage decodes one wire envelope and prints the event it
// carries. Malformed traffic is noted and skipped.
func printWireMessage(raw string, pattern string) {
	_, payload, err := transport.DecodeEnvelope([]byte(raw))
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Skipping malformed wire message: %v\n", err)
		return
	}
	ev, err := transport.DecodeEvent(payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Skipping malformed event: %v\n", err)
		return
	}
	if !fleet.MatchTag(pattern, ev.Tag) {
		return
	}

	ts := time.UnixMilli(ev.TimestampMs).UTC().Format("15:04:05.000")
	data := ""
	if len(ev.Data) > 0 {
		if encoded, err := json.Marshal(ev.Data); err == nil {
			data = " " + string(encoded)
		}
	}
	printer.Printf("%s  %-28s  origin=%s%s\n", ts, ev.Tag, ev.Origin, data)
}

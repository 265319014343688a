package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/muster-io/muster/internal/agent"
	"github.com/muster-io/muster/internal/bus"
	"github.com/muster-io/muster/internal/transport"
)

// shutdownTimeout bounds how long we wait for the forwarder to drain
// after a termination signal.
const shutdownTimeout = 10 * time.Second

func main() {
	// 1. Load environment configuration (fail-fast)
	cfg, err := agent.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// 2. Parse Redis URL
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid REDIS_URL: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Agent '%s' starting for instance '%s'\n", cfg.AgentID, cfg.InstanceName)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Transport to the coordinator
	tr, err := transport.NewRedis(runCtx, redisOpts, cfg.InstanceName, cfg.AgentID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect transport: %v\n", err)
		os.Exit(1)
	}
	defer tr.Close()

	// 4. Local bus with the forwarder shipping coordinator-bound events
	localBus := bus.New(0)
	forwarder := bus.NewForwarder(localBus, tr, cfg.AgentID)
	engine := agent.NewEngine(cfg, localBus)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		forwarder.Run(runCtx)
	}()
	go func() {
		defer wg.Done()
		engine.Run(runCtx)
	}()

	// 5. Wait for a termination signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	fmt.Printf("Received signal %v, shutting down gracefully...\n", sig)

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		fmt.Println("Agent stopped")
	case <-time.After(shutdownTimeout):
		fmt.Fprintln(os.Stderr, "Shutdown timed out, exiting")
		os.Exit(1)
	}
}

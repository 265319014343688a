package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/muster-io/muster/internal/bus"
	"github.com/muster-io/muster/internal/cache"
	"github.com/muster-io/muster/internal/config"
	"github.com/muster-io/muster/internal/coordinator"
	"github.com/muster-io/muster/internal/pillar"
	"github.com/muster-io/muster/internal/transport"
	"github.com/muster-io/muster/pkg/fleet"
)

func main() {
	// 1. Load muster.yml (path overridable via MUSTER_CONFIG)
	configPath := os.Getenv("MUSTER_CONFIG")
	if configPath == "" {
		configPath = "muster.yml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load %s: %v\n", configPath, err)
		os.Exit(1)
	}
	if cfg.RedisURL == "" {
		fmt.Fprintf(os.Stderr, "Error: redis_url (or REDIS_URL) must be set\n")
		os.Exit(1)
	}

	// 2. Parse Redis URL
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid Redis URL: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// 3. Create the cache store
	var store cache.Store
	switch cfg.Cache.Store {
	case "memory":
		store = cache.NewMemoryStore()
	default:
		redisStore, err := cache.NewRedisStore(redisOpts, cfg.InstanceName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Failed to create cache store: %v\n", err)
			os.Exit(1)
		}
		defer redisStore.Close()

		// Verify Redis connectivity before accepting traffic
		if err := redisStore.Ping(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: Redis not accessible: %v\n", err)
			os.Exit(1)
		}
		store = redisStore
	}

	// 4. Build the data provider pipeline
	opts := cfg.Options()
	registry := pillar.NewRegistry()
	pillar.RegisterBuiltins(registry)
	pipeline, err := pillar.NewPipeline(registry, opts.Providers, cfg.Pillar.ProviderTimeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid provider chain: %v\n", err)
		os.Exit(1)
	}

	// 5. Cache, bus, and engine
	agentCache := cache.New(store, pipeline, opts.CacheEnabled)
	eventBus := bus.New(cfg.Bus.QueueCapacity)
	engine := coordinator.New(eventBus, agentCache)

	fmt.Printf("Coordinator starting for instance '%s' (%d providers, cache: %v)\n",
		cfg.InstanceName, len(opts.Providers), opts.CacheEnabled)

	// 6. Transport inlet for forwarded agent events
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tr, err := transport.NewRedis(runCtx, redisOpts, cfg.InstanceName, fleet.OriginCoordinator)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect transport: %v\n", err)
		os.Exit(1)
	}
	defer tr.Close()

	inlet := bus.NewInlet(eventBus, tr)

	// 7. Setup graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	errCh := make(chan error, 2)
	go func() {
		errCh <- engine.Start(runCtx)
	}()
	go func() {
		errCh <- inlet.Run(runCtx)
	}()

	// 8. Wait for shutdown signal or component failure
	select {
	case sig := <-sigCh:
		fmt.Printf("Received signal %v, shutting down gracefully...\n", sig)
		cancel()
		<-errCh
		<-errCh
	case runErr := <-errCh:
		if runErr != nil && runCtx.Err() == nil {
			fmt.Fprintf(os.Stderr, "Coordinator error: %v\n", runErr)
			cancel()
			<-errCh
			os.Exit(1)
		}
	}

	fmt.Println("Coordinator stopped")
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/rhinehart514/hivesync/pkg/acks"
	"github.com/rhinehart514/hivesync/pkg/api"
	"github.com/rhinehart514/hivesync/pkg/auth"
	"github.com/rhinehart514/hivesync/pkg/broadcast"
	"github.com/rhinehart514/hivesync/pkg/config"
	"github.com/rhinehart514/hivesync/pkg/engine"
	"github.com/rhinehart514/hivesync/pkg/log"
	"github.com/rhinehart514/hivesync/pkg/metrics"
	"github.com/rhinehart514/hivesync/pkg/storage"
	"github.com/rhinehart514/hivesync/pkg/stream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the synchronization server",
	Long: `Run the HiveSync server: the HTTP API, live delivery streams, the
acknowledgment sweeper, and the metrics collector.

Configuration comes from a YAML file (--config), with individual flags
overriding file values. Without a file the built-in defaults serve a
single-node setup with bolt storage under /var/lib/hivesync.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("config", "c", "", "Path to YAML config file")
	serveCmd.Flags().String("listen", "", "Listen address (overrides config)")
	serveCmd.Flags().String("data-dir", "", "Bolt data directory (overrides config)")
	serveCmd.Flags().String("log-level", "", "Log level: debug, info, warn, error (overrides config)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		cfg.Server.Listen = v
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})

	fmt.Println("Starting HiveSync server...")
	fmt.Printf("  Listen: %s\n", cfg.Server.Listen)
	fmt.Printf("  Storage: %s\n", cfg.Storage.Driver)
	fmt.Printf("  Auth: %s\n", cfg.Auth.Mode)
	fmt.Println()

	ctx := context.Background()

	// Storage
	var store storage.Store
	switch cfg.Storage.Driver {
	case "postgres":
		pg, err := storage.NewPostgresStore(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return fmt.Errorf("failed to open postgres store: %v", err)
		}
		store = pg
	default:
		bolt, err := storage.NewBoltStore(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open bolt store: %v", err)
		}
		store = bolt
	}
	fmt.Println("✓ Storage ready")

	// Broadcast broker, with the Redis bridge when configured
	broker := broadcast.NewBroker(cfg.Broadcast.BufferSize)
	broker.Start()
	metrics.SetComponent("broadcast", true, "")

	var bridge *broadcast.RedisBridge
	var publisher broadcast.Publisher
	if cfg.Broadcast.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Broadcast.RedisAddr,
			Password: cfg.Broadcast.RedisPassword,
			DB:       cfg.Broadcast.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			broker.Stop()
			_ = store.Close()
			return fmt.Errorf("failed to reach redis at %s: %v", cfg.Broadcast.RedisAddr, err)
		}
		bridge = broadcast.NewRedisBridge(rdb, broker, cfg.Broadcast.ChannelPrefix)
		bridge.Start(ctx)
		publisher = bridge
		metrics.SetComponent("redis", true, "")
		fmt.Println("✓ Redis bridge connected")
	}

	// Engine and live delivery
	registry := stream.NewRegistry(cfg.Stream.MaxConnections)
	eng := engine.New(engine.Config{
		Store:       store,
		Fanout:      broadcast.NewFanout(store, broker, publisher),
		Tracker:     acks.NewTracker(store),
		Connections: registry,
	})
	streamer := stream.NewStreamer(store, broker, registry,
		cfg.Stream.PollInterval.Std(), cfg.Stream.HeartbeatInterval.Std())
	fmt.Println("✓ Engine ready")

	// Acknowledgment sweeper
	var sweeper *acks.Sweeper
	if cfg.Acks.SweepInterval > 0 {
		sweeper = acks.NewSweeper(store, cfg.Acks.SweepInterval.Std())
		sweeper.Start()
		fmt.Println("✓ Ack sweeper started")
	}

	// Metrics collector
	collector := metrics.NewCollector(store)
	collector.Start()
	fmt.Println("✓ Metrics collector started")

	// Identity provider
	var provider auth.Provider = auth.NopProvider{}
	if cfg.Auth.Mode == "jwt" {
		provider = auth.NewJWTProvider(cfg.Auth.JWTSecret)
	}

	// API server in background
	server := api.NewServer(api.Config{
		Engine:            eng,
		Streamer:          streamer,
		Store:             store,
		Provider:          provider,
		AllowUserHeader:   cfg.Auth.AllowUserHeader,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		RateBurst:         cfg.RateLimit.Burst,
		ReadTimeout:       cfg.Server.ReadTimeout.Std(),
		Version:           Version,
	})
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Server.Listen); err != nil {
			errCh <- fmt.Errorf("API server error: %v", err)
		}
	}()
	fmt.Println("✓ API server started")

	fmt.Println()
	fmt.Println("Server is running. Press Ctrl+C to stop.")

	// Wait for interrupt signal or API server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}

	// Shutdown: drain HTTP first so open streams close, then stop the
	// background loops, then the broker, then storage.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: API shutdown: %v\n", err)
	}
	collector.Stop()
	if sweeper != nil {
		sweeper.Stop()
	}
	if bridge != nil {
		bridge.Stop()
	}
	broker.Stop()
	if err := store.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %v", err)
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}

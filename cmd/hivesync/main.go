package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hivesync",
	Short: "HiveSync - Real-time tool state synchronization",
	Long: `HiveSync keeps distributed tool surfaces convergent: every update is
sequenced through a per-key append-only log, divergent clients reconcile
through conflict resolution, and live consumers follow changes over NDJSON
or websocket streams.

The same binary runs the server (hivesync serve) and acts as a client
against a running server (submit, sync, history, watch, ack, cleanup).`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"HiveSync version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
}

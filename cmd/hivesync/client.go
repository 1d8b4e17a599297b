package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rhinehart514/hivesync/pkg/client"
	"github.com/rhinehart514/hivesync/pkg/types"
)

// addClientFlags registers the connection flags every client command shares.
func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().String("server", "http://localhost:8080", "Server base URL")
	cmd.Flags().String("user", "", "User ID to act as (sent as X-User-ID)")
	cmd.Flags().String("token", "", "Bearer token for JWT-mode servers")
}

func clientFromFlags(cmd *cobra.Command) *client.Client {
	server, _ := cmd.Flags().GetString("server")
	var opts []client.Option
	if user, _ := cmd.Flags().GetString("user"); user != "" {
		opts = append(opts, client.WithUser(user))
	}
	if token, _ := cmd.Flags().GetString("token"); token != "" {
		opts = append(opts, client.WithToken(token))
	}
	return client.New(server, opts...)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %v", err)
	}
	fmt.Println(string(out))
	return nil
}

// Submit command
var submitCmd = &cobra.Command{
	Use:   "submit TOOL_ID",
	Short: "Submit a state update",
	Long: `Submit one state update for sequencing.

Examples:
  # Update a tool's state
  hivesync submit my-tool --deployment prod --state '{"count": 3}'

  # Target specific users and require acknowledgment
  hivesync submit my-tool --state '{"alert": true}' \
    --target user-1 --target user-2 --require-ack`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

var syncCmd = &cobra.Command{
	Use:   "sync TOOL_ID",
	Short: "Reconcile a full client state against the server",
	Long: `Send a client's full state and version for reconciliation. The server
accepts, advances, or conflict-resolves the state and replies with the
authoritative state and version to adopt.`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

var historyCmd = &cobra.Command{
	Use:   "history TOOL_ID",
	Short: "List update events for a tool, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot TOOL_ID",
	Short: "Show the current state snapshot and sync status",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshot,
}

var watchCmd = &cobra.Command{
	Use:   "watch TOOL_ID",
	Short: "Follow live updates for a tool",
	Long: `Stream live update frames for one tool deployment, printed as one
JSON object per line. Runs until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var ackCmd = &cobra.Command{
	Use:   "ack TOOL_ID UPDATE_ID",
	Short: "Acknowledge an update, or show its acknowledgment status",
	Args:  cobra.ExactArgs(2),
	RunE:  runAck,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup TOOL_ID",
	Short: "Delete update events",
	Long: `Delete update events for a tool, either one event by ID or every
event older than a cutoff. Deleting history never moves the snapshot.

Examples:
  # Delete one event
  hivesync cleanup my-tool --event 7f3c9a12-...

  # Trim everything older than a day
  hivesync cleanup my-tool --deployment prod --older-than 24h`,
	Args: cobra.ExactArgs(1),
	RunE: runCleanup,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

func init() {
	for _, cmd := range []*cobra.Command{
		submitCmd, syncCmd, historyCmd, snapshotCmd,
		watchCmd, ackCmd, cleanupCmd, healthCmd,
	} {
		addClientFlags(cmd)
		rootCmd.AddCommand(cmd)
	}

	submitCmd.Flags().String("deployment", "", "Deployment ID")
	submitCmd.Flags().String("space", "", "Space ID for space-channel broadcast")
	submitCmd.Flags().String("type", string(types.UpdateStateChange), "Update type")
	submitCmd.Flags().String("state", "", "New state as a JSON object")
	submitCmd.Flags().String("data", "", "Full event data as JSON (alternative to --state)")
	submitCmd.Flags().StringArray("target", nil, "Target user ID (repeatable)")
	submitCmd.Flags().Bool("require-ack", false, "Require acknowledgment from target users")
	submitCmd.Flags().Int("expires-in", 0, "Event expiry in minutes (0 uses the server default)")

	syncCmd.Flags().String("deployment", "", "Deployment ID")
	syncCmd.Flags().Int64("version", 0, "Client's last applied version")
	syncCmd.Flags().String("state", "", "Client's full state as a JSON object (required)")
	syncCmd.Flags().String("strategy", "", "Conflict strategy: latest_wins, client_wins, merge")
	syncCmd.Flags().Bool("force-merge", false, "Run conflict resolution even when versions match")
	_ = syncCmd.MarkFlagRequired("state")

	historyCmd.Flags().String("deployment", "", "Deployment ID")
	historyCmd.Flags().String("since", "", "Only events after this RFC3339 timestamp")
	historyCmd.Flags().Int("limit", 0, "Maximum number of events")
	historyCmd.Flags().Bool("snapshot", false, "Include the current snapshot")

	snapshotCmd.Flags().String("deployment", "", "Deployment ID")

	watchCmd.Flags().String("deployment", "", "Deployment ID (required)")
	_ = watchCmd.MarkFlagRequired("deployment")

	ackCmd.Flags().Bool("status", false, "Show acknowledgment status instead of recording one")

	cleanupCmd.Flags().String("deployment", "", "Deployment ID")
	cleanupCmd.Flags().String("event", "", "Delete a single event by ID")
	cleanupCmd.Flags().String("older-than", "", "Delete events older than a duration (24h) or RFC3339 timestamp")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	stateRaw, _ := cmd.Flags().GetString("state")
	dataRaw, _ := cmd.Flags().GetString("data")
	if stateRaw != "" && dataRaw != "" {
		return fmt.Errorf("--state and --data are mutually exclusive")
	}

	var data types.EventData
	if dataRaw != "" {
		if err := json.Unmarshal([]byte(dataRaw), &data); err != nil {
			return fmt.Errorf("failed to parse --data: %v", err)
		}
	} else if stateRaw != "" {
		if err := json.Unmarshal([]byte(stateRaw), &data.NewState); err != nil {
			return fmt.Errorf("failed to parse --state: %v", err)
		}
	}

	deployment, _ := cmd.Flags().GetString("deployment")
	space, _ := cmd.Flags().GetString("space")
	updateType, _ := cmd.Flags().GetString("type")
	targets, _ := cmd.Flags().GetStringArray("target")
	requireAck, _ := cmd.Flags().GetBool("require-ack")
	expiresIn, _ := cmd.Flags().GetInt("expires-in")

	c := clientFromFlags(cmd)
	result, err := c.SubmitUpdate(cmd.Context(), args[0], client.SubmitOptions{
		DeploymentID:     deployment,
		SpaceID:          space,
		UpdateType:       types.UpdateType(updateType),
		EventData:        data,
		TargetUsers:      targets,
		RequiresAck:      requireAck,
		ExpiresInMinutes: expiresIn,
	})
	if err != nil {
		return err
	}

	fmt.Printf("✓ Update accepted: %s (sequence %d)\n", result.ID, result.SequenceNumber)
	if requireAck {
		fmt.Printf("  Awaiting acks from %d user(s)\n", result.AffectedUsers)
	}
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	stateRaw, _ := cmd.Flags().GetString("state")
	var state map[string]any
	if err := json.Unmarshal([]byte(stateRaw), &state); err != nil {
		return fmt.Errorf("failed to parse --state: %v", err)
	}

	deployment, _ := cmd.Flags().GetString("deployment")
	version, _ := cmd.Flags().GetInt64("version")
	strategy, _ := cmd.Flags().GetString("strategy")
	forceMerge, _ := cmd.Flags().GetBool("force-merge")

	c := clientFromFlags(cmd)
	result, err := c.Sync(cmd.Context(), args[0], client.SyncOptions{
		DeploymentID:       deployment,
		ClientVersion:      version,
		ClientState:        state,
		ConflictResolution: types.ConflictStrategy(strategy),
		ForceMerge:         forceMerge,
	})
	if err != nil {
		return err
	}

	fmt.Printf("✓ Sync result: %s (server version %d)\n", result.SyncResult, result.ServerVersion)
	for _, conflict := range result.Conflicts {
		fmt.Printf("  Conflict on %q resolved for %s\n", conflict.Field, conflict.Resolution)
	}
	fmt.Println("Server state:")
	return printJSON(result.ServerState)
}

func runHistory(cmd *cobra.Command, args []string) error {
	deployment, _ := cmd.Flags().GetString("deployment")
	sinceRaw, _ := cmd.Flags().GetString("since")
	limit, _ := cmd.Flags().GetInt("limit")
	includeSnapshot, _ := cmd.Flags().GetBool("snapshot")

	var since time.Time
	if sinceRaw != "" {
		parsed, err := time.Parse(time.RFC3339, sinceRaw)
		if err != nil {
			return fmt.Errorf("failed to parse --since: %v", err)
		}
		since = parsed
	}

	c := clientFromFlags(cmd)
	result, err := c.History(cmd.Context(), args[0], client.HistoryOptions{
		DeploymentID:    deployment,
		Since:           since,
		Limit:           limit,
		IncludeSnapshot: includeSnapshot,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	deployment, _ := cmd.Flags().GetString("deployment")

	c := clientFromFlags(cmd)
	result, err := c.Snapshot(cmd.Context(), args[0], deployment)
	if err != nil {
		return err
	}
	if result.Snapshot == nil {
		fmt.Println("No state recorded for this tool yet.")
		return printJSON(result.SyncStatus)
	}
	return printJSON(result)
}

func runWatch(cmd *cobra.Command, args []string) error {
	deployment, _ := cmd.Flags().GetString("deployment")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := clientFromFlags(cmd)
	frames, err := c.Watch(ctx, args[0], deployment)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	for frame := range frames {
		if err := encoder.Encode(frame); err != nil {
			return fmt.Errorf("failed to write frame: %v", err)
		}
	}
	return nil
}

func runAck(cmd *cobra.Command, args []string) error {
	statusOnly, _ := cmd.Flags().GetBool("status")
	c := clientFromFlags(cmd)

	if statusOnly {
		tracking, err := c.AckStatus(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(tracking)
	}

	tracking, err := c.RecordAck(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("✓ Acknowledged: %s (%d/%d received, status %s)\n",
		args[1], len(tracking.ReceivedAcks), len(tracking.RequiredAcks), tracking.Status)
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	eventID, _ := cmd.Flags().GetString("event")
	olderRaw, _ := cmd.Flags().GetString("older-than")
	deployment, _ := cmd.Flags().GetString("deployment")

	if (eventID == "") == (olderRaw == "") {
		return fmt.Errorf("exactly one of --event or --older-than is required")
	}

	c := clientFromFlags(cmd)

	if eventID != "" {
		deleted, err := c.CleanupEvent(cmd.Context(), args[0], eventID)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Deleted %d event(s)\n", deleted)
		return nil
	}

	cutoff, err := parseCutoff(olderRaw)
	if err != nil {
		return err
	}
	deleted, err := c.CleanupOlderThan(cmd.Context(), args[0], deployment, cutoff)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Deleted %d event(s) older than %s\n", deleted, cutoff.Format(time.RFC3339))
	return nil
}

// parseCutoff accepts either a duration back from now ("24h") or an absolute
// RFC3339 timestamp.
func parseCutoff(raw string) (time.Time, error) {
	if d, err := time.ParseDuration(raw); err == nil {
		return time.Now().Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse --older-than %q: use a duration like 24h or an RFC3339 timestamp", raw)
	}
	return t, nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	c := clientFromFlags(cmd)
	status, err := c.Health(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("✓ Server %s (version %s)\n", status.Status, status.Version)
	return nil
}

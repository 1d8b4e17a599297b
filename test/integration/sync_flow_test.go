package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhinehart514/hivesync/pkg/client"
	"github.com/rhinehart514/hivesync/pkg/engine"
	"github.com/rhinehart514/hivesync/pkg/stream"
	"github.com/rhinehart514/hivesync/pkg/types"
)

// TestFullSyncWorkflow walks the complete life of a tool state through the
// HTTP stack: sequenced submits, a live watcher, a stale client reconciling,
// the acknowledgment lifecycle, and history cleanup.
func TestFullSyncWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	baseURL := startServer(t)
	ctx := context.Background()

	alice := client.New(baseURL, client.WithUser("alice"))
	bob := client.New(baseURL, client.WithUser("bob"))

	t.Log("Step 1: Opening a live watch as bob...")
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	frames, err := bob.Watch(watchCtx, "editor", "prod")
	require.NoError(t, err)
	connected := waitForFrame(t, frames, stream.FrameConnected)
	t.Logf("✓ Watch connected: %s", connected.ConnectionID)

	t.Log("Step 2: Submitting three updates as alice...")
	for i := 1; i <= 3; i++ {
		result, err := alice.SubmitUpdate(ctx, "editor", client.SubmitOptions{
			DeploymentID: "prod",
			UpdateType:   types.UpdateStateChange,
			EventData:    types.EventData{NewState: map[string]any{"cursor": float64(i)}},
		})
		require.NoError(t, err)
		require.Equal(t, int64(i), result.SequenceNumber)
	}
	t.Log("✓ Updates sequenced 1 through 3")

	t.Log("Step 3: Waiting for bob's stream to observe the changes...")
	frame := waitForFrame(t, frames, stream.FrameStateUpdate)
	if frame.Event != nil {
		assert.Equal(t, "editor", frame.Event.Key.ToolID)
	} else {
		require.NotNil(t, frame.Snapshot)
		assert.Equal(t, "editor", frame.Snapshot.Key.ToolID)
	}
	t.Log("✓ Live frame delivered")

	t.Log("Step 4: Reconciling bob's stale state...")
	synced, err := bob.Sync(ctx, "editor", client.SyncOptions{
		DeploymentID:       "prod",
		ClientVersion:      1,
		ClientState:        map[string]any{"cursor": float64(99)},
		ConflictResolution: types.ConflictLatestWins,
	})
	require.NoError(t, err)
	assert.Equal(t, engine.SyncResultConflictResolved, synced.SyncResult)
	assert.Equal(t, int64(4), synced.ServerVersion)
	assert.Equal(t, map[string]any{"cursor": float64(3)}, synced.ServerState)
	require.Len(t, synced.Conflicts, 1)
	assert.Equal(t, "cursor", synced.Conflicts[0].Field)
	t.Logf("✓ Conflict resolved at version %d", synced.ServerVersion)

	t.Log("Step 5: Running the acknowledgment lifecycle...")
	acked, err := alice.SubmitUpdate(ctx, "editor", client.SubmitOptions{
		DeploymentID: "prod",
		UpdateType:   types.UpdateStatusChange,
		EventData:    types.EventData{Metadata: map[string]any{"note": "deploy done"}},
		TargetUsers:  []string{"bob"},
		RequiresAck:  true,
	})
	require.NoError(t, err)

	pending, err := alice.AckStatus(ctx, "editor", acked.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AckPending, pending.Status)

	tracking, err := bob.RecordAck(ctx, "editor", acked.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AckComplete, tracking.Status)
	t.Log("✓ Ack moved pending to complete")

	t.Log("Step 6: Trimming history...")
	deleted, err := alice.CleanupOlderThan(ctx, "editor", "prod", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 5, deleted)

	snap, err := alice.Snapshot(ctx, "editor", "prod")
	require.NoError(t, err)
	require.NotNil(t, snap.Snapshot)
	assert.Equal(t, int64(5), snap.Snapshot.Version)
	t.Log("✓ History trimmed; snapshot version preserved")
}

// TestDeploymentsStayIsolated verifies that the same tool under different
// deployments keeps independent logs and snapshots.
func TestDeploymentsStayIsolated(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	baseURL := startServer(t)
	ctx := context.Background()
	c := client.New(baseURL, client.WithUser("carol"))

	for _, deployment := range []string{"staging", "prod"} {
		result, err := c.SubmitUpdate(ctx, "editor", client.SubmitOptions{
			DeploymentID: deployment,
			UpdateType:   types.UpdateStateChange,
			EventData:    types.EventData{NewState: map[string]any{"env": deployment}},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), result.SequenceNumber, "each deployment starts its own sequence")
	}

	snap, err := c.Snapshot(ctx, "editor", "staging")
	require.NoError(t, err)
	require.NotNil(t, snap.Snapshot)
	assert.Equal(t, map[string]any{"env": "staging"}, snap.Snapshot.CurrentState)
}

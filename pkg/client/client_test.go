package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhinehart514/hivesync/pkg/acks"
	"github.com/rhinehart514/hivesync/pkg/api"
	"github.com/rhinehart514/hivesync/pkg/broadcast"
	"github.com/rhinehart514/hivesync/pkg/engine"
	"github.com/rhinehart514/hivesync/pkg/storage"
	"github.com/rhinehart514/hivesync/pkg/stream"
	"github.com/rhinehart514/hivesync/pkg/types"
)

// newTestBackend runs the full server stack on a local listener and returns
// a client bound to it as user-1.
func newTestBackend(t *testing.T) *Client {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	broker := broadcast.NewBroker(100)
	broker.Start()
	t.Cleanup(broker.Stop)

	registry := stream.NewRegistry(16)
	eng := engine.New(engine.Config{
		Store:       store,
		Fanout:      broadcast.NewFanout(store, broker, nil),
		Tracker:     acks.NewTracker(store),
		Connections: registry,
	})

	server := api.NewServer(api.Config{
		Engine:          eng,
		Streamer:        stream.NewStreamer(store, broker, registry, 50*time.Millisecond, time.Minute),
		Store:           store,
		AllowUserHeader: true,
		Version:         "test",
	})

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return New(ts.URL, WithUser("user-1"))
}

func submitCounter(t *testing.T, c *Client, n int) *engine.SubmitResult {
	t.Helper()
	result, err := c.SubmitUpdate(context.Background(), "tool-1", SubmitOptions{
		DeploymentID: "dep-1",
		UpdateType:   types.UpdateStateChange,
		EventData:    types.EventData{NewState: map[string]any{"count": float64(n)}},
	})
	require.NoError(t, err)
	return result
}

func TestSubmitAndHistoryRoundTrip(t *testing.T) {
	c := newTestBackend(t)

	first := submitCounter(t, c, 1)
	assert.Equal(t, int64(1), first.SequenceNumber)
	assert.Equal(t, "tool-1", first.ToolID)

	second := submitCounter(t, c, 2)
	assert.Equal(t, int64(2), second.SequenceNumber)

	history, err := c.History(context.Background(), "tool-1", HistoryOptions{
		DeploymentID:    "dep-1",
		IncludeSnapshot: true,
	})
	require.NoError(t, err)
	require.Len(t, history.Events, 2)
	assert.Equal(t, first.ID, history.Events[0].ID)
	assert.False(t, history.HasMore)
	require.NotNil(t, history.Snapshot)
	assert.Equal(t, map[string]any{"count": float64(2)}, history.Snapshot.CurrentState)
	assert.Equal(t, int64(2), history.SyncStatus.Version)
}

func TestHistoryLimitAndHasMore(t *testing.T) {
	c := newTestBackend(t)

	for i := 1; i <= 3; i++ {
		submitCounter(t, c, i)
	}

	history, err := c.History(context.Background(), "tool-1", HistoryOptions{
		DeploymentID: "dep-1",
		Limit:        2,
	})
	require.NoError(t, err)
	assert.Len(t, history.Events, 2)
	assert.True(t, history.HasMore)
	assert.Nil(t, history.Snapshot)
}

func TestSyncRoundTrip(t *testing.T) {
	c := newTestBackend(t)

	boot, err := c.Sync(context.Background(), "tool-1", SyncOptions{
		DeploymentID: "dep-1",
		ClientState:  map[string]any{"theme": "dark"},
	})
	require.NoError(t, err)
	assert.Equal(t, engine.SyncResultClientStateAccepted, boot.SyncResult)
	assert.Equal(t, int64(1), boot.ServerVersion)

	stale, err := c.Sync(context.Background(), "tool-1", SyncOptions{
		DeploymentID:       "dep-1",
		ClientVersion:      0,
		ClientState:        map[string]any{"theme": "light"},
		ConflictResolution: types.ConflictLatestWins,
	})
	require.NoError(t, err)
	assert.Equal(t, engine.SyncResultConflictResolved, stale.SyncResult)
	assert.Equal(t, int64(2), stale.ServerVersion)
	assert.Equal(t, map[string]any{"theme": "dark"}, stale.ServerState)
	require.Len(t, stale.Conflicts, 1)
	assert.Equal(t, "theme", stale.Conflicts[0].Field)
}

func TestSnapshotAbsentIsNil(t *testing.T) {
	c := newTestBackend(t)

	result, err := c.Snapshot(context.Background(), "ghost", "")
	require.NoError(t, err)
	assert.Nil(t, result.Snapshot)
	require.NotNil(t, result.SyncStatus)
	assert.Equal(t, types.SyncStatusPending, result.SyncStatus.Status)
}

func TestAckRoundTrip(t *testing.T) {
	c := newTestBackend(t)

	submitted, err := c.SubmitUpdate(context.Background(), "tool-1", SubmitOptions{
		DeploymentID: "dep-1",
		UpdateType:   types.UpdateStateChange,
		EventData:    types.EventData{NewState: map[string]any{"n": float64(1)}},
		TargetUsers:  []string{"user-1"},
		RequiresAck:  true,
	})
	require.NoError(t, err)

	pending, err := c.AckStatus(context.Background(), "tool-1", submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AckPending, pending.Status)

	tracking, err := c.RecordAck(context.Background(), "tool-1", submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AckComplete, tracking.Status)
	assert.Equal(t, []string{"user-1"}, tracking.ReceivedAcks)
}

func TestCleanupRoundTrip(t *testing.T) {
	c := newTestBackend(t)

	first := submitCounter(t, c, 1)
	submitCounter(t, c, 2)

	deleted, err := c.CleanupEvent(context.Background(), "tool-1", first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	deleted, err = c.CleanupOlderThan(context.Background(), "tool-1", "dep-1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	// History is gone; the snapshot still reports the last version.
	result, err := c.Snapshot(context.Background(), "tool-1", "dep-1")
	require.NoError(t, err)
	require.NotNil(t, result.Snapshot)
	assert.Equal(t, int64(2), result.Snapshot.Version)
}

func TestAPIErrorCarriesCodeAndStatus(t *testing.T) {
	c := newTestBackend(t)

	_, err := c.AckStatus(context.Background(), "tool-1", "no-such-update")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "not_found", apiErr.Code)
	assert.NotEmpty(t, apiErr.Message)

	_, err = c.Sync(context.Background(), "tool-1", SyncOptions{DeploymentID: "dep-1"})
	assert.True(t, IsInvalidInput(err))
}

func TestWatchDecodesFrames(t *testing.T) {
	c := newTestBackend(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames, err := c.Watch(ctx, "tool-1", "dep-1")
	require.NoError(t, err)

	waitFrame := func(want string) stream.Frame {
		deadline := time.After(3 * time.Second)
		for {
			select {
			case frame, ok := <-frames:
				require.True(t, ok, "stream ended while waiting for %s", want)
				if frame.Type == stream.FrameHeartbeat && want != stream.FrameHeartbeat {
					continue
				}
				require.Equal(t, want, frame.Type)
				return frame
			case <-deadline:
				t.Fatalf("timed out waiting for %s frame", want)
			}
		}
	}

	connected := waitFrame(stream.FrameConnected)
	assert.Equal(t, "tool-1", connected.ToolID)

	// Another user's write must reach the watcher.
	other := New(c.baseURL, WithUser("user-2"))
	submitted, err := other.SubmitUpdate(ctx, "tool-1", SubmitOptions{
		DeploymentID: "dep-1",
		UpdateType:   types.UpdateStateChange,
		EventData:    types.EventData{NewState: map[string]any{"n": float64(1)}},
	})
	require.NoError(t, err)

	update := waitFrame(stream.FrameStateUpdate)
	if update.Event != nil {
		assert.Equal(t, submitted.ID, update.Event.ID)
	} else {
		require.NotNil(t, update.Snapshot)
		assert.Equal(t, submitted.SequenceNumber, update.Snapshot.Version)
	}

	cancel()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-frames:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("watch channel did not close after cancel")
		}
	}
}

func TestWatchRequiresDeployment(t *testing.T) {
	c := newTestBackend(t)

	_, err := c.Watch(context.Background(), "tool-1", "")
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	c := newTestBackend(t)

	status, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "test", status.Version)
}

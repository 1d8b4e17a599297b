package stream

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhinehart514/hivesync/pkg/broadcast"
	"github.com/rhinehart514/hivesync/pkg/storage"
	"github.com/rhinehart514/hivesync/pkg/types"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestStreamer(t *testing.T, poll, heartbeat time.Duration) (*Streamer, storage.Store, *broadcast.Broker, *Registry) {
	t.Helper()
	store := newTestStore(t)
	broker := broadcast.NewBroker(100)
	broker.Start()
	t.Cleanup(broker.Stop)
	registry := NewRegistry(0)
	return NewStreamer(store, broker, registry, poll, heartbeat), store, broker, registry
}

// appendEvent writes one event and its snapshot straight through the store,
// bypassing the engine.
func appendEvent(t *testing.T, store storage.Store, key types.ToolStateKey, userID string, seq int64, ts time.Time) *types.UpdateEvent {
	t.Helper()
	event := &types.UpdateEvent{
		ID:                uuid.New().String(),
		Key:               key,
		UserID:            userID,
		UpdateType:        types.UpdateValueUpdate,
		EventData:         types.EventData{NewState: map[string]any{"seq": float64(seq)}},
		AffectedUsers:     []string{},
		Timestamp:         ts,
		SequenceNumber:    seq,
		BroadcastChannels: []string{broadcast.ToolChannel(key.ToolID)},
	}
	snapshot := &types.StateSnapshot{
		Key:               key,
		CurrentState:      event.EventData.NewState,
		Version:           seq,
		LastUpdate:        ts,
		ActiveConnections: []string{},
		PendingUpdates:    []*types.UpdateEvent{},
		Metadata: types.SnapshotMetadata{
			CreatedAt:  ts,
			UpdatedBy:  userID,
			SyncStatus: types.SyncStatusSynced,
		},
	}
	require.NoError(t, store.AppendUpdate(context.Background(), event, snapshot))
	return event
}

// nextFrame reads one frame of the wanted type, skipping heartbeats unless
// heartbeats are what is wanted.
func nextFrame(t *testing.T, ch *Channel, wantType string) Frame {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case frame, ok := <-ch.Frames():
			require.True(t, ok, "stream closed while waiting for %s frame", wantType)
			if frame.Type == wantType {
				return frame
			}
			if frame.Type == FrameHeartbeat && wantType != FrameHeartbeat {
				continue
			}
			t.Fatalf("expected %s frame, got %s", wantType, frame.Type)
		case <-deadline:
			t.Fatalf("timed out waiting for %s frame", wantType)
		}
	}
}

// frameVersion extracts the sequence the frame reports, from either the
// event or the catch-up snapshot.
func frameVersion(frame Frame) int64 {
	if frame.Event != nil {
		return frame.Event.SequenceNumber
	}
	if frame.Snapshot != nil {
		return frame.Snapshot.Version
	}
	return 0
}

func TestStreamEmitsConnectedFirst(t *testing.T) {
	streamer, _, _, _ := newTestStreamer(t, 10*time.Millisecond, time.Hour)
	key := types.ToolStateKey{ToolID: "tool-1", DeploymentID: "deploy-1"}

	ch, err := streamer.Open(context.Background(), key, "viewer")
	require.NoError(t, err)
	defer ch.Close()

	frame := nextFrame(t, ch, FrameConnected)
	assert.Equal(t, ch.ID, frame.ConnectionID)
	assert.Equal(t, "tool-1", frame.ToolID)
	assert.Equal(t, "deploy-1", frame.DeploymentID)
	assert.False(t, frame.Timestamp.IsZero())
	assert.Equal(t, StateStreaming, ch.State())
}

func TestStreamHeartbeats(t *testing.T) {
	streamer, _, _, _ := newTestStreamer(t, time.Hour, 20*time.Millisecond)
	key := types.ToolStateKey{ToolID: "tool-1"}

	ch, err := streamer.Open(context.Background(), key, "viewer")
	require.NoError(t, err)
	defer ch.Close()

	nextFrame(t, ch, FrameConnected)
	frame := nextFrame(t, ch, FrameHeartbeat)
	assert.False(t, frame.Timestamp.IsZero())
}

func TestStreamDeliversOtherUsersEvents(t *testing.T) {
	streamer, store, _, _ := newTestStreamer(t, 10*time.Millisecond, time.Hour)
	key := types.ToolStateKey{ToolID: "tool-1"}

	ch, err := streamer.Open(context.Background(), key, "viewer")
	require.NoError(t, err)
	defer ch.Close()
	nextFrame(t, ch, FrameConnected)

	appendEvent(t, store, key, "author", 1, time.Now().UTC())
	frame := nextFrame(t, ch, FrameStateUpdate)
	assert.Equal(t, int64(1), frameVersion(frame))
}

func TestStreamFiltersSelfAuthoredEvents(t *testing.T) {
	streamer, store, _, _ := newTestStreamer(t, 10*time.Millisecond, time.Hour)
	key := types.ToolStateKey{ToolID: "tool-1"}

	ch, err := streamer.Open(context.Background(), key, "viewer")
	require.NoError(t, err)
	defer ch.Close()
	nextFrame(t, ch, FrameConnected)

	// The viewer's own write, then someone else's. Only the latter may show.
	appendEvent(t, store, key, "viewer", 1, time.Now().UTC())
	appendEvent(t, store, key, "author", 2, time.Now().UTC())

	frame := nextFrame(t, ch, FrameStateUpdate)
	assert.Equal(t, int64(2), frameVersion(frame))
	if frame.Event != nil {
		assert.Equal(t, "author", frame.Event.UserID)
	}
}

func TestStreamSnapshotCatchUp(t *testing.T) {
	streamer, store, _, _ := newTestStreamer(t, 15*time.Millisecond, time.Hour)
	key := types.ToolStateKey{ToolID: "tool-1"}

	ch, err := streamer.Open(context.Background(), key, "viewer")
	require.NoError(t, err)
	defer ch.Close()
	nextFrame(t, ch, FrameConnected)

	// An event stamped well outside the poll window never shows up in the
	// log survey; the snapshot watch must carry the catch-up.
	appendEvent(t, store, key, "author", 1, time.Now().UTC().Add(-time.Hour))

	frame := nextFrame(t, ch, FrameStateUpdate)
	assert.Nil(t, frame.Event)
	require.NotNil(t, frame.Snapshot)
	assert.Equal(t, int64(1), frame.Snapshot.Version)
}

func TestStreamBrokerDeliveryTriggersImmediateSurvey(t *testing.T) {
	// Polling alone would take an hour; only the broker path can deliver.
	streamer, store, broker, _ := newTestStreamer(t, time.Hour, time.Hour)
	key := types.ToolStateKey{ToolID: "tool-1"}

	ch, err := streamer.Open(context.Background(), key, "viewer")
	require.NoError(t, err)
	defer ch.Close()
	nextFrame(t, ch, FrameConnected)

	event := appendEvent(t, store, key, "author", 1, time.Now().UTC())
	broker.Publish(broadcast.ReduceEvent(event, broadcast.ToolChannel(key.ToolID)))

	frame := nextFrame(t, ch, FrameStateUpdate)
	assert.Equal(t, int64(1), frameVersion(frame))
}

func TestStreamCloseStopsDelivery(t *testing.T) {
	streamer, _, _, registry := newTestStreamer(t, 10*time.Millisecond, 10*time.Millisecond)
	key := types.ToolStateKey{ToolID: "tool-1"}

	ch, err := streamer.Open(context.Background(), key, "viewer")
	require.NoError(t, err)
	nextFrame(t, ch, FrameConnected)
	assert.Equal(t, 1, registry.Count())

	ch.Close()
	ch.Close() // idempotent

	// The frame channel closes once the loop stops.
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch.Frames():
			return !ok
		default:
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, StateClosed, ch.State())
	assert.Equal(t, 0, registry.Count())
}

func TestStreamContextCancelCloses(t *testing.T) {
	streamer, _, _, registry := newTestStreamer(t, 10*time.Millisecond, time.Hour)
	key := types.ToolStateKey{ToolID: "tool-1"}

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := streamer.Open(ctx, key, "viewer")
	require.NoError(t, err)
	nextFrame(t, ch, FrameConnected)

	cancel()

	require.Eventually(t, func() bool { return ch.State() == StateClosed }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, registry.Count())
}

func TestOpenRespectsConnectionCap(t *testing.T) {
	store := newTestStore(t)
	broker := broadcast.NewBroker(100)
	broker.Start()
	t.Cleanup(broker.Stop)
	registry := NewRegistry(1)
	streamer := NewStreamer(store, broker, registry, 10*time.Millisecond, time.Hour)
	key := types.ToolStateKey{ToolID: "tool-1"}

	ch, err := streamer.Open(context.Background(), key, "u1")
	require.NoError(t, err)
	defer ch.Close()

	_, err = streamer.Open(context.Background(), key, "u2")
	assert.ErrorIs(t, err, ErrTooManyConnections)
}

func TestStreamDoesNotDuplicateAcrossWindows(t *testing.T) {
	streamer, store, _, _ := newTestStreamer(t, 25*time.Millisecond, time.Hour)
	key := types.ToolStateKey{ToolID: "tool-1"}

	ch, err := streamer.Open(context.Background(), key, "viewer")
	require.NoError(t, err)
	defer ch.Close()
	nextFrame(t, ch, FrameConnected)

	appendEvent(t, store, key, "author", 1, time.Now().UTC())
	first := nextFrame(t, ch, FrameStateUpdate)
	require.Equal(t, int64(1), frameVersion(first))

	// The event stays inside overlapping windows for a few more polls; the
	// seen-set must suppress re-emission.
	timeout := time.After(150 * time.Millisecond)
	for {
		select {
		case frame, ok := <-ch.Frames():
			require.True(t, ok)
			if frame.Type == FrameStateUpdate {
				t.Fatalf("event re-emitted: %+v", frame)
			}
		case <-timeout:
			return
		}
	}
}

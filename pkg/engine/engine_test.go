package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhinehart514/hivesync/pkg/acks"
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

func newTestEngine(t *testing.T) (*Engine, storage.Store) {
	t.Helper()
	store := newTestStore(t)
	return newEngineOn(t, store), store
}

func newEngineOn(t *testing.T, store storage.Store) *Engine {
	t.Helper()
	broker := broadcast.NewBroker(100)
	broker.Start()
	t.Cleanup(broker.Stop)

	return New(Config{
		Store:   store,
		Fanout:  broadcast.NewFanout(store, broker, nil),
		Tracker: acks.NewTracker(store),
	})
}

func submitState(t *testing.T, eng *Engine, toolID, userID string, state map[string]any) *SubmitResult {
	t.Helper()
	result, err := eng.SubmitUpdate(context.Background(), SubmitRequest{
		ToolID:     toolID,
		UserID:     userID,
		UpdateType: types.UpdateStateChange,
		EventData:  types.EventData{NewState: state},
	})
	require.NoError(t, err)
	return result
}

// recordingNotifier captures Notify calls and optionally fails them.
type recordingNotifier struct {
	mu    sync.Mutex
	users [][]string
	err   error
}

func (n *recordingNotifier) Notify(ctx context.Context, event *types.UpdateEvent, users []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.users = append(n.users, users)
	return n.err
}

func TestSubmitUpdateFirstEventIsSequenceOne(t *testing.T) {
	eng, store := newTestEngine(t)

	result := submitState(t, eng, "tool-1", "user-1", map[string]any{"count": float64(1)})
	assert.Equal(t, int64(1), result.SequenceNumber)
	assert.NotEmpty(t, result.ID)

	snapshot, err := store.GetSnapshot(context.Background(), types.ToolStateKey{ToolID: "tool-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), snapshot.Version)
	assert.Equal(t, map[string]any{"count": float64(1)}, snapshot.CurrentState)
	assert.Equal(t, "user-1", snapshot.Metadata.UpdatedBy)
	assert.Equal(t, types.SyncStatusSynced, snapshot.Metadata.SyncStatus)
}

func TestSubmitUpdateAdvancesVersionWithSequence(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	submitState(t, eng, "tool-1", "user-1", map[string]any{"v": float64(1)})
	submitState(t, eng, "tool-1", "user-1", map[string]any{"v": float64(2)})
	submitState(t, eng, "tool-1", "user-2", map[string]any{"v": float64(3)})

	result := submitState(t, eng, "tool-1", "user-2", map[string]any{"v": float64(4)})
	assert.Equal(t, int64(4), result.SequenceNumber)

	snapshot, err := store.GetSnapshot(ctx, types.ToolStateKey{ToolID: "tool-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), snapshot.Version)
	assert.Equal(t, map[string]any{"v": float64(4)}, snapshot.CurrentState)
}

func TestSubmitUpdateKeysAreIndependent(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	submitState(t, eng, "tool-1", "user-1", map[string]any{"a": float64(1)})
	submitState(t, eng, "tool-1", "user-1", map[string]any{"a": float64(2)})

	// The same tool under a deployment is a separate key with its own log.
	result, err := eng.SubmitUpdate(ctx, SubmitRequest{
		ToolID:       "tool-1",
		DeploymentID: "deploy-1",
		UserID:       "user-1",
		UpdateType:   types.UpdateStateChange,
		EventData:    types.EventData{NewState: map[string]any{"b": float64(1)}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.SequenceNumber)

	scoped, err := store.GetSnapshot(ctx, types.ToolStateKey{ToolID: "tool-1", DeploymentID: "deploy-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), scoped.Version)

	unscoped, err := store.GetSnapshot(ctx, types.ToolStateKey{ToolID: "tool-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), unscoped.Version)
}

func TestSubmitUpdateValidation(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	valid := SubmitRequest{
		ToolID:     "tool-1",
		UserID:     "user-1",
		UpdateType: types.UpdateValueUpdate,
		EventData:  types.EventData{NewState: map[string]any{"x": float64(1)}},
	}

	cases := []struct {
		name   string
		mutate func(*SubmitRequest)
	}{
		{"missing tool", func(r *SubmitRequest) { r.ToolID = "" }},
		{"missing user", func(r *SubmitRequest) { r.UserID = "" }},
		{"missing update type", func(r *SubmitRequest) { r.UpdateType = "" }},
		{"unknown update type", func(r *SubmitRequest) { r.UpdateType = "rewind" }},
		{"empty event data", func(r *SubmitRequest) { r.EventData = types.EventData{} }},
		{"negative expiry", func(r *SubmitRequest) { r.ExpiresInMinutes = -5 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			tc.mutate(&req)
			_, err := eng.SubmitUpdate(ctx, req)
			assert.True(t, errors.Is(err, ErrInvalidInput), "got %v", err)
		})
	}

	// The valid baseline itself must pass.
	_, err := eng.SubmitUpdate(ctx, valid)
	assert.NoError(t, err)
}

func TestSubmitUpdateComputesChangedFields(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	submitState(t, eng, "tool-1", "user-1", map[string]any{"a": float64(1), "b": float64(2)})
	result := submitState(t, eng, "tool-1", "user-1", map[string]any{"a": float64(1), "b": float64(3), "c": float64(4)})

	event, err := store.GetUpdate(ctx, result.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, event.EventData.ChangedFields)
}

func TestSubmitUpdateKeepsCallerChangedFields(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	result, err := eng.SubmitUpdate(ctx, SubmitRequest{
		ToolID:     "tool-1",
		UserID:     "user-1",
		UpdateType: types.UpdateValueUpdate,
		EventData: types.EventData{
			NewState:      map[string]any{"a": float64(1), "b": float64(2)},
			ChangedFields: []string{"b"},
		},
	})
	require.NoError(t, err)

	event, err := store.GetUpdate(ctx, result.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, event.EventData.ChangedFields)
}

func TestSubmitUpdateDefaults(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	result, err := eng.SubmitUpdate(ctx, SubmitRequest{
		ToolID:     "tool-1",
		UserID:     "user-1",
		UpdateType: types.UpdateStateChange,
		EventData:  types.EventData{NewState: map[string]any{"x": float64(1)}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.AffectedUsers)

	event, err := store.GetUpdate(ctx, result.ID)
	require.NoError(t, err)
	assert.NotNil(t, event.AffectedUsers)
	assert.Empty(t, event.AffectedUsers)
	require.NotNil(t, event.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(DefaultExpiry), *event.ExpiresAt, 5*time.Second)
}

func TestSubmitUpdateBroadcastChannels(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	result, err := eng.SubmitUpdate(ctx, SubmitRequest{
		ToolID:       "tool-1",
		DeploymentID: "deploy-1",
		SpaceID:      "space-1",
		UserID:       "user-1",
		UpdateType:   types.UpdateStateChange,
		EventData:    types.EventData{NewState: map[string]any{"x": float64(1)}},
	})
	require.NoError(t, err)

	event, err := store.GetUpdate(ctx, result.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"tool:tool-1:updates",
		"deployment:deploy-1:updates",
		"space:space-1:tools",
	}, event.BroadcastChannels)

	// Space fan-out suppressed on request.
	off := false
	result, err = eng.SubmitUpdate(ctx, SubmitRequest{
		ToolID:           "tool-1",
		DeploymentID:     "deploy-1",
		SpaceID:          "space-1",
		UserID:           "user-1",
		UpdateType:       types.UpdateStateChange,
		EventData:        types.EventData{NewState: map[string]any{"x": float64(2)}},
		BroadcastToSpace: &off,
	})
	require.NoError(t, err)

	event, err = store.GetUpdate(ctx, result.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"tool:tool-1:updates",
		"deployment:deploy-1:updates",
	}, event.BroadcastChannels)
}

func TestSubmitUpdateWritesOutbox(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	result := submitState(t, eng, "tool-1", "user-1", map[string]any{"x": float64(1)})

	messages, err := store.ListBroadcasts(ctx, "tool:tool-1:updates", 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, result.ID, messages[0].UpdateEventID)
	assert.Equal(t, int64(1), messages[0].SequenceNumber)
}

func TestSubmitUpdateRegistersAckTracking(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	result, err := eng.SubmitUpdate(ctx, SubmitRequest{
		ToolID:      "tool-1",
		UserID:      "user-1",
		UpdateType:  types.UpdateStateChange,
		EventData:   types.EventData{NewState: map[string]any{"x": float64(1)}},
		TargetUsers: []string{"u1", "u2"},
		RequiresAck: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.AffectedUsers)

	tracking, err := store.GetAckTracking(ctx, result.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AckPending, tracking.Status)
	assert.Equal(t, []string{"u1", "u2"}, tracking.RequiredAcks)
	assert.Empty(t, tracking.ReceivedAcks)
}

func TestSubmitUpdateWithoutAckSkipsTracking(t *testing.T) {
	eng, store := newTestEngine(t)

	result := submitState(t, eng, "tool-1", "user-1", map[string]any{"x": float64(1)})

	_, err := store.GetAckTracking(context.Background(), result.ID)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestSubmitUpdateNotifiesTargets(t *testing.T) {
	store := newTestStore(t)
	broker := broadcast.NewBroker(100)
	broker.Start()
	t.Cleanup(broker.Stop)

	notifier := &recordingNotifier{}
	eng := New(Config{
		Store:    store,
		Fanout:   broadcast.NewFanout(store, broker, nil),
		Tracker:  acks.NewTracker(store),
		Notifier: notifier,
	})

	_, err := eng.SubmitUpdate(context.Background(), SubmitRequest{
		ToolID:      "tool-1",
		UserID:      "user-1",
		UpdateType:  types.UpdateStateChange,
		EventData:   types.EventData{NewState: map[string]any{"x": float64(1)}},
		TargetUsers: []string{"u1", "u2"},
	})
	require.NoError(t, err)
	require.Len(t, notifier.users, 1)
	assert.Equal(t, []string{"u1", "u2"}, notifier.users[0])
}

func TestSubmitUpdateNotifierFailureDoesNotFailWrite(t *testing.T) {
	store := newTestStore(t)
	broker := broadcast.NewBroker(100)
	broker.Start()
	t.Cleanup(broker.Stop)

	notifier := &recordingNotifier{err: errors.New("push gateway down")}
	eng := New(Config{
		Store:    store,
		Fanout:   broadcast.NewFanout(store, broker, nil),
		Tracker:  acks.NewTracker(store),
		Notifier: notifier,
	})

	result, err := eng.SubmitUpdate(context.Background(), SubmitRequest{
		ToolID:      "tool-1",
		UserID:      "user-1",
		UpdateType:  types.UpdateStateChange,
		EventData:   types.EventData{NewState: map[string]any{"x": float64(1)}},
		TargetUsers: []string{"u1"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.SequenceNumber)

	// The write stuck despite the notification failure.
	snapshot, err := store.GetSnapshot(context.Background(), types.ToolStateKey{ToolID: "tool-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), snapshot.Version)
}

func TestConcurrentWritersGetUniqueSequences(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	const writers = 4
	const perWriter = 3
	const total = writers * perWriter

	var wg sync.WaitGroup
	errs := make(chan error, total)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := eng.SubmitUpdate(ctx, SubmitRequest{
					ToolID:     "tool-1",
					UserID:     fmt.Sprintf("user-%d", w),
					UpdateType: types.UpdateValueUpdate,
					EventData:  types.EventData{NewState: map[string]any{"writer": float64(w), "round": float64(i)}},
				})
				errs <- err
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	snapshot, err := store.GetSnapshot(ctx, types.ToolStateKey{ToolID: "tool-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(total), snapshot.Version)

	events, err := store.ListUpdates(ctx, types.ToolStateKey{ToolID: "tool-1"}, time.Time{}, total+1)
	require.NoError(t, err)
	require.Len(t, events, total)

	// The log must hold exactly sequences 1..total, no gaps, no duplicates.
	for i, event := range events {
		assert.Equal(t, int64(i+1), event.SequenceNumber)
	}
}

// conflictStore makes every append lose the version race.
type conflictStore struct {
	storage.Store
}

func (s *conflictStore) AppendUpdate(ctx context.Context, event *types.UpdateEvent, snapshot *types.StateSnapshot) error {
	return storage.ErrVersionConflict
}

func TestSubmitUpdateGivesUpAfterRetryBudget(t *testing.T) {
	store := &conflictStore{Store: newTestStore(t)}
	eng := newEngineOn(t, store)

	_, err := eng.SubmitUpdate(context.Background(), SubmitRequest{
		ToolID:     "tool-1",
		UserID:     "user-1",
		UpdateType: types.UpdateStateChange,
		EventData:  types.EventData{NewState: map[string]any{"x": float64(1)}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sequence race")
}

// failingStore fails every append with a non-conflict error.
type failingStore struct {
	storage.Store
	err error
}

func (s *failingStore) AppendUpdate(ctx context.Context, event *types.UpdateEvent, snapshot *types.StateSnapshot) error {
	return s.err
}

func TestSubmitUpdateSurfacesStoreErrors(t *testing.T) {
	boom := errors.New("disk full")
	store := &failingStore{Store: newTestStore(t), err: boom}
	eng := newEngineOn(t, store)

	_, err := eng.SubmitUpdate(context.Background(), SubmitRequest{
		ToolID:     "tool-1",
		UserID:     "user-1",
		UpdateType: types.UpdateStateChange,
		EventData:  types.EventData{NewState: map[string]any{"x": float64(1)}},
	})
	assert.True(t, errors.Is(err, boom))
}

package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rhinehart514/hivesync/pkg/broadcast"
	"github.com/rhinehart514/hivesync/pkg/log"
	"github.com/rhinehart514/hivesync/pkg/metrics"
	"github.com/rhinehart514/hivesync/pkg/storage"
	"github.com/rhinehart514/hivesync/pkg/types"
)

// Frame types emitted on a live delivery channel.
const (
	FrameConnected   = "connected"
	FrameHeartbeat   = "heartbeat"
	FrameStateUpdate = "state_update"
)

// Channel states. A channel is connecting until its loop starts, streaming
// while frames flow, and closed once canceled or disconnected.
type State string

const (
	StateConnecting State = "connecting"
	StateStreaming  State = "streaming"
	StateClosed     State = "closed"
)

const (
	defaultPollInterval      = 2 * time.Second
	defaultHeartbeatInterval = 30 * time.Second

	// frameBuffer bounds how far a slow consumer may fall behind before
	// frames are dropped. The poll loop re-surfaces missed state through
	// the snapshot watch, so drops degrade to coarser updates, not loss of
	// the final state.
	frameBuffer = 64

	// seenCap bounds the per-connection duplicate-suppression set. Poll
	// windows overlap deliberately; the set absorbs the boundary overlap.
	seenCap = 256
)

// Frame is one message on a live delivery channel. The NDJSON and websocket
// transports serialize the same shape.
type Frame struct {
	Type         string               `json:"type"`
	ConnectionID string               `json:"connectionId,omitempty"`
	ToolID       string               `json:"toolId,omitempty"`
	DeploymentID string               `json:"deploymentId,omitempty"`
	Event        *types.UpdateEvent   `json:"event,omitempty"`
	Snapshot     *types.StateSnapshot `json:"snapshot,omitempty"`
	Timestamp    time.Time            `json:"timestamp"`
}

// Channel is one caller's live view of a state key. Frames arrive on
// Frames() until the channel closes; Close is safe to call from any
// goroutine and more than once.
type Channel struct {
	ID string

	key    types.ToolStateKey
	userID string

	frames chan Frame
	cancel context.CancelFunc

	mu    sync.Mutex
	state State

	seen      map[string]struct{}
	seenOrder []string

	closeOnce sync.Once
}

// Frames returns the channel frames are delivered on. It is closed when the
// stream ends.
func (c *Channel) Frames() <-chan Frame {
	return c.frames
}

// State reports the channel's lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close cancels the stream. The frame channel closes once the loop has
// stopped; in-flight survey results are discarded.
func (c *Channel) Close() {
	c.closeOnce.Do(c.cancel)
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// emit delivers a frame unless the consumer has fallen frameBuffer behind,
// in which case the frame is dropped.
func (c *Channel) emit(frame Frame) {
	select {
	case c.frames <- frame:
		metrics.StreamFrames.WithLabelValues(frame.Type).Inc()
	default:
		log.Logger.Debug().
			Str("connection_id", c.ID).
			Str("frame_type", frame.Type).
			Msg("dropping frame, consumer too slow")
	}
}

// markSeen records an event ID for duplicate suppression and reports whether
// it was already present. The set is bounded; oldest entries fall out first.
// Only the stream loop touches it.
func (c *Channel) markSeen(id string) bool {
	if _, ok := c.seen[id]; ok {
		return true
	}
	c.seen[id] = struct{}{}
	c.seenOrder = append(c.seenOrder, id)
	if len(c.seenOrder) > seenCap {
		delete(c.seen, c.seenOrder[0])
		c.seenOrder = c.seenOrder[1:]
	}
	return false
}

// Streamer opens live delivery channels. Each channel runs its own loop:
// polling covers completeness, the broker subscription covers latency.
type Streamer struct {
	store             storage.Store
	broker            *broadcast.Broker
	registry          *Registry
	pollInterval      time.Duration
	heartbeatInterval time.Duration
}

// NewStreamer creates a streamer. Intervals <= 0 fall back to 2s polling and
// 30s heartbeats.
func NewStreamer(store storage.Store, broker *broadcast.Broker, registry *Registry, pollInterval, heartbeatInterval time.Duration) *Streamer {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if heartbeatInterval <= 0 {
		heartbeatInterval = defaultHeartbeatInterval
	}
	return &Streamer{
		store:             store,
		broker:            broker,
		registry:          registry,
		pollInterval:      pollInterval,
		heartbeatInterval: heartbeatInterval,
	}
}

// Open starts a live delivery channel for userID on key. Events authored by
// userID are not replayed back to them. The stream never writes to the
// store.
func (s *Streamer) Open(ctx context.Context, key types.ToolStateKey, userID string) (*Channel, error) {
	id := uuid.New().String()
	if err := s.registry.Add(key, id, userID); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	ch := &Channel{
		ID:     id,
		key:    key,
		userID: userID,
		frames: make(chan Frame, frameBuffer),
		cancel: cancel,
		state:  StateConnecting,
		seen:   make(map[string]struct{}),
	}

	sub := s.broker.Subscribe(broadcast.ChannelsFor(key, "", false)...)

	metrics.StreamsActive.Inc()
	log.Logger.Debug().
		Str("connection_id", id).
		Str("state_key", key.String()).
		Str("user_id", userID).
		Msg("stream opened")

	go s.run(ctx, ch, sub)
	return ch, nil
}

func (s *Streamer) run(ctx context.Context, ch *Channel, sub broadcast.Subscriber) {
	defer func() {
		ch.setState(StateClosed)
		s.registry.Remove(ch.key, ch.ID)
		s.broker.Unsubscribe(sub)
		close(ch.frames)
		metrics.StreamsActive.Dec()
		log.Logger.Debug().
			Str("connection_id", ch.ID).
			Str("state_key", ch.key.String()).
			Msg("stream closed")
	}()

	// The state as of connect is the baseline; only movement past it is
	// emitted. Read it before announcing the connection so writes that
	// follow the connected frame always count as movement.
	lastVersion := s.snapshotVersion(ctx, ch.key)

	ch.setState(StateStreaming)
	ch.emit(Frame{
		Type:         FrameConnected,
		ConnectionID: ch.ID,
		ToolID:       ch.key.ToolID,
		DeploymentID: ch.key.DeploymentID,
		Timestamp:    time.Now().UTC(),
	})

	heartbeat := time.NewTicker(s.heartbeatInterval)
	defer heartbeat.Stop()
	poll := time.NewTicker(s.pollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			ch.emit(Frame{Type: FrameHeartbeat, Timestamp: time.Now().UTC()})
		case <-poll.C:
			lastVersion = s.survey(ctx, ch, lastVersion)
		case _, ok := <-sub:
			if !ok {
				return
			}
			// A broker delivery means something changed on one of the
			// key's channels. The log, not the message, is the source
			// of truth: survey it immediately instead of waiting out
			// the poll interval.
			lastVersion = s.survey(ctx, ch, lastVersion)
		}
	}
}

// survey queries the event log for the trailing poll window and emits a
// state_update per unseen event not authored by the stream's own user. When
// the snapshot has moved past everything the window showed, one
// snapshot-bearing frame carries the catch-up. Read failures emit nothing;
// the next tick retries.
func (s *Streamer) survey(ctx context.Context, ch *Channel, lastVersion int64) int64 {
	if ctx.Err() != nil {
		return lastVersion
	}

	window := time.Now().UTC().Add(-s.pollInterval)
	events, err := s.store.ListUpdates(ctx, ch.key, window, 0)
	if err != nil {
		log.Error(fmt.Sprintf("Failed to poll update log for %s: %v", ch.key, err))
		events = nil
	}

	for _, event := range events {
		if ch.markSeen(event.ID) {
			continue
		}
		if event.SequenceNumber > lastVersion {
			lastVersion = event.SequenceNumber
		}
		if event.UserID == ch.userID {
			continue
		}
		if ctx.Err() != nil {
			return lastVersion
		}
		ch.emit(Frame{
			Type:      FrameStateUpdate,
			Event:     event,
			Timestamp: time.Now().UTC(),
		})
	}

	// Out-of-band movement: the snapshot is ahead of every event the window
	// showed (writes older than the window, trimmed history).
	snapshot := s.snapshot(ctx, ch.key)
	if snapshot != nil && snapshot.Version > lastVersion {
		lastVersion = snapshot.Version
		if ctx.Err() != nil {
			return lastVersion
		}
		if snapshot.Metadata.UpdatedBy != ch.userID {
			ch.emit(Frame{
				Type:      FrameStateUpdate,
				Snapshot:  snapshot,
				Timestamp: time.Now().UTC(),
			})
		}
	}

	return lastVersion
}

func (s *Streamer) snapshot(ctx context.Context, key types.ToolStateKey) *types.StateSnapshot {
	snapshot, err := s.store.GetSnapshot(ctx, key)
	if err != nil {
		if !storage.IsNotFound(err) {
			log.Error(fmt.Sprintf("Failed to read snapshot for %s: %v", key, err))
		}
		return nil
	}
	return snapshot
}

func (s *Streamer) snapshotVersion(ctx context.Context, key types.ToolStateKey) int64 {
	if snapshot := s.snapshot(ctx, key); snapshot != nil {
		return snapshot.Version
	}
	return 0
}

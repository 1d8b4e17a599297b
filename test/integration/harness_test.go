package integration

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rhinehart514/hivesync/pkg/acks"
	"github.com/rhinehart514/hivesync/pkg/api"
	"github.com/rhinehart514/hivesync/pkg/broadcast"
	"github.com/rhinehart514/hivesync/pkg/engine"
	"github.com/rhinehart514/hivesync/pkg/storage"
	"github.com/rhinehart514/hivesync/pkg/stream"
)

// startServer runs the full in-process stack on a bolt store and returns the
// base URL of its HTTP listener. Everything is torn down with the test.
func startServer(t *testing.T) string {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	broker := broadcast.NewBroker(100)
	broker.Start()
	t.Cleanup(broker.Stop)

	registry := stream.NewRegistry(64)
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
		Version:         "integration",
	})

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

// waitForFrame reads frames until one of the wanted type arrives, skipping
// heartbeats along the way.
func waitForFrame(t *testing.T, frames <-chan stream.Frame, want string) stream.Frame {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case frame, ok := <-frames:
			require.True(t, ok, "stream closed while waiting for %s frame", want)
			if frame.Type == stream.FrameHeartbeat && want != stream.FrameHeartbeat {
				continue
			}
			require.Equal(t, want, frame.Type)
			return frame
		case <-deadline:
			t.Fatalf("timed out waiting for %s frame", want)
			return stream.Frame{}
		}
	}
}

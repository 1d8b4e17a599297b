package metrics

import (
	"context"
	"time"

	"github.com/rhinehart514/hivesync/pkg/storage"
)

// Collector samples storage counts into the state gauges
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats, err := c.store.Stats(ctx)
	if err != nil {
		SetComponent("storage", false, err.Error())
		return
	}
	SetComponent("storage", true, "")

	SnapshotsTotal.Set(float64(stats.Snapshots))
	EventsTotal.Set(float64(stats.Events))
	AcksPending.Set(float64(stats.PendingAcks))
	OutboxMessages.Set(float64(stats.BroadcastMessages))
}

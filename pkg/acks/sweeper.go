package acks

import (
	"context"
	"fmt"
	"time"

	"github.com/rhinehart514/hivesync/pkg/log"
	"github.com/rhinehart514/hivesync/pkg/metrics"
	"github.com/rhinehart514/hivesync/pkg/storage"
	"github.com/rhinehart514/hivesync/pkg/types"
)

// Sweeper periodically expires acknowledgment trackers whose deadline passed
// without all required acks arriving. It only flips status; there is no
// retry or escalation.
type Sweeper struct {
	store    storage.Store
	interval time.Duration
	stopCh   chan struct{}
}

// NewSweeper creates a sweeper. An interval <= 0 disables it: Start becomes
// a no-op.
func NewSweeper(store storage.Store, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the sweep loop
func (s *Sweeper) Start() {
	if s.interval <= 0 {
		return
	}
	go s.run()
}

// Stop stops the sweeper
func (s *Sweeper) Stop() {
	close(s.stopCh)
}

func (s *Sweeper) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.Sweep(context.Background()); err != nil {
				log.Error(fmt.Sprintf("Ack sweep failed: %v", err))
			}
		case <-s.stopCh:
			return
		}
	}
}

// Sweep marks every pending tracker whose deadline has passed as expired and
// returns how many it flipped.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	overdue, err := s.store.ListPendingAcks(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to list pending acks: %w", err)
	}

	expired := 0
	for _, tracking := range overdue {
		tracking.Status = types.AckExpired
		if err := s.store.PutAckTracking(ctx, tracking); err != nil {
			log.Error(fmt.Sprintf("Failed to expire ack tracking %s: %v", tracking.UpdateEventID, err))
			continue
		}
		metrics.AcksExpired.Inc()
		expired++
	}

	return expired, nil
}

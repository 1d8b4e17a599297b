package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/rhinehart514/hivesync/pkg/types"
)

var (
	// Bucket names
	bucketSnapshots  = []byte("snapshots")
	bucketEvents     = []byte("events")
	bucketEventIndex = []byte("event_index")
	bucketAcks       = []byte("acks")
	bucketBroadcasts = []byte("broadcasts")
)

// eventRef locates one event inside the per-key event log.
type eventRef struct {
	Key string `json:"key"`
	Seq int64  `json:"seq"`
}

// BoltStore implements Store using BoltDB. Events live in a nested bucket
// per state key, keyed by big-endian sequence number so cursor scans return
// them in log order. AppendUpdate runs entirely inside one write
// transaction, which is what makes sequence allocation race-free.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "hivesync.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketSnapshots,
			bucketEvents,
			bucketEventIndex,
			bucketAcks,
			bucketBroadcasts,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// seqKey encodes a sequence number as the big-endian bucket key that keeps
// events sorted in log order.
func seqKey(seq int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(seq))
	return buf
}

// Snapshot operations

func (s *BoltStore) GetSnapshot(ctx context.Context, key types.ToolStateKey) (*types.StateSnapshot, error) {
	var snapshot types.StateSnapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		data := b.Get([]byte(key.String()))
		if data == nil {
			return fmt.Errorf("snapshot %s: %w", key, ErrNotFound)
		}
		return json.Unmarshal(data, &snapshot)
	})
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (s *BoltStore) AppendUpdate(ctx context.Context, event *types.UpdateEvent, snapshot *types.StateSnapshot) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	snapData, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	refData, err := json.Marshal(eventRef{Key: event.Key.String(), Seq: event.SequenceNumber})
	if err != nil {
		return fmt.Errorf("failed to encode event ref: %w", err)
	}

	key := []byte(event.Key.String())
	return s.db.Update(func(tx *bolt.Tx) error {
		sb := tx.Bucket(bucketSnapshots)

		// Version check: the event must extend the stored snapshot by
		// exactly one. A fresh key only accepts sequence 1.
		current := sb.Get(key)
		if current == nil {
			if event.SequenceNumber != 1 {
				return fmt.Errorf("no snapshot for %s, cannot apply sequence %d: %w",
					event.Key, event.SequenceNumber, ErrVersionConflict)
			}
		} else {
			var head struct {
				Version int64 `json:"version"`
			}
			if err := json.Unmarshal(current, &head); err != nil {
				return fmt.Errorf("failed to decode snapshot %s: %w", event.Key, err)
			}
			if head.Version != event.SequenceNumber-1 {
				return fmt.Errorf("snapshot %s is at version %d, event carries sequence %d: %w",
					event.Key, head.Version, event.SequenceNumber, ErrVersionConflict)
			}
		}

		eb, err := tx.Bucket(bucketEvents).CreateBucketIfNotExists(key)
		if err != nil {
			return fmt.Errorf("failed to create event log for %s: %w", event.Key, err)
		}
		if err := eb.Put(seqKey(event.SequenceNumber), eventData); err != nil {
			return err
		}
		if err := tx.Bucket(bucketEventIndex).Put([]byte(event.ID), refData); err != nil {
			return err
		}
		return sb.Put(key, snapData)
	})
}

// Update event operations

func (s *BoltStore) GetUpdate(ctx context.Context, id string) (*types.UpdateEvent, error) {
	var event types.UpdateEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketEventIndex).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("update event %s: %w", id, ErrNotFound)
		}
		var ref eventRef
		if err := json.Unmarshal(data, &ref); err != nil {
			return err
		}
		eb := tx.Bucket(bucketEvents).Bucket([]byte(ref.Key))
		if eb == nil {
			return fmt.Errorf("update event %s: %w", id, ErrNotFound)
		}
		raw := eb.Get(seqKey(ref.Seq))
		if raw == nil {
			return fmt.Errorf("update event %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(raw, &event)
	})
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (s *BoltStore) ListUpdates(ctx context.Context, key types.ToolStateKey, since time.Time, limit int) ([]*types.UpdateEvent, error) {
	var events []*types.UpdateEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		eb := tx.Bucket(bucketEvents).Bucket([]byte(key.String()))
		if eb == nil {
			return nil
		}
		c := eb.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var event types.UpdateEvent
			if err := json.Unmarshal(v, &event); err != nil {
				return err
			}
			if !since.IsZero() && !event.Timestamp.After(since) {
				continue
			}
			events = append(events, &event)
			if limit > 0 && len(events) >= limit {
				return nil
			}
		}
		return nil
	})
	return events, err
}

func (s *BoltStore) ListUpdatesAfter(ctx context.Context, key types.ToolStateKey, afterSeq int64, limit int) ([]*types.UpdateEvent, error) {
	var events []*types.UpdateEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		eb := tx.Bucket(bucketEvents).Bucket([]byte(key.String()))
		if eb == nil {
			return nil
		}
		c := eb.Cursor()
		for k, v := c.Seek(seqKey(afterSeq + 1)); k != nil; k, v = c.Next() {
			var event types.UpdateEvent
			if err := json.Unmarshal(v, &event); err != nil {
				return err
			}
			events = append(events, &event)
			if limit > 0 && len(events) >= limit {
				return nil
			}
		}
		return nil
	})
	return events, err
}

func (s *BoltStore) DeleteUpdate(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		idx := tx.Bucket(bucketEventIndex)
		data := idx.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("update event %s: %w", id, ErrNotFound)
		}
		var ref eventRef
		if err := json.Unmarshal(data, &ref); err != nil {
			return err
		}
		if eb := tx.Bucket(bucketEvents).Bucket([]byte(ref.Key)); eb != nil {
			if err := eb.Delete(seqKey(ref.Seq)); err != nil {
				return err
			}
		}
		return idx.Delete([]byte(id))
	})
}

func (s *BoltStore) DeleteUpdatesBefore(ctx context.Context, key types.ToolStateKey, olderThan time.Time) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		eb := tx.Bucket(bucketEvents).Bucket([]byte(key.String()))
		if eb == nil {
			return nil
		}

		// Collect first; deleting while iterating a cursor is fragile.
		type victim struct {
			seq []byte
			id  string
		}
		var victims []victim
		c := eb.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var event types.UpdateEvent
			if err := json.Unmarshal(v, &event); err != nil {
				return err
			}
			if event.Timestamp.Before(olderThan) {
				seq := make([]byte, len(k))
				copy(seq, k)
				victims = append(victims, victim{seq: seq, id: event.ID})
			}
		}

		idx := tx.Bucket(bucketEventIndex)
		for _, v := range victims {
			if err := eb.Delete(v.seq); err != nil {
				return err
			}
			if err := idx.Delete([]byte(v.id)); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// Acknowledgment tracking operations

func (s *BoltStore) PutAckTracking(ctx context.Context, tracking *types.AckTracking) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAcks)
		data, err := json.Marshal(tracking)
		if err != nil {
			return err
		}
		return b.Put([]byte(tracking.UpdateEventID), data)
	})
}

func (s *BoltStore) GetAckTracking(ctx context.Context, updateEventID string) (*types.AckTracking, error) {
	var tracking types.AckTracking
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAcks)
		data := b.Get([]byte(updateEventID))
		if data == nil {
			return fmt.Errorf("ack tracking %s: %w", updateEventID, ErrNotFound)
		}
		return json.Unmarshal(data, &tracking)
	})
	if err != nil {
		return nil, err
	}
	return &tracking, nil
}

func (s *BoltStore) ListPendingAcks(ctx context.Context, deadlineBefore time.Time) ([]*types.AckTracking, error) {
	var pending []*types.AckTracking
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAcks)
		return b.ForEach(func(k, v []byte) error {
			var tracking types.AckTracking
			if err := json.Unmarshal(v, &tracking); err != nil {
				return err
			}
			if tracking.Status == types.AckPending && tracking.AckDeadline.Before(deadlineBefore) {
				pending = append(pending, &tracking)
			}
			return nil
		})
	})
	return pending, err
}

// Broadcast outbox operations

func (s *BoltStore) AppendBroadcast(ctx context.Context, msg *types.BroadcastMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode broadcast message: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		cb, err := tx.Bucket(bucketBroadcasts).CreateBucketIfNotExists([]byte(msg.Channel))
		if err != nil {
			return fmt.Errorf("failed to create outbox for %s: %w", msg.Channel, err)
		}
		seq, err := cb.NextSequence()
		if err != nil {
			return err
		}
		return cb.Put(seqKey(int64(seq)), data)
	})
}

// ListBroadcasts returns the most recent limit messages for a channel in
// chronological order. limit <= 0 returns the whole outbox.
func (s *BoltStore) ListBroadcasts(ctx context.Context, channel string, limit int) ([]*types.BroadcastMessage, error) {
	var messages []*types.BroadcastMessage
	err := s.db.View(func(tx *bolt.Tx) error {
		cb := tx.Bucket(bucketBroadcasts).Bucket([]byte(channel))
		if cb == nil {
			return nil
		}
		c := cb.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var msg types.BroadcastMessage
			if err := json.Unmarshal(v, &msg); err != nil {
				return err
			}
			messages = append(messages, &msg)
			if limit > 0 && len(messages) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Walked newest-first; flip back to log order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Stats counts stored records for the metrics collector.
func (s *BoltStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := s.db.View(func(tx *bolt.Tx) error {
		stats.Snapshots = tx.Bucket(bucketSnapshots).Stats().KeyN

		if err := tx.Bucket(bucketEvents).ForEachBucket(func(k []byte) error {
			stats.Events += tx.Bucket(bucketEvents).Bucket(k).Stats().KeyN
			return nil
		}); err != nil {
			return err
		}

		if err := tx.Bucket(bucketAcks).ForEach(func(k, v []byte) error {
			var tracking types.AckTracking
			if err := json.Unmarshal(v, &tracking); err != nil {
				return err
			}
			if tracking.Status == types.AckPending {
				stats.PendingAcks++
			}
			return nil
		}); err != nil {
			return err
		}

		return tx.Bucket(bucketBroadcasts).ForEachBucket(func(k []byte) error {
			stats.BroadcastMessages += tx.Bucket(bucketBroadcasts).Bucket(k).Stats().KeyN
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

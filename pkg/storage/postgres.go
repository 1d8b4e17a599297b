package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhinehart514/hivesync/pkg/types"
)

// PostgresStore implements Store on PostgreSQL. Documents are stored as
// JSONB with the few columns needed for ordering, lookup and the version
// compare-and-set pulled out alongside.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS tool_snapshots (
			key     TEXT PRIMARY KEY,
			version BIGINT NOT NULL,
			doc     JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS update_events (
			key        TEXT NOT NULL,
			seq        BIGINT NOT NULL,
			id         TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL,
			doc        JSONB NOT NULL,
			PRIMARY KEY (key, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS ack_tracking (
			update_event_id TEXT PRIMARY KEY,
			status          TEXT NOT NULL,
			ack_deadline    TIMESTAMPTZ NOT NULL,
			doc             JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS broadcast_outbox (
			channel TEXT NOT NULL,
			seq     BIGSERIAL,
			doc     JSONB NOT NULL,
			PRIMARY KEY (channel, seq)
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Snapshot operations

func (s *PostgresStore) GetSnapshot(ctx context.Context, key types.ToolStateKey) (*types.StateSnapshot, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM tool_snapshots WHERE key = $1`, key.String()).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var snapshot types.StateSnapshot
	if err := json.Unmarshal(doc, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (s *PostgresStore) AppendUpdate(ctx context.Context, event *types.UpdateEvent, snapshot *types.StateSnapshot) error {
	eventDoc, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	snapDoc, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	keyStr := event.Key.String()
	if event.SequenceNumber == 1 {
		ct, err := tx.Exec(ctx,
			`INSERT INTO tool_snapshots (key, version, doc) VALUES ($1, $2, $3)
			 ON CONFLICT (key) DO NOTHING`,
			keyStr, snapshot.Version, snapDoc)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return fmt.Errorf("snapshot %s already exists, cannot apply sequence 1: %w",
				event.Key, ErrVersionConflict)
		}
	} else {
		ct, err := tx.Exec(ctx,
			`UPDATE tool_snapshots SET version = $1, doc = $2
			 WHERE key = $3 AND version = $4`,
			snapshot.Version, snapDoc, keyStr, event.SequenceNumber-1)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return fmt.Errorf("snapshot %s moved past version %d: %w",
				event.Key, event.SequenceNumber-1, ErrVersionConflict)
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO update_events (key, seq, id, created_at, doc)
		 VALUES ($1, $2, $3, $4, $5)`,
		keyStr, event.SequenceNumber, event.ID, event.Timestamp, eventDoc); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Update event operations

func (s *PostgresStore) GetUpdate(ctx context.Context, id string) (*types.UpdateEvent, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM update_events WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var event types.UpdateEvent
	if err := json.Unmarshal(doc, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

func (s *PostgresStore) ListUpdates(ctx context.Context, key types.ToolStateKey, since time.Time, limit int) ([]*types.UpdateEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM update_events
		 WHERE key = $1 AND created_at > $2
		 ORDER BY seq ASC
		 LIMIT NULLIF($3, 0)`,
		key.String(), since, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (s *PostgresStore) ListUpdatesAfter(ctx context.Context, key types.ToolStateKey, afterSeq int64, limit int) ([]*types.UpdateEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM update_events
		 WHERE key = $1 AND seq > $2
		 ORDER BY seq ASC
		 LIMIT NULLIF($3, 0)`,
		key.String(), afterSeq, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (s *PostgresStore) DeleteUpdate(ctx context.Context, id string) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM update_events WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("update event %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteUpdatesBefore(ctx context.Context, key types.ToolStateKey, olderThan time.Time) (int, error) {
	ct, err := s.pool.Exec(ctx,
		`DELETE FROM update_events WHERE key = $1 AND created_at < $2`,
		key.String(), olderThan)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

// Acknowledgment tracking operations

func (s *PostgresStore) PutAckTracking(ctx context.Context, tracking *types.AckTracking) error {
	doc, err := json.Marshal(tracking)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO ack_tracking (update_event_id, status, ack_deadline, doc)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (update_event_id)
		 DO UPDATE SET status = EXCLUDED.status,
		               ack_deadline = EXCLUDED.ack_deadline,
		               doc = EXCLUDED.doc`,
		tracking.UpdateEventID, string(tracking.Status), tracking.AckDeadline, doc)
	return err
}

func (s *PostgresStore) GetAckTracking(ctx context.Context, updateEventID string) (*types.AckTracking, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM ack_tracking WHERE update_event_id = $1`, updateEventID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ack tracking %s: %w", updateEventID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var tracking types.AckTracking
	if err := json.Unmarshal(doc, &tracking); err != nil {
		return nil, err
	}
	return &tracking, nil
}

func (s *PostgresStore) ListPendingAcks(ctx context.Context, deadlineBefore time.Time) ([]*types.AckTracking, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM ack_tracking
		 WHERE status = 'pending' AND ack_deadline < $1`,
		deadlineBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []*types.AckTracking
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var tracking types.AckTracking
		if err := json.Unmarshal(doc, &tracking); err != nil {
			return nil, err
		}
		pending = append(pending, &tracking)
	}
	return pending, rows.Err()
}

// Broadcast outbox operations

func (s *PostgresStore) AppendBroadcast(ctx context.Context, msg *types.BroadcastMessage) error {
	doc, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode broadcast message: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO broadcast_outbox (channel, doc) VALUES ($1, $2)`,
		msg.Channel, doc)
	return err
}

// ListBroadcasts returns the most recent limit messages for a channel in
// chronological order. limit <= 0 returns the whole outbox.
func (s *PostgresStore) ListBroadcasts(ctx context.Context, channel string, limit int) ([]*types.BroadcastMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM (
			SELECT seq, doc FROM broadcast_outbox
			WHERE channel = $1
			ORDER BY seq DESC
			LIMIT NULLIF($2, 0)
		 ) recent ORDER BY seq ASC`,
		channel, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*types.BroadcastMessage
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var msg types.BroadcastMessage
		if err := json.Unmarshal(doc, &msg); err != nil {
			return nil, err
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// Stats counts stored records for the metrics collector.
func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	var snapshots, events, pendingAcks, broadcasts int64
	err := s.pool.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM tool_snapshots),
			(SELECT COUNT(*) FROM update_events),
			(SELECT COUNT(*) FROM ack_tracking WHERE status = 'pending'),
			(SELECT COUNT(*) FROM broadcast_outbox)`,
	).Scan(&snapshots, &events, &pendingAcks, &broadcasts)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Snapshots:         int(snapshots),
		Events:            int(events),
		PendingAcks:       int(pendingAcks),
		BroadcastMessages: int(broadcasts),
	}, nil
}

func scanEvents(rows pgx.Rows) ([]*types.UpdateEvent, error) {
	defer rows.Close()
	var events []*types.UpdateEvent
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var event types.UpdateEvent
		if err := json.Unmarshal(doc, &event); err != nil {
			return nil, err
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}

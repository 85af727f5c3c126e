package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// InsertEvent persists one event row and returns its database-assigned id,
// used by the event publisher to build the NOTIFY envelope's db_event_id.
func (c *Client) InsertEvent(ctx context.Context, queryID, channel string, seq uint64, payload json.RawMessage) (int64, error) {
	var id int64
	err := c.Pool.QueryRow(ctx,
		`INSERT INTO deliberation_events (query_id, channel, seq, payload, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		queryID, channel, int64(seq), payload, time.Now(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to persist event: %w", err)
	}
	return id, nil
}

// Notify issues pg_notify on channel with body, used both for events that
// were just persisted (within the same logical unit of work) and for
// transient, unpersisted notifications.
func (c *Client) Notify(ctx context.Context, channel, body string) error {
	_, err := c.Pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, body)
	if err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}

// CatchupEvent is one row recovered from the events table for a
// reconnecting subscriber.
type CatchupEvent struct {
	ID      int64
	QueryID string
	Seq     uint64
	Payload json.RawMessage
}

// EventsSince returns events for queryID with sequence number greater than
// afterSeq, ordered by sequence, capped at limit rows.
func (c *Client) EventsSince(ctx context.Context, queryID string, afterSeq uint64, limit int) ([]CatchupEvent, error) {
	rows, err := c.Pool.Query(ctx,
		`SELECT id, query_id, seq, payload FROM deliberation_events
		 WHERE query_id = $1 AND seq > $2 ORDER BY seq ASC LIMIT $3`,
		queryID, int64(afterSeq), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query catchup events: %w", err)
	}
	defer rows.Close()

	var out []CatchupEvent
	for rows.Next() {
		var e CatchupEvent
		var seq int64
		if err := rows.Scan(&e.ID, &e.QueryID, &seq, &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan catchup event: %w", err)
		}
		e.Seq = uint64(seq)
		out = append(out, e)
	}
	return out, rows.Err()
}

// SealSession records the terminal state of a deliberation session.
func (c *Client) SealSession(ctx context.Context, queryID, mode, verdictType, transcriptDir string, exitCode int) error {
	_, err := c.Pool.Exec(ctx,
		`INSERT INTO deliberation_sessions (query_id, mode, verdict_type, transcript_dir, sealed_at, exit_code)
		 VALUES ($1, $2, $3, $4, now(), $5)
		 ON CONFLICT (query_id) DO UPDATE SET sealed_at = now(), exit_code = $5`,
		queryID, mode, verdictType, transcriptDir, exitCode,
	)
	if err != nil {
		return fmt.Errorf("failed to seal session: %w", err)
	}
	return nil
}

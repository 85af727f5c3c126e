package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/deliberation-engine/council/pkg/council"
	"github.com/deliberation-engine/council/pkg/database"
)

// notifyByteThreshold mirrors Postgres's 8000-byte NOTIFY payload cap, with
// the same 100-byte safety margin the teacher's implementation uses.
const notifyByteThreshold = 7900

// PostgresPublisher persists LayerEvents to the transcript store and
// broadcasts them via pg_notify for cross-pod fanout, following the
// teacher's pkg/events/publisher.go persist-then-notify-in-one-transaction
// design (simplified here to pool.Exec calls since pgxpool handles pooled
// transactions per call).
type PostgresPublisher struct {
	db *database.Client
}

// NewPostgresPublisher wraps a database client for cross-process fanout.
func NewPostgresPublisher(db *database.Client) *PostgresPublisher {
	return &PostgresPublisher{db: db}
}

// Channel returns the NOTIFY channel name for a query's events.
func Channel(queryID string) string { return "deliberation:" + queryID }

// Publish persists evt and notifies subscribers on the query's channel. The
// NOTIFY payload is truncated to a routing-only envelope if the full event
// would exceed Postgres's limit; subscribers fall back to EventsSince to
// fetch the full row by sequence number.
func (p *PostgresPublisher) Publish(ctx context.Context, evt council.LayerEvent) error {
	full, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	dbID, err := p.db.InsertEvent(ctx, evt.QueryID, Channel(evt.QueryID), evt.Seq, full)
	if err != nil {
		return err
	}

	notifyBody, err := buildNotifyPayload(full, evt, dbID)
	if err != nil {
		return err
	}

	return p.db.Notify(ctx, Channel(evt.QueryID), notifyBody)
}

func buildNotifyPayload(full []byte, evt council.LayerEvent, dbID int64) (string, error) {
	if len(full) <= notifyByteThreshold {
		return string(full), nil
	}
	truncated := map[string]any{
		"type":        evt.Type,
		"query_id":    evt.QueryID,
		"seq":         evt.Seq,
		"truncated":   true,
		"db_event_id": dbID,
	}
	out, err := json.Marshal(truncated)
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncated notify payload: %w", err)
	}
	return string(out), nil
}

package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/deliberation-engine/council/pkg/council"
	"github.com/deliberation-engine/council/pkg/database"
)

// Listener holds a dedicated (non-pooled) Postgres connection subscribed to
// one query's NOTIFY channel, re-publishing received notifications onto a
// local Bus. A dedicated connection is required because LISTEN state is
// connection-scoped; pgxpool connections are unsuitable since the pool may
// recycle them, following the same constraint the teacher's
// pkg/events/manager.go documents at length.
type Listener struct {
	conn    *pgx.Conn
	db      *database.Client
	queryID string
	bus     *Bus
}

// NewListener opens a dedicated connection and issues LISTEN for queryID's
// channel.
func NewListener(ctx context.Context, dsn string, db *database.Client, queryID string, bus *Bus) (*Listener, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN \""+Channel(queryID)+"\""); err != nil {
		conn.Close(ctx)
		return nil, err
	}
	return &Listener{conn: conn, db: db, queryID: queryID, bus: bus}, nil
}

// Run blocks, relaying notifications to the bus until ctx is cancelled.
// Truncated envelopes (see publisher.go) are resolved by fetching the full
// row from the store before re-publishing locally.
func (l *Listener) Run(ctx context.Context) error {
	defer l.conn.Close(context.Background())
	for {
		notice, err := l.conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		var envelope struct {
			Truncated bool  `json:"truncated"`
			DBEventID int64 `json:"db_event_id"`
			Seq       uint64 `json:"seq"`
		}
		if err := json.Unmarshal([]byte(notice.Payload), &envelope); err != nil {
			slog.Warn("discarding malformed notify payload", "error", err, "query_id", l.queryID)
			continue
		}

		if !envelope.Truncated {
			var evt council.LayerEvent
			if err := json.Unmarshal([]byte(notice.Payload), &evt); err != nil {
				slog.Warn("discarding malformed layer event", "error", err, "query_id", l.queryID)
				continue
			}
			l.bus.PublishRemote(evt)
			continue
		}

		rows, err := l.db.EventsSince(ctx, l.queryID, envelope.Seq-1, 1)
		if err != nil || len(rows) == 0 {
			slog.Warn("failed to resolve truncated event", "error", err, "query_id", l.queryID)
			continue
		}
		var evt council.LayerEvent
		if err := json.Unmarshal(rows[0].Payload, &evt); err != nil {
			slog.Warn("discarding malformed resolved event", "error", err, "query_id", l.queryID)
			continue
		}
		l.bus.PublishRemote(evt)
	}
}

// Close releases the dedicated connection.
func (l *Listener) Close(ctx context.Context) error {
	return l.conn.Close(ctx)
}

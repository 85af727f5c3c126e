// Package events implements the deliberation engine's event-emission
// fabric: an in-process MPMC bus with monotonic per-query sequencing,
// Postgres LISTEN/NOTIFY fanout for cross-process subscribers (following
// the teacher's pkg/events design), and a webhook dispatcher with
// HMAC-signed, retried delivery.
package events

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/deliberation-engine/council/pkg/council"
)

// subscriberQueueDepth bounds each subscriber's channel; a slow subscriber
// drops events rather than blocking the publisher, per the concurrency
// model's "overflow drops with a warning notice — never blocks producers".
const subscriberQueueDepth = 256

// Bus is a per-query event bus: a single mutex-guarded sequence counter
// feeding any number of subscriber channels. Subscribers hold only a cursor
// and a delivery channel — never a reference back to the orchestrator —
// following the teacher's pub-sub-over-cyclic-reference redesign.
type Bus struct {
	mu          sync.Mutex
	seq         uint64
	subscribers map[string]chan council.LayerEvent
	closed      bool
	log         []council.LayerEvent // append-only, for catchup/replay within this process
}

// NewBus creates an empty bus for one query.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]chan council.LayerEvent)}
}

// Publish assigns the next sequence number and fans the event out to every
// subscriber. A full subscriber channel is dropped from, never blocked on.
func (b *Bus) Publish(evt council.LayerEvent) council.LayerEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	evt.Seq = b.seq
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	b.log = append(b.log, evt)

	if b.closed {
		return evt
	}
	for id, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			slog.Warn("event bus subscriber queue full, dropping event",
				"subscriber", id, "query_id", evt.QueryID, "event_type", evt.Type, "seq", evt.Seq)
		}
	}
	return evt
}

// PublishRemote fans out an event that was already sequenced by another
// process's Bus (relayed via Postgres LISTEN/NOTIFY), preserving its
// sequence number instead of assigning a new one.
func (b *Bus) PublishRemote(evt council.LayerEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if evt.Seq > b.seq {
		b.seq = evt.Seq
	}
	b.log = append(b.log, evt)
	if b.closed {
		return
	}
	for id, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			slog.Warn("event bus subscriber queue full, dropping relayed event",
				"subscriber", id, "query_id", evt.QueryID, "event_type", evt.Type, "seq", evt.Seq)
		}
	}
}

// Subscribe registers a new subscriber and returns its delivery channel.
// Cancel with Unsubscribe to release the channel.
func (b *Bus) Subscribe(id string) <-chan council.LayerEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan council.LayerEvent, subscriberQueueDepth)
	b.subscribers[id] = ch
	return ch
}

// Unsubscribe removes and closes a subscriber's channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// Close marks the bus sealed: no further events are accepted for fan-out,
// though the replay log remains readable via Since.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}

// Since returns every event with sequence number greater than afterSeq,
// satisfying at-least-once delivery for a subscriber reconnecting with a
// remembered cursor.
func (b *Bus) Since(afterSeq uint64) []council.LayerEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]council.LayerEvent, 0, len(b.log))
	for _, e := range b.log {
		if e.Seq > afterSeq {
			out = append(out, e)
		}
	}
	return out
}

// MarshalPayload JSON-encodes the whole event (envelope and payload) for
// transport.
func MarshalPayload(evt council.LayerEvent) ([]byte, error) {
	return json.Marshal(evt)
}

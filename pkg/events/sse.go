package events

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/deliberation-engine/council/pkg/council"
)

// SSEWriter streams LayerEvents to an http.ResponseWriter as Server-Sent
// Events, one "data:" line per event, terminating the stream itself once a
// terminal event type is written.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter sets the SSE response headers and returns a writer, or an
// error if the underlying ResponseWriter doesn't support flushing.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSEWriter{w: w, flusher: flusher}, nil
}

// isTerminal reports whether evt.Type ends the deliberation stream.
func isTerminal(t council.EventType) bool {
	return t == council.EventCouncilCompleted || t == council.EventCouncilFailed
}

// Write emits evt as one SSE "event"/"data" frame and flushes immediately.
// It returns true when evt was a terminal event, signalling the caller to
// stop reading from the bus.
func (s *SSEWriter) Write(evt council.LayerEvent) (terminal bool, err error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return false, fmt.Errorf("failed to marshal sse event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", evt.Type, body); err != nil {
		return false, err
	}
	s.flusher.Flush()
	return isTerminal(evt.Type), nil
}

// Stream drains ch onto the SSE response until a terminal event is written,
// ch closes, or done fires.
func (s *SSEWriter) Stream(ch <-chan council.LayerEvent, done <-chan struct{}) error {
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			terminal, err := s.Write(evt)
			if err != nil {
				return err
			}
			if terminal {
				return nil
			}
		case <-done:
			return nil
		}
	}
}

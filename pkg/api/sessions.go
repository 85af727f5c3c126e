package api

import (
	"sync"

	"github.com/deliberation-engine/council/pkg/events"
)

// liveSessions holds the event bus for every in-flight streaming
// deliberation, keyed by query id, so a subsequent GET to /events or /ws
// can attach to the same bus the background Run call is publishing on.
// Package-level rather than a Server field since a session is addressed
// only by its id, following the same defensive RWMutex-guarded-map
// discipline as config.ChainRegistry.
var liveSessions = struct {
	mu sync.RWMutex
	m  map[string]*events.Bus
}{m: make(map[string]*events.Bus)}

// registerBus makes bus reachable by queryID for streaming consumers.
func registerBus(queryID string, bus *events.Bus) {
	liveSessions.mu.Lock()
	defer liveSessions.mu.Unlock()
	liveSessions.m[queryID] = bus
}

// unregisterBus removes and closes queryID's bus once its session has
// sealed or failed, releasing any subscriber channels still attached.
func unregisterBus(queryID string) {
	liveSessions.mu.Lock()
	bus, ok := liveSessions.m[queryID]
	delete(liveSessions.m, queryID)
	liveSessions.mu.Unlock()
	if ok {
		bus.Close()
	}
}

// lookupBus returns the live bus for queryID, or nil if no session with
// that id is currently streaming.
func lookupBus(queryID string) *events.Bus {
	liveSessions.mu.RLock()
	defer liveSessions.mu.RUnlock()
	return liveSessions.m[queryID]
}

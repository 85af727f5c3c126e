package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/deliberation-engine/council/pkg/council"
)

const defaultTTLSeconds = 300

// Dynamic is a Provider that refreshes its model list from a remote Fetcher
// on a TTL, serving the last-known-good snapshot (seeded from the static
// manifest at construction) whenever a refresh fails. This mirrors the
// teacher's lazy-init-with-per-source-lock pattern in pkg/mcp/client.go,
// adapted from "connect once, cache the session" to "fetch once per TTL,
// cache the result".
type Dynamic struct {
	fetcher Fetcher
	ttl     time.Duration

	mu         sync.RWMutex
	snapshot   []council.ModelDescriptor
	byID       map[string]council.ModelDescriptor
	lastFetch  time.Time
	lastErr    error
	refreshing sync.Mutex
}

// NewDynamic builds a Dynamic provider seeded with fallback (typically the
// statically configured manifest), refreshing from fetcher at most once per
// ttlSeconds.
func NewDynamic(fetcher Fetcher, fallback []council.ModelDescriptor, ttlSeconds int) *Dynamic {
	if ttlSeconds <= 0 {
		ttlSeconds = defaultTTLSeconds
	}
	d := &Dynamic{fetcher: fetcher, ttl: time.Duration(ttlSeconds) * time.Second}
	d.store(fallback)
	return d
}

func (d *Dynamic) store(models []council.ModelDescriptor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]council.ModelDescriptor, len(models))
	copy(cp, models)
	d.snapshot = cp
	d.byID = make(map[string]council.ModelDescriptor, len(models))
	for _, m := range cp {
		d.byID[m.ModelID] = m
	}
}

// refreshIfStale triggers at most one concurrent refresh attempt; callers
// that lose the race simply read whatever snapshot is current once it
// returns. A fetch error is logged and the prior snapshot is retained, per
// the registry's graceful-fallback requirement.
func (d *Dynamic) refreshIfStale(ctx context.Context) {
	d.mu.RLock()
	stale := time.Since(d.lastFetch) > d.ttl
	d.mu.RUnlock()
	if !stale {
		return
	}
	if !d.refreshing.TryLock() {
		return
	}
	defer d.refreshing.Unlock()

	d.mu.RLock()
	stillStale := time.Since(d.lastFetch) > d.ttl
	d.mu.RUnlock()
	if !stillStale {
		return
	}

	models, err := d.fetcher.Fetch(ctx)
	d.mu.Lock()
	d.lastFetch = time.Now()
	d.mu.Unlock()
	if err != nil {
		d.mu.Lock()
		d.lastErr = err
		d.mu.Unlock()
		slog.Warn("model registry refresh failed, serving last-known-good snapshot", "error", err)
		return
	}
	d.store(models)
	d.mu.Lock()
	d.lastErr = nil
	d.mu.Unlock()
}

// Models returns the current snapshot, refreshing first if the TTL has
// elapsed.
func (d *Dynamic) Models(ctx context.Context) ([]council.ModelDescriptor, error) {
	d.refreshIfStale(ctx)
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]council.ModelDescriptor, len(d.snapshot))
	copy(out, d.snapshot)
	return out, nil
}

// Get returns modelID's descriptor from the current snapshot, refreshing
// first if the TTL has elapsed.
func (d *Dynamic) Get(ctx context.Context, modelID string) (council.ModelDescriptor, error) {
	d.refreshIfStale(ctx)
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.byID[modelID]
	if !ok {
		return council.ModelDescriptor{}, ErrModelNotFound
	}
	return m, nil
}

// LastError returns the error from the most recent refresh attempt, if any,
// for health/status reporting.
func (d *Dynamic) LastError() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastErr
}

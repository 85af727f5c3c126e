// Package registry implements the model registry and metadata provider: the
// source of truth for which models exist, their tier, price, and
// capabilities. Two provider shapes are supported, selected by an offline
// flag the way the teacher's MCP client picks a transport from config —
// a static, manifest-backed provider and a TTL-cached provider that
// refreshes from a remote source and falls back to its last-known-good
// snapshot on fetch failure.
package registry

import (
	"context"
	"fmt"

	"github.com/deliberation-engine/council/pkg/council"
)

// Provider answers questions about available models. Implementations must
// be safe for concurrent use.
type Provider interface {
	// Models returns every model descriptor currently known, regardless of
	// availability.
	Models(ctx context.Context) ([]council.ModelDescriptor, error)
	// Get returns one model's descriptor by id.
	Get(ctx context.Context, modelID string) (council.ModelDescriptor, error)
}

// ErrModelNotFound is returned by Get when modelID is unknown.
var ErrModelNotFound = fmt.Errorf("model not found")

// Fetcher retrieves the current model list from an external source (a
// provider's model-listing API, a remote manifest, etc). Dynamic wraps one
// of these behind a TTL cache.
type Fetcher interface {
	Fetch(ctx context.Context) ([]council.ModelDescriptor, error)
}

// New selects a Provider implementation. When offline is true (or remote is
// nil), it returns a Static provider over models; otherwise it returns a
// Dynamic provider that fetches from remote and falls back to models as its
// initial and worst-case snapshot.
func New(models []council.ModelDescriptor, offline bool, remote Fetcher, ttlSeconds int) Provider {
	if offline || remote == nil {
		return NewStatic(models)
	}
	return NewDynamic(remote, models, ttlSeconds)
}

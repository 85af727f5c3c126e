package registry

import (
	"context"
	"sync"

	"github.com/deliberation-engine/council/pkg/council"
)

// Static is a Provider backed entirely by the configuration manifest loaded
// at startup. Its model set changes only through Put, which replaces it
// whole.
type Static struct {
	mu     sync.RWMutex
	byID   map[string]council.ModelDescriptor
	models []council.ModelDescriptor
}

// NewStatic builds a Static provider from a fixed model list.
func NewStatic(models []council.ModelDescriptor) *Static {
	s := &Static{byID: make(map[string]council.ModelDescriptor, len(models))}
	s.replace(models)
	return s
}

func (s *Static) replace(models []council.ModelDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]council.ModelDescriptor, len(models))
	copy(cp, models)
	s.models = cp
	s.byID = make(map[string]council.ModelDescriptor, len(models))
	for _, m := range cp {
		s.byID[m.ModelID] = m
	}
}

// Models returns every configured model.
func (s *Static) Models(ctx context.Context) ([]council.ModelDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]council.ModelDescriptor, len(s.models))
	copy(out, s.models)
	return out, nil
}

// Get returns modelID's descriptor.
func (s *Static) Get(ctx context.Context, modelID string) (council.ModelDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[modelID]
	if !ok {
		return council.ModelDescriptor{}, ErrModelNotFound
	}
	return m, nil
}

// Put replaces the entire model set, used to apply a reloaded manifest
// without restarting the process.
func (s *Static) Put(models []council.ModelDescriptor) {
	s.replace(models)
}

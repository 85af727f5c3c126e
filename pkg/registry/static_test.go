package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deliberation-engine/council/pkg/council"
)

func sampleModels() []council.ModelDescriptor {
	return []council.ModelDescriptor{
		{ModelID: "gpt-x", Provider: "openai", Tier: council.TierStandard, QualityScore: 0.8, Available: true},
		{ModelID: "claude-x", Provider: "anthropic", Tier: council.TierFrontier, QualityScore: 0.9, Available: true},
	}
}

func TestStatic_GetAndModels(t *testing.T) {
	s := NewStatic(sampleModels())

	models, err := s.Models(context.Background())
	require.NoError(t, err)
	assert.Len(t, models, 2)

	m, err := s.Get(context.Background(), "claude-x")
	require.NoError(t, err)
	assert.Equal(t, council.TierFrontier, m.Tier)

	_, err = s.Get(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestStatic_ModelsReturnsDefensiveCopy(t *testing.T) {
	s := NewStatic(sampleModels())

	models, err := s.Models(context.Background())
	require.NoError(t, err)
	models[0].ModelID = "mutated"

	again, err := s.Models(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gpt-x", again[0].ModelID)
}

func TestStatic_Put(t *testing.T) {
	s := NewStatic(sampleModels())
	s.Put([]council.ModelDescriptor{{ModelID: "only-one", Tier: council.TierQuick}})

	models, err := s.Models(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "only-one", models[0].ModelID)
}

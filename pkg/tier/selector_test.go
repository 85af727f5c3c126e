package tier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deliberation-engine/council/pkg/council"
)

func capSet(caps ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(caps))
	for _, c := range caps {
		m[c] = struct{}{}
	}
	return m
}

func TestSelector_FiltersByTierAndCapability(t *testing.T) {
	pool := []council.ModelDescriptor{
		{ModelID: "quick-a", Provider: "a", Tier: council.TierQuick, QualityScore: 0.9, Available: true},
		{ModelID: "standard-a", Provider: "a", Tier: council.TierStandard, QualityScore: 0.7, Available: true, Capabilities: capSet("json")},
		{ModelID: "standard-b", Provider: "b", Tier: council.TierStandard, QualityScore: 0.6, Available: true, Capabilities: capSet("json")},
	}
	s := New(DefaultWeights)

	ids, err := s.Select(pool, Request{Tier: council.TierStandard, RequiredCount: 2, RequiredCapabilities: []string{"json"}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"standard-a", "standard-b"}, ids)
}

func TestSelector_InsufficientPanel(t *testing.T) {
	pool := []council.ModelDescriptor{
		{ModelID: "only-one", Provider: "a", Tier: council.TierHigh, QualityScore: 0.9, Available: true},
	}
	s := New(DefaultWeights)

	_, err := s.Select(pool, Request{Tier: council.TierHigh, RequiredCount: 3})
	assert.ErrorIs(t, err, ErrInsufficientPanel)
}

func TestSelector_BudgetCeilingExcludesExpensiveModels(t *testing.T) {
	pool := []council.ModelDescriptor{
		{ModelID: "cheap", Provider: "a", Tier: council.TierStandard, QualityScore: 0.5, Available: true, PricePerInputTk: 0.001, PricePerOutTk: 0.001},
		{ModelID: "pricey", Provider: "b", Tier: council.TierStandard, QualityScore: 0.9, Available: true, PricePerInputTk: 10, PricePerOutTk: 10},
		{ModelID: "cheap-2", Provider: "c", Tier: council.TierStandard, QualityScore: 0.4, Available: true, PricePerInputTk: 0.002, PricePerOutTk: 0.002},
	}
	s := New(DefaultWeights)

	ids, err := s.Select(pool, Request{Tier: council.TierStandard, RequiredCount: 3, BudgetCeiling: 0.01})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"cheap", "cheap-2"}, ids)
}

func TestSelector_TieBreakByCostThenID(t *testing.T) {
	pool := []council.ModelDescriptor{
		{ModelID: "zeta", Provider: "a", Tier: council.TierStandard, QualityScore: 0.5, Available: true, PricePerInputTk: 0.001},
		{ModelID: "alpha", Provider: "b", Tier: council.TierStandard, QualityScore: 0.5, Available: true, PricePerInputTk: 0.001},
	}
	s := New(DefaultWeights)

	ids, err := s.Select(pool, Request{Tier: council.TierStandard, RequiredCount: 2})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, "alpha", ids[0])
}

func TestSelector_UnavailableModelsExcluded(t *testing.T) {
	pool := []council.ModelDescriptor{
		{ModelID: "down", Provider: "a", Tier: council.TierStandard, QualityScore: 0.9, Available: false},
		{ModelID: "up-1", Provider: "b", Tier: council.TierStandard, QualityScore: 0.5, Available: true},
		{ModelID: "up-2", Provider: "c", Tier: council.TierStandard, QualityScore: 0.4, Available: true},
	}
	s := New(DefaultWeights)

	ids, err := s.Select(pool, Request{Tier: council.TierStandard, RequiredCount: 2})
	require.NoError(t, err)
	assert.NotContains(t, ids, "down")
}

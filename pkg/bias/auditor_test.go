package bias

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deliberation-engine/council/pkg/council"
)

func TestDetectSelfPreference(t *testing.T) {
	reviews := []council.PeerReview{
		{ReviewerSlot: 0, Ranking: []council.RankEntry{{CandidateSlot: 0, Rank: 1}, {CandidateSlot: 1, Rank: 2}}},
		{ReviewerSlot: 1, Ranking: []council.RankEntry{{CandidateSlot: 0, Rank: 1}}},
	}
	found := DetectSelfPreference(reviews)
	require.Len(t, found, 1)
	assert.Equal(t, 0, found[0].ReviewerSlot)
	assert.Equal(t, 1, found[0].AttemptedAt)
}

func TestShuffle_IsAPermutation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	order := Shuffle(5, rng)
	seen := make(map[int]bool)
	for _, v := range order {
		seen[v] = true
	}
	assert.Len(t, seen, 5)
}

func TestDetectCoBias_FlagsHighlyCorrelatedReviewers(t *testing.T) {
	var history []RankingVector
	for i := 0; i < 6; i++ {
		history = append(history,
			RankingVector{ReviewerID: "model-a", Scores: map[string]float64{"x": float64(i), "y": float64(5 - i)}},
			RankingVector{ReviewerID: "model-b", Scores: map[string]float64{"x": float64(i), "y": float64(5 - i)}},
		)
	}
	pairs := DetectCoBias(history)
	require.Len(t, pairs, 1)
	assert.Equal(t, "model-a", pairs[0].ReviewerA)
	assert.Equal(t, "model-b", pairs[0].ReviewerB)
	assert.Greater(t, pairs[0].Correlation, coBiasCorrelationThreshold)
}

func TestDetectCoBias_BelowMinSessionsNotFlagged(t *testing.T) {
	history := []RankingVector{
		{ReviewerID: "model-a", Scores: map[string]float64{"x": 1}},
		{ReviewerID: "model-b", Scores: map[string]float64{"x": 1}},
	}
	assert.Empty(t, DetectCoBias(history))
}

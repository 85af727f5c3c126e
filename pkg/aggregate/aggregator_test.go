package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deliberation-engine/council/pkg/council"
)

// rankings builds a PeerReview ranking only the non-self candidates in
// order, as the rubric parser guarantees for any valid review.
func rankings(reviewerSlot int, nonSelfOrder ...int) council.PeerReview {
	ranking := make([]council.RankEntry, len(nonSelfOrder))
	for i, slot := range nonSelfOrder {
		ranking[i] = council.RankEntry{CandidateSlot: slot, Rank: i + 1}
	}
	return council.PeerReview{ReviewerSlot: reviewerSlot, Ranking: ranking}
}

func TestAggregate_BordaOrdersByMeanScore(t *testing.T) {
	candidates := []Candidate{{Slot: 0, ContentHash: "a"}, {Slot: 1, ContentHash: "b"}, {Slot: 2, ContentHash: "c"}}
	reviews := []council.PeerReview{
		rankings(0, 1, 2), // reviewer 0 (candidate 0) ranks 1 ahead of 2
		rankings(1, 0, 2), // reviewer 1 ranks 0 ahead of 2
		rankings(2, 1, 0), // reviewer 2 ranks 1 ahead of 0
	}

	result := Aggregate(candidates, reviews, Options{PanelSize: 3})
	require.NotEmpty(t, result.Ordering)
	assert.Equal(t, 1, result.Ordering[0])
}

func TestAggregate_SelfVoteDefensivelyExcluded(t *testing.T) {
	// The rubric parser normally never lets a reviewer rank itself; this
	// exercises the aggregator's own defense-in-depth exclusion in case a
	// malformed ranking slips through.
	candidates := []Candidate{{Slot: 0}, {Slot: 1}, {Slot: 2}}
	reviews := []council.PeerReview{
		{ReviewerSlot: 0, Ranking: []council.RankEntry{{CandidateSlot: 0, Rank: 1}, {CandidateSlot: 1, Rank: 2}}},
		rankings(1, 2, 0),
		rankings(2, 2, 0),
	}

	result := Aggregate(candidates, reviews, Options{PanelSize: 3})
	assert.NotContains(t, result.Ordering[:1], 0)
}

func TestAggregate_TieBreakByAccuracyThenCostThenHash(t *testing.T) {
	candidates := []Candidate{
		{Slot: 0, MeanAccuracy: 5, GenerationCost: 1, ContentHash: "zzz"},
		{Slot: 1, MeanAccuracy: 5, GenerationCost: 1, ContentHash: "aaa"},
	}
	reviews := []council.PeerReview{} // no reviews -> both scores 0, pure tie-break
	result := Aggregate(candidates, reviews, Options{PanelSize: 2})
	require.Len(t, result.Ordering, 2)
	assert.Equal(t, 1, result.Ordering[0]) // lexicographically smaller hash wins
}

func TestAggregate_BiasCorrectionDownWeightsFlaggedReviewer(t *testing.T) {
	candidates := []Candidate{{Slot: 0}, {Slot: 1}, {Slot: 2}}
	reviews := []council.PeerReview{
		rankings(0, 1, 2),
		rankings(1, 2, 0),
		rankings(2, 1, 0),
	}
	result := Aggregate(candidates, reviews, Options{PanelSize: 3, FlaggedBias: map[int]bool{0: true}})
	assert.True(t, result.BiasCorrected)
}

func TestAggregate_BinaryVerdictStrictMajority(t *testing.T) {
	yes, no := true, false
	reviews := []council.PeerReview{
		{ReviewerSlot: 0, BinaryVote: &yes},
		{ReviewerSlot: 1, BinaryVote: &yes},
		{ReviewerSlot: 2, BinaryVote: &no},
	}
	result := Aggregate(nil, reviews, Options{VerdictType: council.VerdictTypeBinary})
	require.NotNil(t, result.Verdict)
	assert.Equal(t, council.VerdictPass, *result.Verdict)
}

func TestAggregate_BinaryVerdictDeadlockIsUnclear(t *testing.T) {
	yes, no := true, false
	reviews := []council.PeerReview{
		{ReviewerSlot: 0, BinaryVote: &yes},
		{ReviewerSlot: 1, BinaryVote: &no},
	}
	result := Aggregate(nil, reviews, Options{VerdictType: council.VerdictTypeBinary})
	require.NotNil(t, result.Verdict)
	assert.Equal(t, council.VerdictUnclear, *result.Verdict)
}

func TestAggregate_ConfidenceHighOnWideSplit(t *testing.T) {
	candidates := []Candidate{{Slot: 0}, {Slot: 1}, {Slot: 2}}
	reviews := []council.PeerReview{
		rankings(0, 1, 2),
		rankings(1, 0, 2),
		rankings(2, 1, 0),
	}
	result := Aggregate(candidates, reviews, Options{PanelSize: 3})
	assert.False(t, result.LowConfidence)
}

func TestSchulzeRanking_PrefersCondorcetWinner(t *testing.T) {
	candidates := []int{0, 1, 2}
	weighted := []reviewWeight{
		{review: rankings(0, 1, 2), weight: 1},
		{review: rankings(1, 0, 2), weight: 1},
		{review: rankings(2, 1, 0), weight: 1},
	}
	ordering := schulzeRanking(candidates, pairwiseMatrix(weighted), func(a, b int) bool { return a < b })
	assert.Equal(t, 1, ordering[0])
}

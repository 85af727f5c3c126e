package rubric

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deliberation-engine/council/pkg/council"
)

func TestParse_JSONReview(t *testing.T) {
	raw := `Here is my review:
{
  "ranking": [2, 1],
  "scores": {"1": {"accuracy": 8, "clarity": null}, "2": {"accuracy": 9}},
  "dissent": "candidate 1 missed an edge case"
}
Thanks.`

	review := Parse(0, raw, []int{1, 2})
	require.False(t, review.Abstained)
	require.Len(t, review.Ranking, 2)
	assert.Equal(t, 2, review.Ranking[0].CandidateSlot)
	assert.Equal(t, 1, review.Ranking[0].Rank)
	require.NotNil(t, review.Scores[1][council.DimAccuracy])
	assert.Equal(t, 8.0, *review.Scores[1][council.DimAccuracy])
	assert.Nil(t, review.Scores[1][council.DimClarity])
	assert.Equal(t, "candidate 1 missed an edge case", review.Dissent)
}

func TestParse_TextualFallback(t *testing.T) {
	raw := "Rank 1: candidate 2\naccuracy: 9\nRank 2: candidate 1\naccuracy: 6\nDissent: I disagree about depth"

	review := Parse(0, raw, []int{1, 2})
	require.False(t, review.Abstained)
	require.Len(t, review.Ranking, 2)
	assert.Equal(t, "I disagree about depth", review.Dissent)
}

func TestParse_DuplicateRankingAbstains(t *testing.T) {
	raw := `{"ranking": [1, 1]}`
	review := Parse(0, raw, []int{1, 2})
	assert.True(t, review.Abstained)
	assert.NotEmpty(t, review.AbstainedWhy)
}

func TestParse_MissingCandidateAbstains(t *testing.T) {
	raw := `{"ranking": [1]}`
	review := Parse(0, raw, []int{1, 2})
	assert.True(t, review.Abstained)
}

func TestParse_ScoresClampToRange(t *testing.T) {
	raw := `{"ranking": [1, 2], "scores": {"1": {"accuracy": 99}, "2": {"accuracy": -5}}}`
	review := Parse(0, raw, []int{1, 2})
	require.False(t, review.Abstained)
	assert.Equal(t, 10.0, *review.Scores[1][council.DimAccuracy])
	assert.Equal(t, 0.0, *review.Scores[2][council.DimAccuracy])
}

func TestParse_SelfVoteStrippedNotAbstained(t *testing.T) {
	// Reviewer 0 mistakenly ranks itself first; per P1 that entry is
	// stripped, not counted, and the remaining ranking over the true
	// non-self candidates (1, 2) is still valid.
	raw := `{"ranking": [0, 1, 2]}`
	review := Parse(0, raw, []int{1, 2})
	require.False(t, review.Abstained)
	require.Len(t, review.Ranking, 2)
	assert.Equal(t, 1, review.Ranking[0].CandidateSlot)
	assert.Equal(t, 1, review.Ranking[0].Rank)
	assert.Equal(t, 2, review.Ranking[1].CandidateSlot)
	assert.Equal(t, 2, review.Ranking[1].Rank)
}

func TestParse_UnparseableReviewAbstains(t *testing.T) {
	review := Parse(0, "I really liked this answer overall.", []int{1, 2})
	assert.True(t, review.Abstained)
}

func TestParse_DissentTruncatesAtCap(t *testing.T) {
	long := make([]byte, MaxDissentLength+500)
	for i := range long {
		long[i] = 'x'
	}
	raw := `{"ranking": [1, 2], "dissent": "` + string(long) + `"}`
	review := Parse(0, raw, []int{1, 2})
	require.False(t, review.Abstained)
	assert.Len(t, review.Dissent, MaxDissentLength)
}

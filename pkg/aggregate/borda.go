// Package aggregate implements the Aggregator: turning a set of valid peer
// reviews into a ranked ordering, an optional binary verdict, and a
// confidence score, via Normalized Borda Count (default) or Schulze
// (optional, preferred at panel size >= 5).
package aggregate

import (
	"sort"

	"github.com/deliberation-engine/council/pkg/council"
)

// Method names the ranking algorithm that produced a Result.
type Method string

const (
	MethodBorda   Method = "borda"
	MethodSchulze Method = "schulze"
)

// reviewWeight pairs a review with the down-weight multiplier bias
// correction may apply (1.0 normally, 0.5 when flagged).
type reviewWeight struct {
	review council.PeerReview
	weight float64
}

// bordaScores computes S_c = weighted mean over non-self reviewers of
// s_{r,c} = (M-1-rank)/(M-2), per candidate slot. M is the panel size
// (participants only); for M=2 the lone non-self vote yields 1.0 or 0.0.
func bordaScores(candidates []int, weighted []reviewWeight, panelSize int) map[int]float64 {
	sums := make(map[int]float64, len(candidates))
	weights := make(map[int]float64, len(candidates))

	denom := float64(panelSize - 2)
	for _, rw := range weighted {
		if rw.review.Abstained {
			continue
		}
		for _, entry := range rw.review.Ranking {
			if entry.CandidateSlot == rw.review.ReviewerSlot {
				continue // self-vote exclusion
			}
			var s float64
			if panelSize <= 2 {
				if entry.Rank == 1 {
					s = 1.0
				}
			} else {
				s = (float64(panelSize-1) - float64(entry.Rank)) / denom
			}
			sums[entry.CandidateSlot] += s * rw.weight
			weights[entry.CandidateSlot] += rw.weight
		}
	}

	out := make(map[int]float64, len(candidates))
	for _, c := range candidates {
		if w := weights[c]; w > 0 {
			out[c] = sums[c] / w
		}
	}
	return out
}

// orderByScore sorts candidates by descending score, delegating ties to
// tiebreak.
func orderByScore(candidates []int, scores map[int]float64, tiebreak func(a, b int) bool) []int {
	ordering := make([]int, len(candidates))
	copy(ordering, candidates)
	sort.SliceStable(ordering, func(i, j int) bool {
		a, b := ordering[i], ordering[j]
		if scores[a] != scores[b] {
			return scores[a] > scores[b]
		}
		return tiebreak(a, b)
	})
	return ordering
}

// Package bias implements the Bias Auditor: per-session self-preference
// detection and positional-bias mitigation, plus cross-session co-bias
// correlation and an EWMA-tracked reviewer deviation used to flag
// reviewers for the Aggregator's down-weight pass.
package bias

import (
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/deliberation-engine/council/pkg/council"
)

// coBiasCorrelationThreshold is the Spearman correlation above which two
// reviewers' ranking vectors are flagged as systematically co-biased,
// evaluated over at least minCoBiasSessions sessions.
const coBiasCorrelationThreshold = 0.9

// minCoBiasSessions is the minimum number of shared cross-session ranking
// vectors required before co-bias is evaluated at all.
const minCoBiasSessions = 5

// SelfPreference reports one reviewer's attempt to rank its own content.
// The auditor only detects it; the entry itself is removed before scoring
// by rubric.Parse (and the Aggregator skips self entries too). This type
// documents the detection for the transcript and event stream.
type SelfPreference struct {
	ReviewerSlot int
	AttemptedAt  int // rank the reviewer assigned itself, before exclusion
}

// DetectSelfPreference scans a set of reviews for rankings that include
// the reviewer's own slot, returning one entry per offending review.
func DetectSelfPreference(reviews []council.PeerReview) []SelfPreference {
	var out []SelfPreference
	for _, r := range reviews {
		for _, e := range r.Ranking {
			if e.CandidateSlot == r.ReviewerSlot {
				out = append(out, SelfPreference{ReviewerSlot: r.ReviewerSlot, AttemptedAt: e.Rank})
			}
		}
	}
	return out
}

// Shuffle returns a fresh random permutation of n candidate indices,
// implementing the per-reviewer position randomization the orchestrator
// applies to each Stage 2 prompt to mitigate positional bias.
func Shuffle(n int, rng *rand.Rand) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	return order
}

// CoBiasPair flags two reviewers whose ranking vectors correlate above
// coBiasCorrelationThreshold across at least minCoBiasSessions shared
// sessions.
type CoBiasPair struct {
	ReviewerA, ReviewerB string
	Correlation          float64
	Sessions             int
}

// RankingVector is one reviewer's Borda-scaled score vector from a single
// session, keyed by a stable candidate identity (e.g. model id) so vectors
// from different sessions with different slot layouts still compare
// meaningfully.
type RankingVector struct {
	ReviewerID string
	Scores     map[string]float64
}

// DetectCoBias computes pairwise Spearman correlation between every pair
// of reviewers appearing across history, pairing each reviewer's vectors
// by their order in history and comparing only the candidates both scored
// in a pair, and returns pairs exceeding the threshold over at least
// minCoBiasSessions sessions that share a candidate.
func DetectCoBias(history []RankingVector) []CoBiasPair {
	byReviewer := make(map[string][]RankingVector)
	for _, v := range history {
		byReviewer[v.ReviewerID] = append(byReviewer[v.ReviewerID], v)
	}

	var ids []string
	for id := range byReviewer {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var pairs []CoBiasPair
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, b := ids[i], ids[j]
			xs, ys, sessions := alignedScores(byReviewer[a], byReviewer[b])
			if sessions < minCoBiasSessions {
				continue
			}
			corr := spearman(xs, ys)
			if corr > coBiasCorrelationThreshold {
				pairs = append(pairs, CoBiasPair{ReviewerA: a, ReviewerB: b, Correlation: corr, Sessions: sessions})
			}
		}
	}
	return pairs
}

// alignedScores flattens two reviewers' per-session score maps into
// parallel slices over the candidates they both scored, and counts the
// sessions that contributed at least one shared candidate.
func alignedScores(a, b []RankingVector) ([]float64, []float64, int) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var xs, ys []float64
	sessions := 0
	for i := 0; i < n; i++ {
		shared := false
		for cand, sa := range a[i].Scores {
			if sb, ok := b[i].Scores[cand]; ok {
				xs = append(xs, sa)
				ys = append(ys, sb)
				shared = true
			}
		}
		if shared {
			sessions++
		}
	}
	return xs, ys, sessions
}

// spearman computes Spearman's rank correlation coefficient: Pearson
// correlation of the rank-transformed series.
func spearman(xs, ys []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	rx := ranksOf(xs)
	ry := ranksOf(ys)
	return stat.Correlation(rx, ry, nil)
}

// ranksOf assigns average ranks (ties share the mean rank), the standard
// Spearman tie-handling approach.
func ranksOf(values []float64) []float64 {
	type indexed struct {
		v float64
		i int
	}
	idx := make([]indexed, len(values))
	for i, v := range values {
		idx[i] = indexed{v: v, i: i}
	}
	sort.Slice(idx, func(i, j int) bool { return idx[i].v < idx[j].v })

	ranks := make([]float64, len(values))
	i := 0
	for i < len(idx) {
		j := i
		for j+1 < len(idx) && idx[j+1].v == idx[i].v {
			j++
		}
		avgRank := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k].i] = avgRank
		}
		i = j + 1
	}
	return ranks
}

package aggregate

import (
	"gonum.org/v1/gonum/stat"

	"github.com/deliberation-engine/council/pkg/council"
)

// biasDeviationThreshold triggers the 0.5 down-weight recompute pass when a
// reviewer's mean signed deviation from the pre-correction consensus
// exceeds this many Borda-scaled units.
const biasDeviationThreshold = 0.25

// downWeightMultiplier is applied to a flagged reviewer's contribution on
// the single bias-correction recompute.
const downWeightMultiplier = 0.5

// lowConfidenceThreshold marks a result for the council.low_confidence
// annotation.
const lowConfidenceThreshold = 0.5

// Candidate bundles a panel slot with information the tie-break chain
// needs beyond the reviews themselves.
type Candidate struct {
	Slot            int
	MeanAccuracy    float64 // across reviewer-submitted rubric scores, pre-computed by caller
	GenerationCost  float64
	ContentHash     string
}

// Options configures one aggregation run.
type Options struct {
	Method        Method
	PanelSize     int // total participant count, including self, used in the Borda denominator
	FlaggedBias   map[int]bool // reviewer slot -> flagged by the bias auditor
	VerdictType   council.VerdictType
}

// Aggregate computes the ranked ordering (and, for binary queries, the
// pass/fail/unclear verdict) from candidates and reviews.
func Aggregate(candidates []Candidate, reviews []council.PeerReview, opts Options) council.AggregateResult {
	slots := make([]int, len(candidates))
	byHash := make(map[int]string, len(candidates))
	byAccuracy := make(map[int]float64, len(candidates))
	byCost := make(map[int]float64, len(candidates))
	for i, c := range candidates {
		slots[i] = c.Slot
		byHash[c.Slot] = c.ContentHash
		byAccuracy[c.Slot] = c.MeanAccuracy
		byCost[c.Slot] = c.GenerationCost
	}

	tiebreak := func(a, b int) bool {
		if byAccuracy[a] != byAccuracy[b] {
			return byAccuracy[a] > byAccuracy[b]
		}
		if byCost[a] != byCost[b] {
			return byCost[a] < byCost[b]
		}
		return byHash[a] < byHash[b]
	}

	validReviews := make([]council.PeerReview, 0, len(reviews))
	for _, r := range reviews {
		if !r.Abstained {
			validReviews = append(validReviews, r)
		}
	}

	weighted := make([]reviewWeight, len(reviews))
	for i, r := range reviews {
		weighted[i] = reviewWeight{review: r, weight: 1.0}
	}

	method := opts.Method
	if method == "" {
		method = MethodBorda
	}

	// consensus is always the unweighted Borda score, even when Schulze is
	// the selected ordering method: §4.6 defines reviewer deviation in
	// "Borda-scaled units", so the bias audit reference point does not
	// follow the ordering method.
	consensus := bordaScores(slots, weighted, opts.PanelSize)
	deviations := reviewerDeviations(validReviews, opts.PanelSize, consensus)

	var ordering []int
	if method == MethodSchulze {
		ordering = schulzeRanking(slots, pairwiseMatrix(weighted), tiebreak)
	} else {
		ordering = orderByScore(slots, consensus, tiebreak)
	}
	scores := consensus

	// §4.5: down-weight and recompute once for any reviewer flagged either
	// by this session's own deviation-from-consensus check or by the
	// cross-session bias auditor.
	sessionFlagged := make(map[int]bool)
	for slot, dev := range deviations {
		if dev > biasDeviationThreshold || dev < -biasDeviationThreshold {
			sessionFlagged[slot] = true
		}
	}

	biasCorrected := false
	if flagged := mergeFlags(opts.FlaggedBias, sessionFlagged); len(flagged) > 0 {
		for i := range weighted {
			if flagged[weighted[i].review.ReviewerSlot] {
				weighted[i].weight = downWeightMultiplier
			}
		}
		biasCorrected = true
		scores = bordaScores(slots, weighted, opts.PanelSize)
		if method == MethodSchulze {
			ordering = schulzeRanking(slots, pairwiseMatrix(weighted), tiebreak)
		} else {
			ordering = orderByScore(slots, scores, tiebreak)
		}
	}

	voteCounts := voteCountsFromReviews(validReviews)

	result := council.AggregateResult{
		Ordering:           ordering,
		Scores:             scores,
		VoteCounts:         voteCounts,
		TieBreakApplied:    hasTie(ordering, scores),
		BiasCorrected:      biasCorrected,
		Method:             string(method),
		Confidence:         confidence(ordering, scores),
		ReviewerDeviations: deviations,
	}
	result.LowConfidence = result.Confidence < lowConfidenceThreshold

	if opts.VerdictType == council.VerdictTypeBinary {
		verdict, conf := binaryVerdict(validReviews)
		result.Verdict = &verdict
		result.VerdictConf = conf
	}

	return result
}

// mergeFlags unions the cross-session bias auditor's flags with this
// session's own deviation-from-consensus flags into the single set that
// drives the §4.5 down-weight recompute.
func mergeFlags(crossSession, session map[int]bool) map[int]bool {
	if len(crossSession) == 0 && len(session) == 0 {
		return nil
	}
	out := make(map[int]bool, len(crossSession)+len(session))
	for slot, f := range crossSession {
		if f {
			out[slot] = true
		}
	}
	for slot, f := range session {
		if f {
			out[slot] = true
		}
	}
	return out
}

// reviewerDeviations computes, for each non-abstaining reviewer, the mean
// signed deviation (in Borda-scaled units) between the scores that
// reviewer's ranking implies and the pre-correction consensus score for
// the same candidates — the §4.5/§4.6 trigger for this session's
// down-weight recompute and the sample fed to the cross-session bias
// tracker.
func reviewerDeviations(validReviews []council.PeerReview, panelSize int, consensus map[int]float64) map[int]float64 {
	out := make(map[int]float64, len(validReviews))
	denom := float64(panelSize - 2)
	for _, r := range validReviews {
		var sum float64
		var n int
		for _, entry := range r.Ranking {
			if entry.CandidateSlot == r.ReviewerSlot {
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
			sum += s - consensus[entry.CandidateSlot]
			n++
		}
		if n > 0 {
			out[r.ReviewerSlot] = sum / float64(n)
		}
	}
	return out
}

func hasTie(ordering []int, scores map[int]float64) bool {
	for i := 1; i < len(ordering); i++ {
		if scores[ordering[i-1]] == scores[ordering[i]] {
			return true
		}
	}
	return false
}

// confidence is 1 minus the normalized variance of the Borda scores of the
// top two candidates in ordering, clamped to [0,1]. stat.PopVariance (not
// the sample variance stat.Variance divides by n-1) is used so the
// normalizer 0.25 is correct: 0.25 is the maximum *population* variance of
// two values drawn from [0,1] (achieved when they sit at the extremes), so
// a maximally split top-two pair yields confidence 0 and an exact tie
// yields confidence 1.
func confidence(ordering []int, scores map[int]float64) float64 {
	if len(ordering) < 2 {
		return 1.0
	}
	top := scores[ordering[0]]
	second := scores[ordering[1]]
	variance := stat.PopVariance([]float64{top, second}, nil)
	normalized := variance / 0.25
	c := 1 - normalized
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return c
}

// voteCountsFromReviews tallies, for each candidate, how many reviewers
// ranked it first — a simple first-place count surfaced alongside the
// Borda ordering for display purposes.
func voteCountsFromReviews(reviews []council.PeerReview) map[int]int {
	counts := make(map[int]int)
	for _, r := range reviews {
		for _, e := range r.Ranking {
			if e.Rank == 1 {
				counts[e.CandidateSlot]++
			}
		}
	}
	return counts
}

// binaryVerdict applies the strict-majority rule over the votes actually
// cast (abstentions excluded): pass requires total/2+1 pass votes when the
// total is even and (total+1)/2 when it is odd, fail the symmetric
// condition, otherwise unclear (including any even-split deadlock).
func binaryVerdict(reviews []council.PeerReview) (council.BinaryVerdict, float64) {
	var pass, fail int
	for _, r := range reviews {
		if r.BinaryVote == nil {
			continue
		}
		if *r.BinaryVote {
			pass++
		} else {
			fail++
		}
	}
	total := pass + fail
	if total == 0 {
		return council.VerdictUnclear, 0
	}
	needed := total/2 + 1
	if total%2 != 0 {
		needed = (total + 1) / 2
	}
	switch {
	case pass >= needed && pass > fail:
		return council.VerdictPass, margin(pass, total)
	case fail >= needed && fail > pass:
		return council.VerdictFail, margin(fail, total)
	default:
		return council.VerdictUnclear, margin(maxInt(pass, fail), total)
	}
}

func margin(votes, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(votes) / float64(total)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

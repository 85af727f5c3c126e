// Package rubric turns a reviewer's raw Stage 2 output into a validated
// council.PeerReview: structured JSON first, falling back to a
// line-anchored textual form when JSON is absent, grounded on the
// last-line-number extraction the teacher's scoring controller uses to pull
// a score out of free-form model text.
package rubric

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/deliberation-engine/council/pkg/council"
)

// MaxDissentLength caps preserved dissent text; longer dissent is truncated
// rather than rejected.
const MaxDissentLength = 4000

// jsonReview is the structured wire shape a reviewer may emit directly.
type jsonReview struct {
	Ranking    []int                         `json:"ranking"`
	Scores     map[string]map[string]*float64 `json:"scores"`
	Dissent    string                        `json:"dissent"`
	BinaryVote *bool                         `json:"binary_vote"`
}

// rankLineRegex matches "rank N: slot" style textual fallback lines, e.g.
// "1: candidate 2" or "Rank 1 - Slot 2".
var rankLineRegex = regexp.MustCompile(`(?i)^\s*(?:rank\s*)?(\d+)\s*[:\-]\s*(?:candidate|slot)?\s*(\d+)\s*$`)

// scoreLineRegex matches "dimension: score" lines in the textual fallback,
// mirroring the teacher's trailing-number extraction but anchored to a
// named dimension instead of the last line of the whole response.
var scoreLineRegex = regexp.MustCompile(`(?i)^\s*(accuracy|completeness|clarity|conciseness|relevance)\s*[:\-]\s*([+-]?\d+(?:\.\d+)?)\s*$`)

// dissentLineRegex matches a "dissent: ..." line introducing free text that
// may continue on subsequent lines.
var dissentLineRegex = regexp.MustCompile(`(?i)^\s*dissent\s*[:\-]\s*(.*)$`)

// Parse attempts a structured JSON parse of raw first; on failure it falls
// back to the textual form. candidateSlots lists every non-self candidate
// slot index the ranking must cover exactly once. A review that fails both
// forms becomes an abstention rather than an error, per the rubric
// module's invalid-review-is-abstention rule — callers should check
// review.Abstained rather than treating a non-nil error as fatal.
func Parse(reviewerSlot int, raw string, candidateSlots []int) council.PeerReview {
	review, err := parseJSON(reviewerSlot, raw)
	if err != nil {
		review, err = parseText(reviewerSlot, raw)
	}
	if err != nil {
		return council.PeerReview{
			ReviewerSlot: reviewerSlot,
			Abstained:    true,
			AbstainedWhy: err.Error(),
		}
	}
	// P1: a reviewer ranking itself has that entry stripped, not counted —
	// a stray self-vote should not cost the whole review an abstention.
	review.Ranking = stripSelfVote(review.Ranking, reviewerSlot)

	if err := validateRanking(review.Ranking, candidateSlots); err != nil {
		return council.PeerReview{
			ReviewerSlot: reviewerSlot,
			Abstained:    true,
			AbstainedWhy: err.Error(),
		}
	}
	return review
}

// stripSelfVote removes any ranking entry for the reviewer's own slot and
// renumbers the remaining entries to a contiguous 1..N permutation,
// preserving their relative order, so a removed self-vote doesn't leave a
// gap in the rank sequence that validateRanking would otherwise reject.
func stripSelfVote(ranking []council.RankEntry, reviewerSlot int) []council.RankEntry {
	filtered := make([]council.RankEntry, 0, len(ranking))
	for _, e := range ranking {
		if e.CandidateSlot == reviewerSlot {
			continue
		}
		filtered = append(filtered, e)
	}
	if len(filtered) == len(ranking) {
		return ranking
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Rank < filtered[j].Rank })
	for i := range filtered {
		filtered[i].Rank = i + 1
	}
	return filtered
}

func parseJSON(reviewerSlot int, raw string) (council.PeerReview, error) {
	trimmed := strings.TrimSpace(raw)
	start := strings.IndexByte(trimmed, '{')
	end := strings.LastIndexByte(trimmed, '}')
	if start == -1 || end == -1 || end < start {
		return council.PeerReview{}, fmt.Errorf("no JSON object found")
	}

	var jr jsonReview
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &jr); err != nil {
		return council.PeerReview{}, fmt.Errorf("invalid JSON review: %w", err)
	}

	ranking := make([]council.RankEntry, len(jr.Ranking))
	for i, slot := range jr.Ranking {
		ranking[i] = council.RankEntry{CandidateSlot: slot, Rank: i + 1}
	}

	scores := make(map[int]map[council.RubricDimension]*float64, len(jr.Scores))
	for slotStr, dims := range jr.Scores {
		slot, err := strconv.Atoi(slotStr)
		if err != nil {
			return council.PeerReview{}, fmt.Errorf("invalid candidate slot key %q: %w", slotStr, err)
		}
		byDim := make(map[council.RubricDimension]*float64, len(dims))
		for dimStr, score := range dims {
			byDim[council.RubricDimension(strings.ToLower(dimStr))] = clamp(score)
		}
		scores[slot] = byDim
	}

	return council.PeerReview{
		ReviewerSlot: reviewerSlot,
		Ranking:      ranking,
		Scores:       scores,
		Dissent:      truncate(jr.Dissent),
		BinaryVote:   jr.BinaryVote,
	}, nil
}

func parseText(reviewerSlot int, raw string) (council.PeerReview, error) {
	lines := strings.Split(raw, "\n")

	ranking := make([]council.RankEntry, 0)
	scores := make(map[int]map[council.RubricDimension]*float64)
	var dissentLines []string
	inDissent := false

	for _, line := range lines {
		if inDissent {
			dissentLines = append(dissentLines, line)
			continue
		}
		if m := rankLineRegex.FindStringSubmatch(line); m != nil {
			rank, _ := strconv.Atoi(m[1])
			slot, _ := strconv.Atoi(m[2])
			ranking = append(ranking, council.RankEntry{CandidateSlot: slot, Rank: rank})
			continue
		}
		if m := dissentLineRegex.FindStringSubmatch(line); m != nil {
			inDissent = true
			if strings.TrimSpace(m[1]) != "" {
				dissentLines = append(dissentLines, m[1])
			}
			continue
		}
		// Score lines apply to whichever candidate slot was most recently
		// named in a preceding rank line; scoring text is expected to
		// group scores under a "Candidate N" heading in practice, but for
		// the minimal textual fallback we attach to the last-ranked slot.
		if m := scoreLineRegex.FindStringSubmatch(line); m != nil && len(ranking) > 0 {
			dim := council.RubricDimension(strings.ToLower(m[1]))
			val, err := strconv.ParseFloat(m[2], 64)
			if err != nil {
				continue
			}
			slot := ranking[len(ranking)-1].CandidateSlot
			if scores[slot] == nil {
				scores[slot] = make(map[council.RubricDimension]*float64)
			}
			scores[slot][dim] = clamp(&val)
		}
	}

	if len(ranking) == 0 {
		return council.PeerReview{}, fmt.Errorf("no parseable ranking found in textual review")
	}

	return council.PeerReview{
		ReviewerSlot: reviewerSlot,
		Ranking:      ranking,
		Scores:       scores,
		Dissent:      truncate(strings.TrimSpace(strings.Join(dissentLines, "\n"))),
	}, nil
}

// validateRanking requires the ranking to cover every candidate slot
// exactly once, rejecting duplicates or omissions.
func validateRanking(ranking []council.RankEntry, candidateSlots []int) error {
	if len(ranking) != len(candidateSlots) {
		return fmt.Errorf("ranking covers %d candidates, expected %d", len(ranking), len(candidateSlots))
	}
	want := make(map[int]struct{}, len(candidateSlots))
	for _, s := range candidateSlots {
		want[s] = struct{}{}
	}
	seen := make(map[int]struct{}, len(ranking))
	ranks := make([]int, 0, len(ranking))
	for _, r := range ranking {
		if _, ok := want[r.CandidateSlot]; !ok {
			return fmt.Errorf("ranking references unknown candidate slot %d", r.CandidateSlot)
		}
		if _, dup := seen[r.CandidateSlot]; dup {
			return fmt.Errorf("ranking duplicates candidate slot %d", r.CandidateSlot)
		}
		seen[r.CandidateSlot] = struct{}{}
		ranks = append(ranks, r.Rank)
	}
	sort.Ints(ranks)
	for i, r := range ranks {
		if r != i+1 {
			return fmt.Errorf("ranking is not a contiguous permutation starting at 1")
		}
	}
	return nil
}

func clamp(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	if c < 0 {
		c = 0
	}
	if c > 10 {
		c = 10
	}
	return &c
}

// truncate caps s at MaxDissentLength bytes without splitting a multi-byte
// UTF-8 rune across the cut point: it backs off to the start of the rune
// straddling the limit rather than slicing mid-sequence, which would
// otherwise hand the caller a string with a truncated invalid tail rune.
func truncate(s string) string {
	if len(s) <= MaxDissentLength {
		return s
	}
	cut := MaxDissentLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

package aggregate

import "sort"

// schulzeRanking computes the Schulze method's winner ordering over
// candidates using the pairwise preference matrix pref[i][j] = weighted
// count of reviewers ranking i strictly ahead of j, via strongest-path
// Floyd-Warshall (O(N^3), fine at panel scale). Candidates tied on win
// count fall through to the §4.5 tie-break chain shared with the Borda
// path, rather than an arbitrary stable-sort order.
func schulzeRanking(candidates []int, pref map[[2]int]float64, tiebreak func(a, b int) bool) []int {
	n := len(candidates)
	idx := make(map[int]int, n)
	for i, c := range candidates {
		idx[c] = i
	}

	strength := make([][]float64, n)
	for i := range strength {
		strength[i] = make([]float64, n)
	}
	for i, ci := range candidates {
		for j, cj := range candidates {
			if i == j {
				continue
			}
			pij := float64(pref[[2]int{ci, cj}])
			pji := float64(pref[[2]int{cj, ci}])
			if pij > pji {
				strength[i][j] = pij
			}
		}
	}

	for k := 0; k < n; k++ {
		for i := 0; i < n; i++ {
			if i == k {
				continue
			}
			for j := 0; j < n; j++ {
				if j == i || j == k {
					continue
				}
				if min2(strength[i][k], strength[k][j]) > strength[i][j] {
					strength[i][j] = min2(strength[i][k], strength[k][j])
				}
			}
		}
	}

	wins := make(map[int]int, n)
	for i, ci := range candidates {
		for j, cj := range candidates {
			if i == j {
				continue
			}
			if strength[i][j] > strength[j][i] {
				wins[ci]++
			}
		}
	}

	ordering := make([]int, n)
	copy(ordering, candidates)
	sort.SliceStable(ordering, func(i, j int) bool {
		a, b := ordering[i], ordering[j]
		if wins[a] != wins[b] {
			return wins[a] > wins[b]
		}
		return tiebreak(a, b)
	})
	return ordering
}

// pairwiseMatrix builds pref[i][j] from the non-self ranking entries of
// each non-abstained reviewer, each reviewer contributing its weight.
func pairwiseMatrix(weighted []reviewWeight) map[[2]int]float64 {
	pref := make(map[[2]int]float64)
	for _, rw := range weighted {
		if rw.review.Abstained {
			continue
		}
		rankOf := make(map[int]int, len(rw.review.Ranking))
		for _, e := range rw.review.Ranking {
			if e.CandidateSlot == rw.review.ReviewerSlot {
				continue
			}
			rankOf[e.CandidateSlot] = e.Rank
		}
		for a, ra := range rankOf {
			for b, rb := range rankOf {
				if a == b {
					continue
				}
				if ra < rb {
					pref[[2]int{a, b}] += rw.weight
				}
			}
		}
	}
	return pref
}

func min2(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

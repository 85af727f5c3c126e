// Package tier implements the panel selection algorithm: turning a
// requested tier, capability set, and budget ceiling into an ordered list
// of candidate models for a deliberation panel.
package tier

import (
	"errors"
	"sort"
	"strings"

	"github.com/deliberation-engine/council/pkg/council"
)

// ErrInsufficientPanel is returned when fewer than two viable candidates
// remain after filtering.
var ErrInsufficientPanel = errors.New("insufficient panel: fewer than two viable candidates")

const minPanelSize = 2

// Weights holds the score-function coefficients. The zero value is invalid;
// use DefaultWeights.
type Weights struct {
	Quality   float64
	Cost      float64
	Diversity float64
}

// DefaultWeights matches the 0.6 / 0.3 / 0.1 split.
var DefaultWeights = Weights{Quality: 0.6, Cost: 0.3, Diversity: 0.1}

// Request bundles the selection criteria.
type Request struct {
	Tier                 council.Tier
	RequiredCount        int
	RequiredCapabilities []string
	BudgetCeiling        float64 // 0 means no ceiling
}

// Selector picks panels from a pool of model descriptors.
type Selector struct {
	weights Weights
}

// New builds a Selector with the given weights, or DefaultWeights if the
// zero value is passed.
func New(weights Weights) *Selector {
	if weights == (Weights{}) {
		weights = DefaultWeights
	}
	return &Selector{weights: weights}
}

type scored struct {
	model council.ModelDescriptor
	score float64
}

// Select returns up to req.RequiredCount model ids ordered by descending
// score. If fewer than req.RequiredCount remain after filtering, it returns
// everything it has as long as at least two candidates survive; otherwise
// it returns ErrInsufficientPanel.
func (s *Selector) Select(pool []council.ModelDescriptor, req Request) ([]string, error) {
	candidates := filter(pool, req)
	if len(candidates) < minPanelSize {
		return nil, ErrInsufficientPanel
	}

	scoredList := make([]scored, 0, len(candidates))
	familyPickCount := make(map[string]int)

	// Score in descending quality first so that diversity penalties apply
	// to later picks from an already-represented provider family, matching
	// the "penalizes additional picks from an already-picked family" rule.
	byQuality := make([]council.ModelDescriptor, len(candidates))
	copy(byQuality, candidates)
	sort.SliceStable(byQuality, func(i, j int) bool {
		return byQuality[i].QualityScore > byQuality[j].QualityScore
	})

	maxCost := maxCost(candidates)
	for _, m := range byQuality {
		diversityPenalty := float64(familyPickCount[providerFamily(m.Provider)])
		normalizedCost := normalizedCost(m, maxCost)
		score := s.weights.Quality*m.QualityScore - s.weights.Cost*normalizedCost - s.weights.Diversity*diversityPenalty
		scoredList = append(scoredList, scored{model: m, score: score})
		familyPickCount[providerFamily(m.Provider)]++
	}

	sort.SliceStable(scoredList, func(i, j int) bool {
		if scoredList[i].score != scoredList[j].score {
			return scoredList[i].score > scoredList[j].score
		}
		ci, cj := callCost(scoredList[i].model), callCost(scoredList[j].model)
		if ci != cj {
			return ci < cj
		}
		return scoredList[i].model.ModelID < scoredList[j].model.ModelID
	})

	n := req.RequiredCount
	if n <= 0 || n > len(scoredList) {
		n = len(scoredList)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = scoredList[i].model.ModelID
	}
	return out, nil
}

func filter(pool []council.ModelDescriptor, req Request) []council.ModelDescriptor {
	var out []council.ModelDescriptor
	for _, m := range pool {
		if !m.Available {
			continue
		}
		if m.Tier < req.Tier {
			continue
		}
		if !hasAllCapabilities(m, req.RequiredCapabilities) {
			continue
		}
		if req.BudgetCeiling > 0 && callCost(m) > req.BudgetCeiling {
			continue
		}
		out = append(out, m)
	}
	return out
}

func hasAllCapabilities(m council.ModelDescriptor, required []string) bool {
	for _, c := range required {
		if !m.HasCapability(c) {
			return false
		}
	}
	return true
}

// callCost estimates a representative per-call cost for budget filtering
// and tie-breaking: input plus output price per token, assuming symmetric
// token usage. There is no token count yet at selection time, so this is a
// relative figure, not a real dollar estimate.
func callCost(m council.ModelDescriptor) float64 {
	return m.PricePerInputTk + m.PricePerOutTk
}

func maxCost(pool []council.ModelDescriptor) float64 {
	var max float64
	for _, m := range pool {
		if c := callCost(m); c > max {
			max = c
		}
	}
	return max
}

func normalizedCost(m council.ModelDescriptor, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return callCost(m) / max
}

// providerFamily groups sibling model ids under one vendor so diversity
// scoring penalizes over-representation (e.g. "openai" for both gpt-x and
// gpt-y), matching the provider-family notion the spec's diversity bonus
// refers to.
func providerFamily(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

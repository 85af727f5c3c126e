package orchestrator

import (
	"context"
	"fmt"

	"github.com/deliberation-engine/council/pkg/aggregate"
	"github.com/deliberation-engine/council/pkg/bias"
	"github.com/deliberation-engine/council/pkg/council"
)

// aggregate builds the Aggregator's candidate set from the surviving Stage
// 1 responses and reviews, folds in any cross-session bias flags tracked
// for the reviewing models, and returns the ranked result.
func (o *Orchestrator) aggregate(ctx context.Context, q council.Query, panel []council.PanelSlot, stage1 []council.StageOneResponse, reviews []council.PeerReview) (council.AggregateResult, error) {
	var candidates []aggregate.Candidate
	for _, r := range stage1 {
		if r.Status != council.StageStatusOK {
			continue
		}
		candidates = append(candidates, aggregate.Candidate{
			Slot:           r.SlotIndex,
			MeanAccuracy:   meanAccuracy(reviews, r.SlotIndex),
			GenerationCost: float64(r.TokensIn + r.TokensOut),
			ContentHash:    contentHash(r.Content),
		})
	}

	validReviews := 0
	for _, r := range reviews {
		if !r.Abstained {
			validReviews++
		}
	}
	if validReviews < minStage2Reviewers {
		return council.AggregateResult{}, fmt.Errorf("only %d valid reviews, need at least %d", validReviews, minStage2Reviewers)
	}

	flagged := make(map[int]bool)
	if o.tracker != nil {
		slotsByModel := make(map[string]int, len(panel))
		for _, s := range panel {
			slotsByModel[s.ModelID] = s.Index
		}
		cur, err := o.tracker.Flagged(ctx)
		if err == nil {
			for modelID := range cur {
				if slot, ok := slotsByModel[modelID]; ok {
					flagged[slot] = true
				}
			}
		}
	}

	method := aggregate.MethodBorda
	if o.cfg.RankingMethodOrDefault() == "schulze" {
		method = aggregate.MethodSchulze
	}

	result := aggregate.Aggregate(candidates, reviews, aggregate.Options{
		Method:      method,
		PanelSize:   len(candidates),
		FlaggedBias: flagged,
		VerdictType: q.VerdictType,
	})

	// Feed this session's per-reviewer deviations into the cross-session
	// EWMA tracker so a reviewer with a persistent skew gets flagged (and
	// down-weighted) in future sessions even if no single session's
	// deviation alone crosses the per-session trigger.
	if o.tracker != nil {
		for slot, dev := range result.ReviewerDeviations {
			if slot < 0 || slot >= len(panel) {
				continue
			}
			modelID := panel[slot].ModelID
			if _, _, err := o.tracker.Record(ctx, bias.Deviation{ReviewerModelID: modelID, SignedDeviation: dev}); err != nil {
				continue // best-effort: cross-session tracking never fails a session
			}
		}
	}

	return result, nil
}

// meanAccuracy averages the accuracy dimension score awarded to candidate
// slot across every reviewer that scored it, skipping nil (unscored)
// entries.
func meanAccuracy(reviews []council.PeerReview, slot int) float64 {
	var sum float64
	var n int
	for _, r := range reviews {
		if r.Abstained {
			continue
		}
		dims, ok := r.Scores[slot]
		if !ok {
			continue
		}
		if v, ok := dims[council.DimAccuracy]; ok && v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

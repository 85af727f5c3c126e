package bias

import (
	"context"
	"fmt"

	"github.com/deliberation-engine/council/pkg/database"
)

// ewmaAlpha weights each new session's deviation against the running
// average; smaller values smooth more aggressively.
const ewmaAlpha = 0.2

// FlagThreshold is the magnitude (in Borda-scaled units) a reviewer's EWMA
// deviation must exceed to be flagged for the Aggregator's down-weight.
const FlagThreshold = 0.25

// Tracker maintains the cross-session EWMA of each reviewer's signed
// deviation from session consensus, persisted in the bias_reviewer_stats
// table so it survives process restarts.
type Tracker struct {
	db *database.Client
}

// NewTracker wraps a database client for reviewer deviation tracking.
func NewTracker(db *database.Client) *Tracker {
	return &Tracker{db: db}
}

// Deviation is one reviewer's signed deviation between its awarded ranks
// and the pre-correction consensus ranks for a single session, to be
// folded into that reviewer's running EWMA.
type Deviation struct {
	ReviewerModelID string
	SignedDeviation float64
}

// Record updates modelID's EWMA deviation with one new session sample and
// returns the updated value along with whether it now exceeds
// FlagThreshold.
func (t *Tracker) Record(ctx context.Context, d Deviation) (ewma float64, flagged bool, err error) {
	prev, sampleCount, err := t.db.GetBiasStat(ctx, d.ReviewerModelID)
	if err != nil {
		return 0, false, fmt.Errorf("failed to load bias stat: %w", err)
	}

	var updated float64
	if sampleCount == 0 {
		updated = d.SignedDeviation
	} else {
		updated = ewmaAlpha*d.SignedDeviation + (1-ewmaAlpha)*prev
	}

	if err := t.db.UpsertBiasStat(ctx, d.ReviewerModelID, updated, sampleCount+1); err != nil {
		return 0, false, fmt.Errorf("failed to persist bias stat: %w", err)
	}

	return updated, absFloat(updated) > FlagThreshold, nil
}

// Flagged returns every reviewer whose EWMA magnitude is currently above
// FlagThreshold.
func (t *Tracker) Flagged(ctx context.Context) (map[string]float64, error) {
	stats, err := t.db.ListBiasStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list bias stats: %w", err)
	}
	out := make(map[string]float64)
	for modelID, ewma := range stats {
		if absFloat(ewma) > FlagThreshold {
			out[modelID] = ewma
		}
	}
	return out, nil
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/deliberation-engine/council/pkg/council"
	"github.com/deliberation-engine/council/pkg/events"
	"github.com/deliberation-engine/council/pkg/gateway"
)

// runStage1 fans out the query prompt to every participant slot
// concurrently. A slot's failure is recorded as a degraded StageOneResponse
// rather than aborting the barrier; the caller decides whether the
// survivor count is sufficient to proceed.
func (o *Orchestrator) runStage1(ctx context.Context, q council.Query, panel []council.PanelSlot, deadline time.Time, bus *events.Bus) ([]council.StageOneResponse, error) {
	responses := make([]council.StageOneResponse, len(panel))
	var mu sync.Mutex

	concurrently(ctx, len(panel), func(ctx context.Context, i int) {
		slot := panel[i]
		idx := slot.Index
		bus.Publish(council.LayerEvent{Type: council.EventStage1SlotStarted, QueryID: q.ID, Stage: "stage1", Slot: &idx})

		start := time.Now()
		opts := gateway.Options{Deadline: deadline, MaxTokens: 0, Temperature: 0.7}
		res, err := o.gw.Complete(ctx, slot.ModelID, stage1Prompt(q), opts)

		resp := council.StageOneResponse{SlotIndex: slot.Index, Latency: time.Since(start)}
		if err != nil {
			status := council.StageStatusFailed
			if ctx.Err() == context.DeadlineExceeded {
				status = council.StageStatusTimeout
			}
			resp.Status = status
			resp.Content = ""
		} else {
			resp.Status = council.StageStatusOK
			resp.Content = res.Content
			resp.TokensIn = res.TokensIn
			resp.TokensOut = res.TokensOut
			resp.Degradation = res.Degradation
		}

		mu.Lock()
		responses[i] = resp
		mu.Unlock()

		bus.Publish(council.LayerEvent{Type: council.EventStage1SlotComplete, QueryID: q.ID, Stage: "stage1", Slot: &idx,
			Payload: map[string]any{"status": string(resp.Status)}})
	})

	survivors := 0
	for _, r := range responses {
		if r.Status == council.StageStatusOK {
			survivors++
		}
	}
	bus.Publish(council.LayerEvent{Type: council.EventStage1Complete, QueryID: q.ID, Stage: "stage1",
		Payload: map[string]any{"survivors": survivors}})

	if survivors < minStage1Survivors {
		return responses, errInsufficientSurvivors
	}
	return responses, nil
}

// stage1Prompt builds the Stage 1 generation prompt. A Query carries no
// conversation-history field at all (§1: each query is stateless), so
// there is no prior-turn material either branch could leak; the two
// branches stay textually distinct so the isolation guard in Run and this
// function don't silently drift apart if Query ever grows one.
func stage1Prompt(q council.Query) string {
	if q.ContextIsolated {
		return q.Prompt
	}
	return q.Prompt
}

// runNormalization applies an optional Stage 1.5 style-normalization pass.
// Failure of any individual slot is non-fatal: the original content is
// retained for that slot.
func (o *Orchestrator) runNormalization(ctx context.Context, q council.Query, panel []council.PanelSlot, stage1 []council.StageOneResponse, deadline time.Time) []council.StageOneResponse {
	out := make([]council.StageOneResponse, len(stage1))
	copy(out, stage1)

	var wg sync.WaitGroup
	var mu sync.Mutex
	for i, r := range stage1 {
		if r.Status != council.StageStatusOK {
			continue
		}
		wg.Add(1)
		go func(i int, r council.StageOneResponse, modelID string) {
			defer wg.Done()
			normCtx := ctx
			var cancel context.CancelFunc
			if !deadline.IsZero() {
				normCtx, cancel = context.WithDeadline(ctx, deadline)
				defer cancel()
			}
			prompt := "Reformat the following answer for neutral, consistent style without changing its substance:\n\n" + r.Content
			res, err := o.gw.Complete(normCtx, modelID, prompt, gateway.Options{})
			if err != nil {
				return // keep the original text
			}
			mu.Lock()
			out[i].Content = res.Content
			mu.Unlock()
		}(i, r, panel[i].ModelID)
	}
	wg.Wait()
	return out
}

var errInsufficientSurvivors = stage1Err("fewer than two participants survived stage 1")

type stage1Err string

func (e stage1Err) Error() string { return string(e) }

package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/deliberation-engine/council/pkg/council"
	"github.com/deliberation-engine/council/pkg/events"
	"github.com/deliberation-engine/council/pkg/gateway"
)

// runStage3 asks the chairman to synthesize a final answer (for binary
// queries, a pass/fail verdict in text) from the ranked Stage 1 content
// and the Stage 2 reviews. The chairman's text does not change the
// Aggregator's verdict. When the query requests
// streaming, each chunk is published as a stage3.token event as it
// arrives.
func (o *Orchestrator) runStage3(ctx context.Context, q council.Query, chairman council.PanelSlot, stage1 []council.StageOneResponse, reviews []council.PeerReview, agg council.AggregateResult, deadline time.Time, bus *events.Bus) (string, error) {
	bus.Publish(council.LayerEvent{Type: council.EventStage3Started, QueryID: q.ID, Stage: "stage3"})

	prompt := stage3Prompt(q, stage1, reviews, agg)
	opts := gateway.Options{Deadline: deadline, Temperature: 0.3}

	if !q.Streaming {
		res, err := o.gw.Complete(ctx, chairman.ModelID, prompt, opts)
		if err != nil {
			return "", fmt.Errorf("chairman synthesis failed: %w", err)
		}
		bus.Publish(council.LayerEvent{Type: council.EventStage3Complete, QueryID: q.ID, Stage: "stage3"})
		return res.Content, nil
	}

	ch := make(chan gateway.Chunk, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- o.gw.Stream(ctx, chairman.ModelID, prompt, opts, ch)
	}()

	var synthesis strings.Builder
	for chunk := range ch {
		if chunk.Content != "" {
			bus.Publish(council.LayerEvent{Type: council.EventStage3Token, QueryID: q.ID, Stage: "stage3",
				Payload: map[string]any{"content": chunk.Content}})
			synthesis.WriteString(chunk.Content)
		}
		if chunk.Terminal && chunk.Result != nil && chunk.Result.Content != "" {
			synthesis.Reset()
			synthesis.WriteString(chunk.Result.Content)
		}
	}
	if err := <-errCh; err != nil {
		return "", fmt.Errorf("chairman synthesis stream failed: %w", err)
	}
	bus.Publish(council.LayerEvent{Type: council.EventStage3Complete, QueryID: q.ID, Stage: "stage3"})
	return synthesis.String(), nil
}

// stage3Prompt builds the chairman's synthesis prompt from the ranked
// candidates and their reviews. Like Stage 2 reviewers, the chairman sees
// each answer under its slot number only, not its model identity; it also
// sees the aggregate ranking.
func stage3Prompt(q council.Query, stage1 []council.StageOneResponse, reviews []council.PeerReview, agg council.AggregateResult) string {
	var b strings.Builder
	switch q.Mode {
	case council.ModeDebate:
		b.WriteString("Synthesize the strongest position from the following panel discussion, resolving disagreements explicitly.\n\n")
	case council.ModeBinaryVerdict:
		b.WriteString("Render a final pass/fail verdict on the following question, using the panel's review as evidence.\n\n")
	default:
		b.WriteString("Synthesize a single best answer to the following question from the panel's contributions.\n\n")
	}
	b.WriteString("Question:\n")
	b.WriteString(q.Prompt)
	b.WriteString("\n\n")

	for _, slot := range agg.Ordering {
		b.WriteString(fmt.Sprintf("--- PANEL ANSWER (slot %d, rank score %.3f) ---\n", slot, agg.Scores[slot]))
		b.WriteString(stage1[slot].Content)
		b.WriteString("\n\n")
	}
	for _, r := range reviews {
		if r.Abstained || r.Dissent == "" {
			continue
		}
		b.WriteString(fmt.Sprintf("Reviewer %d dissent: %s\n", r.ReviewerSlot, r.Dissent))
	}
	if agg.LowConfidence {
		b.WriteString("\nNote: the panel's agreement on ranking was weak; flag any remaining uncertainty explicitly in your synthesis.\n")
	}
	return b.String()
}

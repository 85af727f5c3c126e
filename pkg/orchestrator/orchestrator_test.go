package orchestrator

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deliberation-engine/council/pkg/bias"
	"github.com/deliberation-engine/council/pkg/config"
	"github.com/deliberation-engine/council/pkg/council"
	"github.com/deliberation-engine/council/pkg/events"
	"github.com/deliberation-engine/council/pkg/gateway"
	"github.com/deliberation-engine/council/pkg/registry"
	"github.com/deliberation-engine/council/pkg/tier"
	"github.com/deliberation-engine/council/pkg/transcript"
)

var candidateLineRE = regexp.MustCompile(`CANDIDATE (\d+) BEGIN`)

// scriptedBackend returns deterministic text for each of the three stages
// by sniffing the prompt shape the orchestrator builds, avoiding any real
// model dependency.
type scriptedBackend struct{}

func (scriptedBackend) Complete(ctx context.Context, modelID, prompt string, opts gateway.Options) (gateway.CompletionResult, error) {
	switch {
	case strings.Contains(prompt, "reviewing anonymized candidate answers"):
		matches := candidateLineRE.FindAllStringSubmatch(prompt, -1)
		var ranking []string
		scores := make(map[string]string)
		for _, m := range matches {
			ranking = append(ranking, m[1])
			scores[m[1]] = fmt.Sprintf(`"%s":{"accuracy":8,"completeness":7,"clarity":9,"conciseness":7,"relevance":8}`, m[1])
		}
		var scoreParts []string
		for _, s := range scores {
			scoreParts = append(scoreParts, s)
		}
		body := fmt.Sprintf(`{"ranking":[%s],"scores":{%s},"dissent":""}`,
			strings.Join(ranking, ","), strings.Join(scoreParts, ","))
		return gateway.CompletionResult{Content: body}, nil
	case strings.Contains(prompt, "Synthesize"):
		return gateway.CompletionResult{Content: "final synthesis from " + modelID}, nil
	default:
		return gateway.CompletionResult{Content: "generation from " + modelID}, nil
	}
}

func (b scriptedBackend) Stream(ctx context.Context, modelID, prompt string, opts gateway.Options, ch chan<- gateway.Chunk) error {
	res, _ := b.Complete(ctx, modelID, prompt, opts)
	ch <- gateway.Chunk{Content: res.Content}
	ch <- gateway.Chunk{Terminal: true, Result: &res}
	close(ch)
	return nil
}

func testModels() []council.ModelDescriptor {
	mk := func(id, provider string, quality float64) council.ModelDescriptor {
		return council.ModelDescriptor{
			ModelID: id, Provider: provider, Tier: council.TierStandard,
			ContextWindow: 32000, QualityScore: quality, Available: true,
			Capabilities: map[string]struct{}{},
		}
	}
	return []council.ModelDescriptor{
		mk("model-a", "prov-a", 0.9),
		mk("model-b", "prov-b", 0.85),
		mk("model-c", "prov-c", 0.8),
		mk("model-d", "prov-d", 0.75),
	}
}

func newTestOrchestrator() *Orchestrator {
	reg := registry.NewStatic(testModels())
	selector := tier.New(tier.DefaultWeights)
	gw := gateway.New(scriptedBackend{})
	cfg := config.ChainConfig{Name: "default", StageBudget: config.DefaultStageBudget}
	rng := rand.New(rand.NewSource(1))
	return New(reg, selector, gw, nil, cfg, rng)
}

func TestOrchestrator_HappyPathConsensus(t *testing.T) {
	o := newTestOrchestrator()
	bus := events.NewBus()
	q := council.Query{ID: "q-happy", Prompt: "summarize CAP theorem", Mode: council.ModeConsensus, VerdictType: council.VerdictTypeFreeForm}

	result, err := o.Run(context.Background(), q, bus)
	require.NoError(t, err)

	assert.Equal(t, 0, result.ExitCode)
	assert.NotEmpty(t, result.Synthesis)
	assert.Len(t, result.Stage1, 3) // 3 participants, 1 chairman
	assert.Len(t, result.Stage2, 3)
	assert.NotEmpty(t, result.Aggregate.Ordering)
	assert.False(t, result.SealedAt.IsZero())

	var sawCompleted bool
	for _, evt := range result.Events {
		if evt.Type == council.EventCouncilCompleted {
			sawCompleted = true
		}
	}
	assert.True(t, sawCompleted)

	// P3: sequence numbers are 1..K with no gaps.
	for i, evt := range result.Events {
		assert.Equal(t, uint64(i+1), evt.Seq)
	}
}

func TestOrchestrator_WritesTranscript(t *testing.T) {
	root := t.TempDir()
	w, err := transcript.Open(root, "q-transcript")
	require.NoError(t, err)

	o := newTestOrchestrator().WithTranscript(w)
	bus := events.NewBus()
	q := council.Query{ID: "q-transcript", Prompt: "summarize CAP theorem", Mode: council.ModeConsensus}

	result, err := o.Run(context.Background(), q, bus)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	session, err := transcript.Read(w.Dir())
	require.NoError(t, err)
	assert.Equal(t, q.Prompt, session.Request.Prompt)
	assert.Len(t, session.Stage1, len(result.Stage1))
	assert.NotEmpty(t, session.Events)
}

func TestOrchestrator_BinaryQueryYieldsVerdict(t *testing.T) {
	o := newTestOrchestrator()
	bus := events.NewBus()
	q := council.Query{ID: "q-binary", Prompt: "is this PR safe to merge?", Mode: council.ModeBinaryVerdict, VerdictType: council.VerdictTypeBinary}

	result, err := o.Run(context.Background(), q, bus)
	require.NoError(t, err)
	require.NotNil(t, result.Aggregate.Verdict)
}

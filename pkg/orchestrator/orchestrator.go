package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/deliberation-engine/council/pkg/bias"
	"github.com/deliberation-engine/council/pkg/config"
	"github.com/deliberation-engine/council/pkg/council"
	"github.com/deliberation-engine/council/pkg/events"
	"github.com/deliberation-engine/council/pkg/gateway"
	"github.com/deliberation-engine/council/pkg/registry"
	"github.com/deliberation-engine/council/pkg/tier"
	"github.com/deliberation-engine/council/pkg/transcript"
)

// minStage1Survivors is the floor below which Stage 1 cannot proceed to
// Stage 2: a panel with zero or one surviving generation has nothing to
// peer-review.
const minStage1Survivors = 2

// minStage2Reviewers mirrors minStage1Survivors for the aggregation gate:
// fewer than two valid (non-abstaining) reviews leaves nothing to rank
// against.
const minStage2Reviewers = 2

// Orchestrator drives one deliberation session through the full protocol.
// It owns no cross-session state; callers construct one per session (or
// reuse the dependencies across many short-lived Orchestrator values).
type Orchestrator struct {
	registry   registry.Provider
	selector   *tier.Selector
	gw         *gateway.Gateway
	tracker    *bias.Tracker
	cfg        config.ChainConfig
	rng        *rand.Rand
	transcript *transcript.Writer
}

// New builds an Orchestrator from its component dependencies. rng seeds
// the per-session reviewer-position shuffle; pass rand.New(rand.NewSource(
// time.Now().UnixNano())) in production and a fixed seed in tests.
func New(reg registry.Provider, selector *tier.Selector, gw *gateway.Gateway, tracker *bias.Tracker, cfg config.ChainConfig, rng *rand.Rand) *Orchestrator {
	return &Orchestrator{registry: reg, selector: selector, gw: gw, tracker: tracker, cfg: cfg, rng: rng}
}

// WithTranscript attaches a transcript.Writer that Run persists request,
// stage, and result artifacts to as the session progresses. Optional: a
// nil transcript (the default) simply skips filesystem persistence, useful
// for tests and for callers that only need the in-memory DeliberationResult.
func (o *Orchestrator) WithTranscript(w *transcript.Writer) *Orchestrator {
	o.transcript = w
	return o
}

// Run executes the full protocol for query, publishing lifecycle events to
// bus as it goes, and returns the sealed result or an error describing why
// the session failed. A non-nil error always corresponds to a FAILED
// terminal state; Run never panics on participant-level failure or on
// context cancellation, only on caller misuse (nil dependencies).
func (o *Orchestrator) Run(ctx context.Context, q council.Query, bus *events.Bus) (council.DeliberationResult, error) {
	machine := NewMachine()
	result := council.DeliberationResult{QueryID: q.ID, StartedAt: time.Now()}
	if o.transcript != nil {
		result.TranscriptDir = o.transcript.Dir()
		_ = o.transcript.WriteRequest(q)
	}

	bus.Publish(council.LayerEvent{Type: council.EventCouncilStarted, QueryID: q.ID, Stage: "council"})

	fail := func(reason string, cause error) (council.DeliberationResult, error) {
		_ = machine.Fail(reason)
		bus.Publish(council.LayerEvent{
			Type: council.EventCouncilFailed, QueryID: q.ID, Stage: "council",
			Payload: map[string]any{"reason": reason},
		})
		result.ExitCode = exitCodeFor(reason)
		result.SealedAt = time.Now()
		result.Events = bus.Since(0)
		if o.transcript != nil {
			_ = o.transcript.WriteResult(result)
		}
		if cause != nil {
			return result, fmt.Errorf("deliberation failed (%s): %w", reason, cause)
		}
		return result, fmt.Errorf("deliberation failed: %s", reason)
	}

	if o.transcript != nil {
		sub := bus.Subscribe("transcript:" + q.ID)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for evt := range sub {
				_ = o.transcript.AppendEvent(evt)
			}
		}()
		defer func() {
			bus.Unsubscribe("transcript:" + q.ID)
			<-done
		}()
	}

	if err := ctx.Err(); err != nil {
		return fail("cancelled", err)
	}

	// Context isolation only means something relative to a pinned snapshot
	// of input material (§3, §4.7): a query that asks for isolation but
	// names nothing to isolate against is a configuration error, not a
	// silently-ignored flag.
	if q.ContextIsolated && q.SnapshotID == "" {
		return fail("context-isolation-requires-snapshot", fmt.Errorf("query %s sets context_isolation without a snapshot_id", q.ID))
	}

	// SELECTING_PANEL
	if err := machine.Transition(StateSelectingPanel); err != nil {
		return fail("internal-state-error", err)
	}
	panel, chairman, err := o.selectPanel(ctx, q)
	if err != nil {
		return fail("insufficient-panel", err)
	}

	stageDeadlines := computeStageDeadlines(q.Deadline, o.cfg.StageBudget)

	// STAGE1_RUNNING
	if err := machine.Transition(StateStage1Running); err != nil {
		return fail("internal-state-error", err)
	}
	stage1, err := o.runStage1(ctx, q, panel, stageDeadlines.stage1, bus)
	if err != nil {
		if err == context.Canceled || err == context.DeadlineExceeded {
			return fail("cancelled", err)
		}
		return fail("insufficient-stage1-survivors", err)
	}
	result.Stage1 = stage1
	if o.transcript != nil {
		_ = o.transcript.WriteStage1(stage1)
	}

	// STAGE1_5_NORMALIZING (optional, non-fatal)
	if o.cfg.StyleNormalization {
		if err := machine.Transition(StateStage1Normalizing); err == nil {
			stage1 = o.runNormalization(ctx, q, panel, stage1, stageDeadlines.stage1Tail)
			result.Stage1 = stage1
		}
	}

	// STAGE2_RUNNING
	if err := machine.Transition(StateStage2Running); err != nil {
		return fail("internal-state-error", err)
	}
	reviews, err := o.runStage2(ctx, q, panel, stage1, stageDeadlines.stage2, bus)
	if err != nil {
		if err == context.Canceled || err == context.DeadlineExceeded {
			return fail("cancelled", err)
		}
		return fail("insufficient-stage2-reviewers", err)
	}
	result.Stage2 = reviews
	if o.transcript != nil {
		_ = o.transcript.WriteStage2(reviews)
	}

	result.Degradations = collectDegradations(stage1, reviews)
	for _, d := range result.Degradations {
		slot := d.Slot
		bus.Publish(council.LayerEvent{
			Type: council.EventDegradationNotice, QueryID: q.ID, Stage: d.Stage, Slot: &slot,
			Payload: map[string]any{"reason": d.Reason, "detail": d.Detail},
		})
	}

	// AGGREGATING
	if err := machine.Transition(StateAggregating); err != nil {
		return fail("internal-state-error", err)
	}
	agg, err := o.aggregate(ctx, q, panel, stage1, reviews)
	if err != nil {
		return fail("insufficient-stage2-reviewers", err)
	}
	result.Aggregate = agg

	// STAGE3_RUNNING
	if err := machine.Transition(StateStage3Running); err != nil {
		return fail("internal-state-error", err)
	}
	synthesis, err := o.runStage3(ctx, q, chairman, stage1, reviews, agg, stageDeadlines.stage3, bus)
	if err != nil {
		if err == context.Canceled || err == context.DeadlineExceeded {
			return fail("cancelled", err)
		}
		return fail("stage3-synthesis-failed", err)
	}
	result.Synthesis = synthesis
	if len(agg.Ordering) > 0 {
		result.WinningSlot = agg.Ordering[0]
	}
	if o.transcript != nil {
		_ = o.transcript.WriteStage3(synthesis, agg)
	}

	// SEALED
	if err := machine.Transition(StateSealed); err != nil {
		return fail("internal-state-error", err)
	}
	result.SealedAt = time.Now()
	result.ExitCode = 0
	bus.Publish(council.LayerEvent{Type: council.EventCouncilCompleted, QueryID: q.ID, Stage: "council"})
	result.Events = bus.Since(0)
	if o.transcript != nil {
		_ = o.transcript.WriteResult(result)
	}
	return result, nil
}

// collectDegradations gathers every quality caveat raised during the
// session so far into one ordered list: the gateway-reported notices
// attached to Stage 1 responses, plus a synthesized notice for every
// Stage 2 reviewer who abstained, so both ObserveSession's degradation
// counter and a caller inspecting DeliberationResult.Degradations see the
// full picture rather than only the Stage 1 half of it.
func collectDegradations(stage1 []council.StageOneResponse, reviews []council.PeerReview) []council.DegradationNotice {
	var out []council.DegradationNotice
	for _, r := range stage1 {
		out = append(out, r.Degradation...)
	}
	for _, r := range reviews {
		if !r.Abstained {
			continue
		}
		out = append(out, council.DegradationNotice{
			Stage:  "stage2",
			Slot:   r.ReviewerSlot,
			Reason: "abstained",
			Detail: r.AbstainedWhy,
		})
	}
	return out
}

// exitCodeFor maps a failure reason onto the orchestrator's internal
// failure code recorded in DeliberationResult.ExitCode. These are not the
// CLI's process exit codes; cliExitCode in cmd/council derives those.
func exitCodeFor(reason string) int {
	switch reason {
	case "cancelled", "context-isolation-requires-snapshot":
		return 4
	case "insufficient-panel":
		return 2
	case "insufficient-stage1-survivors", "insufficient-stage2-reviewers":
		return 3
	default:
		return 1
	}
}

// selectPanel resolves the tier request into a concrete set of panel
// slots, reserving the last selected model as chairman and the rest as
// participants, and requires at least two participants plus the chairman.
func (o *Orchestrator) selectPanel(ctx context.Context, q council.Query) ([]council.PanelSlot, council.PanelSlot, error) {
	pool, err := o.registry.Models(ctx)
	if err != nil {
		return nil, council.PanelSlot{}, fmt.Errorf("failed to list models: %w", err)
	}

	requiredCount := q.RequiredPanelSize()
	ids, err := o.selector.Select(pool, tier.Request{
		Tier:                 q.Tier,
		RequiredCount:        requiredCount,
		RequiredCapabilities: q.Capabilities,
		BudgetCeiling:        q.BudgetCeiling,
	})
	if err != nil {
		return nil, council.PanelSlot{}, err
	}
	if len(ids) < minStage1Survivors+1 {
		// need at least 2 participants plus a distinct chairman
		return nil, council.PanelSlot{}, fmt.Errorf("panel of %d insufficient for %d participants plus chairman", len(ids), minStage1Survivors)
	}

	panel := make([]council.PanelSlot, len(ids)-1)
	for i, id := range ids[:len(ids)-1] {
		panel[i] = council.PanelSlot{Index: i, ModelID: id, Role: council.RoleParticipant}
	}
	chairman := council.PanelSlot{Index: len(panel), ModelID: ids[len(ids)-1], Role: council.RoleChairman}
	return panel, chairman, nil
}

// stageDeadlines bundles the per-stage absolute deadlines computed from the
// query's overall deadline and the configured stage budget split.
type stageDeadlines struct {
	stage1     time.Time
	stage1Tail time.Time // shares stage1's remaining slack for normalization
	stage2     time.Time
	stage3     time.Time
}

func computeStageDeadlines(overall time.Time, budget config.StageBudget) stageDeadlines {
	if overall.IsZero() {
		return stageDeadlines{}
	}
	now := time.Now()
	total := overall.Sub(now)
	if total <= 0 {
		return stageDeadlines{stage1: overall, stage1Tail: overall, stage2: overall, stage3: overall}
	}
	s1 := now.Add(time.Duration(float64(total) * budget.Stage1))
	s2 := s1.Add(time.Duration(float64(total) * budget.Stage2))
	return stageDeadlines{stage1: s1, stage1Tail: s1, stage2: s2, stage3: overall}
}

// contentHash returns a short content hash used as the final tie-break key.
func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

// concurrently runs fn once per item in items with a bounded structured
// fan-out: every goroutine is spawned with a context derived from ctx, and
// the call blocks until every goroutine has returned (the barrier), never
// leaking a goroutine past the call's return regardless of individual
// failures. Grounded on the teacher's SubAgentRunner dispatch loop, reduced
// from its slot-reservation/long-lived-channel shape to a plain
// sync.WaitGroup since every item here runs exactly once per stage.
func concurrently(ctx context.Context, n int, fn func(ctx context.Context, i int)) {
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			fn(ctx, i)
		}(i)
	}
	wg.Wait()
}

package transcript

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deliberation-engine/council/pkg/council"
)

func TestWriteAndRead_RoundTrip(t *testing.T) {
	root := t.TempDir()
	q := council.Query{ID: "q-1", Prompt: "summarize CAP theorem", Mode: council.ModeConsensus}

	w, err := Open(root, q.ID)
	require.NoError(t, err)

	require.NoError(t, w.WriteRequest(q))

	stage1 := []council.StageOneResponse{
		{SlotIndex: 0, Content: "answer A", Status: council.StageStatusOK},
		{SlotIndex: 1, Content: "answer B", Status: council.StageStatusOK},
	}
	require.NoError(t, w.WriteStage1(stage1))

	reviews := []council.PeerReview{
		{ReviewerSlot: 0, Ranking: []council.RankEntry{{CandidateSlot: 1, Rank: 1}}},
	}
	require.NoError(t, w.WriteStage2(reviews))

	agg := council.AggregateResult{Ordering: []int{1, 0}, Method: "borda", Confidence: 0.8}
	require.NoError(t, w.WriteStage3("final synthesis text", agg))

	result := council.DeliberationResult{
		QueryID: q.ID, Synthesis: "final synthesis text", WinningSlot: 1,
		Aggregate: agg, Stage1: stage1, Stage2: reviews,
		StartedAt: time.Now().Add(-time.Second), SealedAt: time.Now(), ExitCode: 0,
	}
	require.NoError(t, w.WriteResult(result))

	require.NoError(t, w.AppendEvent(council.LayerEvent{Type: council.EventCouncilStarted, QueryID: q.ID, Seq: 1}))
	require.NoError(t, w.AppendEvent(council.LayerEvent{Type: council.EventCouncilCompleted, QueryID: q.ID, Seq: 2}))
	require.NoError(t, w.Close())

	session, err := Read(w.Dir())
	require.NoError(t, err)

	assert.Equal(t, q.ID, session.Request.ID)
	assert.Equal(t, q.Prompt, session.Request.Prompt)
	assert.Len(t, session.Stage1, 2)
	assert.Len(t, session.Stage2, 1)
	assert.Equal(t, result.WinningSlot, session.Result.WinningSlot)
	require.Len(t, session.Events, 2)
	assert.Equal(t, uint64(1), session.Events[0].Seq)
	assert.Equal(t, uint64(2), session.Events[1].Seq)
}

func TestRead_MissingStage2IsTolerated(t *testing.T) {
	root := t.TempDir()
	q := council.Query{ID: "q-failed-early", Prompt: "x"}

	w, err := Open(root, q.ID)
	require.NoError(t, err)
	require.NoError(t, w.WriteRequest(q))
	require.NoError(t, w.WriteStage1(nil))
	require.NoError(t, w.WriteResult(council.DeliberationResult{QueryID: q.ID, ExitCode: 3}))
	require.NoError(t, w.Close())

	session, err := Read(w.Dir())
	require.NoError(t, err)
	assert.Empty(t, session.Stage2)
	assert.Equal(t, 3, session.Result.ExitCode)
}

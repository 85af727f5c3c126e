package gateway

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deliberation-engine/council/pkg/gateway/resilience"
)

type fakeBackend struct {
	calls   int32
	failN   int32 // fail the first failN calls
	content string
}

func (b *fakeBackend) Complete(ctx context.Context, modelID, prompt string, opts Options) (CompletionResult, error) {
	n := atomic.AddInt32(&b.calls, 1)
	if n <= b.failN {
		return CompletionResult{}, resilience.Retryable(errors.New("upstream unavailable"))
	}
	return CompletionResult{Content: b.content}, nil
}

func (b *fakeBackend) Stream(ctx context.Context, modelID, prompt string, opts Options, ch chan<- Chunk) error {
	ch <- Chunk{Content: b.content}
	ch <- Chunk{Terminal: true, Result: &CompletionResult{Content: b.content}}
	close(ch)
	return nil
}

func TestGateway_CompleteSucceedsAfterTransientFailure(t *testing.T) {
	backend := &fakeBackend{failN: 1, content: "hello"}
	gw := New(backend)

	res, err := gw.Complete(context.Background(), "model-a", "prompt", Options{})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Content)
	assert.Equal(t, int32(2), atomic.LoadInt32(&backend.calls))
}

func TestGateway_StreamEmitsTerminalChunk(t *testing.T) {
	backend := &fakeBackend{content: "stream-me"}
	gw := New(backend)
	ch := make(chan Chunk, 4)

	err := gw.Stream(context.Background(), "model-a", "prompt", Options{}, ch)
	require.NoError(t, err)

	var sawTerminal bool
	for chunk := range ch {
		if chunk.Terminal {
			sawTerminal = true
		}
	}
	assert.True(t, sawTerminal)
}

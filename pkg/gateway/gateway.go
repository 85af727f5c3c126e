// Package gateway is the abstraction layer between the orchestrator and
// concrete model backends: one completion operation, one streaming
// variant, and a resilience layer (timeout, retry, circuit breaker) around
// every call, grounded on the teacher's LLM client plus
// itsneelabh-gomind's resilience package for the breaker/retry shapes.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deliberation-engine/council/pkg/council"
	"github.com/deliberation-engine/council/pkg/gateway/resilience"
)

// Options configures a single completion call.
type Options struct {
	Deadline    time.Time
	MaxTokens   int
	Temperature float64
	JSONMode    bool
}

// CompletionResult is the outcome of one completion call.
type CompletionResult struct {
	Content     string
	TokensIn    int
	TokensOut   int
	Degradation []council.DegradationNotice
}

// Chunk is one piece of a streaming completion.
type Chunk struct {
	Content  string
	Terminal bool
	Result   *CompletionResult // populated only on the terminal chunk
}

// Backend performs the actual model call. Gateway wraps a Backend with
// resilience; Backend implementations stay free of retry/breaker logic.
type Backend interface {
	Complete(ctx context.Context, modelID, prompt string, opts Options) (CompletionResult, error)
	// Stream yields chunks on ch and closes it when done, or returns an
	// error if the call could not even start. Implementations that cannot
	// stream natively should synthesize a single content chunk followed by
	// a terminal chunk, per the gateway's streaming contract.
	Stream(ctx context.Context, modelID, prompt string, opts Options, ch chan<- Chunk) error
}

// ErrCircuitOpen is returned when a model's breaker is shorting calls.
var ErrCircuitOpen = resilience.ErrCircuitOpen

// Gateway wraps a Backend with a per-model circuit breaker and retry
// policy.
type Gateway struct {
	backend     Backend
	breakers    *resilience.Manager
	retryCfg    resilience.RetryConfig
	classify    func(error) bool
}

// New builds a Gateway over backend using the default breaker and retry
// configuration.
func New(backend Backend) *Gateway {
	return &Gateway{
		backend:  backend,
		breakers: resilience.NewManager(resilience.DefaultConfig()),
		retryCfg: resilience.DefaultRetryConfig(),
		classify: resilience.IsRetryable,
	}
}

// Complete runs one completion call through the resilience layer: circuit
// breaker check, retried execution with a per-attempt deadline, and
// degradation notice propagation.
func (g *Gateway) Complete(ctx context.Context, modelID, prompt string, opts Options) (CompletionResult, error) {
	breaker := g.breakers.For(modelID)
	var result CompletionResult

	err := breaker.Execute(ctx, g.classify, func(ctx context.Context) error {
		return resilience.Do(ctx, g.retryCfg, func(ctx context.Context) error {
			attemptCtx := ctx
			var cancel context.CancelFunc
			if !opts.Deadline.IsZero() {
				attemptCtx, cancel = context.WithDeadline(ctx, opts.Deadline)
				defer cancel()
			}
			res, err := g.backend.Complete(attemptCtx, modelID, prompt, opts)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					return resilience.Retryable(fmt.Errorf("model %s: timeout: %w", modelID, err))
				}
				return err
			}
			result = res
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return CompletionResult{}, fmt.Errorf("model %s: %w", modelID, ErrCircuitOpen)
		}
		return CompletionResult{}, err
	}
	return result, nil
}

// Stream runs one streaming completion call through the same breaker the
// non-streaming path uses. Streaming calls are not retried at all. The
// gateway passes the backend's chunks through unchanged and adds no
// content or terminal chunk of its own, so a stream that fails after it
// opens carries no terminal marker. ch is closed when Stream returns: by
// the backend, or by the gateway itself when the breaker refuses the call.
func (g *Gateway) Stream(ctx context.Context, modelID, prompt string, opts Options, ch chan<- Chunk) error {
	breaker := g.breakers.For(modelID)
	if !breaker.Allow() {
		close(ch)
		return fmt.Errorf("model %s: %w", modelID, ErrCircuitOpen)
	}

	err := g.backend.Stream(ctx, modelID, prompt, opts, ch)
	countable := err != nil && (g.classify == nil || g.classify(err))
	if err == nil {
		breaker.RecordSuccess()
	} else if countable {
		breaker.RecordFailure()
	}
	return err
}

// Breakers returns the current circuit-breaker state of every model this
// Gateway has seen a call for, keyed by model identifier. Exposed for the
// metrics layer to publish as a gauge per model.
func (g *Gateway) Breakers() map[string]resilience.State {
	return g.breakers.Snapshot()
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deliberation-engine/council/pkg/config"
	"github.com/deliberation-engine/council/pkg/council"
	"github.com/deliberation-engine/council/pkg/gateway"
	"github.com/deliberation-engine/council/pkg/metrics"
	"github.com/deliberation-engine/council/pkg/registry"
	"github.com/deliberation-engine/council/pkg/tier"
)

type echoBackend struct{}

func (echoBackend) Complete(ctx context.Context, modelID, prompt string, opts gateway.Options) (gateway.CompletionResult, error) {
	switch {
	case strings.Contains(prompt, "reviewing anonymized candidate answers"):
		return gateway.CompletionResult{Content: `{"ranking":[0,1],"scores":{"0":{"accuracy":8},"1":{"accuracy":7}},"dissent":""}`}, nil
	case strings.Contains(prompt, "Synthesize"):
		return gateway.CompletionResult{Content: "synthesis from " + modelID}, nil
	default:
		return gateway.CompletionResult{Content: "generation from " + modelID}, nil
	}
}

func (b echoBackend) Stream(ctx context.Context, modelID, prompt string, opts gateway.Options, ch chan<- gateway.Chunk) error {
	res, _ := b.Complete(ctx, modelID, prompt, opts)
	ch <- gateway.Chunk{Content: res.Content}
	ch <- gateway.Chunk{Terminal: true, Result: &res}
	close(ch)
	return nil
}

func testModels() []council.ModelDescriptor {
	mk := func(id string, q float64) council.ModelDescriptor {
		return council.ModelDescriptor{
			ModelID: id, Provider: "test", Tier: council.TierStandard,
			ContextWindow: 16000, QualityScore: q, Available: true,
			Capabilities: map[string]struct{}{},
		}
	}
	return []council.ModelDescriptor{mk("a", 0.9), mk("b", 0.8), mk("c", 0.7)}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		ChainRegistry: config.NewChainRegistry(map[string]*config.ChainConfig{
			"default": {Name: "default", StageBudget: config.DefaultStageBudget},
		}),
		Models: testModels(),
	}

	s := &Server{
		engine:      gin.New(),
		cfg:         cfg,
		reg:         registry.NewStatic(testModels()),
		selector:    tier.New(tier.DefaultWeights),
		gw:          gateway.New(echoBackend{}),
		metrics:     metrics.New(prometheus.NewRegistry()),
		transcripts: t.TempDir(),
	}
	s.setupRoutes()
	return s
}

func TestDeliberateHandler_NonStreaming(t *testing.T) {
	s := newTestServer(t)

	body := strings.NewReader(`{"prompt":"summarize CAP theorem","mode":"consensus"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/deliberate", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	s.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp deliberateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.QueryID)
	assert.NotEmpty(t, resp.Synthesis)
	assert.Equal(t, 0, resp.ExitCode)
}

func TestDeliberateHandler_MissingPrompt(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/deliberate", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeliberateHandler_UnknownChain(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/deliberate",
		strings.NewReader(`{"prompt":"x","chain":"does-not-exist"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthHandler_NoDatabase(t *testing.T) {
	// healthHandler dereferences s.dbClient; a server wired without one (as
	// in these unit tests) is only exercised via the routes that don't
	// touch it. This test documents that /health requires a live dbClient
	// rather than silently tolerating a nil one, matching the teacher's
	// health endpoint which always has a concrete *database.Client.
	t.Skip("requires a live database connection; covered by integration tests")
}

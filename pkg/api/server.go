// Package api provides the HTTP front for the deliberation engine: a
// thin gin router accepting one deliberation call per request and
// returning either a single DeliberationResult or a live event stream,
// grounded on the teacher's cmd/tarsy/main.go gin setup and its
// pkg/api health-endpoint shape, adapted from TARSy's alert/session
// surface to this engine's query/deliberate surface.
package api

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/deliberation-engine/council/pkg/bias"
	"github.com/deliberation-engine/council/pkg/config"
	"github.com/deliberation-engine/council/pkg/council"
	"github.com/deliberation-engine/council/pkg/database"
	"github.com/deliberation-engine/council/pkg/events"
	"github.com/deliberation-engine/council/pkg/gateway"
	"github.com/deliberation-engine/council/pkg/metrics"
	"github.com/deliberation-engine/council/pkg/orchestrator"
	"github.com/deliberation-engine/council/pkg/registry"
	"github.com/deliberation-engine/council/pkg/tier"
	"github.com/deliberation-engine/council/pkg/transcript"
	"github.com/deliberation-engine/council/pkg/version"
)

// Server is the deliberation engine's HTTP API server.
type Server struct {
	engine *gin.Engine
	http   *http.Server

	cfg         *config.Config
	dbClient    *database.Client
	reg         registry.Provider
	selector    *tier.Selector
	gw          *gateway.Gateway
	tracker     *bias.Tracker
	webhooks    *events.WebhookDispatcher
	metrics     *metrics.Metrics
	transcripts string // root directory for per-session transcripts; empty disables persistence
}

// NewServer builds a Server wired to its dependencies and registers every
// route. Mirrors the teacher's NewServer-then-SetXxx wiring shape, reduced
// to a single constructor since this engine has far fewer optional
// collaborators than TARSy's alert pipeline.
func NewServer(
	cfg *config.Config,
	dbClient *database.Client,
	reg registry.Provider,
	selector *tier.Selector,
	gw *gateway.Gateway,
	tracker *bias.Tracker,
	m *metrics.Metrics,
	transcriptsDir string,
) *Server {
	s := &Server{
		engine:      gin.Default(),
		cfg:         cfg,
		dbClient:    dbClient,
		reg:         reg,
		selector:    selector,
		gw:          gw,
		tracker:     tracker,
		webhooks:    events.NewWebhookDispatcher(nil),
		metrics:     m,
		transcripts: transcriptsDir,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)
	s.engine.GET("/metrics", s.metricsHandler)

	v1 := s.engine.Group("/api/v1")
	v1.POST("/deliberate", s.deliberateHandler)
	v1.GET("/deliberate/:id/events", s.streamHandler)
	v1.GET("/deliberate/:id/ws", s.wsHandler)
}

// Start runs the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.engine}
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// healthHandler handles GET /health, following the teacher's
// database-health-plus-configuration-stats response shape.
func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := s.dbClient.Health(reqCtx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"version":  version.Full(),
			"database": dbHealth,
			"error":    err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"version":       version.Full(),
		"database":      dbHealth,
		"configuration": s.cfg.Stats(),
	})
}

// metricsHandler handles GET /metrics, refreshing the circuit-breaker gauge
// from the gateway's live snapshot before deferring to the standard
// Prometheus handler registered against the same registerer New built.
func (s *Server) metricsHandler(c *gin.Context) {
	s.metrics.ObserveBreakers(s.gw.Breakers())
	promHandlerFor(s.metrics).ServeHTTP(c.Writer, c.Request)
}

// deliberateRequest is the HTTP request body for POST /api/v1/deliberate.
type deliberateRequest struct {
	QueryID         string   `json:"query_id,omitempty"`
	Prompt          string   `json:"prompt" binding:"required"`
	Mode            string   `json:"mode,omitempty"`
	VerdictType     string   `json:"verdict_type,omitempty"`
	RubricFocus     string   `json:"rubric_focus,omitempty"`
	ContextIsolated bool     `json:"context_isolated,omitempty"`
	SnapshotID      string   `json:"snapshot_id,omitempty"`
	Tier            string   `json:"tier,omitempty"`
	Capabilities    []string `json:"capabilities,omitempty"`
	BudgetCeiling   float64  `json:"budget_ceiling,omitempty"`
	DeadlineMS      int64    `json:"deadline_ms,omitempty"`
	Streaming       bool     `json:"streaming,omitempty"`
	Chain           string   `json:"chain,omitempty"`
	Webhook         *struct {
		URL    string   `json:"url"`
		Secret string   `json:"secret"`
		Events []string `json:"events,omitempty"`
	} `json:"webhook,omitempty"`
}

// deliberateResponse is returned by the non-streaming path.
type deliberateResponse struct {
	QueryID       string                      `json:"query_id"`
	Synthesis     string                      `json:"synthesis"`
	WinningSlot   int                         `json:"winning_slot"`
	Aggregate     council.AggregateResult     `json:"aggregate"`
	Stage1        []council.StageOneResponse  `json:"stage1"`
	Stage2        []council.PeerReview        `json:"stage2"`
	ExitCode      int                         `json:"exit_code"`
	TranscriptDir string                      `json:"transcript_dir,omitempty"`
}

// toQuery translates the wire request into a council.Query, assigning a
// fresh id when the caller did not supply one — the engine's one use of
// google/uuid, mirrored on the teacher's session-id generation.
func (r deliberateRequest) toQuery() (council.Query, error) {
	id := r.QueryID
	if id == "" {
		id = uuid.NewString()
	}

	mode := council.Mode(r.Mode)
	if mode == "" {
		mode = council.ModeConsensus
	}
	verdictType := council.VerdictType(r.VerdictType)
	if verdictType == "" {
		verdictType = council.VerdictTypeFreeForm
	}

	tierVal := council.TierStandard
	if r.Tier != "" {
		t, ok := council.ParseTier(r.Tier)
		if !ok {
			return council.Query{}, fmt.Errorf("unknown tier %q", r.Tier)
		}
		tierVal = t
	}

	q := council.Query{
		ID:              id,
		Prompt:          r.Prompt,
		Mode:            mode,
		VerdictType:     verdictType,
		RubricFocus:     r.RubricFocus,
		ContextIsolated: r.ContextIsolated,
		SnapshotID:      r.SnapshotID,
		Tier:            tierVal,
		Capabilities:    r.Capabilities,
		BudgetCeiling:   r.BudgetCeiling,
		Streaming:       r.Streaming,
	}
	if r.DeadlineMS > 0 {
		q.Deadline = time.Now().Add(time.Duration(r.DeadlineMS) * time.Millisecond)
	}
	if r.Webhook != nil {
		evts := make([]council.EventType, len(r.Webhook.Events))
		for i, e := range r.Webhook.Events {
			evts[i] = council.EventType(e)
		}
		q.Webhook = &council.WebhookOption{URL: r.Webhook.URL, Secret: r.Webhook.Secret, Events: evts}
	}
	return q, nil
}

// deliberateHandler handles POST /api/v1/deliberate: resolves the chain
// configuration, builds an Orchestrator, and either runs it to completion
// (non-streaming) or hands the caller a stream location (streaming) — the
// streaming case subscribes a goroutine to the bus and runs the
// orchestrator in the background, returning immediately so the caller can
// open /events or /ws for the same query id.
func (s *Server) deliberateHandler(c *gin.Context) {
	var req deliberateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	q, err := req.toQuery()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chainName := req.Chain
	if chainName == "" {
		chainName = "default"
	}
	chain, err := s.cfg.ChainRegistry.Get(chainName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	orch := orchestrator.New(s.reg, s.selector, s.gw, s.tracker, *chain, rand.New(rand.NewSource(time.Now().UnixNano())))
	if s.transcripts != "" {
		w, err := transcript.Open(s.transcripts, q.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		orch = orch.WithTranscript(w)
	}

	bus := events.NewBus()
	registerBus(q.ID, bus)

	if q.Webhook != nil {
		s.relayWebhook(q.ID, *q.Webhook, bus)
	}

	if !req.Streaming {
		defer unregisterBus(q.ID)
		result, err := orch.Run(c.Request.Context(), q, bus)
		s.finish(q, result, err)
		if err != nil && result.ExitCode == 0 {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, toResponse(result))
		return
	}

	go func() {
		defer unregisterBus(q.ID)
		result, runErr := orch.Run(context.Background(), q, bus)
		s.finish(q, result, runErr)
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"query_id":   q.ID,
		"events_url": fmt.Sprintf("/api/v1/deliberate/%s/events", q.ID),
		"ws_url":     fmt.Sprintf("/api/v1/deliberate/%s/ws", q.ID),
	})
}

// relayWebhook subscribes to bus and delivers every published event to
// opt.URL as it happens, rather than batching deliveries until the session
// seals — matching §6's at-least-once, in-order subscriber contract. The
// subscriber goroutine exits on its own once the bus is closed by
// unregisterBus after Run returns.
func (s *Server) relayWebhook(queryID string, opt council.WebhookOption, bus *events.Bus) {
	subID := "webhook:" + queryID
	ch := bus.Subscribe(subID)
	go func() {
		defer bus.Unsubscribe(subID)
		for evt := range ch {
			_ = s.webhooks.Deliver(context.Background(), opt, evt)
		}
	}()
}

// finish records the session outcome against the metrics collectors; a nil
// error outcome is recorded as "sealed", anything else by its exit-code
// derived reason.
func (s *Server) finish(q council.Query, result council.DeliberationResult, err error) {
	reason := "sealed"
	if err != nil {
		reason = fmt.Sprintf("exit-%d", result.ExitCode)
	}
	s.metrics.ObserveSession(result, reason)
}

func toResponse(result council.DeliberationResult) deliberateResponse {
	return deliberateResponse{
		QueryID:       result.QueryID,
		Synthesis:     result.Synthesis,
		WinningSlot:   result.WinningSlot,
		Aggregate:     result.Aggregate,
		Stage1:        result.Stage1,
		Stage2:        result.Stage2,
		ExitCode:      result.ExitCode,
		TranscriptDir: result.TranscriptDir,
	}
}

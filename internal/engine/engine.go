// Package engine orchestrates session analysis: the local heuristic
// classifier runs first, the configured AI provider is the fallback, and
// every suggested action passes the dangerous-action gate before it can
// reach a terminal.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/overseer-dev/overseer/internal/logging"
	"github.com/overseer-dev/overseer/internal/monitoring"
	"github.com/overseer-dev/overseer/internal/phase"
	"github.com/overseer-dev/overseer/internal/provider"
	"github.com/overseer-dev/overseer/internal/session"
	"github.com/overseer-dev/overseer/internal/tools"
)

// defaultRecentLines is the analysis window passed to the classifier and
// the AI request when none is configured.
const defaultRecentLines = 40

// Config wires the engine's collaborators.
type Config struct {
	Registry    *tools.Registry
	Store       *provider.Store
	Health      *provider.HealthRegistry
	Factory     provider.Factory
	RecentLines int
	Failover    bool
	Logger      *logging.Logger
	Metrics     *monitoring.Metrics
}

// Engine decides what, if anything, a session needs. Analyze never returns
// an error: provider failures are converted into safe passive results plus
// health bookkeeping, so the scheduler always has something well-defined
// to do.
type Engine struct {
	registry    *tools.Registry
	store       *provider.Store
	health      *provider.HealthRegistry
	factory     provider.Factory
	clients     sync.Map // provider name -> provider.Client
	recentLines int
	failover    bool
	logger      *logging.Logger
	metrics     *monitoring.Metrics
}

// New creates a decision engine.
func New(cfg Config) *Engine {
	if cfg.RecentLines <= 0 {
		cfg.RecentLines = defaultRecentLines
	}
	if cfg.Factory == nil {
		cfg.Factory = provider.NewClient
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	return &Engine{
		registry:    cfg.Registry,
		store:       cfg.Store,
		health:      cfg.Health,
		factory:     cfg.Factory,
		recentLines: cfg.RecentLines,
		failover:    cfg.Failover,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}
}

// Analyze classifies the session's latest buffered text, escalating to the
// AI provider only when the heuristics are inconclusive.
func (e *Engine) Analyze(ctx context.Context, s *session.Session) *phase.Result {
	start := time.Now()
	s.Counters.IncTotal()

	text := s.Buffer.RecentLines(e.recentLines)

	toolID := s.ToolID
	if toolID == "" {
		toolID = e.registry.Detect(text, s.ProcessName)
	}
	tool, _ := e.registry.Get(toolID)

	// Heuristic pre-analysis: decisive results never hit the network.
	if res := phase.ForTool(toolID).Classify(text, tool); res != nil {
		s.Counters.IncPreAnalyzed()
		s.Counters.IncSuccess()
		e.gate(s.ID, res)
		s.SetLastPhase(res)
		e.metrics.RecordAnalysis(string(phase.SourceHeuristic), "ok", time.Since(start))
		return res
	}

	res := e.analyzeRemote(ctx, s, text, toolID, tool)
	s.SetLastPhase(res)
	return res
}

// analyzeRemote runs the AI fallback path with health gating and failover.
func (e *Engine) analyzeRemote(ctx context.Context, s *session.Session, text, toolID string, tool *tools.Tool) *phase.Result {
	start := time.Now()

	cfg, ok := e.providerConfig(s)
	if !ok {
		s.Counters.IncFailed()
		e.metrics.RecordAnalysis(string(phase.SourceAI), "no_provider", time.Since(start))
		return phase.NoAction("no provider configured", "", phase.SourceAI)
	}

	req := provider.AnalyzeRequest{
		Output: text,
		Goal:   s.Goal,
		ToolID: toolID,
	}
	if tool != nil {
		req.Instructions = tool.Instructions
	}

	health := e.health.Get(cfg.Name)
	allowed, probe := health.Allow()
	if !allowed {
		// Short-circuit for every session sharing this provider; no
		// network call until the recovery check elapses.
		e.metrics.RecordAnalysis(string(phase.SourceAI), "short_circuit", time.Since(start))
		return phase.NoAction(
			"AI unavailable",
			fmt.Sprintf("provider %s failed, next retry %s", cfg.Name, health.NextRecoveryCheck().Format(time.RFC3339)),
			phase.SourceAI,
		)
	}
	if probe {
		e.logger.Info("probing failed provider", zap.String("provider", cfg.Name))
	}

	res, err := e.callProvider(ctx, cfg, req)
	if err == nil {
		s.Counters.IncAIAnalyzed()
		s.Counters.IncSuccess()
		e.gate(s.ID, res)
		e.metrics.RecordAnalysis(string(phase.SourceAI), "ok", time.Since(start))
		return res
	}

	e.logger.Warn("provider call failed",
		zap.String("session", s.ID),
		zap.String("provider", cfg.Name),
		zap.Error(err))

	// Failover: one retry against the next eligible provider, then the
	// cycle is surrendered.
	if e.failover && e.health.Get(cfg.Name).Status() == provider.StatusFailed {
		if res := e.tryFailover(ctx, s, cfg.Name, req); res != nil {
			e.metrics.RecordAnalysis(string(phase.SourceAI), "failover_ok", time.Since(start))
			return res
		}
	}

	s.Counters.IncFailed()
	e.metrics.RecordAnalysis(string(phase.SourceAI), "error", time.Since(start))
	return phase.NoAction("analysis failed", err.Error(), phase.SourceAI)
}

// tryFailover picks the next eligible provider by priority and retries
// once. Returns nil when no candidate is available or the retry failed.
func (e *Engine) tryFailover(ctx context.Context, s *session.Session, active string, req provider.AnalyzeRequest) *phase.Result {
	for _, cand := range e.store.FailoverCandidates(active) {
		allowed, _ := e.health.Get(cand.Name).Allow()
		if !allowed {
			continue
		}

		e.logger.Info("failing over",
			zap.String("session", s.ID),
			zap.String("from", active),
			zap.String("to", cand.Name))

		res, err := e.callProvider(ctx, cand, req)
		if err != nil {
			e.logger.Warn("failover call failed",
				zap.String("provider", cand.Name),
				zap.Error(err))
			return nil
		}
		s.Counters.IncAIAnalyzed()
		s.Counters.IncSuccess()
		e.gate(s.ID, res)
		return res
	}
	return nil
}

// callProvider performs one provider call with health bookkeeping.
func (e *Engine) callProvider(ctx context.Context, cfg provider.Config, req provider.AnalyzeRequest) (*phase.Result, error) {
	client := e.clientFor(cfg)
	health := e.health.Get(cfg.Name)

	res, err := client.Analyze(ctx, req)
	if err != nil {
		health.RecordFailure(err)
		e.metrics.RecordProviderCall(cfg.Name, provider.KindOf(err).String())
		return nil, err
	}

	health.RecordSuccess()
	e.metrics.RecordProviderCall(cfg.Name, "ok")
	return res, nil
}

// clientFor returns the cached client for a provider, building it on first
// use.
func (e *Engine) clientFor(cfg provider.Config) provider.Client {
	if v, ok := e.clients.Load(cfg.Name); ok {
		return v.(provider.Client)
	}
	client := e.factory(cfg)
	actual, _ := e.clients.LoadOrStore(cfg.Name, client)
	return actual.(provider.Client)
}

// providerConfig resolves the session's provider, falling back to the
// store default.
func (e *Engine) providerConfig(s *session.Session) (provider.Config, bool) {
	if s.Provider != "" {
		return e.store.Get(s.Provider)
	}
	cfg, err := e.store.Default()
	if err != nil {
		return provider.Config{}, false
	}
	return cfg, true
}

// gate applies the dangerous-action check to any actionable result. A
// match is surfaced, never dropped: the result stays actionable but is
// marked for mandatory human confirmation.
func (e *Engine) gate(sessionID string, res *phase.Result) {
	if !res.NeedsAction {
		return
	}
	dangerous, label := CheckDangerous(res.SuggestedAction)
	if !dangerous {
		return
	}
	res.IsDangerous = true
	if res.Reason != "" {
		res.Reason += "; "
	}
	res.Reason += "blocked: " + label

	e.metrics.IncDangerousBlocked()
	e.logger.Warn("dangerous action held for confirmation",
		zap.String("session", sessionID),
		zap.String("pattern", label),
		zap.String("action", res.SuggestedAction))
}

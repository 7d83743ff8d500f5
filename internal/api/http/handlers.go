// Package http exposes the supervisor's REST surface.
package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/overseer-dev/overseer/internal/engine"
	"github.com/overseer-dev/overseer/internal/events"
	"github.com/overseer-dev/overseer/internal/logging"
	"github.com/overseer-dev/overseer/internal/monitoring"
	"github.com/overseer-dev/overseer/internal/provider"
	"github.com/overseer-dev/overseer/internal/scheduler"
	"github.com/overseer-dev/overseer/internal/session"
	"github.com/overseer-dev/overseer/internal/term"
)

// Handlers carries the supervisor's collaborators into the HTTP layer.
type Handlers struct {
	manager    *session.Manager
	runner     *term.Runner
	sched      *scheduler.Scheduler
	engine     *engine.Engine
	store      *provider.Store
	health     *provider.HealthRegistry
	hub        *events.Hub
	logger     *logging.Logger
	metrics    *monitoring.Metrics
	bufferSize int
}

// NewHandlers creates the handler set.
func NewHandlers(
	manager *session.Manager,
	runner *term.Runner,
	sched *scheduler.Scheduler,
	eng *engine.Engine,
	store *provider.Store,
	health *provider.HealthRegistry,
	hub *events.Hub,
	logger *logging.Logger,
	metrics *monitoring.Metrics,
	bufferSize int,
) *Handlers {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handlers{
		manager:    manager,
		runner:     runner,
		sched:      sched,
		engine:     eng,
		store:      store,
		health:     health,
		hub:        hub,
		logger:     logger,
		metrics:    metrics,
		bufferSize: bufferSize,
	}
}

// Root returns service identification.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "overseer",
		"status":  "running",
	})
}

// Health returns liveness plus basic counts.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"sessions": h.manager.Count(),
	})
}

// CreateSessionRequest starts a supervised terminal session.
type CreateSessionRequest struct {
	Goal       string            `json:"goal"`
	ToolID     string            `json:"tool_id"`
	Provider   string            `json:"provider"`
	AutoAction bool              `json:"auto_action"`
	Command    string            `json:"command"`
	Args       []string          `json:"args"`
	WorkingDir string            `json:"working_dir"`
	Cols       int               `json:"cols"`
	Rows       int               `json:"rows"`
	Env        map[string]string `json:"env"`
}

// CreateSession spawns the command under a PTY and begins supervising it.
func (h *Handlers) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Provider != "" {
		if _, ok := h.store.Get(req.Provider); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown provider: " + req.Provider})
			return
		}
	}

	s := h.manager.Create(session.Options{
		Goal:        req.Goal,
		ToolID:      req.ToolID,
		ProcessName: req.Command,
		Provider:    req.Provider,
		AutoAction:  req.AutoAction,
		BufferSize:  h.bufferSize,
	})

	if err := h.runner.Attach(s, term.StartOptions{
		Command:    req.Command,
		Args:       req.Args,
		WorkingDir: req.WorkingDir,
		Cols:       req.Cols,
		Rows:       req.Rows,
		Env:        req.Env,
	}); err != nil {
		h.manager.Delete(s.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.sched.Start(s)
	h.metrics.SetSessionsActive(h.manager.Count())
	h.logger.Info("session created",
		zap.String("session", s.ID),
		zap.String("goal", req.Goal))

	c.JSON(http.StatusCreated, h.sessionDetail(s))
}

// ListSessions returns every live session.
func (h *Handlers) ListSessions(c *gin.Context) {
	infos := h.manager.List()
	if infos == nil {
		infos = []session.Info{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": infos})
}

// GetSession returns one session with its loop state.
func (h *Handlers) GetSession(c *gin.Context) {
	s, ok := h.manager.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, h.sessionDetail(s))
}

// DeleteSession tears down a session: loop first, then terminal, then
// bookkeeping.
func (h *Handlers) DeleteSession(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.manager.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	h.sched.Stop(id)
	h.runner.Kill(id)
	h.manager.Delete(id)
	h.metrics.SetSessionsActive(h.manager.Count())
	h.hub.Publish(events.Event{Type: events.TypeSessionClosed, SessionID: id})

	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// GetOutput returns the session's recent terminal text.
func (h *Handlers) GetOutput(c *gin.Context) {
	s, ok := h.manager.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	if raw := c.Query("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "lines must be a positive integer"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"output":        s.Buffer.RecentLines(n),
			"total_written": s.Buffer.TotalWritten(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"output":        string(s.Buffer.History()),
		"total_written": s.Buffer.TotalWritten(),
	})
}

// InputRequest is a manual keystroke passthrough.
type InputRequest struct {
	Text   string `json:"text"`
	Return bool   `json:"return"`
}

// SendInput forwards operator-typed input to the terminal, bypassing
// analysis entirely.
func (h *Handlers) SendInput(c *gin.Context) {
	id := c.Param("id")

	var req InputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Text != "" {
		if err := h.runner.SendText(id, req.Text); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Return {
		if err := h.runner.SendReturn(id); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"sent": true})
}

// AutoActionRequest toggles unattended execution.
type AutoActionRequest struct {
	Enabled bool `json:"enabled"`
}

// SetAutoAction flips the session's auto-action switch.
func (h *Handlers) SetAutoAction(c *gin.Context) {
	s, ok := h.manager.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	var req AutoActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.SetAutoAction(req.Enabled)
	c.JSON(http.StatusOK, gin.H{"auto_action": req.Enabled})
}

// Analyze runs one on-demand analysis outside the polling loop.
func (h *Handlers) Analyze(c *gin.Context) {
	s, ok := h.manager.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	res := h.engine.Analyze(c.Request.Context(), s)
	c.JSON(http.StatusOK, res)
}

// GetPending returns the decision held for confirmation, if any.
func (h *Handlers) GetPending(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.manager.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	res := h.sched.Pending(id)
	if res == nil {
		c.JSON(http.StatusOK, gin.H{"pending": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": res})
}

// Approve executes the held decision.
func (h *Handlers) Approve(c *gin.Context) {
	h.resolve(c, true)
}

// Reject discards the held decision.
func (h *Handlers) Reject(c *gin.Context) {
	h.resolve(c, false)
}

func (h *Handlers) resolve(c *gin.Context, approve bool) {
	id := c.Param("id")

	err := h.sched.Resolve(c.Request.Context(), id, approve)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"approved": approve})
	case err == scheduler.ErrNotSupervised:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err == scheduler.ErrNothingPending:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// ResizeRequest changes PTY dimensions.
type ResizeRequest struct {
	Cols int `json:"cols" binding:"required"`
	Rows int `json:"rows" binding:"required"`
}

// Resize adjusts the session's terminal size.
func (h *Handlers) Resize(c *gin.Context) {
	var req ResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.runner.Resize(c.Param("id"), req.Cols, req.Rows); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resized": true})
}

// ListProviders returns configured providers with health snapshots.
func (h *Handlers) ListProviders(c *gin.Context) {
	type providerView struct {
		Name                string                  `json:"name"`
		Model               string                  `json:"model,omitempty"`
		Priority            int                     `json:"priority"`
		ExcludeFromFailover bool                    `json:"exclude_from_failover,omitempty"`
		Health              provider.HealthSnapshot `json:"health"`
	}

	var out []providerView
	for _, cfg := range h.store.List() {
		out = append(out, providerView{
			Name:                cfg.Name,
			Model:               cfg.Model,
			Priority:            cfg.Priority,
			ExcludeFromFailover: cfg.ExcludeFromFailover,
			Health:              h.health.Get(cfg.Name).Snapshot(),
		})
	}
	if out == nil {
		out = []providerView{}
	}
	c.JSON(http.StatusOK, gin.H{"providers": out})
}

// ResetProvider clears a provider's failure history so the next call goes
// straight through.
func (h *Handlers) ResetProvider(c *gin.Context) {
	name := c.Param("name")
	if _, ok := h.store.Get(name); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider: " + name})
		return
	}

	h.health.Get(name).Reset()
	h.logger.Info("provider health reset", zap.String("provider", name))
	c.JSON(http.StatusOK, gin.H{"reset": name})
}

// sessionDetail merges session info with the loop view.
func (h *Handlers) sessionDetail(s *session.Session) gin.H {
	detail := gin.H{
		"session":  s.Info(),
		"terminal": h.runner.Active(s.ID),
	}
	if state, ok := h.sched.StateOf(s.ID); ok {
		detail["state"] = state.String()
	}
	if interval, ok := h.sched.Interval(s.ID); ok {
		detail["poll_interval_ms"] = interval.Milliseconds()
	}
	if pending := h.sched.Pending(s.ID); pending != nil {
		detail["pending"] = pending
	}
	return detail
}

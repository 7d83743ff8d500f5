package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/overseer-dev/overseer/internal/buffer"
	"github.com/overseer-dev/overseer/internal/phase"
)

// Counters tracks per-session analysis statistics.
type Counters struct {
	total       atomic.Int64
	success     atomic.Int64
	failed      atomic.Int64
	aiAnalyzed  atomic.Int64
	preAnalyzed atomic.Int64
}

// CountersSnapshot is a point-in-time copy for the API layer.
type CountersSnapshot struct {
	Total       int64 `json:"total"`
	Success     int64 `json:"success"`
	Failed      int64 `json:"failed"`
	AIAnalyzed  int64 `json:"ai_analyzed"`
	PreAnalyzed int64 `json:"pre_analyzed"`
}

func (c *Counters) IncTotal()       { c.total.Add(1) }
func (c *Counters) IncSuccess()     { c.success.Add(1) }
func (c *Counters) IncFailed()      { c.failed.Add(1) }
func (c *Counters) IncAIAnalyzed()  { c.aiAnalyzed.Add(1) }
func (c *Counters) IncPreAnalyzed() { c.preAnalyzed.Add(1) }

// Snapshot copies the current counter values.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		Total:       c.total.Load(),
		Success:     c.success.Load(),
		Failed:      c.failed.Load(),
		AIAnalyzed:  c.aiAnalyzed.Load(),
		PreAnalyzed: c.preAnalyzed.Load(),
	}
}

// Session is one supervised terminal session. It owns the output capture
// buffer and the knobs the decision engine and scheduler read. The buffer
// is single-producer (the terminal reader) and consumed by this session's
// own tick; sessions never share buffers.
type Session struct {
	ID          string
	Goal        string
	ToolID      string // operator-declared tool; empty means autodetect
	ProcessName string // OS process name hint for tool detection
	Provider    string // provider name; empty means store default
	CreatedAt   time.Time

	Buffer   *buffer.Buffer
	Counters Counters

	autoAction atomic.Bool

	mu        sync.RWMutex
	lastPhase *phase.Result
}

// AutoActionEnabled reports whether synthesized keystrokes may be sent
// without human confirmation.
func (s *Session) AutoActionEnabled() bool {
	return s.autoAction.Load()
}

// SetAutoAction toggles automatic keystroke execution.
func (s *Session) SetAutoAction(enabled bool) {
	s.autoAction.Store(enabled)
}

// LastPhase returns the most recent analysis result, or nil before the
// first tick.
func (s *Session) LastPhase() *phase.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPhase
}

// SetLastPhase records the most recent analysis result.
func (s *Session) SetLastPhase(r *phase.Result) {
	s.mu.Lock()
	s.lastPhase = r
	s.mu.Unlock()
}

// Info is the public representation of a session.
type Info struct {
	ID         string           `json:"id"`
	Goal       string           `json:"goal,omitempty"`
	ToolID     string           `json:"tool_id,omitempty"`
	Provider   string           `json:"provider,omitempty"`
	AutoAction bool             `json:"auto_action"`
	CreatedAt  time.Time        `json:"created_at"`
	LastPhase  *phase.Result    `json:"last_phase,omitempty"`
	Counters   CountersSnapshot `json:"counters"`
}

// Info snapshots the session for the API layer.
func (s *Session) Info() Info {
	return Info{
		ID:         s.ID,
		Goal:       s.Goal,
		ToolID:     s.ToolID,
		Provider:   s.Provider,
		AutoAction: s.AutoActionEnabled(),
		CreatedAt:  s.CreatedAt,
		LastPhase:  s.LastPhase(),
		Counters:   s.Counters.Snapshot(),
	}
}
